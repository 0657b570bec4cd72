// Package identity is the username → public key directory used by the
// session layer during the challenge handshake. Only public key material is
// stored; the server never holds a private key.
package identity

import (
	"context"
	"time"
)

// User is one registered account. PublicKey holds a PEM-encoded PKIX RSA
// public key.
type User struct {
	ID        string
	Username  string
	PublicKey []byte
	CreatedAt time.Time
}

type Repository interface {
	Create(ctx context.Context, user *User) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}
