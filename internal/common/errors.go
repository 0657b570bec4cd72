// Package common defines shared constants, sentinel errors and small
// utilities used across client and server layers. Callers should use
// errors.Is to match the sentinel values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Credential / key material errors.
	ErrInvalidKey        = errors.New("invalid key")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
)
