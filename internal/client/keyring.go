package client

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/arkadyv/blinddb/internal/algebra"
	"github.com/arkadyv/blinddb/internal/cryptox"
)

// gcmNonceSize is the AES-GCM nonce length prefixed to sealed extra blobs.
const gcmNonceSize = 12

// OPEEncryptor encrypts an integer so that ciphertext order matches
// plaintext order. Implementations hold the per-column OPE key; the keyring
// only cares about the contract.
type OPEEncryptor interface {
	Encrypt(v *big.Int) (*big.Int, error)
}

// Keyring turns plaintext values into what the server is allowed to see:
// hashed names, order-preserving ciphertexts for indexed columns, and
// AES-GCM sealed blobs for everything else.
type Keyring struct {
	secret []byte
	ope    OPEEncryptor
}

func NewKeyring(secret []byte, ope OPEEncryptor) *Keyring {
	return &Keyring{secret: secret, ope: ope}
}

// HashedName returns the keyed hash of a table or column name as lowercase
// hex. The same name always maps to the same hash, so it stays usable as a
// lookup key server-side.
func (k *Keyring) HashedName(name string) string {
	return hex.EncodeToString(cryptox.HashName(k.secret, name))
}

// EncryptIndexed produces the hex ciphertext for an indexed column value.
func (k *Keyring) EncryptIndexed(v *big.Int) (string, error) {
	if k.ope == nil {
		return "", fmt.Errorf("no order-preserving encryptor configured")
	}
	c, err := k.ope.Encrypt(v)
	if err != nil {
		return "", err
	}
	return algebra.FormatCiphertext(c), nil
}

// SealExtra encrypts an extra blob. The result is hex(nonce || ciphertext),
// opaque to the server.
func (k *Keyring) SealExtra(plaintext []byte) (string, error) {
	ciphertext, nonce, err := cryptox.EncryptBytes(plaintext, k.secret)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(append(nonce, ciphertext...)), nil
}

// OpenExtra reverses SealExtra.
func (k *Keyring) OpenExtra(sealed string) ([]byte, error) {
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("malformed sealed blob: %w", err)
	}
	if len(raw) < gcmNonceSize {
		return nil, fmt.Errorf("malformed sealed blob: too short")
	}
	return cryptox.DecryptBytes(raw[gcmNonceSize:], raw[:gcmNonceSize], k.secret)
}
