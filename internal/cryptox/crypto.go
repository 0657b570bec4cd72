// Package cryptox provides the client-side crypto helpers: passphrase key
// derivation, AES-GCM sealing for credential files and extra blobs, and
// keyed column-name hashing. The server never runs any of this.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"

	"golang.org/x/crypto/argon2"
)

// DeriveMasterKey derives a 32-byte AES key from a passphrase and salt
// using Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// HashName returns a keyed HMAC-SHA256 digest of name. Clients use it to
// hide table and column names from the server while keeping them stable
// lookup keys.
func HashName(key []byte, name string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(name))
	return mac.Sum(nil)
}

// EncryptEntry serializes the given value to JSON and encrypts it using
// AES-GCM with a fresh random 12-byte nonce. The key must be 16, 24, or
// 32 bytes.
func EncryptEntry(entry any, key []byte) (ciphertext, nonce []byte, err error) {

	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}

	return EncryptBytes(plaintext, key)
}

// DecryptEntry decrypts ciphertext produced by EncryptEntry and unmarshals
// the resulting JSON into v.
func DecryptEntry(ciphertext, nonce, key []byte, v any) error {
	plaintext, err := DecryptBytes(ciphertext, nonce, key)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}

// EncryptBytes encrypts plaintext with AES-GCM under a fresh nonce.
func EncryptBytes(plaintext, key []byte) (ciphertext, nonce []byte, err error) {

	nonce = make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// DecryptBytes reverses EncryptBytes. A wrong key or tampered ciphertext
// fails authentication and returns an error.
func DecryptBytes(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return aesgcm.Open(nil, nonce, ciphertext, nil)
}
