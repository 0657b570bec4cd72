// Package client implements the blinddb client library: credential files,
// the keyring that encrypts data before it leaves the process, and the
// connection that speaks the newline-delimited JSON protocol.
package client

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/arkadyv/blinddb/internal/common"
	"github.com/arkadyv/blinddb/internal/cryptox"
)

// Credential is an unlocked identity: the username known to the server and
// the RSA private key that answers its challenges.
type Credential struct {
	Username string
	Key      *rsa.PrivateKey
}

// credentialFile is the on-disk format. The private key is stored as
// AES-GCM-encrypted PKCS#8 DER under an Argon2id key derived from the
// passphrase; binary fields are lowercase hex.
type credentialFile struct {
	Username string `json:"username"`
	Salt     string `json:"salt"`
	Nonce    string `json:"nonce"`
	Key      string `json:"key"`
}

// SaveCredential writes a passphrase-protected credential file.
func SaveCredential(path string, username string, key *rsa.PrivateKey, passphrase []byte) error {

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("error marshalling private key: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	masterKey := cryptox.DeriveMasterKey(passphrase, salt)

	ciphertext, nonce, err := cryptox.EncryptBytes(der, masterKey)
	if err != nil {
		return fmt.Errorf("error encrypting private key: %w", err)
	}

	f := credentialFile{
		Username: username,
		Salt:     hex.EncodeToString(salt),
		Nonce:    hex.EncodeToString(nonce),
		Key:      hex.EncodeToString(ciphertext),
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// LoadCredential reads and unlocks a credential file. A wrong passphrase
// fails GCM authentication and is reported as common.ErrInvalidPassphrase.
func LoadCredential(path string, passphrase []byte) (*Credential, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing credential file: %w", err)
	}

	salt, err := hex.DecodeString(f.Salt)
	if err != nil {
		return nil, fmt.Errorf("error parsing credential file: %w", err)
	}
	nonce, err := hex.DecodeString(f.Nonce)
	if err != nil {
		return nil, fmt.Errorf("error parsing credential file: %w", err)
	}
	ciphertext, err := hex.DecodeString(f.Key)
	if err != nil {
		return nil, fmt.Errorf("error parsing credential file: %w", err)
	}

	masterKey := cryptox.DeriveMasterKey(passphrase, salt)

	der, err := cryptox.DecryptBytes(ciphertext, nonce, masterKey)
	if err != nil {
		return nil, common.ErrInvalidPassphrase
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, common.ErrInvalidKey
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, common.ErrInvalidKey
	}

	return &Credential{Username: f.Username, Key: key}, nil
}
