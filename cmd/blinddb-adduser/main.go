// Command blinddb-adduser provisions a user: it generates an RSA keypair,
// registers the public key in the identity directory, and writes a
// passphrase-protected credential file for the client.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/arkadyv/blinddb/internal/client"
	"github.com/arkadyv/blinddb/internal/server/identity"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func getPassphrase() ([]byte, error) {
	fmt.Println("Enter passphrase for the credential file:")
	p1, err := readPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, err
	}
	fmt.Println("Repeat passphrase:")
	p2, err := readPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(p1, p2) {
		return nil, fmt.Errorf("passphrases do not match")
	}
	if len(p1) == 0 {
		return nil, fmt.Errorf("empty passphrase")
	}
	return p1, nil
}

func run() error {
	username := flag.String("u", "", "username to register")
	dsn := flag.String("d", "", "identity database DSN (omit to only write key files)")
	out := flag.String("o", "", "credential file path (default <username>.cred)")
	bits := flag.Int("b", 2048, "RSA key size")
	flag.Parse()

	if strings.TrimSpace(*username) == "" {
		return fmt.Errorf("username is required (-u)")
	}
	if *out == "" {
		*out = *username + ".cred"
	}

	passphrase, err := getPassphrase()
	if err != nil {
		return err
	}

	key, err := rsa.GenerateKey(rand.Reader, *bits)
	if err != nil {
		return fmt.Errorf("error generating keypair: %w", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("error encoding public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	if err := client.SaveCredential(*out, *username, key, passphrase); err != nil {
		return fmt.Errorf("error writing credential file: %w", err)
	}
	fmt.Printf("Credential file written to %s\n", *out)

	if *dsn == "" {
		pubPath := *out + ".pub"
		if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
			return fmt.Errorf("error writing public key file: %w", err)
		}
		fmt.Printf("No DSN given; public key written to %s for manual registration\n", pubPath)
		return nil
	}

	ctx := context.Background()
	repo, err := identity.NewPostgresRepository(ctx, *dsn)
	if err != nil {
		return fmt.Errorf("identity db init error: %w", err)
	}

	user, err := repo.Create(ctx, &identity.User{Username: *username, PublicKey: pubPEM})
	if err != nil {
		return fmt.Errorf("error registering user: %w", err)
	}
	fmt.Printf("User %s registered with id %s\n", user.Username, user.ID)

	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
