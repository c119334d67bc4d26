// Package keygen creates the SSH key pairs used to reach the lab hosts.
//
// Private keys are written in OpenSSH format, optionally passphrase
// protected, and public keys in authorized_keys format next to them.
package keygen

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Key types.
const (
	TypeED25519 = "ed25519"
	TypeRSA     = "rsa"
)

const rsaBits = 2048

// Spec describes a key pair to generate.
type Spec struct {
	Type       string
	Passphrase string
	Comment    string
}

// KeyPair holds an encoded key pair.
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// Generate creates a key pair of spec.Type (ed25519 when empty).
func Generate(spec Spec) (*KeyPair, error) {
	var (
		priv crypto.PrivateKey
		pub  crypto.PublicKey
	)
	switch strings.ToLower(spec.Type) {
	case "", TypeED25519:
		p, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		priv, pub = k, p
	case TypeRSA:
		k, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA private key: %w", err)
		}
		if err := k.Validate(); err != nil {
			return nil, fmt.Errorf("failed to validate RSA private key: %w", err)
		}
		priv, pub = k, &k.PublicKey
	default:
		return nil, fmt.Errorf("unsupported key type %q (expected %s or %s)", spec.Type, TypeED25519, TypeRSA)
	}

	var (
		block *pem.Block
		err   error
	)
	if spec.Passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, spec.Comment, []byte(spec.Passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, spec.Comment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	pubBytes := ssh.MarshalAuthorizedKey(sshPub)
	if spec.Comment != "" {
		pubBytes = append(bytes.TrimRight(pubBytes, "\n"), []byte(" "+spec.Comment+"\n")...)
	}

	return &KeyPair{
		PrivateKey: pem.EncodeToMemory(block),
		PublicKey:  pubBytes,
	}, nil
}

// PublicPath is the public key path for a private key path.
func PublicPath(privatePath string) string {
	return privatePath + ".pub"
}

// Ensure writes a new key pair at privatePath unless the private or the
// public key already exists. It reports whether a pair was created.
func Ensure(privatePath string, spec Spec) (bool, error) {
	for _, p := range []string{privatePath, PublicPath(privatePath)} {
		if _, err := os.Stat(p); err == nil {
			return false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("failed to check %s: %w", p, err)
		}
	}

	pair, err := Generate(spec)
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(privatePath), 0700); err != nil {
		return false, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(privatePath, pair.PrivateKey, 0600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}
	// WriteFile keeps the mode of an existing file; force it.
	if err := os.Chmod(privatePath, 0600); err != nil {
		return false, fmt.Errorf("failed to restrict private key permissions: %w", err)
	}
	if err := os.WriteFile(PublicPath(privatePath), pair.PublicKey, 0644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}
	return true, nil
}
