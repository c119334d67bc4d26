package state

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// EncryptionKeyEnvVar holds the passphrase used to seal the state document.
const EncryptionKeyEnvVar = "LABCTL_STATE_ENCRYPTION_KEY"

// sealedHeader marks a sealed document. The rest of the file is one base64
// line of nonce followed by AES-256-GCM ciphertext.
const sealedHeader = "# LABCTL_ENCRYPTED_STATE\n"

var (
	// ErrKeyMissing means the document is sealed but no passphrase is set.
	ErrKeyMissing = fmt.Errorf("state is encrypted but %s is not set", EncryptionKeyEnvVar)

	// ErrUnreadable means a sealed document could not be opened with the
	// configured passphrase: truncated, garbled or sealed under another key.
	ErrUnreadable = errors.New("encrypted state is unreadable")
)

// stateCipher seals state documents under a key derived from the operator's
// passphrase. The passphrase is hashed once with SHA-256 to get the 32-byte
// AES key; there is no salt, so the same passphrase always opens the file on
// another workstation.
type stateCipher struct {
	aead cipher.AEAD
}

// cipherFromEnv returns nil when no passphrase is configured.
func cipherFromEnv() (*stateCipher, error) {
	passphrase := os.Getenv(EncryptionKeyEnvVar)
	if passphrase == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &stateCipher{aead: aead}, nil
}

func (c *stateCipher) seal(doc []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, doc, nil)
	return []byte(sealedHeader + base64.StdEncoding.EncodeToString(sealed) + "\n"), nil
}

func (c *stateCipher) open(content []byte) ([]byte, error) {
	body := bytes.TrimSpace(bytes.TrimPrefix(content, []byte(sealedHeader)))
	sealed, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	n := c.aead.NonceSize()
	if len(sealed) < n+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes is shorter than nonce and tag", ErrUnreadable, len(sealed))
	}
	doc, err := c.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key or modified file: %w", ErrUnreadable, err)
	}
	return doc, nil
}

// EncryptState seals content when a passphrase is set and returns it
// unchanged otherwise.
func EncryptState(content []byte) ([]byte, error) {
	c, err := cipherFromEnv()
	if err != nil || c == nil {
		return content, err
	}
	return c.seal(content)
}

// DecryptState opens content sealed by EncryptState. Plain content is
// returned as is. Failures wrap ErrKeyMissing or ErrUnreadable.
func DecryptState(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}
	c, err := cipherFromEnv()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrKeyMissing
	}
	return c.open(content)
}

// IsEncrypted reports whether content carries the sealed-document header.
func IsEncrypted(content []byte) bool {
	return bytes.HasPrefix(content, []byte(sealedHeader))
}
