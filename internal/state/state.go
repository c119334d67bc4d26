// Package state persists the facts the orchestrator learns across runs:
// resolved addresses, the selected target OS, key-file locations.
//
// The store is a flat JSON document. Writes merge into what is already on
// disk so unrelated keys survive. Concurrent invocations against the same
// file are not supported.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/labforge/labctl/internal/logging"
)

// Well-known keys.
const (
	KeyAttackerIP = "attacker_ip"
	KeyTargetOS   = "target_os"
	KeyClientIP   = "ssh_client_ip"
)

// State is the flat key/value document. Values are usually strings; other JSON
// values written by hand are preserved untouched.
type State map[string]any

// String returns the value for key when it is a non-empty string.
func (s State) String(key string) (string, bool) {
	v, ok := s[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Keys returns the keys in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Backend stores the whole state document.
type Backend interface {
	// Read loads the document. Missing or unparsable content yields an empty State.
	Read(ctx context.Context) (State, error)

	// Write replaces the stored document.
	Write(ctx context.Context, s State) error
}

// Update merges updates into the stored document, last writer wins per key.
func Update(ctx context.Context, b Backend, updates map[string]string) error {
	current, err := b.Read(ctx)
	if err != nil {
		return err
	}
	for k, v := range updates {
		current[k] = v
	}
	return b.Write(ctx, current)
}

// Get reads a single string value.
func Get(ctx context.Context, b Backend, key string) (string, bool, error) {
	s, err := b.Read(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := s.String(key)
	return v, ok, nil
}

// Manager is the local-file Backend.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.path
}

// Read loads the state file. A missing file is an empty state; a corrupt one
// is logged and treated as empty.
func (m *Manager) Read(ctx context.Context) (State, error) {
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}
	return Decode(raw, m.path)
}

// Write saves the state document, encrypting it when a key is configured.
func (m *Manager) Write(ctx context.Context, s State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := Encode(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.path, content, 0600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	return nil
}

// Encode serializes and, if configured, encrypts the state.
func Encode(s State) ([]byte, error) {
	if s == nil {
		s = State{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	data = append(data, '\n')

	encrypted, err := EncryptState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}
	return encrypted, nil
}

// Decode parses raw state content. A sealed document with no passphrase set
// is an error; anything else unreadable degrades to an empty state.
func Decode(raw []byte, source string) (State, error) {
	if IsEncrypted(raw) {
		decrypted, err := DecryptState(raw)
		if errors.Is(err, ErrUnreadable) {
			logging.Warn("encrypted state cannot be opened, treating it as empty", "path", source, "error", err)
			return State{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state %s: %w", source, err)
		}
		raw = decrypted
	}

	s := State{}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		logging.Warn("state file is not valid JSON, treating it as empty", "path", source, "error", err)
		return State{}, nil
	}
	return s, nil
}
