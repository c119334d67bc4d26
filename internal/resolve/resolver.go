// Package resolve determines the reachable address of a lab host.
//
// Live terraform outputs are authoritative. Because the output schema has
// drifted across revisions of the infrastructure definition, each role
// accepts a priority list of output names. A live hit is written through to
// the state store so a later run can recover the address after the
// terraform state is gone.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/labforge/labctl/internal/config"
	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/logging"
	"github.com/labforge/labctl/internal/state"
	"github.com/labforge/labctl/internal/terraform"
)

// ErrNotFound means neither live outputs nor persisted state hold an address.
var ErrNotFound = errors.New("address not found")

// OutputSource provides live provisioning outputs.
type OutputSource interface {
	Outputs(ctx context.Context) (terraform.Outputs, error)
}

// Keys lists where a role's address may be found.
type Keys struct {
	// Candidates are output names tried in order; the first populated wins.
	Candidates []string

	// StateKey is the canonical key the address is persisted under.
	StateKey string
}

// KeysFromConfig derives the lookup keys for every role.
func KeysFromConfig(cfg *config.Config) map[lab.Role]Keys {
	keys := make(map[lab.Role]Keys)
	for _, role := range lab.Roles() {
		rc := cfg.Role(role)
		stateKey := rc.AddressStateKey
		if stateKey == "" && len(rc.AddressKeys) > 0 {
			stateKey = rc.AddressKeys[0]
		}
		keys[role] = Keys{Candidates: rc.AddressKeys, StateKey: stateKey}
	}
	return keys
}

// Resolver looks up host addresses.
type Resolver struct {
	outputs OutputSource
	store   state.Backend
	keys    map[lab.Role]Keys
}

func New(outputs OutputSource, store state.Backend, keys map[lab.Role]Keys) *Resolver {
	return &Resolver{outputs: outputs, store: store, keys: keys}
}

// Resolve returns the address for role, preferring live outputs over state.
func (r *Resolver) Resolve(ctx context.Context, role lab.Role) (lab.ResolvedAddress, error) {
	keys, ok := r.keys[role]
	if !ok || len(keys.Candidates) == 0 {
		return lab.ResolvedAddress{}, fmt.Errorf("%w: no address keys configured for %s", ErrNotFound, role)
	}

	if addr, key, ok := r.live(ctx, role, keys); ok {
		updates := map[string]string{keys.StateKey: addr, key: addr}
		if err := state.Update(ctx, r.store, updates); err != nil {
			logging.Warn("failed to persist resolved address", "role", role, "address", addr, "error", err)
		}
		logging.Info("resolved address from live outputs", "role", role, "key", key, "address", addr)
		return lab.ResolvedAddress{Role: role, Address: addr, Source: lab.SourceLive}, nil
	}

	persisted, err := r.store.Read(ctx)
	if err != nil {
		return lab.ResolvedAddress{}, fmt.Errorf("failed to read persisted state: %w", err)
	}
	for _, key := range append([]string{keys.StateKey}, keys.Candidates...) {
		if addr, ok := persisted.String(key); ok {
			logging.Info("resolved address from persisted state", "role", role, "key", key, "address", addr)
			return lab.ResolvedAddress{Role: role, Address: addr, Source: lab.SourcePersisted}, nil
		}
	}

	return lab.ResolvedAddress{}, fmt.Errorf("%w for %s (tried outputs %v and state key %q)", ErrNotFound, role, keys.Candidates, keys.StateKey)
}

func (r *Resolver) live(ctx context.Context, role lab.Role, keys Keys) (string, string, bool) {
	if r.outputs == nil {
		return "", "", false
	}
	outputs, err := r.outputs.Outputs(ctx)
	if err != nil {
		logging.Warn("live outputs unavailable, falling back to persisted state", "role", role, "error", err)
		return "", "", false
	}
	for _, key := range keys.Candidates {
		if addr, ok := outputs.String(key); ok {
			return addr, key, true
		}
	}
	logging.Debug("no accepted address key in live outputs", "role", role, "candidates", keys.Candidates)
	return "", "", false
}
