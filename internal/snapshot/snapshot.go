// Package snapshot captures machine images of lab hosts and feeds them back
// into the next provisioning run.
//
// Each role has exactly one record file. Re-snapshotting a role overwrites it,
// and a record is only written after the cloud provider returned an image id.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/labforge/labctl/internal/cloud"
	"github.com/labforge/labctl/internal/config"
	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/logging"
	"github.com/labforge/labctl/internal/terraform"
)

// ErrNoInstance means provisioning outputs expose no instance id for the role.
var ErrNoInstance = errors.New("no live instance id")

const recordFile = "snapshot.json"

// Record is the persisted result of one image capture.
type Record struct {
	Role       lab.Role  `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	InstanceID string    `json:"instance_id"`
	AMIID      string    `json:"ami_id"`
	Name       string    `json:"name"`
}

// Result is the outcome for one role of a multi-role request.
type Result struct {
	Role   lab.Role
	Record *Record
	Err    error
}

// OutputSource provides live provisioning outputs.
type OutputSource interface {
	Outputs(ctx context.Context) (terraform.Outputs, error)
}

// RoleKeys maps a role to its instance-id output and image variable.
type RoleKeys struct {
	InstanceIDOutput string
	AMIVariable      string
}

// KeysFromConfig derives RoleKeys for every role.
func KeysFromConfig(cfg *config.Config) map[lab.Role]RoleKeys {
	keys := make(map[lab.Role]RoleKeys)
	for _, role := range lab.Roles() {
		rc := cfg.Role(role)
		keys[role] = RoleKeys{InstanceIDOutput: rc.InstanceIDOutput, AMIVariable: rc.AMIVariable}
	}
	return keys
}

// Manager creates and loads snapshot records.
type Manager struct {
	dir     string
	outputs OutputSource
	creator cloud.ImageCreator
	keys    map[lab.Role]RoleKeys

	now func() time.Time
}

func NewManager(dir string, outputs OutputSource, creator cloud.ImageCreator, keys map[lab.Role]RoleKeys) *Manager {
	return &Manager{
		dir:     dir,
		outputs: outputs,
		creator: creator,
		keys:    keys,
		now:     time.Now,
	}
}

// Path returns the record location for role.
func (m *Manager) Path(role lab.Role) string {
	return filepath.Join(m.dir, string(role), recordFile)
}

// Snapshot captures an image of role's running instance.
func (m *Manager) Snapshot(ctx context.Context, role lab.Role) (*Record, error) {
	outputs, err := m.outputs.Outputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrNoInstance, role, err)
	}
	return m.snapshot(ctx, role, outputs)
}

// SnapshotAll captures every role in sel independently. A failure for one
// role does not prevent the others; the returned error joins all failures.
func (m *Manager) SnapshotAll(ctx context.Context, sel lab.Selector) ([]Result, error) {
	roles := sel.Roles()
	results := make([]Result, 0, len(roles))

	outputs, err := m.outputs.Outputs(ctx)
	if err != nil {
		err = fmt.Errorf("%w: provisioning outputs unavailable: %w", ErrNoInstance, err)
		for _, role := range roles {
			results = append(results, Result{Role: role, Err: err})
		}
		return results, err
	}

	var errs []error
	for _, role := range roles {
		rec, err := m.snapshot(ctx, role, outputs)
		if err != nil {
			logging.Error("snapshot failed", "role", role, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", role, err))
		}
		results = append(results, Result{Role: role, Record: rec, Err: err})
	}

	if len(errs) > 0 {
		return results, fmt.Errorf("%d snapshot(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return results, nil
}

func (m *Manager) snapshot(ctx context.Context, role lab.Role, outputs terraform.Outputs) (*Record, error) {
	keys, ok := m.keys[role]
	if !ok || keys.InstanceIDOutput == "" {
		return nil, fmt.Errorf("%w: no instance id output configured for %s", ErrNoInstance, role)
	}
	instanceID, ok := outputs.String(keys.InstanceIDOutput)
	if !ok {
		return nil, fmt.Errorf("%w: output %q is not set for %s", ErrNoInstance, keys.InstanceIDOutput, role)
	}

	created := m.now().UTC()
	name := fmt.Sprintf("labctl-%s-%d", role, created.Unix())
	logging.Info("creating image", "role", role, "instance", instanceID, "name", name)

	amiID, err := m.creator.CreateImage(ctx, cloud.ImageRequest{
		InstanceID:  instanceID,
		Name:        name,
		Description: fmt.Sprintf("labctl %s snapshot of %s", role, instanceID),
		Tags:        map[string]string{"labctl:role": string(role)},
	})
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Role:       role,
		CreatedAt:  created,
		InstanceID: instanceID,
		AMIID:      amiID,
		Name:       name,
	}
	if err := m.write(rec); err != nil {
		return nil, err
	}
	logging.Info("image created", "role", role, "ami", amiID)
	return rec, nil
}

func (m *Manager) write(rec *Record) error {
	path := m.Path(rec.Role)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write snapshot record %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write snapshot record %s: %w", path, err)
	}
	return nil
}

// Load reads the record for role. A missing file returns nil, nil.
func (m *Manager) Load(role lab.Role) (*Record, error) {
	data, err := os.ReadFile(m.Path(role))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot record %s: %w", m.Path(role), err)
	}
	if rec.Role == "" {
		rec.Role = role
	}
	return &rec, nil
}

// Substitutions returns TF_VAR_<ami variable>=<image id> for every role with
// a readable record holding an image id. Roles without one keep their
// default image.
func (m *Manager) Substitutions() map[string]string {
	vars := make(map[string]string)
	for _, role := range lab.Roles() {
		keys, ok := m.keys[role]
		if !ok || keys.AMIVariable == "" {
			continue
		}
		rec, err := m.Load(role)
		if err != nil {
			logging.Warn("ignoring unreadable snapshot record", "role", role, "error", err)
			continue
		}
		if rec == nil || rec.AMIID == "" {
			continue
		}
		vars["TF_VAR_"+keys.AMIVariable] = rec.AMIID
		logging.Info("using snapshot image", "role", role, "ami", rec.AMIID, "variable", keys.AMIVariable)
	}
	return vars
}
