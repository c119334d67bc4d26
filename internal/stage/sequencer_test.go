package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labforge/labctl/internal/ansible"
	"github.com/labforge/labctl/internal/config"
	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/proxy"
	"github.com/labforge/labctl/internal/resolve"
	"github.com/labforge/labctl/internal/runner"
	"github.com/labforge/labctl/internal/state"
)

type fakeResolver struct {
	addr  string
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, role lab.Role) (lab.ResolvedAddress, error) {
	f.calls++
	if f.err != nil {
		return lab.ResolvedAddress{}, f.err
	}
	return lab.ResolvedAddress{Role: role, Address: f.addr, Source: lab.SourceLive}, nil
}

type fakePlaybooks struct {
	runs  []ansible.Run
	fails map[string]error
}

func (f *fakePlaybooks) Run(ctx context.Context, r ansible.Run) error {
	f.runs = append(f.runs, r)
	return f.fails[filepath.Base(r.Playbook)]
}

func setupLab(t *testing.T) (*config.Config, *state.Manager) {
	t.Helper()
	t.Setenv(state.EncryptionKeyEnvVar, "")
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.SSH.KeysDir = filepath.Join(dir, "keys")

	for _, p := range []string{"att/att.yml", "logging/logging.yml", "target/linux.yml", "target/windows.yml"} {
		path := filepath.Join(dir, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("- hosts: all\n"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "att/inventory.ini"), []byte("[attacker]\n198.51.100.9\n"), 0644))

	return cfg, state.NewManager(filepath.Join(dir, ".labctl", "state.json"))
}

func TestSequencer_RunAll(t *testing.T) {
	cfg, store := setupLab(t)
	resolver := &fakeResolver{addr: "203.0.113.5"}
	playbooks := &fakePlaybooks{}
	seq := NewSequencer(cfg, resolver, playbooks, store)

	var events []Event
	seq.Callback = func(e Event) { events = append(events, e) }

	results, err := seq.Run(context.Background(), lab.SelectAll)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, lab.RolePivot, results[0].Role)
	assert.Equal(t, StatusPivotConfigured, results[0].Status)
	assert.False(t, results[0].Proxied)
	assert.Equal(t, StatusLoggingConfigured, results[1].Status)
	assert.True(t, results[1].Proxied)
	assert.Equal(t, StatusTargetConfigured, results[2].Status)
	assert.Equal(t, StatusTargetConfigured, seq.Status())
	assert.Equal(t, 1, resolver.calls)
	assert.Len(t, events, 6)

	// Pivot runs directly against the rewritten inventory.
	require.Len(t, playbooks.runs, 3)
	pivotRun := playbooks.runs[0]
	assert.Equal(t, filepath.Join(cfg.ProjectDir, "att/att.yml"), pivotRun.Playbook)
	assert.Empty(t, pivotRun.ExtraVars)
	assert.Equal(t, filepath.Join(cfg.SSH.KeysDir, "user_to_attacker"), pivotRun.PrivateKey)

	inv, err := os.ReadFile(filepath.Join(cfg.ProjectDir, "att/inventory.ini"))
	require.NoError(t, err)
	assert.Equal(t, "[attacker]\n203.0.113.5\n", string(inv))

	// Logging and target tunnel through the pivot host.
	spec, err := proxy.Build("203.0.113.5", "ubuntu", filepath.Join(cfg.SSH.KeysDir, "user_to_attacker"))
	require.NoError(t, err)
	for _, r := range playbooks.runs[1:] {
		assert.Equal(t, spec.ExtraVars(), r.ExtraVars)
		assert.Equal(t, filepath.Join(cfg.SSH.KeysDir, "internal_lab"), r.PrivateKey)
	}
}

func TestSequencer_FailedStageDoesNotStopOthers(t *testing.T) {
	cfg, store := setupLab(t)
	playbooks := &fakePlaybooks{fails: map[string]error{
		"logging.yml": &runner.CallError{Command: "ansible-playbook logging.yml", ExitCode: 2},
	}}
	seq := NewSequencer(cfg, &fakeResolver{addr: "203.0.113.5"}, playbooks, store)

	results, err := seq.Run(context.Background(), lab.SelectAll)
	require.Error(t, err)
	assert.Equal(t, 2, runner.ExitCode(err))
	require.Len(t, results, 3)

	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.True(t, results[2].OK())
	assert.Equal(t, StatusTargetConfigured, results[2].Status)
	assert.Len(t, playbooks.runs, 3)
}

func TestSequencer_UnresolvedPivotFailsEveryStage(t *testing.T) {
	cfg, store := setupLab(t)
	playbooks := &fakePlaybooks{}
	resolver := &fakeResolver{err: resolve.ErrNotFound}
	seq := NewSequencer(cfg, resolver, playbooks, store)

	results, err := seq.Run(context.Background(), lab.SelectAll)
	require.Error(t, err)
	assert.True(t, errors.Is(err, resolve.ErrNotFound))
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, StatusFailed, r.Status)
	}
	assert.Empty(t, playbooks.runs)
	assert.Equal(t, StatusFailed, seq.Status())
}

func TestSequencer_SingleStageSelection(t *testing.T) {
	cfg, store := setupLab(t)
	playbooks := &fakePlaybooks{}
	seq := NewSequencer(cfg, &fakeResolver{addr: "203.0.113.5"}, playbooks, store)

	results, err := seq.Run(context.Background(), lab.Selector(lab.RoleTarget))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, lab.RoleTarget, results[0].Role)

	// The pivot inventory is only touched by the pivot stage.
	inv, err := os.ReadFile(filepath.Join(cfg.ProjectDir, "att/inventory.ini"))
	require.NoError(t, err)
	assert.Equal(t, "[attacker]\n198.51.100.9\n", string(inv))
}

func TestSequencer_TargetUsesPersistedOS(t *testing.T) {
	cfg, store := setupLab(t)
	require.NoError(t, state.Update(context.Background(), store, map[string]string{state.KeyTargetOS: "windows"}))
	playbooks := &fakePlaybooks{}
	seq := NewSequencer(cfg, &fakeResolver{addr: "203.0.113.5"}, playbooks, store)

	_, err := seq.Run(context.Background(), lab.Selector(lab.RoleTarget))
	require.NoError(t, err)
	require.Len(t, playbooks.runs, 1)
	assert.Equal(t, filepath.Join(cfg.ProjectDir, "target/windows.yml"), playbooks.runs[0].Playbook)
	assert.Equal(t, filepath.Join(cfg.ProjectDir, "target/inventory_windows.ini"), playbooks.runs[0].Inventory)
}

func TestSequencer_MissingPlaybookIsStageFailure(t *testing.T) {
	cfg, store := setupLab(t)
	require.NoError(t, state.Update(context.Background(), store, map[string]string{state.KeyTargetOS: "macos"}))
	playbooks := &fakePlaybooks{}
	seq := NewSequencer(cfg, &fakeResolver{addr: "203.0.113.5"}, playbooks, store)

	results, err := seq.Run(context.Background(), lab.SelectAll)
	require.Error(t, err)
	assert.ErrorContains(t, err, "playbook not found")
	assert.True(t, results[0].OK())
	assert.True(t, results[1].OK())
	assert.False(t, results[2].OK())
	assert.Len(t, playbooks.runs, 2)
}
