package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labforge/labctl/internal/cloud"
	"github.com/labforge/labctl/internal/config"
	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/terraform"
)

type staticOutputs struct {
	outputs terraform.Outputs
	err     error
}

func (s staticOutputs) Outputs(ctx context.Context) (terraform.Outputs, error) {
	return s.outputs, s.err
}

type fakeCreator struct {
	ids      []string
	failFor  map[string]error
	requests []cloud.ImageRequest
}

func (f *fakeCreator) CreateImage(ctx context.Context, req cloud.ImageRequest) (string, error) {
	f.requests = append(f.requests, req)
	if err := f.failFor[req.InstanceID]; err != nil {
		return "", err
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

func outputs(kv map[string]string) terraform.Outputs {
	out := terraform.Outputs{}
	for k, v := range kv {
		out[k] = terraform.Output{Value: v}
	}
	return out
}

func newManager(t *testing.T, out OutputSource, creator cloud.ImageCreator) *Manager {
	t.Helper()
	cfg := config.Default(t.TempDir())
	m := NewManager(cfg.SnapshotPath(), out, creator, KeysFromConfig(cfg))
	m.now = func() time.Time { return time.Unix(1700000000, 0) }
	return m
}

func TestSnapshot_WritesRecordAfterSuccess(t *testing.T) {
	creator := &fakeCreator{ids: []string{"ami-0111"}}
	m := newManager(t, staticOutputs{outputs: outputs(map[string]string{"target_instance_id": "i-0t"})}, creator)

	rec, err := m.Snapshot(context.Background(), lab.RoleTarget)
	require.NoError(t, err)
	assert.Equal(t, "ami-0111", rec.AMIID)
	assert.Equal(t, "i-0t", rec.InstanceID)
	assert.Equal(t, "labctl-target-1700000000", rec.Name)

	require.Len(t, creator.requests, 1)
	assert.Equal(t, "i-0t", creator.requests[0].InstanceID)

	loaded, err := m.Load(lab.RoleTarget)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "ami-0111", loaded.AMIID)
	assert.True(t, loaded.CreatedAt.Equal(time.Unix(1700000000, 0)))
}

func TestSnapshot_OverwritesPreviousRecord(t *testing.T) {
	creator := &fakeCreator{ids: []string{"ami-old", "ami-new"}}
	m := newManager(t, staticOutputs{outputs: outputs(map[string]string{"attacker_instance_id": "i-0p"})}, creator)

	_, err := m.Snapshot(context.Background(), lab.RolePivot)
	require.NoError(t, err)
	_, err = m.Snapshot(context.Background(), lab.RolePivot)
	require.NoError(t, err)

	loaded, err := m.Load(lab.RolePivot)
	require.NoError(t, err)
	assert.Equal(t, "ami-new", loaded.AMIID)

	entries, err := os.ReadDir(filepath.Dir(m.Path(lab.RolePivot)))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSnapshot_NoInstanceID(t *testing.T) {
	creator := &fakeCreator{}
	m := newManager(t, staticOutputs{outputs: outputs(nil)}, creator)

	_, err := m.Snapshot(context.Background(), lab.RoleLogging)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoInstance))
	assert.Empty(t, creator.requests)

	rec, err := m.Load(lab.RoleLogging)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSnapshot_CreatorFailureKeepsOldRecord(t *testing.T) {
	creator := &fakeCreator{ids: []string{"ami-first"}, failFor: map[string]error{}}
	m := newManager(t, staticOutputs{outputs: outputs(map[string]string{"target_instance_id": "i-0t"})}, creator)

	_, err := m.Snapshot(context.Background(), lab.RoleTarget)
	require.NoError(t, err)

	creator.failFor["i-0t"] = errors.New("quota exceeded")
	_, err = m.Snapshot(context.Background(), lab.RoleTarget)
	require.Error(t, err)

	loaded, err := m.Load(lab.RoleTarget)
	require.NoError(t, err)
	assert.Equal(t, "ami-first", loaded.AMIID)
}

func TestSnapshotAll_ContinuesPastFailures(t *testing.T) {
	creator := &fakeCreator{ids: []string{"ami-p", "ami-t"}}
	m := newManager(t, staticOutputs{outputs: outputs(map[string]string{
		"attacker_instance_id": "i-0p",
		"target_instance_id":   "i-0t",
	})}, creator)

	results, err := m.SnapshotAll(context.Background(), lab.SelectAll)
	require.Error(t, err)
	assert.ErrorContains(t, err, "1 snapshot(s) failed")
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.True(t, errors.Is(results[1].Err, ErrNoInstance))
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "ami-t", results[2].Record.AMIID)
}

func TestSnapshotAll_OutputsUnavailable(t *testing.T) {
	m := newManager(t, staticOutputs{err: errors.New("no state")}, &fakeCreator{})

	results, err := m.SnapshotAll(context.Background(), lab.SelectAll)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoInstance))
	for _, r := range results {
		assert.Error(t, r.Err)
	}
}

func TestSubstitutions(t *testing.T) {
	creator := &fakeCreator{ids: []string{"ami-t"}}
	m := newManager(t, staticOutputs{outputs: outputs(map[string]string{"target_instance_id": "i-0t"})}, creator)

	assert.Empty(t, m.Substitutions())

	_, err := m.Snapshot(context.Background(), lab.RoleTarget)
	require.NoError(t, err)

	// A corrupt logging record is skipped, not fatal.
	logPath := m.Path(lab.RoleLogging)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0755))
	require.NoError(t, os.WriteFile(logPath, []byte("{not json"), 0644))

	assert.Equal(t, map[string]string{"TF_VAR_target_custom_ami": "ami-t"}, m.Substitutions())
}

func TestSubstitutions_IgnoresEmptyImageID(t *testing.T) {
	m := newManager(t, staticOutputs{}, &fakeCreator{})
	path := m.Path(lab.RolePivot)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{"role":"pivot","ami_id":""}`), 0644))

	assert.Empty(t, m.Substitutions())
}
