package terraform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labforge/labctl/internal/runner"
	"github.com/labforge/labctl/internal/runner/runnertest"
)

const sampleOutputs = `{
  "attacker_public_ip": {"sensitive": false, "type": "string", "value": "203.0.113.5"},
  "attacker_instance_id": {"sensitive": false, "type": "string", "value": "i-0abc"},
  "empty": {"sensitive": false, "type": "string", "value": ""},
  "ports": {"sensitive": false, "type": ["list", "number"], "value": [22, 443]}
}`

func TestParseOutputs(t *testing.T) {
	outputs, err := ParseOutputs([]byte(sampleOutputs))
	require.NoError(t, err)

	v, ok := outputs.String("attacker_public_ip")
	assert.True(t, ok)
	assert.Equal(t, "203.0.113.5", v)

	_, ok = outputs.String("empty")
	assert.False(t, ok)
	_, ok = outputs.String("ports")
	assert.False(t, ok)
	_, ok = outputs.String("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"attacker_instance_id", "attacker_public_ip", "empty", "ports"}, outputs.Keys())

	_, err = ParseOutputs([]byte("not json"))
	assert.Error(t, err)
}

func TestClient_InitSkipsWhenInitialized(t *testing.T) {
	dir := t.TempDir()
	fake := runnertest.New()
	c := New(dir, fake)

	require.NoError(t, c.Init(context.Background()))
	assert.Equal(t, []string{"terraform init"}, fake.Lines())

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".terraform"), 0755))
	require.NoError(t, c.Init(context.Background()))
	assert.Len(t, fake.Calls, 1)
}

func TestClient_InitMissingDir(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing"), runnertest.New())
	assert.ErrorContains(t, c.Init(context.Background()), "terraform directory not found")
}

func TestClient_ApplyPassesSubstitutionsAndTargets(t *testing.T) {
	dir := t.TempDir()
	fake := runnertest.New()
	c := New(dir, fake)

	vars := map[string]string{"TF_VAR_target_custom_ami": "ami-0123"}
	require.NoError(t, c.Apply(context.Background(), vars, "aws_security_group.attacker_sg"))

	require.Len(t, fake.Calls, 1)
	call := fake.Calls[0]
	assert.Equal(t, "terraform apply -auto-approve -target=aws_security_group.attacker_sg", call.Line())
	assert.Equal(t, dir, call.Dir)
	assert.Equal(t, vars, call.Env)
}

func TestClient_ApplyFailurePropagates(t *testing.T) {
	fake := runnertest.New().Fail("terraform apply", 1, "Error: no valid credential sources")
	c := New(t.TempDir(), fake)

	err := c.Apply(context.Background(), nil)
	var callErr *runner.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, 1, callErr.ExitCode)
}

func TestClient_Destroy(t *testing.T) {
	fake := runnertest.New()
	c := New(t.TempDir(), fake)

	require.NoError(t, c.Destroy(context.Background(), nil))
	assert.Equal(t, []string{"terraform destroy -auto-approve"}, fake.Lines())
}

func TestClient_Outputs(t *testing.T) {
	fake := runnertest.New().On("terraform output -json", runnertest.Response{Stdout: sampleOutputs})
	c := New(t.TempDir(), fake)

	outputs, err := c.Outputs(context.Background())
	require.NoError(t, err)
	id, ok := outputs.String("attacker_instance_id")
	assert.True(t, ok)
	assert.Equal(t, "i-0abc", id)
	assert.True(t, fake.Calls[0].Quiet)
}
