package ansible

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labforge/labctl/internal/runner"
	"github.com/labforge/labctl/internal/runner/runnertest"
)

func TestRun_Args(t *testing.T) {
	r := Run{
		Playbook:   "/lab/target/linux.yml",
		Inventory:  "/lab/target/inventory.ini",
		User:       "ubuntu",
		PrivateKey: "/keys/internal_lab",
		ExtraVars:  map[string]string{"ansible_ssh_common_args": "-o ProxyCommand=\"ssh -W %h:%p\""},
	}

	args, err := r.Args()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-i", "/lab/target/inventory.ini",
		"-u", "ubuntu",
		"--private-key", "/keys/internal_lab",
		"-e", `{"ansible_ssh_common_args":"-o ProxyCommand=\"ssh -W %h:%p\""}`,
		"/lab/target/linux.yml",
	}, args)
}

func TestRun_ArgsMinimal(t *testing.T) {
	args, err := Run{Playbook: "site.yml", Inventory: "hosts.ini"}.Args()
	require.NoError(t, err)
	assert.Equal(t, []string{"-i", "hosts.ini", "site.yml"}, args)
}

func TestClient_Run(t *testing.T) {
	fake := runnertest.New()
	c := New(fake)

	err := c.Run(context.Background(), Run{Playbook: "/lab/att/att.yml", Inventory: "/lab/att/inventory.ini"})
	require.NoError(t, err)

	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "ansible-playbook", fake.Calls[0].Name)
	assert.Equal(t, "/lab/att", fake.Calls[0].Dir)
	assert.Equal(t, "False", fake.Calls[0].Env["ANSIBLE_HOST_KEY_CHECKING"])
}

func TestClient_RunFailure(t *testing.T) {
	fake := runnertest.New().Fail("ansible-playbook", 2, "UNREACHABLE!")
	c := New(fake)

	err := c.Run(context.Background(), Run{Playbook: "site.yml", Inventory: "hosts.ini"})
	var callErr *runner.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, 2, callErr.ExitCode)
}

func TestClient_RunRequiresPaths(t *testing.T) {
	c := New(runnertest.New())
	assert.Error(t, c.Run(context.Background(), Run{Playbook: "site.yml"}))
}
