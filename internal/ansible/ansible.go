// Package ansible invokes the configuration runner against a lab host.
package ansible

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/labforge/labctl/internal/runner"
)

const binary = "ansible-playbook"

// Run is a single playbook invocation.
type Run struct {
	Playbook   string
	Inventory  string
	User       string
	PrivateKey string
	ExtraVars  map[string]string
}

// Client runs playbooks through an Invoker.
type Client struct {
	invoker runner.Invoker
}

func New(invoker runner.Invoker) *Client {
	return &Client{invoker: invoker}
}

// Args renders the ansible-playbook arguments for r. Extra variables are
// passed as one JSON document so values containing spaces survive intact.
func (r Run) Args() ([]string, error) {
	args := []string{"-i", r.Inventory}
	if r.User != "" {
		args = append(args, "-u", r.User)
	}
	if r.PrivateKey != "" {
		args = append(args, "--private-key", r.PrivateKey)
	}
	if len(r.ExtraVars) > 0 {
		data, err := json.Marshal(r.ExtraVars)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extra vars: %w", err)
		}
		args = append(args, "-e", string(data))
	}
	return append(args, r.Playbook), nil
}

// Run executes the playbook from its own directory so relative roles resolve.
func (c *Client) Run(ctx context.Context, r Run) error {
	if r.Playbook == "" || r.Inventory == "" {
		return fmt.Errorf("playbook and inventory must be set")
	}
	args, err := r.Args()
	if err != nil {
		return err
	}
	_, err = c.invoker.Invoke(ctx, runner.Command{
		Name: binary,
		Args: args,
		Dir:  filepath.Dir(r.Playbook),
		Env:  map[string]string{"ANSIBLE_HOST_KEY_CHECKING": "False"},
	})
	return err
}
