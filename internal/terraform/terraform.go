// Package terraform drives the provisioning engine that creates and destroys
// the lab infrastructure.
package terraform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/labforge/labctl/internal/logging"
	"github.com/labforge/labctl/internal/runner"
)

const binary = "terraform"

// Output is one entry of `terraform output -json`.
type Output struct {
	Value     any  `json:"value"`
	Type      any  `json:"type,omitempty"`
	Sensitive bool `json:"sensitive,omitempty"`
}

// Outputs maps output names to their values.
type Outputs map[string]Output

// String returns the output value for key when it is a non-empty scalar.
func (o Outputs) String(key string) (string, bool) {
	out, ok := o[key]
	if !ok || out.Value == nil {
		return "", false
	}
	var s string
	switch v := out.Value.(type) {
	case string:
		s = v
	case float64, bool:
		s = fmt.Sprint(v)
	default:
		return "", false
	}
	if s == "" {
		return "", false
	}
	return s, true
}

// Keys returns output names in sorted order.
func (o Outputs) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseOutputs decodes `terraform output -json`.
func ParseOutputs(data []byte) (Outputs, error) {
	outputs := Outputs{}
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to parse terraform outputs: %w", err)
	}
	return outputs, nil
}

// Client runs terraform in a fixed working directory.
type Client struct {
	dir     string
	invoker runner.Invoker
}

func New(dir string, invoker runner.Invoker) *Client {
	return &Client{dir: dir, invoker: invoker}
}

// Dir returns the terraform working directory.
func (c *Client) Dir() string {
	return c.dir
}

// Initialized reports whether `terraform init` has already run.
func (c *Client) Initialized() bool {
	info, err := os.Stat(filepath.Join(c.dir, ".terraform"))
	return err == nil && info.IsDir()
}

// Init runs `terraform init` unless the working directory is already initialized.
func (c *Client) Init(ctx context.Context) error {
	if _, err := os.Stat(c.dir); err != nil {
		return fmt.Errorf("terraform directory not found: %s", c.dir)
	}
	if c.Initialized() {
		fmt.Println("Terraform already initialized, skipping 'terraform init'.")
		return nil
	}
	_, err := c.invoker.Invoke(ctx, runner.Command{Name: binary, Args: []string{"init"}, Dir: c.dir})
	return err
}

// Apply runs `terraform apply -auto-approve`. vars are substitution inputs
// exported to terraform's environment; targets scope the apply to resources.
func (c *Client) Apply(ctx context.Context, vars map[string]string, targets ...string) error {
	args := []string{"apply", "-auto-approve"}
	for _, t := range targets {
		args = append(args, "-target="+t)
	}
	logging.Debug("terraform apply", "dir", c.dir, "targets", targets, "substitutions", sortedKeys(vars))
	_, err := c.invoker.Invoke(ctx, runner.Command{Name: binary, Args: args, Dir: c.dir, Env: vars})
	return err
}

// Destroy runs `terraform destroy -auto-approve`.
func (c *Client) Destroy(ctx context.Context, vars map[string]string) error {
	_, err := c.invoker.Invoke(ctx, runner.Command{
		Name: binary,
		Args: []string{"destroy", "-auto-approve"},
		Dir:  c.dir,
		Env:  vars,
	})
	return err
}

// Outputs returns the parsed output set along with the raw JSON.
func (c *Client) Outputs(ctx context.Context) (Outputs, error) {
	raw, err := c.RawOutputs(ctx)
	if err != nil {
		return nil, err
	}
	return ParseOutputs(raw)
}

// RawOutputs returns `terraform output -json` verbatim.
func (c *Client) RawOutputs(ctx context.Context) ([]byte, error) {
	if _, err := os.Stat(c.dir); err != nil {
		return nil, fmt.Errorf("terraform directory not found: %s", c.dir)
	}
	res, err := c.invoker.Invoke(ctx, runner.Command{
		Name:  binary,
		Args:  []string{"output", "-json"},
		Dir:   c.dir,
		Quiet: true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("terraform output returned no result")
	}
	return []byte(res.Stdout), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
