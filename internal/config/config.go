// Package config loads the lab definition: where the terraform project,
// playbooks and inventories live, which output keys carry which facts, and
// how SSH keys are named. Every field has a default so lab.yaml is optional.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/state"
)

// DefaultFile is the lab definition file name looked up in the project directory.
const DefaultFile = "lab.yaml"

// Image backends.
const (
	ImageBackendCLI = "cli"
	ImageBackendSDK = "sdk"
)

// Config is the lab definition.
type Config struct {
	// ProjectDir anchors every relative path. It is never read from the file.
	ProjectDir string `yaml:"-"`

	TerraformDir     string              `yaml:"terraform_dir"`
	State            state.BackendConfig `yaml:"state"`
	SnapshotDir      string              `yaml:"snapshot_dir"`
	Region           string              `yaml:"region"`
	ImageBackend     string              `yaml:"image_backend"`
	ClientIPResource string              `yaml:"client_ip_resource"`

	SSH     SSHConfig    `yaml:"ssh"`
	Pivot   RoleConfig   `yaml:"pivot"`
	Logging RoleConfig   `yaml:"logging"`
	Target  TargetConfig `yaml:"target"`
}

// RunDef points at a playbook and the inventory it runs against.
type RunDef struct {
	Playbook  string `yaml:"playbook"`
	Inventory string `yaml:"inventory"`
}

// RoleConfig describes how one host is configured and discovered.
type RoleConfig struct {
	RunDef `yaml:",inline"`

	User string `yaml:"user"`

	// AddressKeys are the terraform output names tried in order.
	AddressKeys []string `yaml:"address_keys"`

	// AddressStateKey is the canonical state key the address is persisted under.
	AddressStateKey string `yaml:"address_state_key"`

	InstanceIDOutput string `yaml:"instance_id_output"`
	AMIVariable      string `yaml:"ami_variable"`

	// InventorySection is the inventory group whose host line holds the address.
	InventorySection string `yaml:"inventory_section"`
}

// TargetConfig adds per-OS run definitions to the target role.
type TargetConfig struct {
	RoleConfig `yaml:",inline"`

	OS map[lab.TargetOS]RunDef `yaml:"os"`
}

// SSHConfig names the key pairs the lab uses.
type SSHConfig struct {
	KeysDir        string  `yaml:"keys_dir"`
	UserToAttacker KeySpec `yaml:"user_to_attacker_key"`
	InternalLab    KeySpec `yaml:"internal_lab_key"`
}

// KeySpec describes one SSH key pair.
type KeySpec struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Passphrase string `yaml:"passphrase"`
	Comment    string `yaml:"comment"`
}

// Default returns the built-in lab definition rooted at projectDir.
func Default(projectDir string) *Config {
	return &Config{
		ProjectDir:   projectDir,
		TerraformDir: "aws_architecture",
		State: state.BackendConfig{
			Type: "local",
			Path: filepath.Join(".labctl", "state.json"),
		},
		SnapshotDir:      filepath.Join(".labctl", "snapshots"),
		ImageBackend:     ImageBackendCLI,
		ClientIPResource: "aws_security_group.attacker_sg",
		SSH: SSHConfig{
			KeysDir:        "~/.ssh/labctl",
			UserToAttacker: KeySpec{Name: "user_to_attacker", Type: "ed25519"},
			InternalLab:    KeySpec{Name: "internal_lab", Type: "ed25519"},
		},
		Pivot: RoleConfig{
			RunDef:           RunDef{Playbook: "att/att.yml", Inventory: "att/inventory.ini"},
			User:             "ubuntu",
			AddressKeys:      []string{"attacker_ip", "attacker_public_ip", "attacker_machine_ip"},
			AddressStateKey:  state.KeyAttackerIP,
			InstanceIDOutput: "attacker_instance_id",
			AMIVariable:      "attacker_custom_ami",
			InventorySection: "attacker",
		},
		Logging: RoleConfig{
			RunDef:           RunDef{Playbook: "logging/logging.yml", Inventory: "logging/inventory.ini"},
			User:             "ubuntu",
			AddressKeys:      []string{"logging_ip", "logging_private_ip", "logging_machine_ip"},
			AddressStateKey:  "logging_ip",
			InstanceIDOutput: "logging_machine_instance_id",
			AMIVariable:      "logging_custom_ami",
		},
		Target: TargetConfig{
			RoleConfig: RoleConfig{
				RunDef:           RunDef{Playbook: "target/linux.yml", Inventory: "target/inventory.ini"},
				User:             "ubuntu",
				AddressKeys:      []string{"target_ip", "target_private_ip", "target_machine_ip"},
				AddressStateKey:  "target_ip",
				InstanceIDOutput: "target_instance_id",
				AMIVariable:      "target_custom_ami",
			},
			OS: map[lab.TargetOS]RunDef{
				lab.TargetLinux:   {Playbook: "target/linux.yml", Inventory: "target/inventory.ini"},
				lab.TargetMacOS:   {Playbook: "target/macos.yml", Inventory: "target/inventory_macos.ini"},
				lab.TargetWindows: {Playbook: "target/windows.yml", Inventory: "target/inventory_windows.ini"},
			},
		},
	}
}

// Load reads the lab definition at path over the defaults. An empty path
// means DefaultFile in projectDir; a missing file yields the defaults.
func Load(projectDir, path string) (*Config, error) {
	cfg := Default(projectDir)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(projectDir, DefaultFile)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lab definition %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse lab definition %s: %w", path, err)
	}
	cfg.ProjectDir = projectDir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lab definition %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the orchestrator cannot work without.
func (c *Config) Validate() error {
	if c.TerraformDir == "" {
		return fmt.Errorf("terraform_dir must be set")
	}
	switch c.ImageBackend {
	case ImageBackendCLI, ImageBackendSDK:
	default:
		return fmt.Errorf("image_backend must be %q or %q, got %q", ImageBackendCLI, ImageBackendSDK, c.ImageBackend)
	}
	for _, role := range lab.Roles() {
		rc := c.Role(role)
		if len(rc.AddressKeys) == 0 {
			return fmt.Errorf("%s: address_keys must not be empty", role)
		}
		if rc.InstanceIDOutput == "" {
			return fmt.Errorf("%s: instance_id_output must be set", role)
		}
	}
	return nil
}

// Role returns the configuration for role.
func (c *Config) Role(role lab.Role) RoleConfig {
	switch role {
	case lab.RolePivot:
		return c.Pivot
	case lab.RoleLogging:
		return c.Logging
	default:
		return c.Target.RoleConfig
	}
}

// RunDef returns the playbook and inventory for role. The target's definition
// depends on the selected OS; an unknown OS falls back to the role default.
func (c *Config) RunDef(role lab.Role, targetOS lab.TargetOS) RunDef {
	if role == lab.RoleTarget {
		if def, ok := c.Target.OS[targetOS]; ok {
			return def
		}
	}
	return c.Role(role).RunDef
}

// Path resolves p against the project directory.
func (c *Config) Path(p string) string {
	p = ExpandHome(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// TerraformPath is the absolute terraform working directory.
func (c *Config) TerraformPath() string {
	return c.Path(c.TerraformDir)
}

// StateBackend returns the backend configuration with its path resolved.
func (c *Config) StateBackend() state.BackendConfig {
	b := c.State
	if b.Type == "" || b.Type == "local" {
		b.Path = c.Path(b.Path)
	}
	if b.Region == "" {
		b.Region = c.AWSRegion()
	}
	return b
}

// SnapshotPath is the directory holding per-role snapshot records.
func (c *Config) SnapshotPath() string {
	return c.Path(c.SnapshotDir)
}

// KeyPath returns the private key path for spec.
func (c *Config) KeyPath(spec KeySpec) string {
	return filepath.Join(c.Path(c.SSH.KeysDir), spec.Name)
}

// AWSRegion returns the configured region, falling back to the environment.
func (c *Config) AWSRegion() string {
	if c.Region != "" {
		return c.Region
	}
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r
	}
	if r := os.Getenv("AWS_DEFAULT_REGION"); r != "" {
		return r
	}
	return "us-east-1"
}

// AvailabilityZone is the value exported as TF_VAR_availability_zone.
func AvailabilityZone() string {
	if az := os.Getenv("AWS_DEFAULT_REGION"); az != "" {
		return az
	}
	return "us-east-1a"
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
