package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/labforge/labctl/internal/ansible"
	"github.com/labforge/labctl/internal/cloud"
	"github.com/labforge/labctl/internal/config"
	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/logging"
	"github.com/labforge/labctl/internal/prereq"
	"github.com/labforge/labctl/internal/publicip"
	"github.com/labforge/labctl/internal/resolve"
	"github.com/labforge/labctl/internal/runner"
	"github.com/labforge/labctl/internal/snapshot"
	"github.com/labforge/labctl/internal/stage"
	"github.com/labforge/labctl/internal/state"
	"github.com/labforge/labctl/internal/terraform"
)

// Seams swapped in tests.
var (
	newInvoker = func() runner.Invoker { return runner.New() }

	newImageCreator = func(ctx context.Context, cfg *config.Config, inv runner.Invoker) (cloud.ImageCreator, error) {
		if cfg.ImageBackend == config.ImageBackendSDK {
			sdk, err := cloud.NewSDK(ctx, cfg.AWSRegion())
			if err != nil {
				return nil, err
			}
			return sdk, nil
		}
		return cloud.NewCLI(inv, cfg.AWSRegion()), nil
	}

	newDetector = func() interface {
		Detect(ctx context.Context) (string, error)
	} {
		return publicip.NewDetector()
	}

	requireTools = prereq.Require
)

// labEnv is the set of components one command works with.
type labEnv struct {
	cfg       *config.Config
	store     state.Backend
	invoker   runner.Invoker
	terraform *terraform.Client
	ansible   *ansible.Client
}

// loadLab loads .env, the lab definition and the state backend.
func loadLab(ctx context.Context) (*labEnv, error) {
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory %s: %w", projectDir, err)
	}

	if _, err := config.LoadEnv(filepath.Join(dir, ".env"), filepath.Join(filepath.Dir(dir), ".env")); err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir, configFile)
	if err != nil {
		return nil, err
	}

	store, err := state.NewBackend(ctx, cfg.StateBackend())
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	inv := newInvoker()
	return &labEnv{
		cfg:       cfg,
		store:     store,
		invoker:   inv,
		terraform: terraform.New(cfg.TerraformPath(), inv),
		ansible:   ansible.New(inv),
	}, nil
}

func (e *labEnv) resolver() *resolve.Resolver {
	return resolve.New(e.terraform, e.store, resolve.KeysFromConfig(e.cfg))
}

func (e *labEnv) snapshots(ctx context.Context) (*snapshot.Manager, error) {
	creator, err := newImageCreator(ctx, e.cfg, e.invoker)
	if err != nil {
		return nil, err
	}
	return snapshot.NewManager(e.cfg.SnapshotPath(), e.terraform, creator, snapshot.KeysFromConfig(e.cfg)), nil
}

// substitutions builds the variables exported to terraform: persisted image
// ids, the availability zone and the selected target OS.
func (e *labEnv) substitutions(ctx context.Context) map[string]string {
	mgr := snapshot.NewManager(e.cfg.SnapshotPath(), nil, nil, snapshot.KeysFromConfig(e.cfg))
	vars := mgr.Substitutions()
	vars["TF_VAR_availability_zone"] = config.AvailabilityZone()

	if v, ok, err := state.Get(ctx, e.store, state.KeyTargetOS); err != nil {
		logging.Warn("could not read target os", "error", err)
	} else if ok {
		vars["TF_VAR_target_os"] = v
	}
	return vars
}

// configure runs the stages in sel and prints a summary.
func (e *labEnv) configure(ctx context.Context, out io.Writer, sel lab.Selector) error {
	seq := stage.NewSequencer(e.cfg, e.resolver(), e.ansible, e.store)
	seq.Callback = func(ev stage.Event) { printStageEvent(out, ev) }

	results, err := seq.Run(ctx, sel)
	printStageSummary(out, results)
	return err
}

// stageTools lists the tools a configuration run over sel needs.
func stageTools(sel lab.Selector) []prereq.Tool {
	tools := []prereq.Tool{prereq.Ansible}
	for _, role := range sel.Roles() {
		if role != lab.RolePivot {
			return append(tools, prereq.SSH)
		}
	}
	return tools
}
