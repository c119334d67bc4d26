// Package stage sequences the per-host configuration runs.
//
// The pivot host is reached directly. Logging and target are reached through
// it, so every stage needs the pivot address resolved first. Stages are
// independent runs of the configuration runner: a failed stage is recorded
// and the remaining requested stages still run.
package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/labforge/labctl/internal/ansible"
	"github.com/labforge/labctl/internal/config"
	"github.com/labforge/labctl/internal/inventory"
	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/logging"
	"github.com/labforge/labctl/internal/proxy"
	"github.com/labforge/labctl/internal/state"
)

// Status is the sequencer's position in the configuration run.
type Status string

const (
	StatusPending           Status = "pending"
	StatusPivotConfigured   Status = "pivot-configured"
	StatusLoggingConfigured Status = "logging-configured"
	StatusTargetConfigured  Status = "target-configured"
	StatusFailed            Status = "failed"
)

func configured(role lab.Role) Status {
	switch role {
	case lab.RolePivot:
		return StatusPivotConfigured
	case lab.RoleLogging:
		return StatusLoggingConfigured
	default:
		return StatusTargetConfigured
	}
}

// Result is the outcome of one stage.
type Result struct {
	Role     lab.Role
	Status   Status
	Proxied  bool
	Duration time.Duration
	Err      error
}

// OK reports whether the stage succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Event is emitted as each stage starts and finishes.
type Event struct {
	Role     lab.Role
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Error    error
}

// Callback receives stage events.
type Callback func(event Event)

// AddressResolver supplies the pivot host's address.
type AddressResolver interface {
	Resolve(ctx context.Context, role lab.Role) (lab.ResolvedAddress, error)
}

// PlaybookRunner executes a configuration run.
type PlaybookRunner interface {
	Run(ctx context.Context, r ansible.Run) error
}

// Sequencer runs the configuration stages.
type Sequencer struct {
	cfg      *config.Config
	resolver AddressResolver
	runner   PlaybookRunner
	store    state.Backend

	// Callback, if set, receives progress events.
	Callback Callback

	status Status
}

func NewSequencer(cfg *config.Config, resolver AddressResolver, runner PlaybookRunner, store state.Backend) *Sequencer {
	return &Sequencer{
		cfg:      cfg,
		resolver: resolver,
		runner:   runner,
		store:    store,
		status:   StatusPending,
	}
}

// Status returns the state reached by the last stage attempted.
func (s *Sequencer) Status() Status {
	return s.status
}

// Run executes the stages selected by sel in pivot, logging, target order.
// It returns one Result per attempted stage and, when any stage failed, an
// error joining the failures. An unresolvable pivot address fails every
// selected stage without running any of them.
func (s *Sequencer) Run(ctx context.Context, sel lab.Selector) ([]Result, error) {
	roles := sel.Roles()

	pivot, err := s.resolver.Resolve(ctx, lab.RolePivot)
	if err != nil {
		s.status = StatusFailed
		err = fmt.Errorf("cannot configure %s: pivot address unresolved: %w", sel, err)
		results := make([]Result, 0, len(roles))
		for _, role := range roles {
			results = append(results, Result{Role: role, Status: StatusFailed, Err: err})
		}
		return results, err
	}
	logging.Info("pivot address", "address", pivot.Address, "source", pivot.Source)

	var results []Result
	var errs []error
	for _, role := range roles {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("configuration cancelled: %w", err)
		}

		start := time.Now()
		s.emit(Event{Role: role, Status: "started"})

		result := Result{Role: role, Proxied: role != lab.RolePivot}
		err := s.runStage(ctx, role, pivot.Address)
		result.Duration = time.Since(start)

		if err != nil {
			result.Status = StatusFailed
			result.Err = err
			s.status = StatusFailed
			logging.Error("stage failed", "role", role, "error", err)
			s.emit(Event{Role: role, Status: "failed", Duration: result.Duration, Error: err})
			errs = append(errs, fmt.Errorf("%s: %w", role, err))
		} else {
			result.Status = configured(role)
			s.status = result.Status
			s.emit(Event{Role: role, Status: "completed", Duration: result.Duration})
		}
		results = append(results, result)
	}

	if len(errs) > 0 {
		return results, fmt.Errorf("%d stage(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return results, nil
}

func (s *Sequencer) runStage(ctx context.Context, role lab.Role, pivotAddress string) error {
	rc := s.cfg.Role(role)
	def := s.cfg.RunDef(role, s.targetOS(ctx, role))

	run := ansible.Run{
		Playbook:  s.cfg.Path(def.Playbook),
		Inventory: s.cfg.Path(def.Inventory),
		User:      rc.User,
	}
	if _, err := os.Stat(run.Playbook); err != nil {
		return fmt.Errorf("playbook not found: %s", run.Playbook)
	}

	userKey := s.cfg.KeyPath(s.cfg.SSH.UserToAttacker)

	if role == lab.RolePivot {
		changed, err := inventory.SetHost(run.Inventory, rc.InventorySection, pivotAddress)
		if err != nil {
			return err
		}
		if changed {
			logging.Info("updated inventory host", "path", run.Inventory, "section", rc.InventorySection, "address", pivotAddress)
		}
		run.PrivateKey = userKey
		return s.runner.Run(ctx, run)
	}

	spec, err := proxy.Build(pivotAddress, s.cfg.Pivot.User, userKey)
	if err != nil {
		return err
	}
	run.PrivateKey = s.cfg.KeyPath(s.cfg.SSH.InternalLab)
	run.ExtraVars = spec.ExtraVars()
	logging.Debug("configuring through jump host", "role", role, "jump", spec.JumpUser+"@"+spec.JumpAddress)
	return s.runner.Run(ctx, run)
}

// targetOS reads the persisted OS selection, defaulting to linux.
func (s *Sequencer) targetOS(ctx context.Context, role lab.Role) lab.TargetOS {
	if role != lab.RoleTarget || s.store == nil {
		return lab.TargetLinux
	}
	v, ok, err := state.Get(ctx, s.store, state.KeyTargetOS)
	if err != nil || !ok {
		return lab.TargetLinux
	}
	parsed, err := lab.ParseTargetOS(v)
	if err != nil {
		logging.Warn("ignoring invalid persisted target os", "value", v)
		return lab.TargetLinux
	}
	return parsed
}

func (s *Sequencer) emit(event Event) {
	if s.Callback != nil {
		s.Callback(event)
	}
}
