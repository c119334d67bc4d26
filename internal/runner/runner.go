// Package runner invokes the external tools the orchestrator delegates to
// (terraform, ansible-playbook, aws, ssh) and turns their exit status into errors.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/labforge/labctl/internal/logging"
)

// ErrToolMissing is returned when a required binary is not on PATH.
var ErrToolMissing = errors.New("required tool not found")

// Command describes a single external invocation.
type Command struct {
	Name string
	Args []string
	Dir  string

	// Env holds substitution inputs layered over the process environment.
	Env map[string]string

	// Quiet captures stdout without streaming it to the operator.
	Quiet bool

	Stdin io.Reader
}

// Line renders the command as a shell-quoted string.
func (c Command) Line() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Result holds the captured outcome of a completed invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CallError reports a non-zero exit from an external tool.
type CallError struct {
	Command  string
	Dir      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, e.Command)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Invoker runs external commands. Tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, cmd Command) (*Result, error)
}

// Runner is the process-backed Invoker.
type Runner struct {
	Out io.Writer
	Err io.Writer
}

// New returns a Runner streaming to the process stdout and stderr.
func New() *Runner {
	return &Runner{Out: os.Stdout, Err: os.Stderr}
}

// Invoke echoes and executes cmd, blocking until it exits.
// A non-zero exit is returned as *CallError alongside the captured result.
func (r *Runner) Invoke(ctx context.Context, cmd Command) (*Result, error) {
	dir := cmd.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	if _, err := exec.LookPath(cmd.Name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, cmd.Name)
	}

	fmt.Fprintf(r.out(), "\nRunning: %s (in %s)\n", cmd.Line(), dir)
	logging.Debug("invoking external command", "command", cmd.Name, "dir", dir, "substitutions", len(cmd.Env))

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = dir
	c.Env = MergeEnv(os.Environ(), cmd.Env)
	c.Stdin = cmd.Stdin
	if cmd.Quiet {
		c.Stdout = &stdout
	} else {
		c.Stdout = io.MultiWriter(&stdout, r.out())
	}
	c.Stderr = io.MultiWriter(&stderr, r.errOut())

	runErr := c.Run()
	res := &Result{
		ExitCode: c.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if runErr == nil {
		return res, nil
	}

	exitCode := res.ExitCode
	if exitCode <= 0 {
		exitCode = 1
	}
	res.ExitCode = exitCode
	return res, &CallError{
		Command:  cmd.Line(),
		Dir:      dir,
		ExitCode: exitCode,
		Stderr:   res.Stderr,
		Err:      runErr,
	}
}

func (r *Runner) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}
	return r.Out
}

func (r *Runner) errOut() io.Writer {
	if r.Err == nil {
		return io.Discard
	}
	return r.Err
}

// MergeEnv layers overrides on top of base. Keys are appended in sorted order
// so later entries win when the child process resolves duplicates.
func MergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	env = append(env, base...)
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

// ExitCode extracts the exit code of the last failed call carried by err,
// or 1 for any other failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if last := lastCallError(err); last != nil && last.ExitCode > 0 {
		return last.ExitCode
	}
	return 1
}

func lastCallError(err error) *CallError {
	switch e := err.(type) {
	case *CallError:
		return e
	case interface{ Unwrap() []error }:
		errs := e.Unwrap()
		for i := len(errs) - 1; i >= 0; i-- {
			if found := lastCallError(errs[i]); found != nil {
				return found
			}
		}
		return nil
	case interface{ Unwrap() error }:
		if inner := e.Unwrap(); inner != nil {
			return lastCallError(inner)
		}
	}
	return nil
}
