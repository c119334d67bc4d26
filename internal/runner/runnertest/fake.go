// Package runnertest provides a scripted runner.Invoker for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/labforge/labctl/internal/runner"
)

// Response is what the fake returns for a matching command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Fake records every command and answers from Responses, keyed by the
// command line prefix (e.g. "terraform output"). The longest matching prefix wins.
// Unmatched commands succeed with empty output.
type Fake struct {
	mu        sync.Mutex
	Responses map[string]Response
	Calls     []runner.Command
}

func New() *Fake {
	return &Fake{Responses: map[string]Response{}}
}

// On registers a response for commands whose line starts with prefix.
func (f *Fake) On(prefix string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[prefix] = resp
	return f
}

// Fail registers a non-zero exit for commands starting with prefix.
func (f *Fake) Fail(prefix string, exitCode int, stderr string) *Fake {
	return f.On(prefix, Response{ExitCode: exitCode, Stderr: stderr})
}

func (f *Fake) Invoke(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, cmd)

	line := cmd.Line()
	var best string
	var resp Response
	found := false
	for prefix, r := range f.Responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, resp, found = prefix, r, true
		}
	}
	if !found {
		return &runner.Result{}, nil
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	res := &runner.Result{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}
	if resp.ExitCode != 0 {
		return res, &runner.CallError{
			Command:  line,
			Dir:      cmd.Dir,
			ExitCode: resp.ExitCode,
			Stderr:   resp.Stderr,
		}
	}
	return res, nil
}

// Lines returns the command lines invoked so far.
func (f *Fake) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		lines[i] = c.Line()
	}
	return lines
}

// Find returns the recorded commands whose line starts with prefix.
func (f *Fake) Find(prefix string) []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runner.Command
	for _, c := range f.Calls {
		if strings.HasPrefix(c.Line(), prefix) {
			out = append(out, c)
		}
	}
	return out
}
