// Package runnertest provides a scripted Runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/vmware2scw/vmware2scw/kernel/runner"
)

// Fake records every command and answers with Handle, or an empty success
// when Handle is nil.
type Fake struct {
	Handle  func(cmd runner.Command) (*runner.Result, error)
	Missing map[string]bool

	mu    sync.Mutex
	calls []runner.Command
}

func (f *Fake) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Handle == nil {
		return &runner.Result{}, nil
	}
	res, err := f.Handle(cmd)
	if res == nil {
		res = &runner.Result{}
	}
	return res, err
}

func (f *Fake) LookPath(name string) bool {
	return !f.Missing[name]
}

// Calls returns a copy of the recorded commands.
func (f *Fake) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

// CallsTo returns the recorded commands for one binary.
func (f *Fake) CallsTo(name string) []runner.Command {
	var out []runner.Command
	for _, c := range f.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Joined renders a command as a single string, convenient for assertions.
func Joined(cmd runner.Command) string {
	return strings.Join(append([]string{cmd.Name}, cmd.Args...), " ")
}

// Fail builds an ExitError result for Handle implementations.
func Fail(cmd runner.Command, stderr string) (*runner.Result, error) {
	return &runner.Result{Stderr: stderr, ExitCode: 1}, &runner.ExitError{
		Command:  cmd.String(),
		ExitCode: 1,
		Stderr:   stderr,
	}
}
