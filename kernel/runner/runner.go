// Package runner invokes external tools with an explicit environment and a
// bounded run time.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrTimeout is wrapped by errors from commands that exceeded their timeout.
var ErrTimeout = errors.New("command timed out")

// Command describes one external process invocation.
type Command struct {
	Name    string
	Args    []string
	Env     map[string]string
	Stdin   string
	Dir     string
	Timeout time.Duration
}

func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	if len(parts) > 8 {
		parts = append(parts[:8], "...")
	}
	return strings.Join(parts, " ")
}

// Result holds the captured output of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError is returned when a process ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("'%s' exited with code %d: %s", e.Command, e.ExitCode, tail(e.Stderr, 500))
}

// Runner executes commands. Implementations must honour ctx and the command
// timeout by terminating the child.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
	LookPath(name string) bool
}

// ExecRunner runs commands as local child processes.
type ExecRunner struct {
	DefaultTimeout time.Duration
}

func NewExecRunner(defaultTimeout time.Duration) *ExecRunner {
	return &ExecRunner{DefaultTimeout: defaultTimeout}
}

func (r *ExecRunner) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	log := pfxlog.Logger().WithField("cmd", cmd.Name)

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = MergeEnv(os.Environ(), cmd.Env)
	c.WaitDelay = 10 * time.Second
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stderr pipe")
	}

	log.Debugf("$ %s", cmd)
	if err := c.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start '%s'", cmd.Name)
	}

	// grandchildren may keep the pipes open after the child is killed
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = stdout.Close()
			_ = stderr.Close()
		case <-done:
		}
	}()

	var outBuf, errBuf lockedBuffer
	var g errgroup.Group
	g.Go(func() error { return drain(stdout, &outBuf, log.Debug) })
	g.Go(func() error { return drain(stderr, &errBuf, log.Debug) })
	drainErr := g.Wait()
	close(done)
	waitErr := c.Wait()

	res := &Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, errors.Wrapf(ErrTimeout, "'%s' after %s", cmd, timeout)
	}
	if ctx.Err() != nil {
		return res, errors.Wrapf(ctx.Err(), "'%s' cancelled", cmd)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, &ExitError{Command: cmd.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		return res, errors.Wrapf(waitErr, "'%s' failed", cmd)
	}
	if drainErr != nil {
		return res, errors.Wrap(drainErr, "failed to read process output")
	}
	return res, nil
}

// MergeEnv overlays extra on base, replacing keys already present.
func MergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, override := extra[k]; override {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

func drain(r io.Reader, buf *lockedBuffer, logLine func(args ...interface{})) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteLine(line)
		logLine(line)
	}
	return scanner.Err()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
