// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/runner"
)

// Response is the canned outcome of one command line.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Err, when set, is returned verbatim instead of a Result.
	Err error
	// Delay simulates a slow command; a delay longer than the timeout
	// produces a TOOL_TIMEOUT error.
	Delay time.Duration
}

// Fake answers commands from a script keyed by the full command line
// ("iw wlan0 scan dump"). Unscripted commands behave like missing tools.
type Fake struct {
	mu        sync.Mutex
	responses map[string][]Response
	calls     []string
}

var _ runner.Runner = (*Fake)(nil)

// New creates an empty fake runner.
func New() *Fake {
	return &Fake{responses: make(map[string][]Response)}
}

// On scripts a response for a command line. Scripting the same line several
// times returns the responses in order, repeating the last one.
func (f *Fake) On(cmdline string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmdline] = append(f.responses[cmdline], resp)
	return f
}

// OnOutput scripts a successful command printing stdout.
func (f *Fake) OnOutput(cmdline, stdout string) *Fake {
	return f.On(cmdline, Response{Stdout: stdout})
}

// OnFailure scripts a command exiting with a status and stderr.
func (f *Fake) OnFailure(cmdline string, exitCode int, stderr string) *Fake {
	return f.On(cmdline, Response{ExitCode: exitCode, Stderr: stderr})
}

// Calls returns the command lines run so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Called reports whether cmdline has been run.
func (f *Fake) Called(cmdline string) bool {
	for _, c := range f.Calls() {
		if c == cmdline {
			return true
		}
	}
	return false
}

// CallsWithPrefix returns the calls starting with prefix.
func (f *Fake) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) next(cmdline string) (Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmdline)

	queue, ok := f.responses[cmdline]
	if !ok || len(queue) == 0 {
		return Response{}, false
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[cmdline] = queue[1:]
	}
	return resp, true
}

// Run implements runner.Runner.
func (f *Fake) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (runner.Result, error) {
	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
	resp, ok := f.next(cmdline)
	if !ok {
		return runner.Result{ExitCode: -1}, errors.ErrToolUnavailable(name, args,
			fmt.Errorf("exec: %q: executable file not found in $PATH", name))
	}

	if resp.Delay > 0 {
		wait := resp.Delay
		if timeout > 0 && timeout < wait {
			wait = timeout
		}
		select {
		case <-ctx.Done():
			return runner.Result{ExitCode: -1}, errors.NewToolError(errors.CodeCanceled, name, args, ctx.Err())
		case <-time.After(wait):
		}
		if timeout > 0 && resp.Delay > timeout {
			return runner.Result{ExitCode: -1, Duration: wait}, errors.ErrToolTimeout(name, args)
		}
	}

	if resp.Err != nil {
		return runner.Result{ExitCode: -1}, resp.Err
	}

	res := runner.Result{
		ExitCode: resp.ExitCode,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		Duration: resp.Delay,
	}
	return res, runner.CheckExit(name, args, res)
}

// RunFor implements runner.Runner. The scripted output is returned as if the
// command had been interrupted after duration.
func (f *Fake) RunFor(ctx context.Context, duration, grace time.Duration, name string, args ...string) (runner.Result, error) {
	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
	resp, ok := f.next(cmdline)
	if !ok {
		return runner.Result{ExitCode: -1}, errors.ErrToolUnavailable(name, args,
			fmt.Errorf("exec: %q: executable file not found in $PATH", name))
	}
	if resp.Err != nil {
		return runner.Result{ExitCode: -1}, resp.Err
	}
	res := runner.Result{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr, Duration: duration}
	if resp.ExitCode != 0 {
		return res, runner.CheckExit(name, args, res)
	}
	return res, nil
}
