// Package runner executes the operating-system discovery utilities the
// scanners depend on. Every invocation goes through the Runner interface so
// parsers and fallback chains can be exercised against canned output.
package runner

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/metrics"
)

// waitDelay bounds how long Wait blocks on pipes held open by grandchildren
// after the direct child has exited or been killed.
const waitDelay = 500 * time.Millisecond

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner runs external commands with a bounded lifetime.
type Runner interface {
	// Run executes name with args and waits at most timeout. A missing
	// executable yields a TOOL_UNAVAILABLE error, an expired timeout a
	// TOOL_TIMEOUT error and a non-zero exit a TOOL_FAILED or PERMISSION
	// error; the Result still carries whatever output was captured.
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)

	// RunFor executes a long-running command for duration, then interrupts
	// it and kills it if it has not exited after grace. Output captured up
	// to that point is returned; being interrupted is not an error.
	RunFor(ctx context.Context, duration, grace time.Duration, name string, args ...string) (Result, error)
}

// Exec runs commands with os/exec.
type Exec struct {
	logger  *slog.Logger
	metrics metrics.MetricsRegistry
	env     []string
}

// NewExec creates a runner executing real processes. Commands run with the C
// locale so their output matches the parsers.
func NewExec(logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{
		logger:  logger.With("component", "runner"),
		metrics: metrics.Default(),
		env:     append(os.Environ(), "LC_ALL=C", "LANG=C"),
	}
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.WaitDelay = waitDelay
	res, err := e.execute(cmd)

	switch {
	case err == nil:
	case stderrors.Is(err, os.ErrPermission):
		return res, e.record(name, errors.ErrToolPermission(name, args, err.Error()))
	case isNotFound(err):
		return res, e.record(name, errors.ErrToolUnavailable(name, args, err))
	case ctx.Err() != nil:
		return res, e.record(name, errors.NewToolError(errors.CodeCanceled, name, args, ctx.Err()))
	case stderrors.Is(runCtx.Err(), context.DeadlineExceeded):
		return res, e.record(name, errors.ErrToolTimeout(name, args))
	default:
		return res, e.record(name, startFailure(name, args, res, err))
	}

	return res, e.record(name, CheckExit(name, args, res))
}

// RunFor implements Runner.
func (e *Exec) RunFor(ctx context.Context, duration, grace time.Duration, name string, args ...string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = grace
	res, err := e.execute(cmd)

	switch {
	case err != nil && stderrors.Is(err, os.ErrPermission):
		return res, e.record(name, errors.ErrToolPermission(name, args, err.Error()))
	case err != nil && isNotFound(err):
		return res, e.record(name, errors.ErrToolUnavailable(name, args, err))
	case ctx.Err() != nil:
		return res, e.record(name, errors.NewToolError(errors.CodeCanceled, name, args, ctx.Err()))
	case runCtx.Err() != nil:
		// stopped by us after duration, whatever the exit status
		e.logger.Debug("stopped streaming command", "command", name, "output_bytes", len(res.Stdout))
		return res, e.record(name, nil)
	case err != nil:
		return res, e.record(name, startFailure(name, args, res, err))
	}

	return res, e.record(name, CheckExit(name, args, res))
}

func (e *Exec) execute(cmd *exec.Cmd) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = e.env

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) && cmd.ProcessState != nil && cmd.ProcessState.Exited() {
		// a normal non-zero exit is reported through ExitCode
		err = nil
	}

	e.logger.Debug("command finished",
		"command", cmd.Path, "args", strings.Join(cmd.Args[1:], " "),
		"exit_code", res.ExitCode, "duration", res.Duration, "error", err)
	return res, err
}

// startFailure reports a command that could not be started or did not exit
// normally. No exit status exists in either case, so CheckExit cannot be used.
func startFailure(name string, args []string, res Result, err error) error {
	toolErr := errors.NewToolError(errors.CodeToolFailed, name, args, err)
	toolErr.ExitCode = res.ExitCode
	toolErr.Stderr = strings.TrimSpace(res.Stderr)
	return toolErr
}

func (e *Exec) record(tool string, err error) error {
	status := "ok"
	if err != nil {
		status = errors.Reason(err)
	}
	e.metrics.Counter(metrics.MetricToolRuns, metrics.Labels{metrics.LabelTool: tool, metrics.LabelStatus: status})
	return err
}

func isNotFound(err error) bool {
	var execErr *exec.Error
	return stderrors.Is(err, exec.ErrNotFound) || stderrors.As(err, &execErr) || stderrors.Is(err, os.ErrNotExist)
}

// permissionMarkers are the stderr phrases tools print when they lack privileges.
var permissionMarkers = []string{
	"operation not permitted",
	"permission denied",
	"not permitted",
	"must be root",
}

// CheckExit turns a non-zero exit status into a TOOL_FAILED error, or a
// PERMISSION error when stderr says the tool lacked privileges.
func CheckExit(name string, args []string, res Result) error {
	if res.ExitCode == 0 {
		return nil
	}
	if IsPermissionMessage(res.Stderr) || IsPermissionMessage(res.Stdout) {
		return errors.ErrToolPermission(name, args, strings.TrimSpace(res.Stderr))
	}
	toolErr := errors.NewToolError(errors.CodeToolFailed, name, args, nil)
	toolErr.ExitCode = res.ExitCode
	toolErr.Stderr = strings.TrimSpace(res.Stderr)
	return toolErr
}

// IsPermissionMessage reports whether tool output complains about privileges.
func IsPermissionMessage(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Lines splits command output into lines without trailing carriage returns.
func Lines(output string) []string {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
