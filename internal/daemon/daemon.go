// Package daemon supervises the long-running reconradar service: it owns
// the PID file, runs the API server and scan scheduler, reacts to signals
// and periodically checks that the scan store is reachable.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/anstrom/reconradar/internal/metrics"
)

const (
	// DefaultHealthInterval is the default store health check interval.
	DefaultHealthInterval = 30 * time.Second

	// File permission constants.
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Server is the HTTP API. *api.Server implements it.
type Server interface {
	Start(ctx context.Context) error
}

// Scheduler runs recurring scans. *scheduler.Scheduler implements it.
type Scheduler interface {
	Start() error
	Stop()
	IsRunning() bool
}

// Options configures a Daemon.
type Options struct {
	// PIDFile is written on start and removed on exit; empty disables it.
	PIDFile string
	// HealthInterval between store checks; zero uses DefaultHealthInterval.
	HealthInterval time.Duration
	// HealthCheck probes the store.
	HealthCheck func(ctx context.Context) error
	// Reload is called on SIGHUP.
	Reload func() error
}

// Daemon represents the main service process.
type Daemon struct {
	opts      Options
	fs        afero.Fs
	logger    *slog.Logger
	registry  metrics.MetricsRegistry
	server    Server
	scheduler Scheduler
	signals   chan os.Signal
	done      chan struct{}
	healthy   bool
	mu        sync.RWMutex
}

// New creates a daemon. fs holds the PID file.
func New(opts Options, fs afero.Fs, logger *slog.Logger) *Daemon {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		opts:     opts,
		fs:       fs,
		logger:   logger.With("component", "daemon"),
		registry: metrics.Default(),
		signals:  make(chan os.Signal, 1),
		done:     make(chan struct{}),
		healthy:  true,
	}
}

// WithServer sets the API server to run.
func (d *Daemon) WithServer(s Server) *Daemon {
	d.server = s
	return d
}

// WithScheduler sets the scan scheduler to run.
func (d *Daemon) WithScheduler(s Scheduler) *Daemon {
	d.scheduler = s
	return d
}

// SetReload sets the SIGHUP handler.
func (d *Daemon) SetReload(fn func() error) {
	d.opts.Reload = fn
}

// Run starts every component and blocks until ctx is done, SIGINT or
// SIGTERM arrives, or the API server fails.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Starting daemon", "pid", os.Getpid())

	if err := d.createPIDFile(); err != nil {
		return err
	}
	defer d.removePIDFile()

	signal.Notify(d.signals, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(d.signals)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(d.done)

	if d.scheduler != nil {
		if err := d.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer d.scheduler.Stop()
	}

	serverErr := make(chan error, 1)
	if d.server != nil {
		go func() {
			serverErr <- d.server.Start(ctx)
		}()
	}

	ticker := time.NewTicker(d.opts.HealthInterval)
	defer ticker.Stop()

	d.logger.Info("Daemon started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutdown requested")
			return d.waitServer(serverErr)

		case err := <-serverErr:
			if err != nil {
				d.logger.Error("API server error", "error", err)
				return err
			}
			return nil

		case sig := <-d.signals:
			if d.handleSignal(sig) {
				cancel()
			}

		case <-ticker.C:
			d.performHealthCheck(ctx)
		}
	}
}

// waitServer waits for the API server to finish its graceful shutdown.
func (d *Daemon) waitServer(serverErr <-chan error) error {
	if d.server == nil {
		return nil
	}
	return <-serverErr
}

// handleSignal reacts to sig and reports whether the daemon should stop.
func (d *Daemon) handleSignal(sig os.Signal) bool {
	d.logger.Info("Received signal", "signal", sig.String())

	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		return true
	case syscall.SIGHUP:
		if d.opts.Reload == nil {
			return false
		}
		if err := d.opts.Reload(); err != nil {
			d.logger.Error("Configuration reload failed", "error", err)
			d.registry.Counter("daemon_reloads_total", metrics.Labels{"status": "failed"})
		} else {
			d.logger.Info("Configuration reloaded")
			d.registry.Counter("daemon_reloads_total", metrics.Labels{"status": "success"})
		}
	case syscall.SIGUSR1:
		d.dumpStatus()
	}
	return false
}

// performHealthCheck probes the store and logs health transitions.
func (d *Daemon) performHealthCheck(ctx context.Context) {
	if d.opts.HealthCheck == nil {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, d.opts.HealthInterval)
	defer cancel()
	err := d.opts.HealthCheck(checkCtx)

	d.mu.Lock()
	was := d.healthy
	d.healthy = err == nil
	d.mu.Unlock()

	healthy := 0.0
	if err == nil {
		healthy = 1
	}
	d.registry.Gauge("daemon_store_healthy", healthy, nil)

	switch {
	case err != nil && was:
		d.logger.Error("Store health check failed", "error", err)
	case err != nil:
		d.logger.Debug("Store still unhealthy", "error", err)
	case !was:
		d.logger.Info("Store recovered")
	}
}

// Healthy reports the result of the last store health check.
func (d *Daemon) Healthy() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.healthy
}

// Done is closed when Run returns.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

func (d *Daemon) dumpStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	attrs := []any{
		"pid", os.Getpid(),
		"healthy", d.Healthy(),
		"alloc_kb", m.Alloc / 1024,
		"sys_kb", m.Sys / 1024,
		"num_gc", m.NumGC,
		"goroutines", runtime.NumGoroutine(),
	}
	if d.scheduler != nil {
		attrs = append(attrs, "scheduler_running", d.scheduler.IsRunning())
	}
	d.logger.Info("Daemon status", attrs...)
}

func (d *Daemon) createPIDFile() error {
	if d.opts.PIDFile == "" {
		return nil
	}

	if err := d.fs.MkdirAll(filepath.Dir(d.opts.PIDFile), DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := afero.WriteFile(d.fs, d.opts.PIDFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.opts.PIDFile, "pid", pid)
	return nil
}

// checkExistingPID fails if the PID file names a live process and removes
// it otherwise.
func (d *Daemon) checkExistingPID() error {
	data, err := afero.ReadFile(d.fs, d.opts.PIDFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && pid != os.Getpid() && isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	d.logger.Warn("Removing stale PID file", "path", d.opts.PIDFile)
	_ = d.fs.Remove(d.opts.PIDFile)
	return nil
}

func (d *Daemon) removePIDFile() {
	if d.opts.PIDFile == "" {
		return
	}
	if err := d.fs.Remove(d.opts.PIDFile); err != nil {
		d.logger.Warn("Error removing PID file", "error", err)
	}
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
