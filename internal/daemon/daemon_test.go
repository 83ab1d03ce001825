package daemon

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strconv"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/logging"
	"github.com/anstrom/reconradar/internal/metrics"
)

type fakeServer struct {
	started atomic.Bool
	err     error
}

func (s *fakeServer) Start(ctx context.Context) error {
	s.started.Store(true)
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

type fakeScheduler struct {
	started, stopped atomic.Bool
	err              error
}

func (s *fakeScheduler) Start() error {
	s.started.Store(true)
	return s.err
}

func (s *fakeScheduler) Stop() { s.stopped.Store(true) }

func (s *fakeScheduler) IsRunning() bool { return s.started.Load() && !s.stopped.Load() }

func newTestDaemon(opts Options, fs afero.Fs) (*Daemon, *metrics.Registry) {
	d := New(opts, fs, logging.NewDiscard().Logger)
	registry := metrics.NewRegistry()
	d.registry = registry
	return d, registry
}

func runAsync(ctx context.Context, d *Daemon) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	return errc
}

func TestRunLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	server := &fakeServer{}
	sched := &fakeScheduler{}
	d, _ := newTestDaemon(Options{PIDFile: "/run/reconradar/reconradar.pid"}, fs)
	d.WithServer(server).WithScheduler(sched)

	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, d)

	require.Eventually(t, func() bool { return server.started.Load() }, time.Second, 5*time.Millisecond)
	assert.True(t, sched.started.Load())

	data, err := afero.ReadFile(fs, "/run/reconradar/reconradar.pid")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	cancel()
	require.NoError(t, <-errc)
	<-d.Done()

	assert.True(t, sched.stopped.Load())
	exists, err := afero.Exists(fs, "/run/reconradar/reconradar.pid")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunStopsOnTerminationSignal(t *testing.T) {
	d, _ := newTestDaemon(Options{}, afero.NewMemMapFs())
	d.WithServer(&fakeServer{})

	errc := runAsync(context.Background(), d)
	d.signals <- syscall.SIGTERM

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on SIGTERM")
	}
}

func TestRunServerFailure(t *testing.T) {
	d, _ := newTestDaemon(Options{}, afero.NewMemMapFs())
	d.WithServer(&fakeServer{err: errors.New("address already in use")})

	err := d.Run(context.Background())
	assert.EqualError(t, err, "address already in use")
}

func TestRunSchedulerFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	d, _ := newTestDaemon(Options{PIDFile: "/run/test.pid"}, fs)
	d.WithScheduler(&fakeScheduler{err: errors.New("scheduler is already running")})

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start scheduler")

	exists, _ := afero.Exists(fs, "/run/test.pid")
	assert.False(t, exists)
}

func TestDumpStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelInfo}, &buf)
	sched := &fakeScheduler{}
	require.NoError(t, sched.Start())

	d := New(Options{}, afero.NewMemMapFs(), logger.Logger).WithScheduler(sched)
	assert.False(t, d.handleSignal(syscall.SIGUSR1))

	out := buf.String()
	assert.Contains(t, out, "Daemon status")
	assert.Contains(t, out, "pid="+strconv.Itoa(os.Getpid()))
	assert.Contains(t, out, "scheduler_running=true")
}

func TestHandleSignal(t *testing.T) {
	reloads := 0
	failReload := false
	d, registry := newTestDaemon(Options{Reload: func() error {
		reloads++
		if failReload {
			return errors.New("bad config")
		}
		return nil
	}}, afero.NewMemMapFs())

	assert.True(t, d.handleSignal(syscall.SIGINT))
	assert.True(t, d.handleSignal(syscall.SIGTERM))

	assert.False(t, d.handleSignal(syscall.SIGHUP))
	failReload = true
	assert.False(t, d.handleSignal(syscall.SIGHUP))
	assert.Equal(t, 2, reloads)
	assert.Equal(t, 1.0, registry.Value("daemon_reloads_total", metrics.Labels{"status": "success"}))
	assert.Equal(t, 1.0, registry.Value("daemon_reloads_total", metrics.Labels{"status": "failed"}))

	assert.False(t, d.handleSignal(syscall.SIGUSR1))
}

func TestPerformHealthCheck(t *testing.T) {
	var fail atomic.Bool
	d, registry := newTestDaemon(Options{HealthCheck: func(context.Context) error {
		if fail.Load() {
			return errors.New("connection refused")
		}
		return nil
	}}, afero.NewMemMapFs())

	ctx := context.Background()
	d.performHealthCheck(ctx)
	assert.True(t, d.Healthy())
	assert.Equal(t, 1.0, registry.Value("daemon_store_healthy", nil))

	fail.Store(true)
	d.performHealthCheck(ctx)
	assert.False(t, d.Healthy())
	assert.Equal(t, 0.0, registry.Value("daemon_store_healthy", nil))

	fail.Store(false)
	d.performHealthCheck(ctx)
	assert.True(t, d.Healthy())
}

func TestPIDFileHandling(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		wantErr  bool
	}{
		{"no existing file", "", false},
		{"garbage contents", "not-a-pid", false},
		{"stale pid", "999999999", false},
		{"own pid", strconv.Itoa(os.Getpid()), false},
		{"running process", strconv.Itoa(os.Getppid()), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			pidFile := "/var/run/reconradar.pid"
			if tt.existing != "" {
				require.NoError(t, afero.WriteFile(fs, pidFile, []byte(tt.existing), 0o600))
			}

			d, _ := newTestDaemon(Options{PIDFile: pidFile}, fs)
			err := d.createPIDFile()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "already running")
				return
			}
			require.NoError(t, err)

			data, err := afero.ReadFile(fs, pidFile)
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
		})
	}
}

func TestNewDefaults(t *testing.T) {
	d := New(Options{}, afero.NewMemMapFs(), nil)
	assert.Equal(t, DefaultHealthInterval, d.opts.HealthInterval)
	assert.True(t, d.Healthy())
	assert.NoError(t, d.createPIDFile())
}
