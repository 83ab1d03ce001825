// Package scheduler runs recurring reconnaissance scans on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/reconradar/internal/config"
	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/recon"
	"github.com/anstrom/reconradar/internal/records"
)

// ScanRunner executes a batch of scans. *recon.Pipeline implements it.
type ScanRunner interface {
	RunAll(ctx context.Context, scanTypes []records.ScanType, opts recon.Options) ([]recon.Result, error)
}

// Scheduler manages scheduled scan jobs.
type Scheduler struct {
	cron    *cron.Cron
	runner  ScanRunner
	opts    recon.Options
	logger  *slog.Logger
	jobs    map[uuid.UUID]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// ScheduledJob is a registered cron job and its run history.
type ScheduledJob struct {
	ID        uuid.UUID
	CronID    cron.EntryID
	Name      string
	Cron      string
	ScanTypes []records.ScanType
	LastRun   time.Time
	NextRun   time.Time
	Running   bool
	Runs      int
	LastError string
}

// NewScheduler creates a scheduler that runs scans with the given options.
func NewScheduler(runner ScanRunner, opts recon.Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
		)),
		runner: runner,
		opts:   opts,
		logger: logger,
		jobs:   make(map[uuid.UUID]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// DefaultJobName names the job driven by the schedule config section.
const DefaultJobName = "default"

// FromConfig creates a scheduler with the configured job registered. An
// empty cron expression yields a scheduler with no jobs.
func FromConfig(cfg config.ScheduleConfig, runner ScanRunner, opts recon.Options, logger *slog.Logger) (*Scheduler, error) {
	s := NewScheduler(runner, opts, logger)
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply brings the configured job in line with cfg. The job is replaced when
// its cron expression or scan types changed and removed when cfg.Cron is
// empty. An invalid cfg leaves the current job in place.
func (s *Scheduler) Apply(cfg config.ScheduleConfig) error {
	var types []records.ScanType
	if cfg.Cron != "" {
		var err error
		if types, err = ParseScanTypes(cfg.ScanTypes); err != nil {
			return err
		}
		if _, err := cron.ParseStandard(cfg.Cron); err != nil {
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid cron expression: %v", err), "schedule.cron", cfg.Cron)
		}
	}

	current, exists := s.jobNamed(DefaultJobName)
	if exists && current.Cron == cfg.Cron && slices.Equal(current.ScanTypes, types) {
		return nil
	}
	if exists {
		if err := s.RemoveJob(current.ID); err != nil {
			return err
		}
	}
	if cfg.Cron == "" {
		return nil
	}
	_, err := s.AddJob(DefaultJobName, cfg.Cron, types)
	return err
}

func (s *Scheduler) jobNamed(name string) (ScheduledJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.Name == name {
			return *job, true
		}
	}
	return ScheduledJob{}, false
}

// ParseScanTypes converts configured names; an empty list means all types.
func ParseScanTypes(names []string) ([]records.ScanType, error) {
	if len(names) == 0 {
		return append([]records.ScanType(nil), records.ScanTypes...), nil
	}
	types := make([]records.ScanType, 0, len(names))
	for _, n := range names {
		st, ok := records.ParseScanType(n)
		if !ok {
			return nil, errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("unknown scan type %q", n), "schedule.scan_types", n)
		}
		types = append(types, st)
	}
	return types, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// AddJob registers a job running scanTypes on the standard five-field cron
// expression cronExpr.
func (s *Scheduler) AddJob(name, cronExpr string, scanTypes []records.ScanType) (uuid.UUID, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return uuid.Nil, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression: %v", err), "schedule.cron", cronExpr)
	}
	if len(scanTypes) == 0 {
		return uuid.Nil, errors.NewConfigFieldError(errors.CodeValidation, "at least one scan type is required", "schedule.scan_types", "")
	}

	job := &ScheduledJob{
		ID:        uuid.New(),
		Name:      name,
		Cron:      cronExpr,
		ScanTypes: scanTypes,
		NextRun:   schedule.Next(s.now()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// overlapping ticks of the same job are skipped
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.logger})).
		Then(cron.FuncJob(func() { s.executeJob(job.ID) }))
	job.CronID = s.cron.Schedule(schedule, wrapped)
	s.jobs[job.ID] = job

	s.logger.Info("Added scheduled job", "name", name, "cron", cronExpr, "scan_types", scanTypes)
	return job.ID, nil
}

// RemoveJob unregisters a job.
func (s *Scheduler) RemoveJob(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return errors.NewScanErrorWithTarget(errors.CodeNotFound, "Job not found", jobID.String())
	}

	s.cron.Remove(job.CronID)
	delete(s.jobs, jobID)

	s.logger.Info("Removed scheduled job", "name", job.Name)
	return nil
}

// GetJobs returns a snapshot of the registered jobs sorted by name.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		if entry := s.cron.Entry(job.CronID); entry.Valid() && !entry.Next.IsZero() {
			snapshot.NextRun = entry.Next
		}
		jobs = append(jobs, snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Name != jobs[j].Name {
			return jobs[i].Name < jobs[j].Name
		}
		return jobs[i].ID.String() < jobs[j].ID.String()
	})
	return jobs
}

// SetOptions replaces the scan options used by later runs.
func (s *Scheduler) SetOptions(opts recon.Options) {
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(jobID uuid.UUID) error {
	s.mu.RLock()
	_, exists := s.jobs[jobID]
	s.mu.RUnlock()
	if !exists {
		return errors.NewScanErrorWithTarget(errors.CodeNotFound, "Job not found", jobID.String())
	}
	s.executeJob(jobID)
	return nil
}

func (s *Scheduler) executeJob(jobID uuid.UUID) {
	job, ok := s.prepareJobExecution(jobID)
	if !ok {
		return
	}
	defer s.cleanupJobExecution(jobID)

	s.logger.Info("Running scheduled job", "name", job.Name, "scan_types", job.ScanTypes)

	s.mu.RLock()
	opts := s.opts
	s.mu.RUnlock()

	results, err := s.runner.RunAll(s.ctx, job.ScanTypes, opts)

	s.mu.Lock()
	if j, exists := s.jobs[jobID]; exists {
		j.Runs++
		j.LastError = ""
		if err != nil {
			j.LastError = err.Error()
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled job failed", "name", job.Name, "error", err)
		return
	}
	s.logger.Info("Scheduled job completed", "name", job.Name, "scans", len(results))
}

// prepareJobExecution marks a job as running unless it already is.
func (s *Scheduler) prepareJobExecution(jobID uuid.UUID) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return ScheduledJob{}, false
	}
	if job.Running {
		s.logger.Warn("Scheduled job is already running, skipping", "name", job.Name)
		return ScheduledJob{}, false
	}

	job.Running = true
	job.LastRun = s.now()
	return *job, true
}

func (s *Scheduler) cleanupJobExecution(jobID uuid.UUID) {
	s.mu.Lock()
	if job, exists := s.jobs[jobID]; exists {
		job.Running = false
	}
	s.mu.Unlock()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
