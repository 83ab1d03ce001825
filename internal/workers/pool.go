// Package workers provides the bounded worker pool the probers fan their
// targets out on. Every job runs with its own timeout; a failed or timed-out
// job never affects its siblings and is never retried. Results are handed
// back to the calling goroutine, which folds them in input order.
package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/reconradar/internal/metrics"
)

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the maximum number of jobs running at once.
	Size int
	// JobTimeout bounds each job; zero means no per-job timeout.
	JobTimeout time.Duration
	// JobType labels metrics and logs ("host_probe", "port_probe").
	JobType string
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:    10,
		JobType: "job",
	}
}

// Result is the outcome of one job.
type Result[In, Out any] struct {
	Input    In
	Value    Out
	Err      error
	Duration time.Duration
}

// OK reports whether the job succeeded.
func (r Result[In, Out]) OK() bool {
	return r.Err == nil
}

// Pool runs jobs with bounded concurrency.
type Pool struct {
	config   Config
	registry metrics.MetricsRegistry
	logger   *slog.Logger
	active   atomic.Int64
}

// New creates a new worker pool with the given configuration.
func New(config Config) *Pool {
	if config.Size < 1 {
		config.Size = 1
	}
	if config.JobType == "" {
		config.JobType = "job"
	}
	return &Pool{
		config:   config,
		registry: metrics.Default(),
		logger:   slog.Default(),
	}
}

// WithMetrics records job metrics into registry.
func (p *Pool) WithMetrics(registry metrics.MetricsRegistry) *Pool {
	p.registry = registry
	return p
}

// WithLogger sets the logger.
func (p *Pool) WithLogger(logger *slog.Logger) *Pool {
	p.logger = logger
	return p
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return p.config.Size
}

type indexed[In, Out any] struct {
	index  int
	result Result[In, Out]
}

// Run executes fn for every input and returns the results in input order.
// Cancelling ctx stops jobs that have not started; they report ctx.Err().
func Run[In, Out any](ctx context.Context, p *Pool, inputs []In,
	fn func(ctx context.Context, in In) (Out, error)) []Result[In, Out] {
	results := make(chan indexed[In, Out], len(inputs))

	go func() {
		var g errgroup.Group
		g.SetLimit(p.config.Size)
		for i, in := range inputs {
			i, in := i, in
			p.count(metrics.MetricJobsSubmitted, "")
			g.Go(func() error {
				results <- indexed[In, Out]{index: i, result: execute(ctx, p, in, fn)}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	out := make([]Result[In, Out], len(inputs))
	for r := range results {
		out[r.index] = r.result
	}
	return out
}

func execute[In, Out any](ctx context.Context, p *Pool, in In,
	fn func(ctx context.Context, in In) (Out, error)) Result[In, Out] {
	result := Result[In, Out]{Input: in}
	if err := ctx.Err(); err != nil {
		result.Err = err
		p.count(metrics.MetricJobsFailed, "canceled")
		return result
	}

	p.registry.Gauge(metrics.MetricPoolActive, float64(p.active.Add(1)), p.labels(""))
	defer func() {
		p.registry.Gauge(metrics.MetricPoolActive, float64(p.active.Add(-1)), p.labels(""))
	}()

	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	timer := metrics.NewTimerFor(p.registry, metrics.MetricJobDuration, p.labels(""))
	result.Value, result.Err = fn(jobCtx, in)
	result.Duration = timer.Stop()

	if result.Err != nil {
		p.count(metrics.MetricJobsFailed, "error")
		p.logger.Debug("Job failed", "job_type", p.config.JobType, "error", result.Err, "duration", result.Duration)
		return result
	}
	p.count(metrics.MetricJobsCompleted, "success")
	return result
}

func (p *Pool) labels(status string) metrics.Labels {
	labels := metrics.Labels{metrics.LabelJobType: p.config.JobType}
	if status != "" {
		labels[metrics.LabelStatus] = status
	}
	return labels
}

func (p *Pool) count(name, status string) {
	p.registry.Counter(name, p.labels(status))
}

// Successful returns the values of the jobs that succeeded, in input order.
func Successful[In, Out any](results []Result[In, Out]) []Out {
	out := make([]Out, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Value)
		}
	}
	return out
}
