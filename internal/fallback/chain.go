// Package fallback runs an ordered list of record-producing stages, moving
// to the next stage only when the current one produced no records.
package fallback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/metrics"
)

// ReasonNoRecords labels a stage that ran cleanly but found nothing.
const ReasonNoRecords = "no records"

// Stage is one data source in a chain.
type Stage[T any] struct {
	Name string
	Run  func(ctx context.Context) ([]T, error)
}

// Attempt records how a stage went.
type Attempt struct {
	Stage   string
	Records int
	Err     error
}

// Reason labels the attempt for warnings and metrics.
func (a Attempt) Reason() string {
	if a.Err != nil {
		return errors.Reason(a.Err)
	}
	return ReasonNoRecords
}

// Result is the outcome of running a chain.
type Result[T any] struct {
	Records  []T
	Stage    string
	Attempts []Attempt
	Warnings []string
}

// Exhausted reports whether every stage came up empty.
func (r Result[T]) Exhausted() bool {
	return r.Stage == ""
}

// FailureObserver is notified of every stage that yielded nothing.
type FailureObserver interface {
	IncrementStageFailures(scanType, stage, reason string)
}

// Chain is an ordered fallback chain for one domain.
type Chain[T any] struct {
	domain   string
	stages   []Stage[T]
	logger   *slog.Logger
	registry metrics.MetricsRegistry
	observer FailureObserver
}

// New creates a chain for domain ("network", "wifi", "bluetooth").
func New[T any](domain string, logger *slog.Logger, stages ...Stage[T]) *Chain[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain[T]{
		domain:   domain,
		stages:   stages,
		logger:   logger,
		registry: metrics.Default(),
	}
}

// WithMetrics records stage failures in registry.
func (c *Chain[T]) WithMetrics(registry metrics.MetricsRegistry) *Chain[T] {
	c.registry = registry
	return c
}

// WithObserver also reports stage failures to o.
func (c *Chain[T]) WithObserver(o FailureObserver) *Chain[T] {
	c.observer = o
	return c
}

// Then appends a stage.
func (c *Chain[T]) Then(name string, run func(ctx context.Context) ([]T, error)) *Chain[T] {
	c.stages = append(c.stages, Stage[T]{Name: name, Run: run})
	return c
}

// Run tries each stage in order and returns the records of the first that
// produced any. Stage errors never escape: when every stage is exhausted the
// result carries one warning per stage naming its reason. Permission problems
// are reported even when a later stage succeeds.
func (c *Chain[T]) Run(ctx context.Context) Result[T] {
	var result Result[T]

	for _, stage := range c.stages {
		if ctx.Err() != nil {
			result.Attempts = append(result.Attempts, Attempt{
				Stage: stage.Name,
				Err:   errors.WrapScanError(errors.CodeCanceled, "scan canceled", ctx.Err()),
			})
			continue
		}

		records, err := stage.Run(ctx)
		attempt := Attempt{Stage: stage.Name, Records: len(records), Err: err}
		result.Attempts = append(result.Attempts, attempt)

		if len(records) > 0 {
			result.Records = records
			result.Stage = stage.Name
			if err != nil {
				c.logger.Debug("Stage returned records with an error",
					"domain", c.domain, "stage", stage.Name, "error", err)
			}
			break
		}

		c.recordFailure(attempt)
		c.logger.Debug("Fallback stage produced no records",
			"domain", c.domain, "stage", stage.Name, "reason", attempt.Reason(), "error", err)
	}

	for _, attempt := range result.Attempts {
		if attempt.Records > 0 {
			continue
		}
		if result.Exhausted() || errors.IsCode(attempt.Err, errors.CodePermission) {
			result.Warnings = append(result.Warnings, Warning(attempt))
		}
	}

	if result.Records == nil {
		result.Records = []T{}
	}
	return result
}

func (c *Chain[T]) recordFailure(a Attempt) {
	if c.registry != nil {
		c.registry.Counter(metrics.MetricStageFailures, metrics.Labels{
			metrics.LabelScanType: c.domain,
			metrics.LabelStage:    a.Stage,
			metrics.LabelReason:   a.Reason(),
		})
	}
	if c.observer != nil {
		c.observer.IncrementStageFailures(c.domain, a.Stage, a.Reason())
	}
}

// Warning renders an exhausted attempt as an envelope warning.
func Warning(a Attempt) string {
	return fmt.Sprintf("%s: %s", a.Stage, a.Reason())
}
