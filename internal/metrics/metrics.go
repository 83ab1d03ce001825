// Package metrics provides in-process metrics collection for reconradar.
// It supports counters, gauges, and histograms with label support; the
// worker pools record into it and the Prometheus collectors in this package
// expose the scan-level view.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Count     int
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	r.record(name, TypeCounter, labels, func(m *Metric) { m.Value++ })
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	r.record(name, TypeGauge, labels, func(m *Metric) { m.Value = value })
}

// Histogram records a value in a histogram metric. The registry keeps the
// running sum and observation count; Prometheus holds the bucketed view.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	r.record(name, TypeHistogram, labels, func(m *Metric) { m.Value += value })
}

func (r *Registry) record(name string, typ MetricType, labels Labels, update func(*Metric)) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	metric, exists := r.metrics[key]
	if !exists {
		metric = &Metric{Name: name, Type: typ, Labels: copyLabels(labels)}
		r.metrics[key] = metric
	}
	update(metric)
	metric.Count++
	metric.Timestamp = time.Now()
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for key, metric := range r.metrics {
		m := *metric
		m.Labels = copyLabels(metric.Labels)
		result[key] = &m
	}
	return result
}

// Value returns the current value of a metric, or 0 when it was never recorded.
func (r *Registry) Value(name string, labels Labels) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.metrics[makeKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// makeKey creates a unique key for a metric based on name and sorted labels.
func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(":" + k + "=" + labels[k])
	}
	return b.String()
}

func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Global registry instance.
var defaultRegistry = NewRegistry()

// SetDefault sets the default metrics registry.
func SetDefault(registry *Registry) {
	defaultRegistry = registry
}

// Default returns the default metrics registry.
func Default() *Registry {
	return defaultRegistry
}

// Counter increments a counter metric on the default registry.
func Counter(name string, labels Labels) {
	defaultRegistry.Counter(name, labels)
}

// Gauge sets a gauge metric on the default registry.
func Gauge(name string, value float64, labels Labels) {
	defaultRegistry.Gauge(name, value, labels)
}

// Histogram records a histogram value on the default registry.
func Histogram(name string, value float64, labels Labels) {
	defaultRegistry.Histogram(name, value, labels)
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start    time.Time
	name     string
	labels   Labels
	registry MetricsRegistry
}

// NewTimer creates a timer recording into the default registry.
func NewTimer(name string, labels Labels) *Timer {
	return NewTimerFor(defaultRegistry, name, labels)
}

// NewTimerFor creates a timer recording into the given registry.
func NewTimerFor(registry MetricsRegistry, name string, labels Labels) *Timer {
	return &Timer{
		start:    time.Now(),
		name:     name,
		labels:   labels,
		registry: registry,
	}
}

// Stop stops the timer, records the duration as a histogram and returns it.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	t.registry.Histogram(t.name, duration.Seconds(), t.labels)
	return duration
}

// Predefined metric names for common operations.
const (
	// Worker pool metrics.
	MetricJobsSubmitted = "jobs_submitted_total"
	MetricJobsCompleted = "jobs_completed_total"
	MetricJobsFailed    = "jobs_failed_total"
	MetricJobDuration   = "job_duration_seconds"
	MetricPoolActive    = "pool_active_workers"

	// Pipeline metrics.
	MetricStageFailures = "stage_failures_total"
	MetricToolRuns      = "tool_runs_total"
)

// Common label keys.
const (
	LabelScanType = "scan_type"
	LabelJobType  = "job_type"
	LabelStage    = "stage"
	LabelTool     = "tool"
	LabelStatus   = "status"
	LabelReason   = "reason"
)
