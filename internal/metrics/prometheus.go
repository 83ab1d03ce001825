package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all reconradar metrics
	namespace = "reconradar"

	// Subsystems
	subsystemScan   = "scan"
	subsystemProbe  = "probe"
	subsystemStore  = "store"
	subsystemSystem = "system"
	subsystemAPI    = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal    *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	devicesFound  *prometheus.GaugeVec
	stageFailures *prometheus.CounterVec
	scanWarnings  *prometheus.CounterVec
	activeScans   prometheus.Gauge

	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	// Store metrics
	storeOps      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	wsClients    prometheus.Gauge

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime time.Time
	mu        sync.RWMutex
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initProbeMetrics()
	pm.initStoreMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	registry.MustRegister(
		pm.scansTotal, pm.scanDuration, pm.devicesFound, pm.stageFailures, pm.scanWarnings, pm.activeScans,
		pm.probesTotal, pm.probeDuration,
		pm.storeOps, pm.storeDuration,
		pm.httpRequests, pm.httpDuration, pm.wsClients,
		pm.memoryUsage, pm.goroutines, pm.uptime,
	)

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans performed by type and status",
		},
		[]string{"scan_type", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scan operations in seconds",
			Buckets:   []float64{0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0},
		},
		[]string{"scan_type"},
	)

	pm.devicesFound = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "devices",
			Help:      "Number of records in the most recent envelope by scan type",
		},
		[]string{"scan_type"},
	)

	pm.stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "stage_failures_total",
			Help:      "Fallback stages that produced no records, by domain, stage and reason",
		},
		[]string{"scan_type", "stage", "reason"},
	)

	pm.scanWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "warnings_total",
			Help:      "Warnings attached to envelopes by scan type",
		},
		[]string{"scan_type"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of currently running scans",
		},
	)
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Host and port probes by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a complete probe sweep in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"kind"},
	)
}

func (pm *PrometheusMetrics) initStoreMetrics() {
	pm.storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemStore,
			Name:      "operations_total",
			Help:      "Envelope store operations by backend, operation and status",
		},
		[]string{"backend", "operation", "status"},
	)

	pm.storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemStore,
			Name:      "operation_duration_seconds",
			Help:      "Duration of envelope store operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"backend", "operation"},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)

	pm.wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "websocket_clients",
			Help:      "Number of connected websocket clients",
		},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Scan Metrics Methods

// ObserveScan records a finished scan: its status, duration, record count
// and number of warnings.
func (pm *PrometheusMetrics) ObserveScan(scanType, status string, duration time.Duration, devices, warnings int) {
	pm.scansTotal.WithLabelValues(scanType, status).Inc()
	pm.scanDuration.WithLabelValues(scanType).Observe(duration.Seconds())
	pm.devicesFound.WithLabelValues(scanType).Set(float64(devices))
	if warnings > 0 {
		pm.scanWarnings.WithLabelValues(scanType).Add(float64(warnings))
	}
}

// IncrementStageFailures counts a fallback stage that yielded nothing.
func (pm *PrometheusMetrics) IncrementStageFailures(scanType, stage, reason string) {
	pm.stageFailures.WithLabelValues(scanType, stage, reason).Inc()
}

// ScanStarted increments the active scan gauge; the returned func undoes it.
func (pm *PrometheusMetrics) ScanStarted() func() {
	pm.activeScans.Inc()
	return pm.activeScans.Dec
}

// Probe Metrics Methods

// AddProbes counts probes of a kind ("host", "port") by outcome.
func (pm *PrometheusMetrics) AddProbes(kind, outcome string, count int) {
	pm.probesTotal.WithLabelValues(kind, outcome).Add(float64(count))
}

// RecordSweepDuration records the duration of a full probe sweep.
func (pm *PrometheusMetrics) RecordSweepDuration(kind string, duration time.Duration) {
	pm.probeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Store Metrics Methods

// RecordStoreOperation records a store call and its latency.
func (pm *PrometheusMetrics) RecordStoreOperation(backend, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pm.storeOps.WithLabelValues(backend, operation, status).Inc()
	pm.storeDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// API Metrics Methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetWebSocketClients sets the number of connected websocket clients.
func (pm *PrometheusMetrics) SetWebSocketClients(count int) {
	pm.wsClients.Set(float64(count))
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
