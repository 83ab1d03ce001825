// Package recon runs the network, WiFi and Bluetooth scans end to end:
// builds each domain scanner from configuration, runs it, records scan
// metrics and persists the resulting envelope.
package recon

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/anstrom/reconradar/internal/bluetooth"
	"github.com/anstrom/reconradar/internal/config"
	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/logging"
	"github.com/anstrom/reconradar/internal/metrics"
	"github.com/anstrom/reconradar/internal/netscan"
	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/runner"
	"github.com/anstrom/reconradar/internal/store"
	"github.com/anstrom/reconradar/internal/wifi"
)

// Scan outcomes reported to the scans_total metric.
const (
	StatusSuccess  = "success"
	StatusEmpty    = "empty"
	StatusCanceled = "canceled"
)

// Options carries the per-invocation options of every domain.
type Options struct {
	Network   netscan.Options
	WiFi      wifi.Options
	Bluetooth bluetooth.Options
}

// OptionsFromConfig derives scan options from the configuration file.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Network:   netscan.OptionsFromConfig(cfg.Network),
		WiFi:      wifi.OptionsFromConfig(cfg.WiFi),
		Bluetooth: bluetooth.OptionsFromConfig(cfg.Bluetooth),
	}
}

// Result is a completed scan and where it was stored.
type Result struct {
	Envelope records.Envelope
	Location string
	Duration time.Duration
}

// Pipeline runs scans and persists their envelopes.
type Pipeline struct {
	runner   runner.Runner
	fs       afero.Fs
	logger   *logging.Logger
	registry metrics.MetricsRegistry
	metrics  *metrics.PrometheusMetrics
	store    store.Store
	onSaved  []func(Result)
	now      func() time.Time
}

// New creates a pipeline. Without a store, Run only scans.
func New(r runner.Runner, fs afero.Fs, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		runner: r,
		fs:     fs,
		logger: logger,
		now:    time.Now,
	}
}

// WithRegistry records in-process counters in registry.
func (p *Pipeline) WithRegistry(registry metrics.MetricsRegistry) *Pipeline {
	p.registry = registry
	return p
}

// WithMetrics reports scans, stage failures and probes to Prometheus.
func (p *Pipeline) WithMetrics(pm *metrics.PrometheusMetrics) *Pipeline {
	p.metrics = pm
	return p
}

// WithStore persists every envelope to s.
func (p *Pipeline) WithStore(s store.Store) *Pipeline {
	p.store = s
	return p
}

// OnSaved registers fn to be called after each envelope is persisted.
func (p *Pipeline) OnSaved(fn func(Result)) *Pipeline {
	p.onSaved = append(p.onSaved, fn)
	return p
}

// Scan runs one domain scan. It never fails for tool problems; those end
// up as envelope warnings. The only error is an unknown scan type.
func (p *Pipeline) Scan(ctx context.Context, scanType records.ScanType, opts Options) (records.Envelope, error) {
	logger := p.logger.WithComponent(string(scanType)).Logger

	switch scanType {
	case records.ScanNetwork:
		s := netscan.NewScanner(p.runner, p.fs, logger).WithMetrics(p.registry)
		if p.metrics != nil {
			s.WithObserver(p.metrics)
		}
		return s.Scan(ctx, opts.Network), nil

	case records.ScanWiFi:
		s := wifi.NewScanner(p.runner, p.fs, logger).WithMetrics(p.registry)
		if p.metrics != nil {
			s.WithObserver(p.metrics)
		}
		return s.Scan(ctx, opts.WiFi), nil

	case records.ScanBluetooth:
		s := bluetooth.NewScanner(p.runner, p.fs, logger).WithMetrics(p.registry)
		if p.metrics != nil {
			s.WithObserver(p.metrics)
		}
		return s.Scan(ctx, opts.Bluetooth), nil

	default:
		return records.Envelope{}, errors.NewScanErrorWithTarget(errors.CodeValidation, "Unknown scan type", string(scanType))
	}
}

// Run scans and, when a store is configured, persists the envelope. An
// error means the scan type was unknown or the envelope could not be saved.
func (p *Pipeline) Run(ctx context.Context, scanType records.ScanType, opts Options) (Result, error) {
	if p.metrics != nil {
		done := p.metrics.ScanStarted()
		defer done()
	}

	start := p.now()
	p.logger.InfoScan("Scan started", string(scanType))

	env, err := p.Scan(ctx, scanType, opts)
	if err != nil {
		return Result{}, err
	}
	res := Result{Envelope: env, Duration: p.now().Sub(start)}

	status := statusOf(ctx, env)
	if p.metrics != nil {
		p.metrics.ObserveScan(string(scanType), status, res.Duration, env.Count, len(env.Warnings))
	}
	if p.registry != nil {
		p.registry.Counter("scans_total", metrics.Labels{"scan_type": string(scanType), "status": status})
	}

	p.logger.InfoScan("Scan completed", string(scanType),
		"count", env.Count,
		"warnings", len(env.Warnings),
		"status", status,
		"duration", res.Duration)
	for _, w := range env.Warnings {
		p.logger.Debug("Scan warning", "scan_type", scanType, "warning", w)
	}

	if p.store == nil {
		return res, nil
	}

	// a scan cut short by cancellation is still worth keeping
	loc, err := p.store.Save(context.WithoutCancel(ctx), env)
	if err != nil {
		p.logger.ErrorScan("Failed to save results", string(scanType), err)
		return res, err
	}
	res.Location = loc
	p.logger.InfoScan("Results saved", string(scanType), "location", loc)

	for _, fn := range p.onSaved {
		fn(res)
	}
	return res, nil
}

// RunAll runs the given scan types in order. It stops at the first
// persistence failure; an already canceled context stops before the next
// scan.
func (p *Pipeline) RunAll(ctx context.Context, scanTypes []records.ScanType, opts Options) ([]Result, error) {
	results := make([]Result, 0, len(scanTypes))
	for _, st := range scanTypes {
		if ctx.Err() != nil {
			break
		}
		res, err := p.Run(ctx, st, opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func statusOf(ctx context.Context, env records.Envelope) string {
	switch {
	case ctx.Err() != nil:
		return StatusCanceled
	case env.Count == 0:
		return StatusEmpty
	default:
		return StatusSuccess
	}
}
