package wifi

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/anstrom/reconradar/internal/adapters"
	"github.com/anstrom/reconradar/internal/config"
	"github.com/anstrom/reconradar/internal/dedupe"
	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/fallback"
	"github.com/anstrom/reconradar/internal/metrics"
	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/runner"
)

const termuxStage = "termux-wifi-scaninfo"

// Options configures one wireless scan.
type Options struct {
	// Interface restricts the scan to one interface; empty scans all.
	Interface      string
	TriggerTimeout time.Duration
	SettleDelay    time.Duration
	DumpTimeout    time.Duration
	ToolTimeout    time.Duration
	UseWPACli      bool
}

// OptionsFromConfig builds scan options from the wifi config section.
func OptionsFromConfig(c config.WiFiConfig) Options {
	return Options{
		Interface:      c.Interface,
		TriggerTimeout: c.TriggerTimeout,
		SettleDelay:    c.SettleDelay,
		DumpTimeout:    c.DumpTimeout,
		ToolTimeout:    c.ToolTimeout,
		UseWPACli:      c.UseWPACli,
	}
}

// Scanner runs wireless scans.
type Scanner struct {
	runner   runner.Runner
	fs       afero.Fs
	logger   *slog.Logger
	registry metrics.MetricsRegistry
	observer fallback.FailureObserver
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewScanner creates a scanner. fs is where sysfs is read when "iw dev"
// is unavailable.
func NewScanner(r runner.Runner, fs afero.Fs, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		runner:   r,
		fs:       fs,
		logger:   logger.With("component", "wifi"),
		registry: metrics.Default(),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// WithMetrics sets the registry stage failures are counted in.
func (s *Scanner) WithMetrics(registry metrics.MetricsRegistry) *Scanner {
	s.registry = registry
	return s
}

// WithObserver reports stage failures to o.
func (s *Scanner) WithObserver(o fallback.FailureObserver) *Scanner {
	s.observer = o
	return s
}

// WithClock overrides the envelope timestamp source.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Scan lists nearby networks on every wireless interface, one record per
// BSSID, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, opts Options) records.Envelope {
	b := records.NewBuilder(records.ScanWiFi).WithClock(s.now)

	ifaces := s.interfaces(ctx, opts)
	b.SetMetadata("interfaces", ifaces)

	termux := s.termuxOnce(opts)
	sources := make(map[string]string)

	var perInterface [][]records.WifiNetwork
	if len(ifaces) == 0 {
		b.AddWarning("No wireless interfaces found")
		result := s.chain().Then(termuxStage, termux).Run(ctx)
		addWarnings(b, result.Warnings)
		perInterface = append(perInterface, result.Records)
		if !result.Exhausted() {
			sources[termuxStage] = result.Stage
		}
	}

	for _, iface := range ifaces {
		if conn, ok := s.currentConnection(ctx, iface, opts); ok {
			b.SetMetadata("current_connection_"+iface, conn)
		}

		chain := s.chain().
			Then("iw "+iface+" scan", func(ctx context.Context) ([]records.WifiNetwork, error) {
				return s.iwScan(ctx, iface, opts)
			}).
			Then("iwlist "+iface+" scan", func(ctx context.Context) ([]records.WifiNetwork, error) {
				res, err := s.runner.Run(ctx, opts.DumpTimeout, "iwlist", iface, "scan")
				if err != nil {
					return nil, err
				}
				return ParseIWList(res.Stdout), nil
			})
		if opts.UseWPACli {
			chain.Then("wpa_cli -i "+iface+" scan_results", func(ctx context.Context) ([]records.WifiNetwork, error) {
				res, err := s.runner.Run(ctx, opts.ToolTimeout, "wpa_cli", "-i", iface, "scan_results")
				if err != nil {
					return nil, err
				}
				return ParseWPAScanResults(res.Stdout), nil
			})
		}
		chain.Then(termuxStage, termux)

		result := chain.Run(ctx)
		addWarnings(b, result.Warnings)
		if !result.Exhausted() {
			sources[iface] = result.Stage
		}
		s.logger.Debug("Interface scanned", "interface", iface, "networks", len(result.Records), "stage", result.Stage)
		perInterface = append(perInterface, result.Records)
	}

	networks := dedupe.Concat(perInterface...)
	records.SortNetworks(networks)
	records.AddAll(b, networks)
	b.SetMetadata("sources", sources)

	if ctx.Err() != nil {
		b.AddWarning("Scan canceled before completion")
	}
	return b.Build()
}

func addWarnings(b *records.Builder, warnings []string) {
	for _, w := range warnings {
		b.AddWarning(w)
	}
}

func (s *Scanner) chain() *fallback.Chain[records.WifiNetwork] {
	c := fallback.New[records.WifiNetwork](string(records.ScanWiFi), s.logger).WithMetrics(s.registry)
	if s.observer != nil {
		c.WithObserver(s.observer)
	}
	return c
}

func (s *Scanner) interfaces(ctx context.Context, opts Options) []string {
	if opts.Interface != "" {
		return []string{opts.Interface}
	}
	infos := adapters.NewEnumerator(s.runner, s.fs, s.logger).
		WithTimeout(opts.ToolTimeout).
		List(ctx, adapters.DomainWireless)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

// iwScan triggers a fresh scan, waits for it to settle and dumps the
// results, retrying with a blocking "iw <if> scan" when the dump fails.
func (s *Scanner) iwScan(ctx context.Context, iface string, opts Options) ([]records.WifiNetwork, error) {
	if _, err := s.runner.Run(ctx, opts.TriggerTimeout, "iw", iface, "scan", "trigger"); err != nil {
		if errors.IsCode(err, errors.CodeToolUnavailable) {
			return nil, err
		}
		s.logger.Debug("Scan trigger failed", "interface", iface, "error", err)
	}

	if err := s.sleep(ctx, opts.SettleDelay); err != nil {
		return nil, errors.WrapScanError(errors.CodeCanceled, "scan canceled", err)
	}

	res, err := s.runner.Run(ctx, opts.DumpTimeout, "iw", iface, "scan", "dump")
	if err != nil {
		if !errors.IsRetryable(err) {
			return nil, err
		}
		s.logger.Debug("Scan dump failed, retrying with a full scan", "interface", iface, "error", err)
		res, err = s.runner.Run(ctx, opts.DumpTimeout, "iw", iface, "scan")
		if err != nil {
			return nil, err
		}
	}
	return ParseIWScan(res.Stdout), nil
}

// termuxOnce runs the Termux API at most once per scan; it is not tied to
// an interface.
func (s *Scanner) termuxOnce(opts Options) func(ctx context.Context) ([]records.WifiNetwork, error) {
	var (
		done     bool
		networks []records.WifiNetwork
		err      error
	)
	return func(ctx context.Context) ([]records.WifiNetwork, error) {
		if done {
			return networks, err
		}
		done = true
		var res runner.Result
		res, err = s.runner.Run(ctx, opts.ToolTimeout, termuxStage)
		if err != nil {
			return nil, err
		}
		networks, err = ParseTermuxWifi(res.Stdout)
		return networks, err
	}
}

func (s *Scanner) currentConnection(ctx context.Context, iface string, opts Options) (Connection, bool) {
	res, err := s.runner.Run(ctx, opts.ToolTimeout, "iw", iface, "link")
	if err != nil {
		s.logger.Debug("Link query failed", "interface", iface, "error", err)
		return Connection{}, false
	}
	return ParseIWLink(res.Stdout)
}
