package bluetooth

import (
	"context"
	"log/slog"
	"math"
	"strconv"
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

const (
	bluetoothctlStage = "bluetoothctl"
	termuxStage       = "termux-bluetooth-scaninfo"

	// inquiryUnit is the length of one hcitool inquiry period.
	inquiryUnit = 1280 * time.Millisecond
	// inquirySlack is added to the inquiry length to form its timeout.
	inquirySlack = 10 * time.Second
)

// Options configures one Bluetooth scan.
type Options struct {
	// Adapter restricts the scan to one adapter; empty scans all.
	Adapter       string
	InquiryLength int
	LEScan        bool
	LEDuration    time.Duration
	LEGrace       time.Duration
	BringUp       bool
	QueryClass    bool
	ToolTimeout   time.Duration
}

// OptionsFromConfig builds scan options from the bluetooth config section.
func OptionsFromConfig(c config.BluetoothConfig) Options {
	return Options{
		Adapter:       c.Adapter,
		InquiryLength: c.InquiryLength,
		LEScan:        c.LEScan,
		LEDuration:    c.LEDuration,
		LEGrace:       c.LEGrace,
		BringUp:       c.BringUp,
		QueryClass:    c.QueryClass,
		ToolTimeout:   c.ToolTimeout,
	}
}

func (o Options) inquiryTimeout() time.Duration {
	return time.Duration(o.InquiryLength)*inquiryUnit + inquirySlack
}

func (o Options) scanSeconds() int {
	secs := int(math.Ceil(o.LEDuration.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Scanner runs Bluetooth scans.
type Scanner struct {
	runner   runner.Runner
	fs       afero.Fs
	logger   *slog.Logger
	registry metrics.MetricsRegistry
	observer fallback.FailureObserver
	now      func() time.Time
}

// NewScanner creates a scanner. fs is where sysfs is read when hciconfig
// is unavailable.
func NewScanner(r runner.Runner, fs afero.Fs, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		runner:   r,
		fs:       fs,
		logger:   logger.With("component", "bluetooth"),
		registry: metrics.Default(),
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

type stageFunc = func(ctx context.Context) ([]records.BluetoothDevice, error)

// once runs fn at most once and replays its outcome; the adapter-less
// sources must not run again for every adapter.
func once(fn stageFunc) stageFunc {
	var (
		done    bool
		devices []records.BluetoothDevice
		err     error
	)
	return func(ctx context.Context) ([]records.BluetoothDevice, error) {
		if !done {
			done = true
			devices, err = fn(ctx)
		}
		return devices, err
	}
}

// Scan discovers devices on every adapter. Devices keep the order they were
// first seen in, one record per address.
func (s *Scanner) Scan(ctx context.Context, opts Options) records.Envelope {
	b := records.NewBuilder(records.ScanBluetooth).WithClock(s.now)

	infos := s.listAdapters(ctx, opts)
	b.SetMetadata("adapters", infos)

	ctl := once(func(ctx context.Context) ([]records.BluetoothDevice, error) {
		return s.bluetoothctlScan(ctx, opts)
	})
	termux := once(func(ctx context.Context) ([]records.BluetoothDevice, error) {
		res, err := s.runner.Run(ctx, opts.ToolTimeout, termuxStage)
		if err != nil {
			return nil, err
		}
		return ParseTermuxBluetooth(res.Stdout)
	})

	sources := make(map[string]string)
	var found [][]records.BluetoothDevice

	if len(infos) == 0 {
		b.AddWarning("No Bluetooth adapters found")
		result := s.chain().Then(termuxStage, termux).Run(ctx)
		addWarnings(b, result.Warnings)
		found = append(found, result.Records)
	}

	for _, info := range infos {
		hci := info.Name
		if opts.BringUp && info.State != adapters.StateUp {
			s.bringUp(ctx, hci, opts, b)
		}

		result := s.chain().
			Then("hcitool -i "+hci, func(ctx context.Context) ([]records.BluetoothDevice, error) {
				return s.hcitoolScan(ctx, hci, opts)
			}).
			Then(bluetoothctlStage, ctl).
			Then(termuxStage, termux).
			Run(ctx)
		addWarnings(b, result.Warnings)
		if !result.Exhausted() {
			sources[hci] = result.Stage
		}
		s.logger.Debug("Adapter scanned", "adapter", hci, "devices", len(result.Records), "stage", result.Stage)
		found = append(found, result.Records)
	}

	devices := dedupe.Concat(found...)
	records.AddAll(b, devices)
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

func (s *Scanner) chain() *fallback.Chain[records.BluetoothDevice] {
	c := fallback.New[records.BluetoothDevice](string(records.ScanBluetooth), s.logger).WithMetrics(s.registry)
	if s.observer != nil {
		c.WithObserver(s.observer)
	}
	return c
}

func (s *Scanner) listAdapters(ctx context.Context, opts Options) []adapters.Info {
	infos := adapters.NewEnumerator(s.runner, s.fs, s.logger).
		WithTimeout(opts.ToolTimeout).
		List(ctx, adapters.DomainBluetooth)
	if opts.Adapter == "" {
		return infos
	}
	for _, info := range infos {
		if info.Name == opts.Adapter {
			return []adapters.Info{info}
		}
	}
	return []adapters.Info{{Name: opts.Adapter, State: adapters.StateUnknown}}
}

func (s *Scanner) bringUp(ctx context.Context, hci string, opts Options, b *records.Builder) {
	s.logger.Info("Bringing adapter up", "adapter", hci)
	_, err := s.runner.Run(ctx, opts.ToolTimeout, "hciconfig", hci, "up")
	if err == nil {
		return
	}
	s.logger.Warn("Could not bring adapter up", "adapter", hci, "error", err)
	if errors.IsCode(err, errors.CodePermission) {
		b.AddWarningf("hciconfig %s up: %s", hci, errors.Reason(err))
	}
}

// hcitoolScan runs the classic inquiry and then, when enabled, the LE scan.
func (s *Scanner) hcitoolScan(ctx context.Context, hci string, opts Options) ([]records.BluetoothDevice, error) {
	classic, err := s.inquiry(ctx, hci, opts)
	if !opts.LEScan || errors.IsCode(err, errors.CodeToolUnavailable) {
		return classic, err
	}

	le, leErr := s.leScan(ctx, hci, opts)
	devices := dedupe.Concat(classic, le)
	if len(devices) > 0 {
		return devices, nil
	}
	if err == nil {
		err = leErr
	}
	return devices, err
}

func (s *Scanner) inquiry(ctx context.Context, hci string, opts Options) ([]records.BluetoothDevice, error) {
	res, err := s.runner.Run(ctx, opts.inquiryTimeout(),
		"hcitool", "-i", hci, "scan", "--length", strconv.Itoa(opts.InquiryLength))
	if err != nil {
		return nil, err
	}
	devices := ParseHcitoolScan(res.Stdout)
	if opts.QueryClass {
		for i := range devices {
			if class, ok := s.deviceClass(ctx, hci, devices[i].MAC, opts); ok {
				SetClass(&devices[i], class)
			}
		}
	}
	return devices, nil
}

func (s *Scanner) deviceClass(ctx context.Context, hci, addr string, opts Options) (int, bool) {
	res, err := s.runner.Run(ctx, opts.ToolTimeout, "hcitool", "-i", hci, "info", addr)
	if err != nil {
		s.logger.Debug("Device info failed", "adapter", hci, "address", addr, "error", err)
		return 0, false
	}
	return ParseDeviceClass(res.Stdout)
}

func (s *Scanner) leScan(ctx context.Context, hci string, opts Options) ([]records.BluetoothDevice, error) {
	res, err := s.runner.RunFor(ctx, opts.LEDuration, opts.LEGrace, "hcitool", "-i", hci, "lescan", "--duplicates")
	if err != nil {
		return nil, err
	}
	return ParseLEScan(res.Stdout), nil
}

// bluetoothctlScan discovers for the LE duration, then lists the devices
// the controller knows about.
func (s *Scanner) bluetoothctlScan(ctx context.Context, opts Options) ([]records.BluetoothDevice, error) {
	secs := opts.scanSeconds()
	_, err := s.runner.Run(ctx, time.Duration(secs)*time.Second+opts.LEGrace,
		"bluetoothctl", "--timeout", strconv.Itoa(secs), "scan", "on")
	if errors.IsCode(err, errors.CodeToolUnavailable) {
		return nil, err
	}
	if err != nil {
		s.logger.Debug("bluetoothctl discovery failed", "error", err)
	}

	res, err := s.runner.Run(ctx, opts.ToolTimeout, "bluetoothctl", "devices")
	if err != nil {
		return nil, err
	}
	return ParseBluetoothctlDevices(res.Stdout), nil
}
