// Package prober sweeps IPv4 networks for live hosts and probes live hosts
// for open TCP ports. Every target is probed independently on a bounded
// worker pool; a target that fails or times out is dropped, never retried.
package prober

import (
	"context"
	"log/slog"
	"math"
	"net/netip"
	"regexp"
	"strconv"
	"time"

	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/runner"
	"github.com/anstrom/reconradar/internal/workers"
)

// Defaults for the liveness sweep.
const (
	DefaultHostWorkers = 50
	DefaultPingTimeout = time.Second
	DefaultProbeGrace  = 2 * time.Second
)

var pingLatency = regexp.MustCompile(`time[=<](\d+\.?\d*)\s*ms`)

// ParseLatency extracts the round-trip time from ping output.
func ParseLatency(output string) (float64, bool) {
	m := pingLatency.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Sweeper finds live hosts among a set of addresses.
type Sweeper interface {
	Sweep(ctx context.Context, targets []netip.Addr) []records.NetworkHost
}

// PingOptions configures a PingSweeper.
type PingOptions struct {
	Timeout time.Duration
	Grace   time.Duration
	Workers int
}

// PingSweeper sweeps with one "ping -c 1" per target.
type PingSweeper struct {
	runner   runner.Runner
	opts     PingOptions
	resolver Resolver
	logger   *slog.Logger
	observer ProbeObserver
}

// ProbeObserver is told how many probes of a kind succeeded and failed.
type ProbeObserver interface {
	AddProbes(kind, outcome string, count int)
}

// NewPingSweeper creates a sweeper. resolver may be nil to skip hostnames.
func NewPingSweeper(r runner.Runner, opts PingOptions, resolver Resolver, logger *slog.Logger) *PingSweeper {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPingTimeout
	}
	if opts.Grace < 0 {
		opts.Grace = DefaultProbeGrace
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultHostWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PingSweeper{runner: r, opts: opts, resolver: resolver, logger: logger}
}

// WithObserver reports probe outcomes to o.
func (p *PingSweeper) WithObserver(o ProbeObserver) *PingSweeper {
	p.observer = o
	return p
}

type pingReply struct {
	latency *float64
}

// Sweep pings every target and returns the live hosts sorted by address.
func (p *PingSweeper) Sweep(ctx context.Context, targets []netip.Addr) []records.NetworkHost {
	pool := workers.New(workers.Config{Size: p.opts.Workers, JobType: "host_probe"}).WithLogger(p.logger)
	results := workers.Run(ctx, pool, targets, p.ping)

	hosts := make([]records.NetworkHost, 0)
	for _, r := range results {
		if !r.OK() {
			continue
		}
		hosts = append(hosts, records.NetworkHost{
			IP:        r.Input.String(),
			Alive:     true,
			LatencyMS: r.Value.latency,
		})
	}
	p.observe(len(hosts), len(targets)-len(hosts))

	resolveAll(ctx, p.resolver, hosts, p.opts.Workers, p.logger)
	records.SortHosts(hosts)
	return hosts
}

func (p *PingSweeper) ping(ctx context.Context, addr netip.Addr) (pingReply, error) {
	wait := int(math.Ceil(p.opts.Timeout.Seconds()))
	res, err := p.runner.Run(ctx, p.opts.Timeout+p.opts.Grace,
		"ping", "-c", "1", "-W", strconv.Itoa(wait), addr.String())
	if err != nil {
		return pingReply{}, err
	}
	var reply pingReply
	if ms, ok := ParseLatency(res.Stdout); ok {
		reply.latency = &ms
	}
	return reply, nil
}

func (p *PingSweeper) observe(up, down int) {
	if p.observer == nil {
		return
	}
	p.observer.AddProbes("host", "up", up)
	p.observer.AddProbes("host", "down", down)
}
