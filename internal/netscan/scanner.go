package netscan

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/anstrom/reconradar/internal/adapters"
	"github.com/anstrom/reconradar/internal/config"
	"github.com/anstrom/reconradar/internal/dedupe"
	"github.com/anstrom/reconradar/internal/fallback"
	"github.com/anstrom/reconradar/internal/metrics"
	"github.com/anstrom/reconradar/internal/prober"
	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/runner"
)

// Sweep methods.
const (
	MethodPing = "ping"
	MethodNmap = "nmap"
)

const (
	procNetARP   = "/proc/net/arp"
	procNetRoute = "/proc/net/route"
	resolvConf   = "/etc/resolv.conf"
)

// Options configures one network scan.
type Options struct {
	Method string
	// Targets overrides the networks derived from interface addresses.
	Targets []string

	PingTimeout time.Duration
	ProbeGrace  time.Duration
	HostWorkers int

	ScanPorts   bool
	Ports       []int
	PortTimeout time.Duration
	PortWorkers int

	ResolveHostnames bool
	DNSTimeout       time.Duration
	SNMPCommunity    string
	SNMPTimeout      time.Duration

	ToolTimeout time.Duration
}

// OptionsFromConfig builds scan options from the network config section.
func OptionsFromConfig(c config.NetworkConfig) Options {
	return Options{
		Method:           c.DiscoveryMethod,
		PingTimeout:      c.PingTimeout,
		ProbeGrace:       c.ProbeGrace,
		HostWorkers:      c.HostWorkers,
		ScanPorts:        c.ScanPorts,
		Ports:            append([]int(nil), c.Ports...),
		PortTimeout:      c.PortTimeout,
		PortWorkers:      c.PortWorkers,
		ResolveHostnames: c.ResolveHostnames,
		DNSTimeout:       c.DNSTimeout,
		SNMPCommunity:    c.SNMPCommunity,
		SNMPTimeout:      c.SNMPTimeout,
		ToolTimeout:      c.ToolTimeout,
	}
}

// Observer receives stage failures and probe outcomes;
// *metrics.PrometheusMetrics implements it.
type Observer interface {
	fallback.FailureObserver
	prober.ProbeObserver
	RecordSweepDuration(kind string, duration time.Duration)
}

// Scanner runs network scans. It holds no per-scan state and may be reused.
type Scanner struct {
	runner   runner.Runner
	fs       afero.Fs
	logger   *slog.Logger
	registry metrics.MetricsRegistry
	observer Observer
	dialer   prober.Dialer
	resolver prober.Resolver
	sweeper  prober.Sweeper
	now      func() time.Time
}

// NewScanner creates a scanner. fs is where procfs and resolv.conf are read.
func NewScanner(r runner.Runner, fs afero.Fs, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		runner:   r,
		fs:       fs,
		logger:   logger.With("component", "network"),
		registry: metrics.Default(),
		now:      time.Now,
	}
}

// WithMetrics sets the registry stage failures are counted in.
func (s *Scanner) WithMetrics(registry metrics.MetricsRegistry) *Scanner {
	s.registry = registry
	return s
}

// WithObserver reports stage failures and probe counts to o.
func (s *Scanner) WithObserver(o Observer) *Scanner {
	s.observer = o
	return s
}

// WithDialer replaces the dialer used by the port probe.
func (s *Scanner) WithDialer(d prober.Dialer) *Scanner {
	s.dialer = d
	return s
}

// WithResolver replaces the hostname resolver built from Options.
func (s *Scanner) WithResolver(r prober.Resolver) *Scanner {
	s.resolver = r
	return s
}

// WithSweeper replaces the sweeper selected by Options.Method.
func (s *Scanner) WithSweeper(sw prober.Sweeper) *Scanner {
	s.sweeper = sw
	return s
}

// WithClock overrides the envelope timestamp source.
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// Scan inventories the host's network configuration and sweeps its attached
// IPv4 networks. It never fails; problems end up as envelope warnings.
func (s *Scanner) Scan(ctx context.Context, opts Options) records.Envelope {
	b := records.NewBuilder(records.ScanNetwork).WithClock(s.now)
	b.SetMetadata("scan_id", uuid.NewString())

	ifaces := s.interfaces(ctx, opts, b)
	neighbors := s.neighbors(ctx, opts)
	stats := s.stats(ctx, opts)

	b.SetMetadata("interfaces", ifaces)
	b.SetMetadata("arp_table", neighbors)
	b.SetMetadata("stats", stats)
	if gw, ok := s.gateway(ctx, opts); ok {
		b.SetMetadata("gateway", gw)
	} else {
		b.SetMetadata("gateway", nil)
	}

	networks := opts.Targets
	if len(networks) == 0 {
		networks = Networks(ifaces)
	}
	if len(networks) == 0 {
		b.AddWarning("No active IPv4 networks to scan")
	}

	sweeper := s.sweeperFor(opts, stats.DNSServers)
	b.SetMetadata("discovery_method", methodOf(opts))

	var (
		hosts   []records.NetworkHost
		scanned = []string{}
	)
	for _, network := range networks {
		set, err := prober.Targets(network)
		if err != nil {
			b.AddWarningf("%s: %v", network, err)
			continue
		}
		if set.Capped() {
			b.AddWarningf("Network %s has more than 256 addresses, scanning %s only", set.Requested, set.Effective)
		}
		s.logger.Info("Sweeping network", "network", set.Effective.String(), "targets", len(set.Addrs))
		scanned = append(scanned, set.Effective.String())

		start := time.Now()
		hosts = append(hosts, sweeper.Sweep(ctx, set.Addrs)...)
		s.observeSweep("host", time.Since(start))
		s.logger.Debug("Sweep finished", "network", set.Effective.String(), "duration", time.Since(start))
	}
	b.SetMetadata("networks_scanned", scanned)

	hosts = dedupe.Merge(hosts)
	EnrichMACs(hosts, neighbors)

	if opts.ScanPorts && len(hosts) > 0 {
		ports := prober.NewPortProber(s.dialer, prober.PortOptions{
			Ports:   opts.Ports,
			Timeout: opts.PortTimeout,
			Workers: opts.PortWorkers,
		}, s.logger)
		if s.observer != nil {
			ports.WithObserver(s.observer)
		}
		start := time.Now()
		ports.ProbeHosts(ctx, hosts)
		s.observeSweep("port", time.Since(start))
	}
	b.SetMetadata("port_scan", opts.ScanPorts)

	records.SortHosts(hosts)
	records.AddAll(b, hosts)

	if ctx.Err() != nil {
		b.AddWarning("Scan canceled before completion")
	}
	return b.Build()
}

// Networks returns the distinct IPv4 networks of the interfaces that are up,
// skipping loopback addresses.
func Networks(ifaces []Interface) []string {
	seen := make(map[netip.Prefix]bool)
	networks := []string{}
	for _, iface := range ifaces {
		if !iface.Up() {
			continue
		}
		for _, a := range iface.IPv4 {
			if strings.HasPrefix(a.Address, "127.") {
				continue
			}
			addr, err := netip.ParseAddr(a.Address)
			if err != nil || !addr.Is4() {
				continue
			}
			prefix, err := addr.Prefix(a.Prefix)
			if err != nil || seen[prefix] {
				continue
			}
			seen[prefix] = true
			networks = append(networks, prefix.String())
		}
	}
	return networks
}

// EnrichMACs fills in missing host MACs from the neighbor table.
func EnrichMACs(hosts []records.NetworkHost, neighbors []NeighborEntry) {
	byIP := make(map[string]string, len(neighbors))
	for _, n := range neighbors {
		if n.MAC != "" && n.State != "FAILED" {
			byIP[n.IP] = n.MAC
		}
	}
	for i := range hosts {
		if hosts[i].MAC == "" {
			hosts[i].MAC = byIP[hosts[i].IP]
		}
	}
}

func (s *Scanner) observeSweep(kind string, d time.Duration) {
	if s.observer != nil {
		s.observer.RecordSweepDuration(kind, d)
	}
}

func methodOf(opts Options) string {
	if opts.Method == MethodNmap {
		return MethodNmap
	}
	return MethodPing
}

func (s *Scanner) sweeperFor(opts Options, dnsServers []string) prober.Sweeper {
	if s.sweeper != nil {
		return s.sweeper
	}

	var resolver prober.Resolver
	if opts.ResolveHostnames {
		resolver = s.resolver
		if resolver == nil {
			resolver = prober.NewResolver(dnsServers, opts.DNSTimeout, opts.SNMPCommunity, opts.SNMPTimeout)
		}
	}

	if methodOf(opts) == MethodNmap {
		return prober.NewNmapSweeper(opts.PingTimeout, resolver, s.logger)
	}
	ping := prober.NewPingSweeper(s.runner, prober.PingOptions{
		Timeout: opts.PingTimeout,
		Grace:   opts.ProbeGrace,
		Workers: opts.HostWorkers,
	}, resolver, s.logger)
	if s.observer != nil {
		ping.WithObserver(s.observer)
	}
	return ping
}

func newChain[T any](s *Scanner) *fallback.Chain[T] {
	c := fallback.New[T](string(records.ScanNetwork), s.logger).WithMetrics(s.registry)
	if s.observer != nil {
		c.WithObserver(s.observer)
	}
	return c
}

func (s *Scanner) interfaces(ctx context.Context, opts Options, b *records.Builder) []Interface {
	chain := newChain[Interface](s).
		Then("ip -j addr", func(ctx context.Context) ([]Interface, error) {
			res, err := s.runner.Run(ctx, opts.ToolTimeout, "ip", "-j", "addr", "show")
			if err != nil {
				return nil, err
			}
			return ParseIPJSON(res.Stdout)
		}).
		Then("ip addr", func(ctx context.Context) ([]Interface, error) {
			res, err := s.runner.Run(ctx, opts.ToolTimeout, "ip", "addr", "show")
			if err != nil {
				return nil, err
			}
			return ParseIPAddr(res.Stdout), nil
		}).
		Then("adapters", func(ctx context.Context) ([]Interface, error) {
			infos := adapters.NewEnumerator(s.runner, s.fs, s.logger).
				WithTimeout(opts.ToolTimeout).
				List(ctx, adapters.DomainNetwork)
			ifaces := make([]Interface, 0, len(infos))
			for _, info := range infos {
				ifaces = append(ifaces, Interface{
					Name:  info.Name,
					State: string(info.State),
					MAC:   normalizeMAC(info.Address),
					IPv4:  []IPv4Addr{},
					IPv6:  []IPv6Addr{},
				})
			}
			return ifaces, nil
		})

	result := chain.Run(ctx)
	for _, w := range result.Warnings {
		b.AddWarning(w)
	}
	if result.Exhausted() {
		b.AddWarning("No network interfaces found")
	}
	return result.Records
}

func (s *Scanner) neighbors(ctx context.Context, opts Options) []NeighborEntry {
	result := newChain[NeighborEntry](s).
		Then("ip neigh", func(ctx context.Context) ([]NeighborEntry, error) {
			res, err := s.runner.Run(ctx, opts.ToolTimeout, "ip", "neigh", "show")
			if err != nil {
				return nil, err
			}
			return ParseNeighbors(res.Stdout), nil
		}).
		Then(procNetARP, func(ctx context.Context) ([]NeighborEntry, error) {
			data, err := afero.ReadFile(s.fs, procNetARP)
			if err != nil {
				return nil, err
			}
			return ParseProcARP(string(data)), nil
		}).
		Run(ctx)
	return result.Records
}

func (s *Scanner) gateway(ctx context.Context, opts Options) (Gateway, bool) {
	result := newChain[Gateway](s).
		Then("ip route", func(ctx context.Context) ([]Gateway, error) {
			res, err := s.runner.Run(ctx, opts.ToolTimeout, "ip", "route", "show", "default")
			if err != nil {
				return nil, err
			}
			if gw, ok := ParseDefaultRoute(res.Stdout); ok {
				return []Gateway{gw}, nil
			}
			return nil, nil
		}).
		Then(procNetRoute, func(ctx context.Context) ([]Gateway, error) {
			data, err := afero.ReadFile(s.fs, procNetRoute)
			if err != nil {
				return nil, err
			}
			if gw, ok := ParseProcRoute(string(data)); ok {
				return []Gateway{gw}, nil
			}
			return nil, nil
		}).
		Run(ctx)
	if result.Exhausted() {
		return Gateway{}, false
	}
	return result.Records[0], true
}

func (s *Scanner) stats(ctx context.Context, opts Options) Stats {
	stats := Stats{DNSServers: []string{}}
	if res, err := s.runner.Run(ctx, opts.ToolTimeout, "ss", "-s"); err == nil {
		stats.SocketStats = strings.TrimSpace(res.Stdout)
	} else {
		s.logger.Debug("Socket statistics unavailable", "error", err)
	}
	if data, err := afero.ReadFile(s.fs, resolvConf); err == nil {
		stats.DNSServers = ParseResolvConf(string(data))
	}
	return stats
}
