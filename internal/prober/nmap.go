package prober

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/records"
)

// NmapSweeper discovers live hosts with a single "nmap -sn" run instead of
// one ping per target.
type NmapSweeper struct {
	timeout  time.Duration
	resolver Resolver
	logger   *slog.Logger
	workers  int
	run      func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error)
}

// NewNmapSweeper creates an nmap sweeper. timeout is the per-host timeout
// the timing template is chosen from.
func NewNmapSweeper(timeout time.Duration, resolver Resolver, logger *slog.Logger) *NmapSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &NmapSweeper{
		timeout:  timeout,
		resolver: resolver,
		logger:   logger,
		workers:  DefaultHostWorkers,
		run:      runNmap,
	}
}

func runNmap(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, errors.ErrToolUnavailable("nmap", nil, err)
	}
	result, warnings, err := scanner.Run()
	if warnings != nil && len(*warnings) > 0 {
		slog.Debug("nmap reported warnings", "warnings", *warnings)
	}
	if err != nil {
		return result, errors.NewToolError(errors.CodeToolFailed, "nmap", []string{"-sn"}, err)
	}
	return result, nil
}

// buildPingScanOptions constructs nmap options for host discovery.
func buildPingScanOptions(targets []string, timeout time.Duration) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPingScan(),
	}

	if timeout <= time.Second {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	} else if timeout <= 5*time.Second {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	} else {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingPolite))
	}

	return options
}

// Sweep implements Sweeper. A failed nmap run yields no hosts.
func (s *NmapSweeper) Sweep(ctx context.Context, targets []netip.Addr) []records.NetworkHost {
	hosts := make([]records.NetworkHost, 0)
	if len(targets) == 0 {
		return hosts
	}

	addrs := make([]string, len(targets))
	for i, t := range targets {
		addrs[i] = t.String()
	}

	result, err := s.run(ctx, buildPingScanOptions(addrs, s.timeout)...)
	if err != nil {
		s.logger.Warn("nmap sweep failed", "targets", len(targets), "error", err)
		return hosts
	}

	hosts = convertNmapHosts(result, targets)
	var unnamed []int
	for i := range hosts {
		if hosts[i].Hostname == nil {
			unnamed = append(unnamed, i)
		}
	}
	if len(unnamed) > 0 && s.resolver != nil {
		lookup := make([]records.NetworkHost, len(unnamed))
		for j, i := range unnamed {
			lookup[j] = hosts[i]
		}
		resolveAll(ctx, s.resolver, lookup, s.workers, s.logger)
		for j, i := range unnamed {
			hosts[i].Hostname = lookup[j].Hostname
		}
	}

	records.SortHosts(hosts)
	return hosts
}

// convertNmapHosts keeps the hosts nmap reports up that were asked for.
func convertNmapHosts(result *nmap.Run, targets []netip.Addr) []records.NetworkHost {
	wanted := make(map[netip.Addr]bool, len(targets))
	for _, t := range targets {
		wanted[t] = true
	}

	hosts := make([]records.NetworkHost, 0)
	if result == nil {
		return hosts
	}
	for i := range result.Hosts {
		h := &result.Hosts[i]
		if h.Status.State != "up" {
			continue
		}

		host := records.NetworkHost{Alive: true}
		for _, addr := range h.Addresses {
			switch addr.AddrType {
			case "ipv4":
				host.IP = addr.Addr
			case "mac":
				host.MAC = records.NormalizeMAC(addr.Addr)
			}
		}
		ip, err := netip.ParseAddr(host.IP)
		if err != nil || !wanted[ip] {
			continue
		}
		if len(h.Hostnames) > 0 && h.Hostnames[0].Name != "" {
			host.Hostname = records.Ptr(h.Hostnames[0].Name)
		}
		hosts = append(hosts, host)
	}
	return hosts
}
