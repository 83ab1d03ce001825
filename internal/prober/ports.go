package prober

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/anstrom/reconradar/internal/convert"
	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/workers"
)

// Defaults for the port probe.
const (
	DefaultPortWorkers = 20
	DefaultPortTimeout = time.Second
)

// DefaultPorts are the TCP ports probed when none are configured.
var DefaultPorts = []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 993, 995, 3306, 3389, 5432, 8080, 8443}

// Dialer opens TCP connections; *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// PortOptions configures a PortProber.
type PortOptions struct {
	Ports   []int
	Timeout time.Duration
	Workers int
}

// PortProber checks which TCP ports of a host accept connections.
type PortProber struct {
	dialer   Dialer
	opts     PortOptions
	logger   *slog.Logger
	observer ProbeObserver
}

// NewPortProber creates a prober. A nil dialer uses net.Dialer.
func NewPortProber(dialer Dialer, opts PortOptions, logger *slog.Logger) *PortProber {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if len(opts.Ports) == 0 {
		opts.Ports = DefaultPorts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPortTimeout
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultPortWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PortProber{dialer: dialer, opts: opts, logger: logger}
}

// WithObserver reports probe outcomes to o.
func (p *PortProber) WithObserver(o ProbeObserver) *PortProber {
	p.observer = o
	return p
}

// Probe returns the open ports of ip in ascending order.
func (p *PortProber) Probe(ctx context.Context, ip netip.Addr) []records.PortResult {
	pool := workers.New(workers.Config{
		Size:       p.opts.Workers,
		JobTimeout: p.opts.Timeout,
		JobType:    "port_probe",
	}).WithLogger(p.logger)

	results := workers.Run(ctx, pool, p.opts.Ports, func(ctx context.Context, port int) (records.PortResult, error) {
		conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
		if err != nil {
			return records.PortResult{}, err
		}
		_ = conn.Close()
		return records.PortResult{Port: port, Service: convert.ServiceName(port), Protocol: "tcp"}, nil
	})

	open := workers.Successful(results)
	if p.observer != nil {
		p.observer.AddProbes("port", "open", len(open))
		p.observer.AddProbes("port", "closed", len(results)-len(open))
	}
	records.SortPorts(open)
	return open
}

// ProbeHosts fills in the open ports of every host, one host at a time.
func (p *PortProber) ProbeHosts(ctx context.Context, hosts []records.NetworkHost) {
	for i := range hosts {
		addr, err := netip.ParseAddr(hosts[i].IP)
		if err != nil {
			continue
		}
		p.logger.Debug("Probing ports", "ip", hosts[i].IP, "ports", len(p.opts.Ports))
		hosts[i].OpenPorts = p.Probe(ctx, addr)
	}
}
