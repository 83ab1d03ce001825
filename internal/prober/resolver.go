package prober

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"

	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/workers"
)

// ErrNoName is returned when a resolver has no name for an address.
var ErrNoName = stderrors.New("no name for address")

// Resolver maps an IP address to a host name.
type Resolver interface {
	LookupName(ctx context.Context, ip string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ip string) (string, error)

func (f ResolverFunc) LookupName(ctx context.Context, ip string) (string, error) {
	return f(ctx, ip)
}

// Chain asks each resolver in turn and returns the first name found.
type Chain []Resolver

func (c Chain) LookupName(ctx context.Context, ip string) (string, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if name, err := r.LookupName(ctx, ip); err == nil && name != "" {
			return name, nil
		}
	}
	return "", ErrNoName
}

// DNSResolver issues PTR queries to the given nameservers with miekg/dns and
// falls back to the system resolver when none of them answers.
type DNSResolver struct {
	servers []string
	client  *dns.Client
	system  *net.Resolver
	timeout time.Duration
}

// NewDNSResolver creates a PTR resolver. Servers without a port get :53.
func NewDNSResolver(servers []string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		addrs = append(addrs, s)
	}
	return &DNSResolver{
		servers: addrs,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		system:  net.DefaultResolver,
		timeout: timeout,
	}
}

// WithoutSystemFallback disables the system resolver fallback.
func (r *DNSResolver) WithoutSystemFallback() *DNSResolver {
	r.system = nil
	return r
}

// LookupName implements Resolver.
func (r *DNSResolver) LookupName(ctx context.Context, ip string) (string, error) {
	reverse, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(reverse, dns.TypePTR)

	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil || resp.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), nil
			}
		}
	}

	if r.system == nil {
		return "", ErrNoName
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	names, err := r.system.LookupAddr(lookupCtx, ip)
	if err != nil || len(names) == 0 {
		return "", ErrNoName
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// sysNameOID is SNMPv2-MIB::sysName.0.
const sysNameOID = "1.3.6.1.2.1.1.5.0"

// SNMPResolver reads sysName.0 over SNMPv2c.
type SNMPResolver struct {
	community string
	port      uint16
	timeout   time.Duration
}

// NewSNMPResolver creates a sysName resolver for a community string.
func NewSNMPResolver(community string, timeout time.Duration) *SNMPResolver {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &SNMPResolver{community: community, port: 161, timeout: timeout}
}

// WithPort overrides the agent port.
func (r *SNMPResolver) WithPort(port uint16) *SNMPResolver {
	r.port = port
	return r
}

// LookupName implements Resolver.
func (r *SNMPResolver) LookupName(ctx context.Context, ip string) (string, error) {
	if r.community == "" {
		return "", ErrNoName
	}
	client := &gosnmp.GoSNMP{
		Target:    ip,
		Port:      r.port,
		Community: r.community,
		Version:   gosnmp.Version2c,
		Timeout:   r.timeout,
		Retries:   0,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return "", err
	}
	defer client.Conn.Close()

	pkt, err := client.Get([]string{sysNameOID})
	if err != nil {
		return "", err
	}
	for _, v := range pkt.Variables {
		if v.Type != gosnmp.OctetString {
			continue
		}
		if b, ok := v.Value.([]byte); ok && len(b) > 0 {
			return string(b), nil
		}
	}
	return "", ErrNoName
}

// NewResolver builds the resolver chain from settings: DNS against servers
// and, when community is set, SNMP sysName.
func NewResolver(servers []string, dnsTimeout time.Duration, community string, snmpTimeout time.Duration) Resolver {
	chain := Chain{NewDNSResolver(servers, dnsTimeout)}
	if community != "" {
		chain = append(chain, NewSNMPResolver(community, snmpTimeout))
	}
	return chain
}

// resolveAll fills in hostnames concurrently. Hosts that cannot be resolved
// keep a nil hostname.
func resolveAll(ctx context.Context, resolver Resolver, hosts []records.NetworkHost, width int, logger *slog.Logger) {
	if resolver == nil || len(hosts) == 0 {
		return
	}
	pool := workers.New(workers.Config{Size: width, JobType: "resolve"}).WithLogger(logger)
	results := workers.Run(ctx, pool, hosts, func(ctx context.Context, h records.NetworkHost) (string, error) {
		return resolver.LookupName(ctx, h.IP)
	})
	for i, r := range results {
		if r.OK() && r.Value != "" {
			hosts[i].Hostname = records.Ptr(r.Value)
		}
	}
}
