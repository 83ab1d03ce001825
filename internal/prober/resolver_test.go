package prober

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPTRServer serves PTR answers for the given reverse names on a random
// local UDP port.
func startPTRServer(t *testing.T, answers map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if name, ok := answers[q.Name]; ok && q.Qtype == dns.TypePTR {
			m.Answer = append(m.Answer, &dns.PTR{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
				Ptr: dns.Fqdn(name),
			})
		} else {
			m.SetRcode(r, dns.RcodeNameError)
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	addr := startPTRServer(t, map[string]string{
		"10.1.168.192.in-addr.arpa.": "nas.home.arpa",
	})
	resolver := NewDNSResolver([]string{addr}, time.Second).WithoutSystemFallback()

	name, err := resolver.LookupName(context.Background(), "192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, "nas.home.arpa", name)

	_, err = resolver.LookupName(context.Background(), "192.168.1.11")
	assert.ErrorIs(t, err, ErrNoName)

	_, err = resolver.LookupName(context.Background(), "not-an-ip")
	assert.Error(t, err)
}

func TestNewDNSResolverDefaultsPort(t *testing.T) {
	r := NewDNSResolver([]string{"192.168.1.1", "10.0.0.1:5353"}, 0)
	assert.Equal(t, []string{"192.168.1.1:53", "10.0.0.1:5353"}, r.servers)
	assert.Equal(t, 2*time.Second, r.timeout)
}

func TestChain(t *testing.T) {
	var calls []string
	first := ResolverFunc(func(ctx context.Context, ip string) (string, error) {
		calls = append(calls, "first")
		return "", ErrNoName
	})
	second := ResolverFunc(func(ctx context.Context, ip string) (string, error) {
		calls = append(calls, "second")
		return "printer", nil
	})
	third := ResolverFunc(func(ctx context.Context, ip string) (string, error) {
		calls = append(calls, "third")
		return "never", nil
	})

	name, err := Chain{first, nil, second, third}.LookupName(context.Background(), "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, "printer", name)
	assert.Equal(t, []string{"first", "second"}, calls)

	_, err = Chain{first}.LookupName(context.Background(), "10.0.0.9")
	assert.ErrorIs(t, err, ErrNoName)
}

func TestSNMPResolverWithoutCommunity(t *testing.T) {
	_, err := NewSNMPResolver("", time.Second).LookupName(context.Background(), "10.0.0.1")
	assert.ErrorIs(t, err, ErrNoName)
}

func TestNewResolverAddsSNMP(t *testing.T) {
	chain, ok := NewResolver(nil, time.Second, "", time.Second).(Chain)
	require.True(t, ok)
	assert.Len(t, chain, 1)

	chain, ok = NewResolver(nil, time.Second, "public", time.Second).(Chain)
	require.True(t, ok)
	require.Len(t, chain, 2)
	assert.IsType(t, &SNMPResolver{}, chain[1])
}
