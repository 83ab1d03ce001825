package prober

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/anstrom/reconradar/internal/records"
)

type fakeDialer struct {
	mu     sync.Mutex
	open   map[string]bool
	hang   map[string]bool
	dialed []string
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, address)
	d.mu.Unlock()

	if d.hang[address] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !d.open[address] {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func TestPortProbe(t *testing.T) {
	dialer := &fakeDialer{
		open: map[string]bool{
			"10.0.0.5:443":  true,
			"10.0.0.5:22":   true,
			"10.0.0.5:9999": true,
		},
		hang: map[string]bool{"10.0.0.5:80": true},
	}
	counter := probeCounter{}
	prober := NewPortProber(dialer, PortOptions{
		Ports:   []int{443, 80, 9999, 22, 23},
		Timeout: 20 * time.Millisecond,
		Workers: 2,
	}, nil).WithObserver(counter)

	open := prober.Probe(context.Background(), netip.MustParseAddr("10.0.0.5"))

	assert.Equal(t, []records.PortResult{
		{Port: 22, Service: "ssh", Protocol: "tcp"},
		{Port: 443, Service: "https", Protocol: "tcp"},
		{Port: 9999, Service: "unknown", Protocol: "tcp"},
	}, open)
	assert.Len(t, dialer.dialed, 5)
	assert.Equal(t, probeCounter{"port/open": 3, "port/closed": 2}, counter)
}

func TestPortProbeDefaults(t *testing.T) {
	prober := NewPortProber(nil, PortOptions{}, nil)
	assert.Equal(t, DefaultPorts, prober.opts.Ports)
	assert.Equal(t, DefaultPortWorkers, prober.opts.Workers)
	assert.Equal(t, DefaultPortTimeout, prober.opts.Timeout)
}

func TestProbeHosts(t *testing.T) {
	dialer := &fakeDialer{open: map[string]bool{"10.0.0.1:53": true}}
	prober := NewPortProber(dialer, PortOptions{Ports: []int{53, 80}, Timeout: 20 * time.Millisecond}, nil)

	hosts := []records.NetworkHost{{IP: "10.0.0.1", Alive: true}, {IP: "10.0.0.2", Alive: true}}
	prober.ProbeHosts(context.Background(), hosts)

	assert.Equal(t, []records.PortResult{{Port: 53, Service: "dns", Protocol: "tcp"}}, hosts[0].OpenPorts)
	assert.Empty(t, hosts[1].OpenPorts)
}
