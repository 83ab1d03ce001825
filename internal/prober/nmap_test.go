package prober

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/records"
)

func nmapHost(state, ip, mac, hostname string) nmap.Host {
	h := nmap.Host{
		Status:    nmap.Status{State: state},
		Addresses: []nmap.Address{{Addr: ip, AddrType: "ipv4"}},
	}
	if mac != "" {
		h.Addresses = append(h.Addresses, nmap.Address{Addr: mac, AddrType: "mac"})
	}
	if hostname != "" {
		h.Hostnames = []nmap.Hostname{{Name: hostname}}
	}
	return h
}

func TestConvertNmapHosts(t *testing.T) {
	targets := []netip.Addr{netip.MustParseAddr("192.168.1.1"), netip.MustParseAddr("192.168.1.20")}
	run := &nmap.Run{Hosts: []nmap.Host{
		nmapHost("up", "192.168.1.20", "aa:bb:cc:dd:ee:ff", ""),
		nmapHost("down", "192.168.1.30", "", ""),
		nmapHost("up", "192.168.1.1", "", "gateway.lan"),
		nmapHost("up", "192.168.1.99", "", "not-requested"),
	}}

	hosts := convertNmapHosts(run, targets)

	require.Len(t, hosts, 2)
	assert.Equal(t, "192.168.1.20", hosts[0].IP)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", hosts[0].MAC)
	assert.Nil(t, hosts[0].Hostname)
	assert.Equal(t, records.Ptr("gateway.lan"), hosts[1].Hostname)

	assert.Empty(t, convertNmapHosts(nil, targets))
}

func TestNmapSweep(t *testing.T) {
	sweeper := NewNmapSweeper(time.Second, staticResolver{"192.168.1.20": "tv.lan"}, nil)
	var gotOpts int
	sweeper.run = func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
		gotOpts = len(opts)
		return &nmap.Run{Hosts: []nmap.Host{
			nmapHost("up", "192.168.1.20", "", ""),
			nmapHost("up", "192.168.1.1", "", "gateway.lan"),
		}}, nil
	}

	hosts := sweeper.Sweep(context.Background(), []netip.Addr{
		netip.MustParseAddr("192.168.1.1"),
		netip.MustParseAddr("192.168.1.20"),
	})

	assert.Equal(t, 3, gotOpts)
	require.Len(t, hosts, 2)
	assert.Equal(t, "192.168.1.1", hosts[0].IP)
	assert.Equal(t, "gateway.lan", *hosts[0].Hostname)
	assert.Equal(t, "tv.lan", *hosts[1].Hostname)
}

func TestNmapSweepFailure(t *testing.T) {
	sweeper := NewNmapSweeper(time.Second, nil, nil)
	sweeper.run = func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
		return nil, errors.ErrToolUnavailable("nmap", nil, nil)
	}
	hosts := sweeper.Sweep(context.Background(), []netip.Addr{netip.MustParseAddr("10.0.0.1")})
	assert.NotNil(t, hosts)
	assert.Empty(t, hosts)
}

func TestBuildPingScanOptions(t *testing.T) {
	assert.Len(t, buildPingScanOptions([]string{"10.0.0.1"}, 500*time.Millisecond), 3)
	assert.Len(t, buildPingScanOptions([]string{"10.0.0.1", "10.0.0.2"}, 10*time.Second), 3)
}
