package prober

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/logging"
	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/runner/runnertest"
)

const pingReplyOutput = `PING 192.168.1.1 (192.168.1.1) 56(84) bytes of data.
64 bytes from 192.168.1.1: icmp_seq=1 ttl=64 time=0.412 ms

--- 192.168.1.1 ping statistics ---
1 packets transmitted, 1 received, 0% packet loss, time 0ms
rtt min/avg/max/mdev = 0.412/0.412/0.412/0.000 ms
`

func TestParseLatency(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   float64
		ok     bool
	}{
		{"linux iputils", pingReplyOutput, 0.412, true},
		{"integer", "64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=12 ms", 12, true},
		{"busybox sub-millisecond", "64 bytes from 10.0.0.1: seq=0 ttl=64 time<1 ms", 1, true},
		{"no reply", "1 packets transmitted, 0 received, 100% packet loss", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLatency(tt.output)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

type staticResolver map[string]string

func (s staticResolver) LookupName(ctx context.Context, ip string) (string, error) {
	if name, ok := s[ip]; ok {
		return name, nil
	}
	return "", ErrNoName
}

type probeCounter map[string]int

func (p probeCounter) AddProbes(kind, outcome string, count int) {
	p[kind+"/"+outcome] += count
}

func TestPingSweep(t *testing.T) {
	fake := runnertest.New().
		OnOutput("ping -c 1 -W 1 192.168.1.10", "64 bytes from 192.168.1.10: icmp_seq=1 ttl=64 time=3.5 ms\n").
		OnOutput("ping -c 1 -W 1 192.168.1.1", pingReplyOutput).
		OnFailure("ping -c 1 -W 1 192.168.1.2", 1, "").
		On("ping -c 1 -W 1 192.168.1.3", runnertest.Response{Delay: time.Second})

	targets := []netip.Addr{
		netip.MustParseAddr("192.168.1.10"),
		netip.MustParseAddr("192.168.1.3"),
		netip.MustParseAddr("192.168.1.2"),
		netip.MustParseAddr("192.168.1.1"),
		netip.MustParseAddr("192.168.1.4"),
	}
	counter := probeCounter{}
	sweeper := NewPingSweeper(fake, PingOptions{Timeout: 20 * time.Millisecond, Grace: 20 * time.Millisecond, Workers: 3},
		staticResolver{"192.168.1.1": "router.lan"}, logging.NewDiscard().Logger).WithObserver(counter)

	hosts := sweeper.Sweep(context.Background(), targets)

	require.Len(t, hosts, 2)
	assert.Equal(t, "192.168.1.1", hosts[0].IP)
	assert.True(t, hosts[0].Alive)
	require.NotNil(t, hosts[0].LatencyMS)
	assert.InDelta(t, 0.412, *hosts[0].LatencyMS, 1e-9)
	assert.Equal(t, records.Ptr("router.lan"), hosts[0].Hostname)

	assert.Equal(t, "192.168.1.10", hosts[1].IP)
	assert.Nil(t, hosts[1].Hostname)

	assert.Equal(t, probeCounter{"host/up": 2, "host/down": 3}, counter)
	assert.Len(t, fake.CallsWithPrefix("ping "), len(targets))
}

func TestPingSweepEmpty(t *testing.T) {
	sweeper := NewPingSweeper(runnertest.New(), PingOptions{}, nil, nil)
	hosts := sweeper.Sweep(context.Background(), nil)
	assert.NotNil(t, hosts)
	assert.Empty(t, hosts)
}
