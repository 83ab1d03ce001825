package records

import (
	"cmp"
	"math"
	"net/netip"
	"slices"
)

// SortHosts orders hosts by numeric address ascending. Unparseable
// addresses sort last, by string.
func SortHosts(hosts []NetworkHost) {
	slices.SortStableFunc(hosts, func(a, b NetworkHost) int {
		return CompareIP(a.IP, b.IP)
	})
}

// CompareIP compares two textual IP addresses numerically.
func CompareIP(a, b string) int {
	ipA, errA := netip.ParseAddr(a)
	ipB, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		return ipA.Compare(ipB)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

// missingSignal ranks networks without a signal reading below any reading.
var missingSignal = math.Inf(-1)

// SortNetworks orders networks by signal strength, strongest first.
func SortNetworks(networks []WifiNetwork) {
	slices.SortStableFunc(networks, func(a, b WifiNetwork) int {
		return cmp.Compare(signalOf(b), signalOf(a))
	})
}

func signalOf(w WifiNetwork) float64 {
	if w.SignalDBM == nil {
		return missingSignal
	}
	return *w.SignalDBM
}

// SortPorts orders open ports ascending.
func SortPorts(ports []PortResult) {
	slices.SortFunc(ports, func(a, b PortResult) int { return cmp.Compare(a.Port, b.Port) })
}
