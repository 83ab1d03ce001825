package prober

import (
	"net/netip"
	"strings"

	"go4.org/netipx"

	"github.com/anstrom/reconradar/internal/errors"
)

// MaxTargetBits is the smallest prefix length swept as requested; larger
// networks are narrowed to their first /24.
const MaxTargetBits = 24

// TargetSet is the list of addresses a sweep will probe.
type TargetSet struct {
	// Requested is the network as given.
	Requested netip.Prefix
	// Effective is the network actually swept.
	Effective netip.Prefix
	Addrs     []netip.Addr
}

// Capped reports whether the requested network was narrowed.
func (t TargetSet) Capped() bool {
	return t.Requested != t.Effective
}

// ParseNetwork accepts "a.b.c.d/n" or a bare IPv4 address. Host bits are
// allowed and masked off.
func ParseNetwork(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	var (
		prefix netip.Prefix
		err    error
	)
	if strings.Contains(s, "/") {
		prefix, err = netip.ParsePrefix(s)
	} else {
		var addr netip.Addr
		addr, err = netip.ParseAddr(s)
		if err == nil {
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}
	}
	if err != nil {
		return netip.Prefix{}, errors.ErrInvalidTarget(s)
	}
	if !prefix.Addr().Unmap().Is4() {
		return netip.Prefix{}, errors.NewScanErrorWithTarget(errors.CodeTargetInvalid,
			"Only IPv4 networks can be swept", s)
	}
	return netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits()).Masked(), nil
}

// Targets expands a network into host addresses. Networks with more than 256
// addresses are narrowed to the first /24 of the network; the network and
// broadcast addresses are excluded for prefixes of /30 and shorter.
func Targets(network string) (TargetSet, error) {
	requested, err := ParseNetwork(network)
	if err != nil {
		return TargetSet{}, err
	}

	effective := requested
	if requested.Bits() < MaxTargetBits {
		effective = netip.PrefixFrom(requested.Addr(), MaxTargetBits).Masked()
	}

	r := netipx.RangeOfPrefix(effective)
	first, last := r.From(), r.To()
	if effective.Bits() <= 30 {
		first, last = first.Next(), last.Prev()
	}

	addrs := make([]netip.Addr, 0, 1<<(32-effective.Bits()))
	for a := first; a.IsValid() && a.Compare(last) <= 0; a = a.Next() {
		addrs = append(addrs, a)
	}

	return TargetSet{Requested: requested, Effective: effective, Addrs: addrs}, nil
}
