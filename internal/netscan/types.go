// Package netscan inventories the local network: interfaces, default
// gateway, neighbor table, socket statistics and DNS servers, and sweeps the
// attached IPv4 networks for live hosts.
package netscan

// IPv4Addr is an IPv4 address assigned to an interface.
type IPv4Addr struct {
	Address   string `json:"address"`
	Prefix    int    `json:"prefix"`
	Broadcast string `json:"broadcast,omitempty"`
}

// IPv6Addr is an IPv6 address assigned to an interface.
type IPv6Addr struct {
	Address string `json:"address"`
	Prefix  int    `json:"prefix"`
}

// Interface is a network interface and its addresses.
type Interface struct {
	Name  string     `json:"name"`
	State string     `json:"state"`
	MAC   string     `json:"mac,omitempty"`
	IPv4  []IPv4Addr `json:"ipv4"`
	IPv6  []IPv6Addr `json:"ipv6"`
}

// Up reports whether the interface is operationally up.
func (i Interface) Up() bool {
	return i.State == "UP"
}

// NeighborEntry maps an IP address to a link-layer address.
type NeighborEntry struct {
	IP    string `json:"ip"`
	MAC   string `json:"mac"`
	State string `json:"state"`
}

// Gateway is the default route.
type Gateway struct {
	IP        string `json:"ip"`
	Interface string `json:"interface,omitempty"`
}

// Stats holds host-wide network statistics.
type Stats struct {
	SocketStats string   `json:"socket_stats,omitempty"`
	DNSServers  []string `json:"dns_servers"`
}
