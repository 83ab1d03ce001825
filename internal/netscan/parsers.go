package netscan

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/parse"
	"github.com/anstrom/reconradar/internal/records"
)

type ipJSONAddr struct {
	Family    string `json:"family"`
	Local     string `json:"local"`
	PrefixLen int    `json:"prefixlen"`
	Broadcast string `json:"broadcast"`
}

type ipJSONLink struct {
	IfName    string       `json:"ifname"`
	OperState string       `json:"operstate"`
	Address   string       `json:"address"`
	AddrInfo  []ipJSONAddr `json:"addr_info"`
}

// ParseIPJSON parses "ip -j addr show".
func ParseIPJSON(output string) ([]Interface, error) {
	var links []ipJSONLink
	if err := json.Unmarshal([]byte(output), &links); err != nil {
		return nil, errors.ErrParseFailure("ip -j addr show", err)
	}

	ifaces := make([]Interface, 0, len(links))
	for _, l := range links {
		iface := Interface{
			Name:  l.IfName,
			State: strings.ToUpper(l.OperState),
			MAC:   normalizeMAC(l.Address),
			IPv4:  []IPv4Addr{},
			IPv6:  []IPv6Addr{},
		}
		if iface.Name == "" {
			iface.Name = "unknown"
		}
		if iface.State == "" {
			iface.State = "UNKNOWN"
		}
		for _, a := range l.AddrInfo {
			switch a.Family {
			case "inet":
				iface.IPv4 = append(iface.IPv4, IPv4Addr{Address: a.Local, Prefix: a.PrefixLen, Broadcast: a.Broadcast})
			case "inet6":
				iface.IPv6 = append(iface.IPv6, IPv6Addr{Address: a.Local, Prefix: a.PrefixLen})
			}
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces, nil
}

var (
	ipAddrStart = regexp.MustCompile(`^\d+:\s+([^:@\s]+)(?:@\S+)?:`)
	ipAddrState = regexp.MustCompile(`\bstate\s+(UP|DOWN)\b`)
	ipAddrLink  = regexp.MustCompile(`link/\S+\s+([0-9a-fA-F]{2}(?::[0-9a-fA-F]{2}){5})`)
	ipAddrInet  = regexp.MustCompile(`\binet\s+(\d+\.\d+\.\d+\.\d+)/(\d+)(?:\s+brd\s+(\d+\.\d+\.\d+\.\d+))?`)
	ipAddrInet6 = regexp.MustCompile(`\binet6\s+([0-9a-fA-F:]+)/(\d+)`)
)

// ParseIPAddr parses the text form of "ip addr show".
func ParseIPAddr(output string) []Interface {
	m := parse.New(
		func(line string) (*Interface, bool) {
			g := ipAddrStart.FindStringSubmatch(line)
			if g == nil {
				return nil, false
			}
			iface := &Interface{Name: g[1], State: "UNKNOWN", IPv4: []IPv4Addr{}, IPv6: []IPv6Addr{}}
			if s := ipAddrState.FindStringSubmatch(line); s != nil {
				iface.State = s[1]
			}
			return iface, true
		},
		parse.Match(ipAddrLink, func(iface *Interface, g []string) {
			parse.SetString(&iface.MAC, normalizeMAC(g[1]))
		}),
		parse.Match(ipAddrInet, func(iface *Interface, g []string) {
			prefix, _ := strconv.Atoi(g[2])
			iface.IPv4 = append(iface.IPv4, IPv4Addr{Address: g[1], Prefix: prefix, Broadcast: g[3]})
		}),
		parse.Match(ipAddrInet6, func(iface *Interface, g []string) {
			prefix, _ := strconv.Atoi(g[2])
			iface.IPv6 = append(iface.IPv6, IPv6Addr{Address: g[1], Prefix: prefix})
		}),
	)
	return parse.Run(m, output)
}

var neighborStates = map[string]bool{
	"REACHABLE": true, "STALE": true, "DELAY": true, "PROBE": true, "FAILED": true, "PERMANENT": true,
}

// ParseNeighbors parses "ip neigh show". Entries without a link-layer
// address are skipped.
func ParseNeighbors(output string) []NeighborEntry {
	entries := []NeighborEntry{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		entry := NeighborEntry{IP: fields[0], State: "unknown"}
		for i, f := range fields {
			if f == "lladdr" && i+1 < len(fields) {
				entry.MAC = normalizeMAC(fields[i+1])
			}
			if neighborStates[f] {
				entry.State = f
			}
		}
		if entry.MAC != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}

const zeroMAC = "00:00:00:00:00:00"

// ParseProcARP parses /proc/net/arp.
func ParseProcARP(content string) []NeighborEntry {
	entries := []NeighborEntry{}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[3] == zeroMAC {
			continue
		}
		entries = append(entries, NeighborEntry{IP: fields[0], MAC: normalizeMAC(fields[3]), State: "ARP"})
	}
	return entries
}

// ParseDefaultRoute parses "ip route show default".
func ParseDefaultRoute(output string) (Gateway, bool) {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "default" || fields[1] != "via" {
			continue
		}
		gw := Gateway{IP: fields[2]}
		for i, f := range fields {
			if f == "dev" && i+1 < len(fields) {
				gw.Interface = fields[i+1]
				break
			}
		}
		return gw, true
	}
	return Gateway{}, false
}

// ParseProcRoute finds the default route in /proc/net/route, whose
// addresses are little-endian hex.
func ParseProcRoute(content string) (Gateway, bool) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		raw, err := hex.DecodeString(fields[2])
		if err != nil || len(raw) != 4 {
			continue
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], binary.LittleEndian.Uint32(raw))
		addr := netip.AddrFrom4(b)
		if addr.IsUnspecified() {
			continue
		}
		return Gateway{IP: addr.String(), Interface: fields[0]}, true
	}
	return Gateway{}, false
}

// ParseResolvConf returns the nameservers listed in resolv.conf.
func ParseResolvConf(content string) []string {
	servers := []string{}
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "nameserver" {
			servers = append(servers, fields[1])
		}
	}
	return servers
}

func normalizeMAC(s string) string {
	if s == "" {
		return ""
	}
	return records.NormalizeMAC(s)
}
