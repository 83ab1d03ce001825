package adapters

import (
	"regexp"

	"github.com/anstrom/reconradar/internal/parse"
	"github.com/anstrom/reconradar/internal/records"
)

var (
	ipLinkLine   = regexp.MustCompile(`^\d+:\s+([^:@\s]+)(?:@\S+)?:\s+<([^>]*)>`)
	ipLinkState  = regexp.MustCompile(`\bstate\s+(\S+)`)
	ipLinkAddr   = regexp.MustCompile(`link/\S+\s+([0-9a-fA-F]{2}(?::[0-9a-fA-F]{2}){5})`)
	iwInterface  = regexp.MustCompile(`^\s*Interface\s+(\S+)`)
	iwAddr       = regexp.MustCompile(`^\s*addr\s+([0-9a-fA-F:]{17})`)
	hciAdapter   = regexp.MustCompile(`^(hci\d+):`)
	hciBDAddress = regexp.MustCompile(`BD Address:\s*([0-9A-Fa-f:]{17})`)
	hciStateLine = regexp.MustCompile(`^\s+(UP|DOWN)\b`)
)

// ParseIPLink parses "ip -o link show", one adapter per line.
func ParseIPLink(output string) []Info {
	m := parse.New[Info](func(line string) (*Info, bool) {
		g := ipLinkLine.FindStringSubmatch(line)
		if g == nil {
			return nil, false
		}
		info := &Info{Name: g[1], State: StateUnknown}
		if s := ipLinkState.FindStringSubmatch(line); s != nil {
			info.State = ParseState(s[1])
		}
		if a := ipLinkAddr.FindStringSubmatch(line); a != nil {
			info.Address = records.NormalizeMAC(a[1])
		}
		return info, true
	})
	return parse.Run(m, output)
}

// ParseIWDev parses "iw dev".
func ParseIWDev(output string) []Info {
	m := parse.New(
		parse.StartMatch(iwInterface, func(g []string) *Info {
			return &Info{Name: g[1], State: StateUnknown}
		}),
		parse.Match(iwAddr, func(info *Info, g []string) {
			parse.SetString(&info.Address, records.NormalizeMAC(g[1]))
		}),
	)
	return parse.Run(m, output)
}

// ParseHciconfig parses "hciconfig -a".
func ParseHciconfig(output string) []Info {
	m := parse.New(
		parse.StartMatch(hciAdapter, func(g []string) *Info {
			return &Info{Name: g[1], State: StateUnknown}
		}),
		parse.Match(hciBDAddress, func(info *Info, g []string) {
			parse.SetString(&info.Address, records.NormalizeMAC(g[1]))
		}),
		parse.Match(hciStateLine, func(info *Info, g []string) {
			if info.State == StateUnknown {
				info.State = ParseState(g[1])
			}
		}),
	)
	return parse.Run(m, output)
}
