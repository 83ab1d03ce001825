// Package wifi discovers nearby wireless networks. Each wireless interface is
// scanned with iw, then iwlist, then optionally wpa_cli, then the Termux API,
// stopping at the first source that reports any network.
package wifi

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/anstrom/reconradar/internal/convert"
	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/parse"
	"github.com/anstrom/reconradar/internal/records"
)

// Connection is the link an interface is currently associated with.
type Connection struct {
	BSSID        string `json:"bssid"`
	SSID         string `json:"ssid,omitempty"`
	FrequencyMHz *int   `json:"frequency_mhz,omitempty"`
	SignalDBM    *int   `json:"signal_dbm,omitempty"`
}

// bss is a network being parsed. privacy is the WEP hint that only applies
// when no WPA or RSN element turned up by the end of the record.
type bss struct {
	net     records.WifiNetwork
	privacy bool
}

func newBSS(addr string) *bss {
	return &bss{net: records.WifiNetwork{
		BSSID:      records.NormalizeMAC(addr),
		Security:   records.SecurityOpen,
		Encryption: []string{},
	}}
}

func (b *bss) setSSID(ssid string) {
	if ssid == "" {
		ssid = records.HiddenSSID
	}
	parse.SetString(&b.net.SSID, ssid)
}

func (b *bss) setFrequency(mhz int) {
	if b.net.FrequencyMHz != nil {
		return
	}
	parse.SetOnce(&b.net.FrequencyMHz, mhz)
	if ch, ok := convert.FreqToChannel(mhz); ok {
		parse.SetOnce(&b.net.Channel, ch)
	}
}

func (b *bss) setSignal(dbm float64) {
	if b.net.SignalDBM != nil {
		return
	}
	parse.SetOnce(&b.net.SignalDBM, dbm)
	parse.SetOnce(&b.net.SignalQuality, convert.DBMToQuality(dbm))
}

func finishBSS(b *bss) error {
	if b.privacy && len(b.net.Encryption) == 0 {
		b.net.AddEncryption(records.EncWEP)
	}
	if b.net.SSID == "" {
		b.net.SSID = records.HiddenSSID
	}
	return nil
}

func networksOf(parsed []bss) []records.WifiNetwork {
	out := make([]records.WifiNetwork, 0, len(parsed))
	for _, b := range parsed {
		out = append(out, b.net)
	}
	return out
}

var (
	iwBSS        = regexp.MustCompile(`^BSS\s+([0-9a-fA-F:]{17})`)
	iwSSID       = regexp.MustCompile(`^\s*SSID:\s?(.*)$`)
	iwFreq       = regexp.MustCompile(`^\s*freq:\s*(\d+)`)
	iwSignal     = regexp.MustCompile(`^\s*signal:\s*(-?\d+(?:\.\d+)?)\s*dBm`)
	iwWPA        = regexp.MustCompile(`^\s*WPA:`)
	iwRSN        = regexp.MustCompile(`^\s*RSN:`)
	iwAuthSAE    = regexp.MustCompile(`Authentication suites:.*\bSAE\b`)
	iwCapability = regexp.MustCompile(`^\s*capability:.*\bPrivacy\b`)
)

// ParseIWScan parses "iw <if> scan dump" output.
func ParseIWScan(output string) []records.WifiNetwork {
	m := parse.New(
		parse.StartMatch(iwBSS, func(g []string) *bss { return newBSS(g[1]) }),
		parse.Match(iwSSID, func(b *bss, g []string) { b.setSSID(strings.TrimSpace(g[1])) }),
		parse.Match(iwFreq, func(b *bss, g []string) {
			mhz, _ := strconv.Atoi(g[1])
			b.setFrequency(mhz)
		}),
		parse.Match(iwSignal, func(b *bss, g []string) {
			dbm, _ := strconv.ParseFloat(g[1], 64)
			b.setSignal(dbm)
		}),
		parse.Match(iwWPA, func(b *bss, _ []string) { b.net.AddEncryption(records.EncWPA) }),
		parse.Match(iwRSN, func(b *bss, _ []string) { b.net.AddEncryption(records.EncWPA2) }),
		parse.Match(iwAuthSAE, func(b *bss, _ []string) { b.net.AddEncryption(records.EncWPA3) }),
		parse.Match(iwCapability, func(b *bss, _ []string) { b.privacy = true }),
	).WithFinish(finishBSS)
	return networksOf(parse.Run(m, output))
}

var (
	iwlistCell     = regexp.MustCompile(`^\s*Cell\s+\d+\s+-\s+Address:\s*([0-9a-fA-F:]{17})`)
	iwlistESSID    = regexp.MustCompile(`^\s*ESSID:"(.*)"`)
	iwlistChannel  = regexp.MustCompile(`^\s*Channel:(\d+)`)
	iwlistFreq     = regexp.MustCompile(`^\s*Frequency:(\d+(?:\.\d+)?)\s*GHz(?:.*Channel\s+(\d+))?`)
	iwlistSignal   = regexp.MustCompile(`Signal level[=:]\s*(-?\d+)\s*dBm`)
	iwlistQuality  = regexp.MustCompile(`Quality[=:]\s*(\d+)/(\d+)`)
	iwlistKey      = regexp.MustCompile(`^\s*Encryption key:(on|off)`)
	iwlistWPA      = regexp.MustCompile(`IE:\s*WPA Version 1`)
	iwlistWPA2     = regexp.MustCompile(`IE:\s*IEEE 802\.11i/WPA2`)
	iwlistSuiteSAE = regexp.MustCompile(`Authentication Suites.*:.*\bSAE\b`)
)

// ParseIWList parses "iwlist <if> scan" output.
func ParseIWList(output string) []records.WifiNetwork {
	m := parse.New(
		parse.StartMatch(iwlistCell, func(g []string) *bss { return newBSS(g[1]) }),
		parse.Match(iwlistESSID, func(b *bss, g []string) { b.setSSID(g[1]) }),
		parse.Match(iwlistChannel, func(b *bss, g []string) {
			ch, _ := strconv.Atoi(g[1])
			parse.SetOnce(&b.net.Channel, ch)
			if mhz, ok := convert.ChannelToFreq(ch); ok {
				parse.SetOnce(&b.net.FrequencyMHz, mhz)
			}
		}),
		parse.Match(iwlistFreq, func(b *bss, g []string) {
			ghz, _ := strconv.ParseFloat(g[1], 64)
			b.setFrequency(int(math.Round(ghz * 1000)))
			if g[2] != "" {
				ch, _ := strconv.Atoi(g[2])
				parse.SetOnce(&b.net.Channel, ch)
			}
		}),
		iwlistLevels,
		parse.Match(iwlistKey, func(b *bss, g []string) {
			if g[1] == "on" {
				b.privacy = true
				b.net.Security = records.SecuritySecured
			}
		}),
		parse.Match(iwlistWPA, func(b *bss, _ []string) { b.net.AddEncryption(records.EncWPA) }),
		parse.Match(iwlistWPA2, func(b *bss, _ []string) { b.net.AddEncryption(records.EncWPA2) }),
		parse.Match(iwlistSuiteSAE, func(b *bss, _ []string) { b.net.AddEncryption(records.EncWPA3) }),
	).WithFinish(finishBSS)
	return networksOf(parse.Run(m, output))
}

// iwlistLevels handles "Quality=70/70  Signal level=-40 dBm", where either
// reading may be missing. The dBm reading decides the quality when present.
func iwlistLevels(b *bss, line string) bool {
	sig := iwlistSignal.FindStringSubmatch(line)
	q := iwlistQuality.FindStringSubmatch(line)
	if sig == nil && q == nil {
		return false
	}
	if sig != nil {
		dbm, _ := strconv.Atoi(sig[1])
		b.setSignal(float64(dbm))
	}
	if q != nil {
		num, _ := strconv.Atoi(q[1])
		den, _ := strconv.Atoi(q[2])
		if pct, ok := convert.RatioToQuality(num, den); ok {
			parse.SetOnce(&b.net.SignalQuality, pct)
		}
	}
	return true
}

// ParseWPAScanResults parses "wpa_cli -i <if> scan_results": a header line
// followed by tab-separated bssid, frequency, signal, flags and ssid.
func ParseWPAScanResults(output string) []records.WifiNetwork {
	networks := []records.WifiNetwork{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 4 {
			continue
		}
		addr := strings.TrimSpace(fields[0])
		if len(addr) != 17 || strings.Count(addr, ":") != 5 {
			continue
		}
		b := newBSS(addr)
		if mhz, err := strconv.Atoi(strings.TrimSpace(fields[1])); err == nil {
			b.setFrequency(mhz)
		}
		if dbm, err := strconv.Atoi(strings.TrimSpace(fields[2])); err == nil {
			b.setSignal(float64(dbm))
		}
		for _, enc := range convert.ParseCapabilities(fields[3]) {
			b.net.AddEncryption(enc)
		}
		ssid := ""
		if len(fields) > 4 {
			ssid = fields[4]
		}
		b.setSSID(ssid)
		networks = append(networks, b.net)
	}
	return networks
}

type termuxNetwork struct {
	BSSID        string   `json:"bssid"`
	SSID         string   `json:"ssid"`
	FrequencyMHz *int     `json:"frequency_mhz"`
	RSSI         *float64 `json:"rssi"`
	Capabilities string   `json:"capabilities"`
}

// ParseTermuxWifi parses "termux-wifi-scaninfo" JSON. A network counts as
// secured only when its capabilities name an encryption scheme.
func ParseTermuxWifi(output string) ([]records.WifiNetwork, error) {
	var raw []termuxNetwork
	if err := json.Unmarshal([]byte(output), &raw); err != nil {
		return nil, errors.ErrParseFailure("termux-wifi-scaninfo", err)
	}

	networks := make([]records.WifiNetwork, 0, len(raw))
	for _, n := range raw {
		if n.BSSID == "" {
			continue
		}
		b := newBSS(n.BSSID)
		b.setSSID(n.SSID)
		if n.FrequencyMHz != nil {
			b.setFrequency(*n.FrequencyMHz)
		}
		if n.RSSI != nil {
			b.setSignal(*n.RSSI)
		}
		for _, enc := range convert.ParseCapabilities(n.Capabilities) {
			b.net.AddEncryption(enc)
		}
		networks = append(networks, b.net)
	}
	return networks, nil
}

var (
	linkConnected = regexp.MustCompile(`Connected to ([0-9a-fA-F:]{17})`)
	linkSSID      = regexp.MustCompile(`SSID:\s*(.+)`)
	linkFreq      = regexp.MustCompile(`freq:\s*(\d+)`)
	linkSignal    = regexp.MustCompile(`signal:\s*(-?\d+)\s*dBm`)
)

// ParseIWLink parses "iw <if> link". It reports false when the interface is
// not associated.
func ParseIWLink(output string) (Connection, bool) {
	m := linkConnected.FindStringSubmatch(output)
	if m == nil {
		return Connection{}, false
	}
	conn := Connection{BSSID: records.NormalizeMAC(m[1])}
	if g := linkSSID.FindStringSubmatch(output); g != nil {
		conn.SSID = strings.TrimSpace(g[1])
	}
	if g := linkFreq.FindStringSubmatch(output); g != nil {
		if v, err := strconv.Atoi(g[1]); err == nil {
			conn.FrequencyMHz = &v
		}
	}
	if g := linkSignal.FindStringSubmatch(output); g != nil {
		if v, err := strconv.Atoi(g[1]); err == nil {
			conn.SignalDBM = &v
		}
	}
	return conn, true
}
