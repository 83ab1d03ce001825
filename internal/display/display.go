// Package display renders scan envelopes as terminal tables.
package display

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/reconradar/internal/records"
)

const timeLayout = "2006-01-02 15:04:05"

// Summary writes a one-line header, the device table and any warnings or
// errors carried by env.
func Summary(w io.Writer, env records.Envelope) error {
	fmt.Fprintf(w, "%s scan at %s: %d device(s)\n", titleOf(env.ScanType), formatTimestamp(env.Timestamp), env.Count)

	if env.Count > 0 {
		if err := Devices(w, env); err != nil {
			return err
		}
	}
	for _, e := range env.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
	for _, warn := range env.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	return nil
}

// Devices writes the device table for env.
func Devices(w io.Writer, env records.Envelope) error {
	table := tablewriter.NewWriter(w)

	switch env.ScanType {
	case records.ScanNetwork:
		table.Header("IP", "Hostname", "MAC", "Latency", "Open Ports")
		for _, h := range records.ItemsOf[records.NetworkHost](env) {
			_ = table.Append([]string{h.IP, orDash(h.DisplayName()), orDash(h.MAC), latency(h.LatencyMS), ports(h.OpenPorts)})
		}

	case records.ScanWiFi:
		table.Header("SSID", "BSSID", "Channel", "Signal", "Quality", "Security")
		for _, n := range records.ItemsOf[records.WifiNetwork](env) {
			_ = table.Append([]string{
				orDash(n.SSID),
				n.BSSID,
				intOrDash(n.Channel),
				signal(n.SignalDBM),
				quality(n.SignalQuality),
				security(n),
			})
		}

	case records.ScanBluetooth:
		table.Header("Address", "Name", "Kind", "RSSI", "Type")
		for _, d := range records.ItemsOf[records.BluetoothDevice](env) {
			_ = table.Append([]string{d.MAC, orDash(d.Name), string(d.Kind), intOrDash(d.RSSI), orDash(d.DeviceType)})
		}

	default:
		table.Header("Address", "Name")
		for _, rec := range env.Data {
			_ = table.Append([]string{orDash(rec.Address()), orDash(rec.DisplayName())})
		}
	}

	return table.Render()
}

// Scans writes one row per stored envelope.
func Scans(w io.Writer, envs []records.Envelope) error {
	table := tablewriter.NewWriter(w)
	table.Header("Type", "Timestamp", "Devices", "Warnings", "Errors")

	for _, env := range envs {
		_ = table.Append([]string{
			string(env.ScanType),
			formatTimestamp(env.Timestamp),
			strconv.Itoa(env.Count),
			strconv.Itoa(len(env.Warnings)),
			strconv.Itoa(len(env.Errors)),
		})
	}

	return table.Render()
}

func titleOf(t records.ScanType) string {
	switch t {
	case records.ScanNetwork:
		return "Network"
	case records.ScanWiFi:
		return "WiFi"
	case records.ScanBluetooth:
		return "Bluetooth"
	default:
		return string(t)
	}
}

func formatTimestamp(ts string) string {
	t, err := records.ParseTimestamp(ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(timeLayout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func latency(ms *float64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms * float64(time.Millisecond))).Round(10 * time.Microsecond).String()
}

func signal(dbm *float64) string {
	if dbm == nil {
		return "-"
	}
	return strconv.FormatFloat(*dbm, 'f', -1, 64) + " dBm"
}

func quality(pct *int) string {
	if pct == nil {
		return "-"
	}
	return strconv.Itoa(*pct) + "%"
}

func security(n records.WifiNetwork) string {
	if len(n.Encryption) == 0 {
		return string(n.Security)
	}
	return string(n.Security) + " (" + strings.Join(n.Encryption, "/") + ")"
}

func ports(open []records.PortResult) string {
	if len(open) == 0 {
		return "-"
	}
	parts := make([]string, len(open))
	for i, p := range open {
		parts[i] = strconv.Itoa(p.Port)
		if p.Service != "" {
			parts[i] += "/" + p.Service
		}
	}
	return strings.Join(parts, ", ")
}
