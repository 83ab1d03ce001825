// Package records defines the canonical device records every scanner emits
// and the envelope that carries them to the stores, the exporter and the API.
package records

import (
	"strings"
)

// ScanType names the domain an envelope was produced by.
type ScanType string

const (
	ScanNetwork   ScanType = "network"
	ScanWiFi      ScanType = "wifi"
	ScanBluetooth ScanType = "bluetooth"
	ScanCombined  ScanType = "combined"
)

// ScanTypes lists the device-producing scan types in display order.
var ScanTypes = []ScanType{ScanNetwork, ScanWiFi, ScanBluetooth}

// ParseScanType validates a scan type name.
func ParseScanType(s string) (ScanType, bool) {
	st := ScanType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ScanTypes {
		if st == known {
			return st, true
		}
	}
	return st, false
}

// Placeholder names emitted when a tool reports no usable name.
const (
	UnknownName = "<unknown>"
	HiddenSSID  = "<hidden>"
)

// IsPlaceholder reports whether name carries no information and may be
// replaced by a later, real name for the same address.
func IsPlaceholder(name string) bool {
	switch strings.TrimSpace(name) {
	case "", UnknownName, HiddenSSID, "(unknown)":
		return true
	}
	return false
}

// DeviceRecord is implemented by every record variant.
type DeviceRecord interface {
	// Address is the canonical identity: IP for hosts, BSSID for WiFi
	// networks, MAC for Bluetooth devices.
	Address() string
	// DisplayName is the human-readable name, possibly a placeholder.
	DisplayName() string
	// ScanType is the domain that produces this variant.
	ScanType() ScanType
}

// Ptr returns a pointer to v, for populating optional fields.
func Ptr[T any](v T) *T {
	return &v
}

// NormalizeMAC upper-cases a MAC-like address and uses colon separators.
func NormalizeMAC(addr string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(addr), "-", ":"))
}

// PortResult is an open TCP port on a host.
type PortResult struct {
	Port     int    `json:"port"`
	Service  string `json:"service"`
	Protocol string `json:"protocol"`
}

// NetworkHost is a host that answered the liveness sweep.
type NetworkHost struct {
	IP        string       `json:"ip"`
	Alive     bool         `json:"alive"`
	LatencyMS *float64     `json:"latency_ms"`
	Hostname  *string      `json:"hostname"`
	MAC       string       `json:"mac,omitempty"`
	OpenPorts []PortResult `json:"open_ports,omitempty"`
}

func (h NetworkHost) Address() string    { return h.IP }
func (h NetworkHost) ScanType() ScanType { return ScanNetwork }

func (h NetworkHost) DisplayName() string {
	if h.Hostname == nil {
		return ""
	}
	return *h.Hostname
}

// SetDisplayName replaces the hostname.
func (h *NetworkHost) SetDisplayName(name string) { h.Hostname = &name }

// Security is the coarse WiFi security classification.
type Security string

const (
	SecurityOpen    Security = "Open"
	SecuritySecured Security = "Secured"
)

// Encryption markers.
const (
	EncWPA  = "WPA"
	EncWPA2 = "WPA2"
	EncWPA3 = "WPA3"
	EncWEP  = "WEP"
)

// WifiNetwork is a BSS seen by a wireless scan.
type WifiNetwork struct {
	BSSID         string   `json:"bssid"`
	SSID          string   `json:"ssid"`
	FrequencyMHz  *int     `json:"frequency_mhz"`
	Channel       *int     `json:"channel"`
	SignalDBM     *float64 `json:"signal_dbm"`
	SignalQuality *int     `json:"signal_quality_pct"`
	Security      Security `json:"security"`
	Encryption    []string `json:"encryption"`
}

func (w WifiNetwork) Address() string     { return w.BSSID }
func (w WifiNetwork) DisplayName() string { return w.SSID }
func (w WifiNetwork) ScanType() ScanType  { return ScanWiFi }

// SetDisplayName replaces the SSID.
func (w *WifiNetwork) SetDisplayName(name string) { w.SSID = name }

// AddEncryption appends an encryption marker once and marks the network secured.
func (w *WifiNetwork) AddEncryption(marker string) {
	w.Security = SecuritySecured
	for _, e := range w.Encryption {
		if e == marker {
			return
		}
	}
	w.Encryption = append(w.Encryption, marker)
}

// HasEncryption reports whether marker has been recorded.
func (w WifiNetwork) HasEncryption(marker string) bool {
	for _, e := range w.Encryption {
		if e == marker {
			return true
		}
	}
	return false
}

// BluetoothKind distinguishes classic inquiry results from LE advertisers.
type BluetoothKind string

const (
	KindClassic BluetoothKind = "Classic"
	KindBLE     BluetoothKind = "BLE"
	KindUnknown BluetoothKind = "Unknown"
)

// BluetoothDevice is a device seen by a Bluetooth scan.
type BluetoothDevice struct {
	MAC         string        `json:"address"`
	Name        string        `json:"name"`
	Kind        BluetoothKind `json:"kind"`
	RSSI        *int          `json:"rssi"`
	DeviceClass *int          `json:"device_class"`
	DeviceType  string        `json:"device_type"`
}

func (d BluetoothDevice) Address() string     { return d.MAC }
func (d BluetoothDevice) DisplayName() string { return d.Name }
func (d BluetoothDevice) ScanType() ScanType  { return ScanBluetooth }

// SetDisplayName replaces the device name.
func (d *BluetoothDevice) SetDisplayName(name string) { d.Name = name }

// GenericRecord holds a record of a scan type this build does not know.
type GenericRecord struct {
	Type   ScanType
	Fields map[string]any
}

func (g GenericRecord) ScanType() ScanType { return g.Type }

func (g GenericRecord) Address() string {
	return g.firstString("address", "ip", "bssid", "mac")
}

func (g GenericRecord) DisplayName() string {
	return g.firstString("name", "hostname", "ssid")
}

func (g GenericRecord) firstString(keys ...string) string {
	for _, k := range keys {
		if s, ok := g.Fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
