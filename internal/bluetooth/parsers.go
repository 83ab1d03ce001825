// Package bluetooth discovers nearby Bluetooth devices: a classic inquiry
// and an LE scan on every adapter, with bluetoothctl and the Termux API as
// fallbacks when the adapters report nothing.
package bluetooth

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/anstrom/reconradar/internal/convert"
	"github.com/anstrom/reconradar/internal/dedupe"
	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/records"
)

// DeviceTypeBLE is the device type of LE advertisers, which carry no class.
const DeviceTypeBLE = "BLE Device"

var (
	addressLine     = regexp.MustCompile(`^\s*([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})\s*(.*)$`)
	deviceClassLine = regexp.MustCompile(`Device Class:\s*0x([0-9a-fA-F]+)`)
	ctlDeviceLine   = regexp.MustCompile(`^\s*Device\s+([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})\s*(.*)$`)
)

func deviceName(name string) string {
	name = strings.TrimSpace(name)
	if records.IsPlaceholder(name) {
		return records.UnknownName
	}
	return name
}

// ParseHcitoolScan parses "hcitool scan": a header followed by address and
// name pairs. Devices without a class get the Unknown type until their
// class is looked up.
func ParseHcitoolScan(output string) []records.BluetoothDevice {
	devices := []records.BluetoothDevice{}
	for _, line := range strings.Split(output, "\n") {
		g := addressLine.FindStringSubmatch(line)
		if g == nil {
			continue
		}
		devices = append(devices, records.BluetoothDevice{
			MAC:        records.NormalizeMAC(g[1]),
			Name:       deviceName(g[2]),
			Kind:       records.KindClassic,
			DeviceType: convert.UnknownClass,
		})
	}
	return devices
}

// ParseDeviceClass extracts the class-of-device from "hcitool info".
func ParseDeviceClass(output string) (int, bool) {
	g := deviceClassLine.FindStringSubmatch(output)
	if g == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(g[1], 16, 32)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// SetClass records a class-of-device and the type it describes.
func SetClass(d *records.BluetoothDevice, class int) {
	d.DeviceClass = records.Ptr(class)
	d.DeviceType = convert.ClassifyBluetoothClass(class)
}

// ParseLEScan parses the advertisements streamed by "hcitool lescan
// --duplicates". An address is reported once, in order of first sighting;
// a later advertisement can supply the name an earlier one lacked.
func ParseLEScan(output string) []records.BluetoothDevice {
	var seen []records.BluetoothDevice
	for _, line := range strings.Split(output, "\n") {
		g := addressLine.FindStringSubmatch(line)
		if g == nil {
			continue
		}
		seen = append(seen, records.BluetoothDevice{
			MAC:        records.NormalizeMAC(g[1]),
			Name:       deviceName(g[2]),
			Kind:       records.KindBLE,
			DeviceType: DeviceTypeBLE,
		})
	}
	return dedupe.Merge(seen)
}

// ParseBluetoothctlDevices parses "bluetoothctl devices". Unnamed devices
// are listed with their address in dashed form as the name.
func ParseBluetoothctlDevices(output string) []records.BluetoothDevice {
	devices := []records.BluetoothDevice{}
	for _, line := range strings.Split(output, "\n") {
		g := ctlDeviceLine.FindStringSubmatch(line)
		if g == nil {
			continue
		}
		addr := records.NormalizeMAC(g[1])
		name := deviceName(g[2])
		if records.NormalizeMAC(name) == addr {
			name = records.UnknownName
		}
		devices = append(devices, records.BluetoothDevice{
			MAC:        addr,
			Name:       name,
			Kind:       records.KindUnknown,
			DeviceType: convert.UnknownClass,
		})
	}
	return devices
}

type termuxDevice struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	RSSI       *int   `json:"rssi"`
	Class      *int   `json:"class"`
	DeviceType string `json:"device_type"`
}

// ParseTermuxBluetooth parses "termux-bluetooth-scaninfo" JSON.
func ParseTermuxBluetooth(output string) ([]records.BluetoothDevice, error) {
	var raw []termuxDevice
	if err := json.Unmarshal([]byte(output), &raw); err != nil {
		return nil, errors.ErrParseFailure("termux-bluetooth-scaninfo", err)
	}

	devices := make([]records.BluetoothDevice, 0, len(raw))
	for _, d := range raw {
		if d.Address == "" {
			continue
		}
		dev := records.BluetoothDevice{
			MAC:        records.NormalizeMAC(d.Address),
			Name:       deviceName(d.Name),
			Kind:       termuxKind(d.Type),
			RSSI:       d.RSSI,
			DeviceType: d.DeviceType,
		}
		if d.Class != nil {
			dev.DeviceClass = d.Class
			if dev.DeviceType == "" {
				dev.DeviceType = convert.ClassifyBluetoothClass(*d.Class)
			}
		}
		if dev.DeviceType == "" {
			dev.DeviceType = convert.UnknownClass
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func termuxKind(t string) records.BluetoothKind {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "CLASSIC":
		return records.KindClassic
	case "BLE", "LE":
		return records.KindBLE
	}
	return records.KindUnknown
}
