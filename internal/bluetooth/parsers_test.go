package bluetooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/records"
)

func TestParseHcitoolScan(t *testing.T) {
	output := "Scanning ...\n" +
		"\t00:11:22:33:44:55\tPixel 7\n" +
		"\taa:bb:cc:dd:ee:ff\t\n" +
		"\t66:77:88:99:AA:BB\tn/a\n"

	devices := ParseHcitoolScan(output)
	require.Len(t, devices, 3)
	assert.Equal(t, records.BluetoothDevice{
		MAC:        "00:11:22:33:44:55",
		Name:       "Pixel 7",
		Kind:       records.KindClassic,
		DeviceType: "Unknown",
	}, devices[0])
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", devices[1].MAC)
	assert.Equal(t, records.UnknownName, devices[1].Name)
	assert.Equal(t, "n/a", devices[2].Name)

	assert.Empty(t, ParseHcitoolScan("Scanning ...\n"))
}

func TestParseDeviceClass(t *testing.T) {
	output := `Requesting information ...
	BD Address:  00:11:22:33:44:55
	Device Name: Pixel 7
	LMP Version: 5.2 (0xb) LMP Subversion: 0x1234
	Manufacturer: Broadcom Corporation (15)
	Device Class: 0x5a020c
`
	class, ok := ParseDeviceClass(output)
	require.True(t, ok)
	assert.Equal(t, 0x5a020c, class)

	_, ok = ParseDeviceClass("Can't create connection: Input/output error\n")
	assert.False(t, ok)
}

func TestSetClass(t *testing.T) {
	tests := []struct {
		class int
		want  string
	}{
		{0x5a020c, "Smartphone"},
		{0x240404, "Headset"},
		{0x000540, "Keyboard"},
		{0x000100, "Computer"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var d records.BluetoothDevice
			SetClass(&d, tt.class)
			require.NotNil(t, d.DeviceClass)
			assert.Equal(t, tt.class, *d.DeviceClass)
			assert.Equal(t, tt.want, d.DeviceType)
		})
	}
}

func TestParseLEScan(t *testing.T) {
	output := `LE Scan ...
C1:22:33:44:55:66 (unknown)
D2:22:33:44:55:77 Mi Band
C1:22:33:44:55:66 (unknown)
C1:22:33:44:55:66 Tile
D2:22:33:44:55:77 (unknown)
`
	devices := ParseLEScan(output)
	require.Len(t, devices, 2)
	assert.Equal(t, "C1:22:33:44:55:66", devices[0].MAC)
	assert.Equal(t, "Tile", devices[0].Name)
	assert.Equal(t, records.KindBLE, devices[0].Kind)
	assert.Equal(t, DeviceTypeBLE, devices[0].DeviceType)
	assert.Nil(t, devices[0].DeviceClass)
	assert.Equal(t, "Mi Band", devices[1].Name)
}

func TestParseBluetoothctlDevices(t *testing.T) {
	output := `Device 00:11:22:33:44:55 Pixel 7
Device AA:BB:CC:DD:EE:FF AA-BB-CC-DD-EE-FF
[NEW] Controller 00:1A:7D:DA:71:13 host [default]
`
	devices := ParseBluetoothctlDevices(output)
	require.Len(t, devices, 2)
	assert.Equal(t, "Pixel 7", devices[0].Name)
	assert.Equal(t, records.KindUnknown, devices[0].Kind)
	assert.Equal(t, records.UnknownName, devices[1].Name)
}

func TestParseTermuxBluetooth(t *testing.T) {
	output := `[
  {"address": "00:11:22:33:44:55", "name": "Speaker", "type": "Classic", "rssi": -60, "class": 2360324},
  {"address": "c1:22:33:44:55:66", "name": "", "type": "LE", "device_type": "Tracker"},
  {"name": "no address"}
]`
	devices, err := ParseTermuxBluetooth(output)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, records.KindClassic, devices[0].Kind)
	assert.Equal(t, -60, *devices[0].RSSI)
	assert.Equal(t, "Headset", devices[0].DeviceType)

	assert.Equal(t, "C1:22:33:44:55:66", devices[1].MAC)
	assert.Equal(t, records.UnknownName, devices[1].Name)
	assert.Equal(t, records.KindBLE, devices[1].Kind)
	assert.Equal(t, "Tracker", devices[1].DeviceType)

	_, err = ParseTermuxBluetooth("")
	assert.True(t, errors.IsCode(err, errors.CodeParseFailure))
}
