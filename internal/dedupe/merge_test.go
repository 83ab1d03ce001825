package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/records"
)

func device(mac, name string, kind records.BluetoothKind) records.BluetoothDevice {
	return records.BluetoothDevice{MAC: mac, Name: name, Kind: kind, DeviceType: "Unknown"}
}

func TestMergeNameUpgrade(t *testing.T) {
	in := []records.BluetoothDevice{
		device("AA:BB:CC:DD:EE:FF", records.UnknownName, records.KindBLE),
		device("aa:bb:cc:dd:ee:ff", "Pixel-7", records.KindClassic),
	}

	out := Merge(in)

	require.Len(t, out, 1)
	assert.Equal(t, "Pixel-7", out[0].Name)
	// every other field stays first-seen
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", out[0].MAC)
	assert.Equal(t, records.KindBLE, out[0].Kind)
}

func TestMergeFirstRealNameWins(t *testing.T) {
	in := []records.BluetoothDevice{
		device("11:22:33:44:55:66", "Speaker", records.KindClassic),
		device("11:22:33:44:55:66", "Other", records.KindClassic),
		device("11:22:33:44:55:66", "", records.KindClassic),
	}

	out := Merge(in)
	require.Len(t, out, 1)
	assert.Equal(t, "Speaker", out[0].Name)
}

func TestMergeIdempotent(t *testing.T) {
	in := []records.WifiNetwork{
		{BSSID: "AA:AA:AA:AA:AA:01", SSID: records.HiddenSSID, SignalDBM: records.Ptr(-70.0)},
		{BSSID: "AA:AA:AA:AA:AA:02", SSID: "Office"},
		{BSSID: "AA:AA:AA:AA:AA:01", SSID: "Lab"},
		{BSSID: "", SSID: "dropped"},
	}

	once := Merge(append([]records.WifiNetwork(nil), in...))
	doubled := append(append([]records.WifiNetwork(nil), in...), in...)
	twice := Merge(doubled)

	assert.Equal(t, once, twice)
	assert.Equal(t, once, Merge(append([]records.WifiNetwork(nil), once...)))
	require.Len(t, once, 2)
	assert.Equal(t, "Lab", once[0].SSID)
	assert.Equal(t, -70.0, *once[0].SignalDBM)
}

func TestMergeHosts(t *testing.T) {
	in := []records.NetworkHost{
		{IP: "192.168.1.10", Alive: true},
		{IP: "192.168.1.10", Alive: true, Hostname: records.Ptr("nas.lan")},
		{IP: "192.168.1.2", Alive: true, Hostname: records.Ptr("router")},
	}

	out := Merge(in)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].Hostname)
	assert.Equal(t, "nas.lan", *out[0].Hostname)
	assert.Equal(t, "192.168.1.2", out[1].IP)
}

func TestMergeEmpty(t *testing.T) {
	out := Merge([]records.BluetoothDevice{})
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestConcat(t *testing.T) {
	classic := []records.BluetoothDevice{device("AA:00:00:00:00:01", "Headset", records.KindClassic)}
	le := []records.BluetoothDevice{
		device("AA:00:00:00:00:01", "LE name", records.KindBLE),
		device("AA:00:00:00:00:02", records.UnknownName, records.KindBLE),
	}

	out := Concat(classic, le)
	require.Len(t, out, 2)
	assert.Equal(t, records.KindClassic, out[0].Kind)
	assert.Equal(t, "Headset", out[0].Name)
	assert.Equal(t, records.UnknownName, out[1].Name)
}
