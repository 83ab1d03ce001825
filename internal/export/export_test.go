package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/records"
)

func sampleEnvelopes() []records.Envelope {
	return []records.Envelope{
		{
			ScanType:  records.ScanNetwork,
			Timestamp: "2024-03-01T10:00:00Z",
			Version:   records.Version,
			Data: []records.DeviceRecord{
				records.NetworkHost{
					IP:        "192.168.1.1",
					Alive:     true,
					LatencyMS: records.Ptr(0.5),
					Hostname:  records.Ptr("router"),
					OpenPorts: []records.PortResult{
						{Port: 22, Service: "ssh", Protocol: "tcp"},
						{Port: 80, Service: "http", Protocol: "tcp"},
					},
				},
			},
			Count: 1,
		},
		{
			ScanType:  records.ScanWiFi,
			Timestamp: "2024-03-01T10:05:00Z",
			Version:   records.Version,
			Data: []records.DeviceRecord{
				records.WifiNetwork{
					BSSID:      "AA:BB:CC:DD:EE:FF",
					SSID:       "HomeNet",
					Channel:    records.Ptr(6),
					Security:   records.SecuritySecured,
					Encryption: []string{"WPA2", "WPA3"},
				},
			},
			Count: 1,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{" CSV ", FormatCSV, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	now := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleEnvelopes(), now))

	var doc struct {
		ExportTimestamp string            `json:"export_timestamp"`
		TotalScans      int               `json:"total_scans"`
		Scans           []json.RawMessage `json:"scans"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "2024-03-02T08:00:00Z", doc.ExportTimestamp)
	assert.Equal(t, 2, doc.TotalScans)
	assert.Len(t, doc.Scans, 2)

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil, now))
	assert.Contains(t, buf.String(), `"scans": []`)
}

func TestTable(t *testing.T) {
	header, rows, err := Table(sampleEnvelopes())
	require.NoError(t, err)

	assert.Equal(t, []string{"scan_type", "scan_timestamp"}, header[:2])
	assert.IsIncreasing(t, header[2:])
	require.Len(t, rows, 2)

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %s", name)
		return -1
	}

	host := rows[0]
	assert.Equal(t, "network", host[col("scan_type")])
	assert.Equal(t, "192.168.1.1", host[col("ip")])
	assert.Equal(t, "0.5", host[col("latency_ms")])
	assert.Equal(t, "true", host[col("alive")])
	assert.Equal(t,
		`{"port":22,"protocol":"tcp","service":"ssh"}, {"port":80,"protocol":"tcp","service":"http"}`,
		host[col("open_ports")])
	assert.Empty(t, host[col("ssid")])

	network := rows[1]
	assert.Equal(t, "2024-03-01T10:05:00Z", network[col("scan_timestamp")])
	assert.Equal(t, "WPA2, WPA3", network[col("encryption")])
	assert.Equal(t, "6", network[col("channel")])
	assert.Empty(t, network[col("frequency_mhz")])
}

func TestFlattenNestedObject(t *testing.T) {
	rec := records.GenericRecord{
		Type: "zigbee",
		Fields: map[string]any{
			"address": "00:11",
			"radio":   map[string]any{"channel": 15, "pan": "0x1a62"},
		},
	}
	fields, err := flatten(rec)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"address":       "00:11",
		"radio_channel": "15",
		"radio_pan":     "0x1a62",
	}, fields)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleEnvelopes()))

	all, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "scan_type", all[0][0])

	buf.Reset()
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "scan_type,scan_timestamp\n", buf.String())
}

func TestToFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	p := DefaultPath("output", FormatCSV, now)
	assert.Equal(t, "output/export_20240302_080000.csv", p)

	require.NoError(t, ToFile(fs, p, FormatCSV, sampleEnvelopes(), now))
	data, err := afero.ReadFile(fs, p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "HomeNet")
}
