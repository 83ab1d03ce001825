package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/logging"
	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/store"
)

var fixedNow = time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewFileStore(afero.NewMemMapFs(), "output", logging.NewDiscard().Logger)
	ctx := context.Background()

	envelopes := []records.Envelope{
		records.NewBuilder(records.ScanNetwork).WithClock(func() time.Time { return fixedNow.Add(-time.Hour) }).
			AddItems(
				records.NetworkHost{IP: "192.168.1.1", Alive: true, Hostname: records.Ptr("router")},
				records.NetworkHost{IP: "192.168.1.20", Alive: true},
			).Build(),
		records.NewBuilder(records.ScanWiFi).WithClock(func() time.Time { return fixedNow.Add(-30 * time.Minute) }).
			AddItems(records.WifiNetwork{
				BSSID: "AA:BB:CC:DD:EE:FF", SSID: "HomeNet", Security: records.SecuritySecured, Encryption: []string{"WPA2"},
			}).Build(),
	}
	for _, env := range envelopes {
		_, err := s.Save(ctx, env)
		require.NoError(t, err)
	}
	return s
}

func emptyStore() store.Store {
	return store.NewFileStore(afero.NewMemMapFs(), "output", logging.NewDiscard().Logger)
}

type failingStore struct{ err error }

func (f failingStore) Save(context.Context, records.Envelope) (string, error) { return "", f.err }
func (f failingStore) Latest(context.Context, records.ScanType) (records.Envelope, error) {
	return records.Envelope{}, f.err
}
func (f failingStore) All(context.Context) ([]records.Envelope, error) { return nil, f.err }

func newRouter(s store.Store) *mux.Router {
	h := NewDeviceHandler(s, logging.NewDiscard().Logger)
	h.now = func() time.Time { return fixedNow }
	health := NewHealthHandler(s, "test", logging.NewDiscard().Logger)

	r := mux.NewRouter()
	r.HandleFunc("/api/devices", h.Devices)
	r.HandleFunc("/api/export", h.Export)
	r.HandleFunc("/api/scan/{type}", h.ScanType)
	r.HandleFunc("/api/scans", h.Scans)
	r.HandleFunc("/api/scans/latest/{type}", h.Latest)
	r.HandleFunc("/api/scans/combined", h.Combined)
	r.HandleFunc("/api/health", health.Health)
	return r
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDevices(t *testing.T) {
	rec := get(t, newRouter(seededStore(t)), "/api/devices")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DevicesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.NetworkCount)
	assert.Equal(t, 1, resp.WifiCount)
	assert.Equal(t, 0, resp.BluetoothCount)
	assert.Equal(t, "network", resp.Devices[0]["scan_type"])
	assert.Equal(t, "192.168.1.1", resp.Devices[0]["ip"])
	assert.Equal(t, "HomeNet", resp.Devices[2]["ssid"])
}

func TestDevicesEmpty(t *testing.T) {
	rec := get(t, newRouter(emptyStore()), "/api/devices")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"devices":[]`)
	assert.Contains(t, rec.Body.String(), `"total":0`)
}

func TestScanType(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		count  int
	}{
		{"network", "/api/scan/network", http.StatusOK, 2},
		{"case insensitive", "/api/scan/WiFi", http.StatusOK, 1},
		{"no scans yet", "/api/scan/bluetooth", http.StatusOK, 0},
		{"unknown type", "/api/scan/zigbee", http.StatusBadRequest, 0},
	}

	r := newRouter(seededStore(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, r, tt.path)
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}
			var resp ScanTypeResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.count, resp.Count)
			assert.Len(t, resp.Devices, tt.count)
		})
	}
}

func TestScansAndLatest(t *testing.T) {
	r := newRouter(seededStore(t))

	rec := get(t, r, "/api/scans")
	require.Equal(t, http.StatusOK, rec.Code)
	var scans struct {
		Scans []json.RawMessage `json:"scans"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scans))
	assert.Equal(t, 2, scans.Total)

	rec = get(t, r, "/api/scans/latest/wifi")
	require.Equal(t, http.StatusOK, rec.Code)
	var env records.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, records.ScanWiFi, env.ScanType)
	assert.Equal(t, 1, env.Count)

	rec = get(t, r, "/api/scans/latest/bluetooth")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "No bluetooth scans found")
}

func TestCombined(t *testing.T) {
	rec := get(t, newRouter(seededStore(t)), "/api/scans/combined")
	require.Equal(t, http.StatusOK, rec.Code)

	var combined struct {
		ScanType string                     `json:"scan_type"`
		Scans    map[string]json.RawMessage `json:"scans"`
		Metadata map[string]interface{}     `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &combined))
	assert.Equal(t, "combined", combined.ScanType)
	assert.Len(t, combined.Scans, 2)
	assert.EqualValues(t, 2, combined.Metadata["source_scans"])
}

func TestExport(t *testing.T) {
	r := newRouter(seededStore(t))

	rec := get(t, r, "/api/export")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"total_scans": 2`)

	rec = get(t, r, "/api/export?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "export_20240302_080000.csv")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	rec = get(t, r, "/api/export?format=xml")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"query failure", errors.NewDatabaseError(errors.CodeDatabaseQuery, "Database operation failed"), http.StatusInternalServerError},
		{"connection failure", errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(failingStore{err: tt.err})
			for _, path := range []string{"/api/devices", "/api/scans", "/api/scans/combined", "/api/export"} {
				rec := get(t, r, path)
				assert.Equal(t, tt.status, rec.Code, path)
			}
			rec := get(t, r, "/api/health")
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	rec := get(t, newRouter(emptyStore()), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Checks["store"])
	assert.Equal(t, "test", resp.Version)
}
