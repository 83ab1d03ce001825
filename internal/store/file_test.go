package store

import (
	"context"
	"path"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/logging"
	"github.com/anstrom/reconradar/internal/records"
)

func envelopeAt(scanType records.ScanType, ts string, recs ...records.DeviceRecord) records.Envelope {
	if recs == nil {
		recs = []records.DeviceRecord{}
	}
	return records.Envelope{
		ScanType:  scanType,
		Timestamp: ts,
		Version:   records.Version,
		Data:      recs,
		Count:     len(recs),
		Metadata:  map[string]any{},
	}
}

func newTestFileStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return NewFileStore(fs, "output", logging.NewDiscard().Logger), fs
}

type recordedOp struct {
	backend, operation string
	success            bool
}

type opRecorder struct{ ops []recordedOp }

func (r *opRecorder) RecordStoreOperation(backend, operation string, _ time.Duration, success bool) {
	r.ops = append(r.ops, recordedOp{backend, operation, success})
}

func TestFileName(t *testing.T) {
	ts := "2024-03-01T10:20:30Z"
	at, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)

	name := FileName(envelopeAt(records.ScanWiFi, ts), time.Time{})
	assert.Equal(t, "wifi_"+at.Local().Format(fileTimeLayout)+".json", name)

	fallback := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	assert.Equal(t, "network_20240102_030405.json", FileName(envelopeAt(records.ScanNetwork, "garbage"), fallback))
}

func TestFileStoreSaveAndLatest(t *testing.T) {
	s, fs := newTestFileStore(t)
	ctx := context.Background()

	host := records.NetworkHost{IP: "192.168.1.10", Alive: true, LatencyMS: records.Ptr(1.5)}
	p, err := s.Save(ctx, envelopeAt(records.ScanNetwork, "2024-03-01T10:20:30Z", host))
	require.NoError(t, err)
	assert.Equal(t, "output", path.Dir(p))

	info, err := fs.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, "-rw-r-----", info.Mode().Perm().String())

	got, err := s.Latest(ctx, records.ScanNetwork)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
	hosts := records.ItemsOf[records.NetworkHost](got)
	require.Len(t, hosts, 1)
	assert.Equal(t, "192.168.1.10", hosts[0].IP)

	// no leftover temp files
	entries, err := afero.ReadDir(fs, "output")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreSaveCollision(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()
	env := envelopeAt(records.ScanBluetooth, "2024-03-01T10:20:30Z")

	first, err := s.Save(ctx, env)
	require.NoError(t, err)
	second, err := s.Save(ctx, env)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, first[:len(first)-len(".json")]+"_1.json", second)
}

func TestFileStoreLatest(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		files    map[string]string
		mtimes   map[string]time.Time
		scanType records.ScanType
		wantTS   string
		notFound bool
	}{
		{
			name:     "empty directory",
			scanType: records.ScanWiFi,
			notFound: true,
		},
		{
			name: "newest by modification time",
			files: map[string]string{
				"wifi_a.json": `{"scan_type":"wifi","timestamp":"2024-03-01T10:00:00Z","version":"1.0.0","data":[]}`,
				"wifi_b.json": `{"scan_type":"wifi","timestamp":"2024-03-01T09:00:00Z","version":"1.0.0","data":[]}`,
			},
			mtimes: map[string]time.Time{
				"wifi_a.json": base,
				"wifi_b.json": base.Add(time.Minute),
			},
			scanType: records.ScanWiFi,
			wantTS:   "2024-03-01T09:00:00Z",
		},
		{
			name: "prefix filter",
			files: map[string]string{
				"wifi_a.json":    `{"scan_type":"wifi","timestamp":"2024-03-01T10:00:00Z","version":"1.0.0","data":[]}`,
				"network_a.json": `{"scan_type":"network","timestamp":"2024-03-01T11:00:00Z","version":"1.0.0","data":[]}`,
			},
			mtimes: map[string]time.Time{
				"wifi_a.json":    base,
				"network_a.json": base.Add(time.Hour),
			},
			scanType: records.ScanWiFi,
			wantTS:   "2024-03-01T10:00:00Z",
		},
		{
			name: "any type",
			files: map[string]string{
				"wifi_a.json":    `{"scan_type":"wifi","timestamp":"2024-03-01T10:00:00Z","version":"1.0.0","data":[]}`,
				"network_a.json": `{"scan_type":"network","timestamp":"2024-03-01T11:00:00Z","version":"1.0.0","data":[]}`,
			},
			mtimes: map[string]time.Time{
				"wifi_a.json":    base,
				"network_a.json": base.Add(time.Hour),
			},
			wantTS: "2024-03-01T11:00:00Z",
		},
		{
			name: "corrupt newest file is skipped",
			files: map[string]string{
				"bluetooth_a.json": `{"scan_type":"bluetooth","timestamp":"2024-03-01T10:00:00Z","version":"1.0.0","data":[]}`,
				"bluetooth_b.json": `{not json`,
				"bluetooth_c.txt":  `ignored`,
			},
			mtimes: map[string]time.Time{
				"bluetooth_a.json": base,
				"bluetooth_b.json": base.Add(time.Minute),
				"bluetooth_c.txt":  base.Add(time.Hour),
			},
			scanType: records.ScanBluetooth,
			wantTS:   "2024-03-01T10:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fs := newTestFileStore(t)
			for name, content := range tt.files {
				p := path.Join("output", name)
				require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0640))
				require.NoError(t, fs.Chtimes(p, tt.mtimes[name], tt.mtimes[name]))
			}

			got, err := s.Latest(ctx, tt.scanType)
			if tt.notFound {
				assert.True(t, IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTS, got.Timestamp)
		})
	}
}

func TestFileStoreAll(t *testing.T) {
	s, fs := newTestFileStore(t)
	ctx := context.Background()

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	for _, env := range []records.Envelope{
		envelopeAt(records.ScanWiFi, "2024-03-01T12:00:00Z"),
		envelopeAt(records.ScanNetwork, "2024-03-01T08:00:00Z"),
		envelopeAt(records.ScanBluetooth, "2024-03-01T10:00:00Z"),
	} {
		_, err := s.Save(ctx, env)
		require.NoError(t, err)
	}
	require.NoError(t, afero.WriteFile(fs, "output/network_broken.json", []byte("[]"), 0640))

	all, err = s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, records.ScanNetwork, all[0].ScanType)
	assert.Equal(t, records.ScanBluetooth, all[1].ScanType)
	assert.Equal(t, records.ScanWiFi, all[2].ScanType)
}

func TestFileStoreObserver(t *testing.T) {
	s, _ := newTestFileStore(t)
	rec := &opRecorder{}
	s.WithObserver(rec)
	ctx := context.Background()

	_, err := s.Latest(ctx, records.ScanWiFi)
	require.Error(t, err)
	_, err = s.Save(ctx, envelopeAt(records.ScanWiFi, "2024-03-01T12:00:00Z"))
	require.NoError(t, err)

	assert.Equal(t, []recordedOp{
		{"file", "latest", true},
		{"file", "save", true},
	}, rec.ops)
}

func TestCombine(t *testing.T) {
	s, fs := newTestFileStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	combined, err := Combine(ctx, s, now)
	require.NoError(t, err)
	assert.Empty(t, combined.Scans)
	assert.Equal(t, 0, combined.Metadata["source_scans"])

	first, err := s.Save(ctx, envelopeAt(records.ScanWiFi, "2024-03-01T08:00:00Z"))
	require.NoError(t, err)
	require.NoError(t, fs.Chtimes(first, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	_, err = s.Save(ctx, envelopeAt(records.ScanWiFi, "2024-03-01T09:00:00Z"))
	require.NoError(t, err)
	_, err = s.Save(ctx, envelopeAt(records.ScanNetwork, "2024-03-01T07:00:00Z"))
	require.NoError(t, err)

	combined, err = Combine(ctx, s, now)
	require.NoError(t, err)
	assert.Equal(t, records.ScanCombined, combined.ScanType)
	assert.Len(t, combined.Scans, 2)
	assert.Equal(t, "2024-03-01T09:00:00Z", combined.Scans[records.ScanWiFi].Timestamp)
	assert.Equal(t, 2, combined.Metadata["source_scans"])
}

func TestCheck(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, Check(ctx, s))

	_, err := s.Save(ctx, envelopeAt(records.ScanBluetooth, "2024-03-01T08:00:00Z"))
	require.NoError(t, err)
	require.NoError(t, Check(ctx, s))

	assert.Error(t, Check(ctx, brokenStore{}))
}

type brokenStore struct{ Store }

func (brokenStore) Latest(context.Context, records.ScanType) (records.Envelope, error) {
	return records.Envelope{}, errors.NewDatabaseError(errors.CodeDatabaseConnection, "connection refused")
}
