package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/records"
)

const (
	fileBackend = "file"

	dirPerm  = 0750
	filePerm = 0640

	// fileTimeLayout is the timestamp part of envelope file names.
	fileTimeLayout = "20060102_150405"
)

// FileStore keeps one indented JSON file per envelope in a directory, named
// {scan_type}_{YYYYMMDD_HHMMSS}.json.
type FileStore struct {
	fs       afero.Fs
	dir      string
	logger   *slog.Logger
	observer OperationObserver
	now      func() time.Time
}

// NewFileStore creates a store rooted at dir. The directory is created on
// the first Save.
func NewFileStore(fs afero.Fs, dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		fs:     fs,
		dir:    dir,
		logger: logger.With("component", "store", "backend", fileBackend),
		now:    time.Now,
	}
}

// WithObserver reports operation timings to o.
func (s *FileStore) WithObserver(o OperationObserver) *FileStore {
	s.observer = o
	return s
}

// Dir returns the directory envelopes are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// FileName returns the file name an envelope is saved under.
func FileName(env records.Envelope, fallback time.Time) string {
	t, err := env.Time()
	if err != nil {
		t = fallback
	}
	scanType := string(env.ScanType)
	if scanType == "" {
		scanType = "scan"
	}
	return fmt.Sprintf("%s_%s.json", scanType, t.Local().Format(fileTimeLayout))
}

// Save writes env through a temporary file so readers never see a partial
// envelope. A second scan within the same second gets a numeric suffix.
func (s *FileStore) Save(ctx context.Context, env records.Envelope) (p string, err error) {
	start := time.Now()
	defer func() { observe(s.observer, fileBackend, "save", start, err) }()

	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return "", errors.WrapScanError(errors.CodeDirectoryCreate, "failed to create output directory", err)
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}

	p = s.freePath(FileName(env, s.now()))

	tmp, err := afero.TempFile(s.fs, s.dir, ".envelope-*.tmp")
	if err != nil {
		return "", errors.WrapScanError(errors.CodeFilePermission, "failed to create envelope file", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return "", errors.WrapScanError(errors.CodeFilePermission, "failed to write envelope file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return "", errors.WrapScanError(errors.CodeFilePermission, "failed to write envelope file", err)
	}
	_ = s.fs.Chmod(tmp.Name(), filePerm)
	if err := s.fs.Rename(tmp.Name(), p); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return "", errors.WrapScanError(errors.CodeFilePermission, "failed to store envelope file", err)
	}

	s.logger.Debug("Envelope saved", "path", p, "scan_type", env.ScanType, "count", env.Count)
	return p, nil
}

func (s *FileStore) freePath(name string) string {
	p := path.Join(s.dir, name)
	base := strings.TrimSuffix(name, ".json")
	for i := 1; ; i++ {
		if exists, _ := afero.Exists(s.fs, p); !exists {
			return p
		}
		p = path.Join(s.dir, fmt.Sprintf("%s_%d.json", base, i))
	}
}

type envelopeFile struct {
	path    string
	modTime time.Time
}

// files lists the envelope files whose names start with prefix, newest
// first by modification time.
func (s *FileStore) files(prefix string) ([]envelopeFile, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeFilePermission, "failed to list output directory", err)
	}

	var files []envelopeFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || !strings.HasPrefix(name, prefix) {
			continue
		}
		files = append(files, envelopeFile{path: path.Join(s.dir, name), modTime: e.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path > files[j].path
		}
		return files[i].modTime.After(files[j].modTime)
	})
	return files, nil
}

func (s *FileStore) load(p string) (records.Envelope, error) {
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return records.Envelope{}, err
	}
	var env records.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return records.Envelope{}, errors.ErrParseFailure(path.Base(p), err)
	}
	return env, nil
}

// Latest returns the most recently written envelope of scanType. Files
// that cannot be decoded are skipped.
func (s *FileStore) Latest(ctx context.Context, scanType records.ScanType) (env records.Envelope, err error) {
	start := time.Now()
	defer func() { observe(s.observer, fileBackend, "latest", start, err) }()

	prefix := ""
	if scanType != "" {
		prefix = string(scanType) + "_"
	}
	files, err := s.files(prefix)
	if err != nil {
		return records.Envelope{}, err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return records.Envelope{}, err
		}
		env, err := s.load(f.path)
		if err != nil {
			s.logger.Warn("Skipping unreadable envelope", "path", f.path, "error", err)
			continue
		}
		return env, nil
	}
	return records.Envelope{}, ErrNoScans(scanType)
}

// All returns every decodable envelope ordered by timestamp.
func (s *FileStore) All(ctx context.Context) (envs []records.Envelope, err error) {
	start := time.Now()
	defer func() { observe(s.observer, fileBackend, "all", start, err) }()

	files, err := s.files("")
	if err != nil {
		return nil, err
	}

	type loaded struct {
		env records.Envelope
		at  time.Time
	}
	var all []loaded
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		env, err := s.load(f.path)
		if err != nil {
			s.logger.Warn("Skipping unreadable envelope", "path", f.path, "error", err)
			continue
		}
		at, terr := env.Time()
		if terr != nil {
			at = f.modTime
		}
		all = append(all, loaded{env: env, at: at})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	envs = make([]records.Envelope, 0, len(all))
	for _, l := range all {
		envs = append(envs, l.env)
	}
	return envs, nil
}
