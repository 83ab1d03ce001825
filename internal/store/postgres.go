package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/reconradar/internal/db"
	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/records"
)

const postgresBackend = "postgres"

// PostgresStore keeps envelopes as JSONB rows in scan_envelopes.
type PostgresStore struct {
	db       *db.DB
	logger   *slog.Logger
	observer OperationObserver
	now      func() time.Time
}

// NewPostgresStore creates a store on a migrated database.
func NewPostgresStore(database *db.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     database,
		logger: logger.With("component", "store", "backend", postgresBackend),
		now:    time.Now,
	}
}

// WithObserver reports operation timings to o.
func (s *PostgresStore) WithObserver(o OperationObserver) *PostgresStore {
	s.observer = o
	return s
}

const insertEnvelope = `
	INSERT INTO scan_envelopes (id, scan_type, scanned_at, version, item_count, envelope)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Save inserts env and returns its row id.
func (s *PostgresStore) Save(ctx context.Context, env records.Envelope) (id string, err error) {
	start := time.Now()
	defer func() { observe(s.observer, postgresBackend, "save", start, err) }()

	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	scannedAt, terr := env.Time()
	if terr != nil {
		scannedAt = s.now()
	}

	rowID := uuid.New()
	if _, err := s.db.ExecContext(ctx, insertEnvelope,
		rowID, string(env.ScanType), scannedAt, env.Version, env.Count, payload); err != nil {
		return "", db.SanitizeError("save envelope", err)
	}

	s.logger.Debug("Envelope saved", "id", rowID, "scan_type", env.ScanType, "count", env.Count)
	return rowID.String(), nil
}

const selectLatest = `
	SELECT envelope FROM scan_envelopes
	WHERE ($1 = '' OR scan_type = $1)
	ORDER BY scanned_at DESC, created_at DESC
	LIMIT 1`

// Latest returns the most recent envelope of scanType.
func (s *PostgresStore) Latest(ctx context.Context, scanType records.ScanType) (env records.Envelope, err error) {
	start := time.Now()
	defer func() { observe(s.observer, postgresBackend, "latest", start, err) }()

	var payload []byte
	if err := s.db.GetContext(ctx, &payload, selectLatest, string(scanType)); err != nil {
		err = db.SanitizeError("latest envelope", err)
		if IsNotFound(err) {
			return records.Envelope{}, ErrNoScans(scanType)
		}
		return records.Envelope{}, err
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return records.Envelope{}, errors.ErrParseFailure("scan_envelopes.envelope", err)
	}
	return env, nil
}

const selectAll = `SELECT envelope FROM scan_envelopes ORDER BY scanned_at ASC, created_at ASC`

// All returns every envelope, oldest first. Rows that cannot be decoded
// are skipped.
func (s *PostgresStore) All(ctx context.Context) (envs []records.Envelope, err error) {
	start := time.Now()
	defer func() { observe(s.observer, postgresBackend, "all", start, err) }()

	var payloads [][]byte
	if err := s.db.SelectContext(ctx, &payloads, selectAll); err != nil {
		return nil, db.SanitizeError("list envelopes", err)
	}

	envs = make([]records.Envelope, 0, len(payloads))
	for i, p := range payloads {
		var env records.Envelope
		if err := json.Unmarshal(p, &env); err != nil {
			s.logger.Warn("Skipping unreadable envelope row", "row", i, "error", err)
			continue
		}
		envs = append(envs, env)
	}
	return envs, nil
}
