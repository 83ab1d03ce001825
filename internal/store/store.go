// Package store persists scan envelopes and answers the queries the CLI,
// the exporter and the API make: the latest scan of a type, every scan, and
// the latest scan of each type combined.
package store

import (
	"context"
	"time"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/records"
)

// Store persists envelopes.
type Store interface {
	// Save persists env and returns where it was stored.
	Save(ctx context.Context, env records.Envelope) (string, error)
	// Latest returns the most recent envelope of scanType, or of any type
	// when scanType is empty. A NOT_FOUND error means there is none.
	Latest(ctx context.Context, scanType records.ScanType) (records.Envelope, error)
	// All returns every stored envelope, oldest first.
	All(ctx context.Context) ([]records.Envelope, error)
}

// OperationObserver is told how long each store operation took;
// *metrics.PrometheusMetrics implements it.
type OperationObserver interface {
	RecordStoreOperation(backend, operation string, duration time.Duration, success bool)
}

// ErrNoScans creates the error returned when a query matches nothing.
func ErrNoScans(scanType records.ScanType) error {
	msg := "No scans found"
	if scanType != "" {
		msg = "No " + string(scanType) + " scans found"
	}
	return errors.NewScanError(errors.CodeNotFound, msg)
}

// IsNotFound reports whether err means a query matched nothing.
func IsNotFound(err error) bool {
	return errors.IsCode(err, errors.CodeNotFound)
}

// Check verifies that s answers queries. An empty store is healthy.
func Check(ctx context.Context, s Store) error {
	if _, err := s.Latest(ctx, ""); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// LatestEach returns the latest envelope of every scan type that has one,
// in display order.
func LatestEach(ctx context.Context, s Store) ([]records.Envelope, error) {
	var envelopes []records.Envelope
	for _, st := range records.ScanTypes {
		env, err := s.Latest(ctx, st)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// Combine builds the combined envelope from the latest scan of each type.
func Combine(ctx context.Context, s Store, now time.Time) (records.Combined, error) {
	envelopes, err := LatestEach(ctx, s)
	if err != nil {
		return records.Combined{}, err
	}
	return records.Combine(envelopes, now), nil
}

func observe(o OperationObserver, backend, operation string, start time.Time, err error) {
	if o == nil {
		return
	}
	o.RecordStoreOperation(backend, operation, time.Since(start), err == nil || IsNotFound(err))
}
