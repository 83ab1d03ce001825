package records

import (
	"fmt"
	"maps"
	"time"
)

// Builder accumulates records, metadata and diagnostics for one scan and
// produces an immutable Envelope. A Builder belongs to a single goroutine.
type Builder struct {
	scanType ScanType
	items    []DeviceRecord
	metadata map[string]any
	errors   []string
	warnings []string
	now      func() time.Time
}

// NewBuilder creates a builder for scanType.
func NewBuilder(scanType ScanType) *Builder {
	return &Builder{
		scanType: scanType,
		metadata: make(map[string]any),
		now:      time.Now,
	}
}

// WithClock overrides the timestamp source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// AddItem appends one record.
func (b *Builder) AddItem(rec DeviceRecord) *Builder {
	b.items = append(b.items, rec)
	return b
}

// AddItems appends records in order.
func (b *Builder) AddItems(recs ...DeviceRecord) *Builder {
	b.items = append(b.items, recs...)
	return b
}

// AddAll appends a slice of concrete records to b.
func AddAll[T DeviceRecord](b *Builder, recs []T) *Builder {
	for _, r := range recs {
		b.items = append(b.items, r)
	}
	return b
}

// SetMetadata sets a metadata entry, replacing an earlier value for key.
func (b *Builder) SetMetadata(key string, value any) *Builder {
	b.metadata[key] = value
	return b
}

// AddError records a scan error.
func (b *Builder) AddError(msg string) *Builder {
	b.errors = append(b.errors, msg)
	return b
}

// AddWarning records a non-fatal problem.
func (b *Builder) AddWarning(msg string) *Builder {
	b.warnings = append(b.warnings, msg)
	return b
}

// AddWarningf records a formatted warning.
func (b *Builder) AddWarningf(format string, args ...any) *Builder {
	return b.AddWarning(fmt.Sprintf(format, args...))
}

// Len returns the number of records added so far.
func (b *Builder) Len() int {
	return len(b.items)
}

// Warnings returns the warnings recorded so far.
func (b *Builder) Warnings() []string {
	return append([]string(nil), b.warnings...)
}

// Build returns an envelope holding copies of the accumulated state and a
// fresh timestamp. The builder remains usable.
func (b *Builder) Build() Envelope {
	data := make([]DeviceRecord, len(b.items))
	copy(data, b.items)

	env := Envelope{
		ScanType:  b.scanType,
		Timestamp: b.now().Format(time.RFC3339Nano),
		Version:   Version,
		Data:      data,
		Count:     len(data),
		Metadata:  maps.Clone(b.metadata),
	}
	if len(b.errors) > 0 {
		env.Errors = append([]string(nil), b.errors...)
	}
	if len(b.warnings) > 0 {
		env.Warnings = append([]string(nil), b.warnings...)
	}
	return env
}
