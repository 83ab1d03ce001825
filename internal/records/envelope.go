package records

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the envelope schema version.
const Version = "1.0.0"

// Envelope is the canonical result of one scan invocation. Count always
// equals len(Data).
type Envelope struct {
	ScanType  ScanType       `json:"scan_type"`
	Timestamp string         `json:"timestamp"`
	Version   string         `json:"version"`
	Data      []DeviceRecord `json:"data"`
	Count     int            `json:"count"`
	Metadata  map[string]any `json:"metadata"`
	Errors    []string       `json:"errors,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// legacyTimestamp is the timezone-less ISO-8601 layout of older result files.
const legacyTimestamp = "2006-01-02T15:04:05.999999"

// ParseTimestamp parses an envelope timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(legacyTimestamp, s, time.Local)
}

// Time returns the parsed envelope timestamp.
func (e Envelope) Time() (time.Time, error) {
	return ParseTimestamp(e.Timestamp)
}

// UnmarshalJSON decodes data items into the record variant of the
// envelope's scan type.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw struct {
		ScanType  ScanType          `json:"scan_type"`
		Timestamp string            `json:"timestamp"`
		Version   string            `json:"version"`
		Data      []json.RawMessage `json:"data"`
		Metadata  map[string]any    `json:"metadata"`
		Errors    []string          `json:"errors"`
		Warnings  []string          `json:"warnings"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	data := make([]DeviceRecord, 0, len(raw.Data))
	for i, item := range raw.Data {
		rec, err := DecodeRecord(raw.ScanType, item)
		if err != nil {
			return fmt.Errorf("data[%d]: %w", i, err)
		}
		data = append(data, rec)
	}

	*e = Envelope{
		ScanType:  raw.ScanType,
		Timestamp: raw.Timestamp,
		Version:   raw.Version,
		Data:      data,
		Count:     len(data),
		Metadata:  raw.Metadata,
		Errors:    raw.Errors,
		Warnings:  raw.Warnings,
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	return nil
}

// DecodeRecord decodes one data item of the given scan type.
func DecodeRecord(scanType ScanType, item json.RawMessage) (DeviceRecord, error) {
	switch scanType {
	case ScanNetwork:
		var h NetworkHost
		err := json.Unmarshal(item, &h)
		return h, err
	case ScanWiFi:
		var w WifiNetwork
		err := json.Unmarshal(item, &w)
		if w.Encryption == nil {
			w.Encryption = []string{}
		}
		return w, err
	case ScanBluetooth:
		var d BluetoothDevice
		err := json.Unmarshal(item, &d)
		return d, err
	default:
		g := GenericRecord{Type: scanType}
		err := json.Unmarshal(item, &g.Fields)
		return g, err
	}
}

// MarshalJSON writes the generic record's fields as-is.
func (g GenericRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Fields)
}

// ItemsOf returns the data items of concrete type T.
func ItemsOf[T DeviceRecord](e Envelope) []T {
	out := make([]T, 0, len(e.Data))
	for _, rec := range e.Data {
		if v, ok := rec.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Combined groups the latest envelope of each scan type.
type Combined struct {
	ScanType  ScanType              `json:"scan_type"`
	Timestamp string                `json:"timestamp"`
	Version   string                `json:"version"`
	Scans     map[ScanType]Envelope `json:"scans"`
	Metadata  map[string]any        `json:"metadata"`
}

// Combine groups envelopes by scan type. When several envelopes share a
// scan type the last one wins.
func Combine(envelopes []Envelope, now time.Time) Combined {
	scans := make(map[ScanType]Envelope, len(envelopes))
	for _, env := range envelopes {
		scans[env.ScanType] = env
	}
	return Combined{
		ScanType:  ScanCombined,
		Timestamp: now.Format(time.RFC3339Nano),
		Version:   Version,
		Scans:     scans,
		Metadata:  map[string]any{"source_scans": len(envelopes)},
	}
}
