// Package export writes stored envelopes as a single JSON document or as a
// flat CSV table with one row per device record.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/records"
)

// Format is an export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", errors.NewConfigFieldError(errors.CodeValidation,
			"export format must be json or csv", "format", s)
	}
}

// ContentType returns the HTTP content type of the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Document is the JSON export of a set of envelopes.
type Document struct {
	ExportTimestamp string             `json:"export_timestamp"`
	TotalScans      int                `json:"total_scans"`
	Scans           []records.Envelope `json:"scans"`
}

// NewDocument wraps envelopes for a JSON export.
func NewDocument(envelopes []records.Envelope, now time.Time) Document {
	if envelopes == nil {
		envelopes = []records.Envelope{}
	}
	return Document{
		ExportTimestamp: now.Format(time.RFC3339Nano),
		TotalScans:      len(envelopes),
		Scans:           envelopes,
	}
}

// WriteJSON writes the indented JSON document.
func WriteJSON(w io.Writer, envelopes []records.Envelope, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(envelopes, now))
}

var leadingColumns = []string{"scan_type", "scan_timestamp"}

// Table flattens envelopes into a header and rows. scan_type and
// scan_timestamp come first, the remaining columns are sorted.
func Table(envelopes []records.Envelope) ([]string, [][]string, error) {
	var flat []map[string]string
	columns := map[string]struct{}{}

	for _, env := range envelopes {
		for i, rec := range env.Data {
			fields, err := flatten(rec)
			if err != nil {
				return nil, nil, fmt.Errorf("%s item %d: %w", env.ScanType, i, err)
			}
			fields["scan_type"] = string(env.ScanType)
			fields["scan_timestamp"] = env.Timestamp
			for k := range fields {
				columns[k] = struct{}{}
			}
			flat = append(flat, fields)
		}
	}

	header := append([]string(nil), leadingColumns...)
	var rest []string
	for k := range columns {
		if k != "scan_type" && k != "scan_timestamp" {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	header = append(header, rest...)

	rows := make([][]string, 0, len(flat))
	for _, fields := range flat {
		row := make([]string, len(header))
		for i, col := range header {
			row[i] = fields[col]
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// WriteCSV writes the flattened table. With no records only the header of
// the leading columns is written.
func WriteCSV(w io.Writer, envelopes []records.Envelope) error {
	header, rows, err := Table(envelopes)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// Write exports envelopes in the given format.
func Write(w io.Writer, format Format, envelopes []records.Envelope, now time.Time) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, envelopes)
	default:
		return WriteJSON(w, envelopes, now)
	}
}

// DefaultPath returns export_{YYYYMMDD_HHMMSS}.{format} inside dir.
func DefaultPath(dir string, format Format, now time.Time) string {
	return path.Join(dir, fmt.Sprintf("export_%s.%s", now.Format("20060102_150405"), format))
}

// ToFile exports envelopes to p, creating its directory.
func ToFile(fs afero.Fs, p string, format Format, envelopes []records.Envelope, now time.Time) error {
	if err := fs.MkdirAll(path.Dir(p), 0750); err != nil {
		return errors.WrapScanError(errors.CodeDirectoryCreate, "failed to create export directory", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, format, envelopes, now); err != nil {
		return err
	}
	if err := afero.WriteFile(fs, p, buf.Bytes(), 0640); err != nil {
		return errors.WrapScanError(errors.CodeFilePermission, "failed to write export file", err)
	}
	return nil
}

// flatten renders a record as column values. Nested objects become
// parent_child columns and lists are joined with ", ".
func flatten(rec records.DeviceRecord) (map[string]string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case map[string]any:
			for sub, sv := range val {
				out[k+"_"+sub] = cell(sv)
			}
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, cell(item))
			}
			out[k] = strings.Join(parts, ", ")
		default:
			out[k] = cell(val)
		}
	}
	return out, nil
}

func cell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
