// Package parse provides the line-oriented state machine every text parser
// of tool output is built on.
//
// A Machine is either seeking the start of a record or inside one. Each line
// is first tested against the boundary rule; a match flushes the open record
// and opens a new one. Otherwise the line is offered to the field extractors
// in order until one accepts it. Records are finalized when flushed and
// malformed records are dropped without aborting the parse.
package parse

import (
	"regexp"
	"strings"

	"github.com/anstrom/reconradar/internal/errors"
)

// State is the machine state.
type State int

const (
	SeekingRecordStart State = iota
	InRecord
)

func (s State) String() string {
	if s == InRecord {
		return "in_record"
	}
	return "seeking_record_start"
}

// StartFunc tests whether line opens a new record and, if so, returns the
// record initialized from the boundary fields.
type StartFunc[T any] func(line string) (*T, bool)

// Extractor updates the open record from line and reports whether it
// consumed the line.
type Extractor[T any] func(rec *T, line string) bool

// FinishFunc validates and finalizes a record before it is emitted. A non-nil
// error drops the record.
type FinishFunc[T any] func(rec *T) error

// Machine is a line-oriented record parser.
type Machine[T any] struct {
	start  StartFunc[T]
	fields []Extractor[T]
	finish FinishFunc[T]

	state   State
	open    *T
	out     []T
	skipped []error
}

// New creates a machine with the given boundary rule and ordered extractors.
func New[T any](start StartFunc[T], fields ...Extractor[T]) *Machine[T] {
	return &Machine[T]{start: start, fields: fields}
}

// WithFinish sets the hook run on every flushed record.
func (m *Machine[T]) WithFinish(finish FinishFunc[T]) *Machine[T] {
	m.finish = finish
	return m
}

// State returns the current state.
func (m *Machine[T]) State() State {
	return m.state
}

// Open returns the record being accumulated, or nil.
func (m *Machine[T]) Open() *T {
	return m.open
}

// Feed processes one line of input.
func (m *Machine[T]) Feed(line string) {
	line = strings.TrimRight(line, "\r")

	if rec, ok := m.start(line); ok {
		m.flush()
		m.open = rec
		m.state = InRecord
		return
	}

	if m.open == nil {
		return
	}
	for _, extract := range m.fields {
		if extract(m.open, line) {
			return
		}
	}
}

// Close flushes the open record and returns every record parsed so far.
func (m *Machine[T]) Close() []T {
	m.flush()
	out := m.out
	if out == nil {
		out = []T{}
	}
	return out
}

// Skipped returns the errors of records dropped by the finish hook.
func (m *Machine[T]) Skipped() []error {
	return m.skipped
}

func (m *Machine[T]) flush() {
	if m.open == nil {
		return
	}
	rec := m.open
	m.open = nil
	m.state = SeekingRecordStart

	if m.finish != nil {
		if err := m.finish(rec); err != nil {
			m.skipped = append(m.skipped, errors.ErrParseFailure("record", err))
			return
		}
	}
	m.out = append(m.out, *rec)
}

// Run feeds every line of text to m and closes it.
func Run[T any](m *Machine[T], text string) []T {
	for _, line := range strings.Split(text, "\n") {
		m.Feed(line)
	}
	return m.Close()
}

// Match builds an extractor that applies fn to the submatches of re.
func Match[T any](re *regexp.Regexp, fn func(rec *T, groups []string)) Extractor[T] {
	return func(rec *T, line string) bool {
		groups := re.FindStringSubmatch(line)
		if groups == nil {
			return false
		}
		fn(rec, groups)
		return true
	}
}

// StartMatch builds a boundary rule that opens a record when re matches.
func StartMatch[T any](re *regexp.Regexp, fn func(groups []string) *T) StartFunc[T] {
	return func(line string) (*T, bool) {
		groups := re.FindStringSubmatch(line)
		if groups == nil {
			return nil, false
		}
		return fn(groups), true
	}
}

// SetOnce stores v in *dst unless a value is already present.
func SetOnce[V any](dst **V, v V) {
	if *dst == nil {
		*dst = &v
	}
}

// SetString stores v in *dst unless it already holds a non-empty string.
func SetString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
