package core

import (
	"fmt"
	"sort"
	"strings"
)

// Labels of the fields every source uses to describe its jurisdiction.
// Sources carry them as fixed literals through the raw transformation.
const (
	StateField = "state"
	CityField  = "city"
)

// CanonicalField is one column of a topic schema.
type CanonicalField struct {
	Label       string `json:"label"`       // Output header and lookup key
	Format      string `json:"format"`      // Transformation name (see Registry)
	Description string `json:"description"` // Human-readable description
	Example     string `json:"example"`     // Example canonical value
}

// Topic is a named category of harmonized data with one canonical schema.
type Topic struct {
	ID      string
	Title   string
	Fields  []CanonicalField
	Sources []SourceDescriptor // In catalog-discovery order
}

// Field returns the canonical field with the given label.
func (t *Topic) Field(label string) (CanonicalField, bool) {
	for _, f := range t.Fields {
		if f.Label == label {
			return f, true
		}
	}
	return CanonicalField{}, false
}

// Labels returns the topic's canonical labels sorted lexicographically.
func (t *Topic) Labels() []string {
	labels := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		labels[i] = f.Label
	}
	sort.Strings(labels)
	return labels
}

// FieldParams locates a canonical field inside a source row and carries the
// static parameters of its transformation.
type FieldParams struct {
	Index         *int   `json:"index,omitempty"`          // Column position in the raw row
	Specifier     string `json:"specifier,omitempty"`      // strftime specifier for date/time
	Raw           any    `json:"raw,omitempty"`            // Fixed literal for the raw transformation
	UTC           bool   `json:"utc,omitempty"`            // time: convert from local zone to UTC
	DateIndex     *int   `json:"date_index,omitempty"`     // time: column holding the row's date
	DateSpecifier string `json:"date_specifier,omitempty"` // time: specifier of DateIndex
}

// Locator returns the column position of the field, if the source has one.
func (p FieldParams) Locator() (int, bool) {
	if p.Index == nil || *p.Index < 0 {
		return 0, false
	}
	return *p.Index, true
}

// SourceDescriptor describes one external, independently maintained dataset
// file. Descriptors are loaded once per run and never mutated by the core.
type SourceDescriptor struct {
	URL      string                 `json:"url"`
	FileType string                 `json:"type"`               // csv, xlsx, xls
	Start    int                    `json:"start"`              // Leading records to skip
	Encoding string                 `json:"encoding,omitempty"` // Optional legacy charset
	Fields   map[string]FieldParams `json:"columns"`
}

// Has reports whether the source provides the canonical field.
func (s SourceDescriptor) Has(label string) bool {
	_, ok := s.Fields[label]
	return ok
}

// Labels returns the canonical labels the source provides, sorted.
func (s SourceDescriptor) Labels() []string {
	labels := make([]string, 0, len(s.Fields))
	for label := range s.Fields {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Jurisdiction returns the source's state and city, taken from the fixed
// literals of its state and city fields.
func (s SourceDescriptor) Jurisdiction() Jurisdiction {
	return Jurisdiction{
		State: literal(s.Fields[StateField].Raw),
		City:  literal(s.Fields[CityField].Raw),
	}
}

// Agency returns the derived agency identifier, e.g. "TX-Austin".
func (s SourceDescriptor) Agency() string {
	return s.Jurisdiction().Agency()
}

// Jurisdiction identifies where a source's records come from.
type Jurisdiction struct {
	State string
	City  string
}

// Agency returns "<state>-<city>".
func (j Jurisdiction) Agency() string {
	return j.State + "-" + j.City
}

// RawRow is one record produced by a fetch adapter. The core only looks
// cells up by position.
type RawRow []string

// Cell returns the cell at index i. Missing cells report false.
func (r RawRow) Cell(i int) (string, bool) {
	if i < 0 || i >= len(r) {
		return "", false
	}
	return r[i], true
}

// Header is the ordered set of canonical labels emitted by one run.
type Header []string

// Index returns the position of label in the header, or -1.
func (h Header) Index(label string) int {
	for i, l := range h {
		if l == label {
			return i
		}
	}
	return -1
}

// Row is one canonical output row, aligned with the run's Header.
type Row []Value

// Strings renders the row as text cells. Null values become empty strings.
func (r Row) Strings() []string {
	out := make([]string, len(r))
	for i, v := range r {
		out[i] = v.String()
	}
	return out
}

// Constraints are the caller-supplied selection constraints.
type Constraints struct {
	Columns []string `json:"columns,omitempty"` // Fields a source must provide to qualify
	Scope   []string `json:"scope,omitempty"`   // Jurisdiction identifiers: state ("TX") or agency ("TX-Austin")
	Strict  bool     `json:"strict,omitempty"`  // Restrict output to exactly Columns
}

// String renders the constraints for logs and run history.
func (c Constraints) String() string {
	return fmt.Sprintf("columns=[%s] scope=[%s] strict=%t",
		strings.Join(c.Columns, ","), strings.Join(c.Scope, ","), c.Strict)
}

func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return fmt.Sprint(t)
	}
}
