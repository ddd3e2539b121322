package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/ncruces/go-strftime"
)

// Format identifies one transformation of the closed set a catalog may
// reference.
type Format uint8

const (
	FormatRaw Format = iota + 1
	FormatDate
	FormatTime
	FormatRace
	FormatEthnicity
	FormatSex
	FormatBoolean
	FormatNumber
	FormatLower
	FormatUpper
	FormatCapitalize
	FormatState
	FormatCondition
)

var formatNames = map[Format]string{
	FormatRaw:        "raw",
	FormatDate:       "date",
	FormatTime:       "time",
	FormatRace:       "race",
	FormatEthnicity:  "ethnicity",
	FormatSex:        "sex",
	FormatBoolean:    "boolean",
	FormatNumber:     "number",
	FormatLower:      "lower",
	FormatUpper:      "upper",
	FormatCapitalize: "capitalize",
	FormatState:      "state",
	FormatCondition:  "condition",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// Registry maps transformation names to formats. It is built once at
// process start and is read-only afterwards, so it can be shared freely.
type Registry struct {
	formats         map[string]Format
	ethnicityParity bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEthnicityParity makes the ethnicity transformation default every
// unrecognized value to HISPANIC instead of null.
func WithEthnicityParity(enabled bool) RegistryOption {
	return func(r *Registry) { r.ethnicityParity = enabled }
}

// NewRegistry returns the registry of built-in transformations.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{formats: make(map[string]Format, len(formatNames))}
	for f, name := range formatNames {
		r.formats[name] = f
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the format registered under name.
func (r *Registry) Lookup(name string) (Format, bool) {
	f, ok := r.formats[name]
	return f, ok
}

// Names returns every registered transformation name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formats))
	for name := range r.formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind resolves a transformation name and one source's field parameters into
// a ready-to-apply Transform. Unknown names and unusable parameters are
// configuration errors; the caller adds topic and source context.
func (r *Registry) Bind(name string, p FieldParams, j Jurisdiction) (Transform, error) {
	f, ok := r.Lookup(name)
	if !ok {
		return Transform{}, &ConfigurationError{
			Kind: ConfigUnknownFormat,
			Err:  fmt.Errorf("no transformation named %q", name),
		}
	}

	t := Transform{Format: f, Index: -1, DateIndex: -1}
	if idx, ok := p.Locator(); ok {
		t.Index = idx
	}

	switch f {
	case FormatRaw:
		t.Literal = ValueOf(p.Raw)
		return t, nil

	case FormatDate:
		if p.Specifier == "" {
			return Transform{}, invalidParam("date requires a specifier")
		}
		layout, err := compileSpecifier(p.Specifier)
		if err != nil {
			return Transform{}, err
		}
		t.Layout = layout

	case FormatTime:
		if p.Specifier != "" {
			layout, err := compileSpecifier(p.Specifier)
			if err != nil {
				return Transform{}, err
			}
			t.Layout = layout
		}
		if p.UTC {
			t.Location = zoneFor(j.State)
			if idx := p.DateIndex; idx != nil && *idx >= 0 {
				if p.DateSpecifier == "" {
					return Transform{}, invalidParam("date_index requires date_specifier")
				}
				layout, err := compileSpecifier(p.DateSpecifier)
				if err != nil {
					return Transform{}, err
				}
				t.DateIndex = *idx
				t.DateLayout = layout
			}
		}

	case FormatEthnicity:
		t.Parity = r.ethnicityParity
	}

	if t.Index < 0 {
		return Transform{}, invalidParam(fmt.Sprintf("%s requires an index", f))
	}
	return t, nil
}

func invalidParam(msg string) error {
	return &ConfigurationError{Kind: ConfigInvalidParam, Err: fmt.Errorf("%s", msg)}
}

// layout is a Go time layout compiled from a strftime specifier, together
// with a relaxed variant that also accepts unpadded numbers.
type layout struct {
	strict  string
	relaxed string
}

func compileSpecifier(spec string) (layout, error) {
	l, err := strftime.Layout(spec)
	if err != nil {
		return layout{}, invalidParam(fmt.Sprintf("specifier %q: %v", spec, err))
	}
	return layout{strict: l, relaxed: relaxLayout(l)}, nil
}

func (l layout) parse(value string) (time.Time, bool) {
	if t, err := time.Parse(l.strict, value); err == nil {
		return t, true
	}
	if l.relaxed != l.strict {
		if t, err := time.Parse(l.relaxed, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// relaxLayout swaps zero-padded month, day, hour and minute tokens for their
// unpadded forms, which time.Parse reads as one or two digits. Tokens that
// touch another digit are left alone.
func relaxLayout(l string) string {
	repl := map[string]string{"01": "1", "02": "2", "03": "3", "04": "4", "05": "5"}
	out := make([]byte, 0, len(l))
	for i := 0; i < len(l); i++ {
		if i+1 < len(l) {
			if short, ok := repl[l[i:i+2]]; ok && !digitAt(l, i-1) && !digitAt(l, i+2) {
				out = append(out, short...)
				i++
				continue
			}
		}
		out = append(out, l[i])
	}
	return string(out)
}

func digitAt(s string, i int) bool {
	return i >= 0 && i < len(s) && s[i] >= '0' && s[i] <= '9'
}
