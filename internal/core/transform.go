package core

// transform.go implements the closed set of field transformations.
//
// A Transform is a tagged union: Format selects the behavior and the other
// fields carry that variant's static parameters. Transforms are bound once per
// run (see Registry.Bind) and applied to every row of a source.
//
// Every transformation tolerates malformed input: a missing cell, an empty
// cell, or an unparsable value yields Null rather than an error.

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Transform converts one raw cell into a canonical value.
type Transform struct {
	Format Format
	Index  int // Column position; -1 for raw literals

	Literal Value  // raw
	Layout  layout // date, time
	Parity  bool   // ethnicity: default unrecognized values to HISPANIC

	// time with UTC conversion
	Location   *time.Location
	DateIndex  int
	DateLayout layout
}

// Apply runs the transformation against row.
func (t Transform) Apply(row RawRow) Value {
	if t.Format == FormatRaw {
		return t.Literal
	}

	cell, ok := row.Cell(t.Index)
	if !ok {
		return Null
	}

	switch t.Format {
	case FormatDate:
		return ParseDate(cell, t.Layout)
	case FormatTime:
		return t.applyTime(row, cell)
	case FormatRace:
		return NormalizeRace(cell)
	case FormatEthnicity:
		return NormalizeEthnicity(cell, t.Parity)
	case FormatSex:
		return NormalizeSex(cell)
	case FormatBoolean:
		return ParseBoolean(cell)
	case FormatNumber:
		return ParseNumber(cell)
	case FormatLower:
		return Lower(cell)
	case FormatUpper:
		return Upper(cell)
	case FormatCapitalize:
		return Capitalize(cell)
	case FormatState:
		return NormalizeState(cell)
	case FormatCondition:
		return NormalizeCondition(cell)
	default:
		return Null
	}
}

// ParseDate parses cell with the given layout and returns a date value.
// A trailing time component, separated by whitespace or a "T", is ignored.
func ParseDate(cell string, l layout) Value {
	s := strings.TrimSpace(cell)
	if s == "" {
		return Null
	}
	if t, ok := l.parse(s); ok {
		return Date(t)
	}
	if t, ok := l.parse(datePart(s)); ok {
		return Date(t)
	}
	return Null
}

// datePart strips a trailing time component from s.
func datePart(s string) string {
	if i := strings.IndexFunc(s, unicode.IsSpace); i > 0 {
		s = s[:i]
	}
	// ISO-style "2020-01-02T10:00": only cut at a T between two digits, so
	// month names such as "OCT" survive.
	for i := 1; i+1 < len(s); i++ {
		if (s[i] == 'T' || s[i] == 't') && digitAt(s, i-1) && digitAt(s, i+1) {
			return s[:i]
		}
	}
	return s
}

var defaultTimeLayouts = []layout{
	{strict: "15:04", relaxed: "15:4"},
	{strict: "15:04:05", relaxed: "15:4:5"},
	{strict: "3:04 PM", relaxed: "3:4 PM"},
	{strict: "3:04:05 PM", relaxed: "3:4:5 PM"},
	{strict: "1504", relaxed: "1504"},
}

func (t Transform) applyTime(row RawRow, cell string) Value {
	clock, ok := parseClock(cell, t.Layout)
	if !ok {
		return Null
	}
	if t.Location == nil {
		return String(clock.Format("15:04"))
	}

	y, m, d := 2000, time.January, 1
	if t.DateIndex >= 0 {
		if dc, ok := row.Cell(t.DateIndex); ok {
			if dv := ParseDate(dc, t.DateLayout); !dv.IsNull() {
				dt, _ := dv.Time()
				y, m, d = dt.Date()
			}
		}
	}
	local := time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, t.Location)
	return String(local.UTC().Format("15:04:05"))
}

// parseClock reads a time of day. Values with a decimal point that parse as
// numbers are spreadsheet fractions of a day (0.5 is noon).
func parseClock(cell string, l layout) (time.Time, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return time.Time{}, false
	}

	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && !math.IsInf(f, 0) {
			frac := f - math.Floor(f)
			secs := int(math.Round(frac*86400)) % 86400
			return time.Date(0, time.January, 1, 0, 0, secs, 0, time.UTC), true
		}
	}

	if l.strict != "" {
		return l.parse(s)
	}
	for _, dl := range defaultTimeLayouts {
		if t, ok := dl.parse(s); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var raceCodes = map[string]string{
	"W":  "WHITE",
	"B":  "BLACK",
	"H":  "HISPANIC",
	"A":  "ASIAN",
	"I":  "AMERICAN INDIAN",
	"AI": "AMERICAN INDIAN",
	"AN": "ALASKA NATIVE",
	"P":  "PACIFIC ISLANDER",
	"PI": "PACIFIC ISLANDER",
	"O":  "OTHER",
	"U":  "UNKNOWN",
}

// NormalizeRace maps short race codes to canonical labels. Any other value
// of two or more characters passes through uppercased; unknown single-letter
// codes are null.
func NormalizeRace(cell string) Value {
	v := strings.ToUpper(strings.TrimSpace(cell))
	if v == "" {
		return Null
	}
	if label, ok := raceCodes[v]; ok {
		return String(label)
	}
	if utf8.RuneCountInString(v) >= 2 {
		return String(v)
	}
	return Null
}

var (
	hispanicMarkers = map[string]bool{
		"H": true, "HISP": true, "HISPANIC": true, "Y": true, "YES": true,
		"HISPANIC OR LATINO": true, "LATINO": true,
	}
	nonHispanicMarkers = map[string]bool{
		"N": true, "NH": true, "NO": true, "NON-HISPANIC": true, "NON HISPANIC": true,
		"NONHISPANIC": true, "NOT HISPANIC": true, "NOT HISPANIC OR LATINO": true,
	}
)

// NormalizeEthnicity maps a value to HISPANIC or NON-HISPANIC. Unrecognized
// values are null, or HISPANIC when parity is set.
func NormalizeEthnicity(cell string, parity bool) Value {
	v := strings.ToUpper(strings.TrimSpace(cell))
	if v == "" {
		return Null
	}
	switch {
	case nonHispanicMarkers[v]:
		return String("NON-HISPANIC")
	case hispanicMarkers[v], parity:
		return String("HISPANIC")
	default:
		return Null
	}
}

// NormalizeSex dispatches on the first letter, case-insensitively.
func NormalizeSex(cell string) Value {
	v := strings.ToLower(strings.TrimSpace(cell))
	switch {
	case strings.HasPrefix(v, "m"):
		return String("MALE")
	case strings.HasPrefix(v, "f"):
		return String("FEMALE")
	default:
		return Null
	}
}

// ParseBoolean is true when the value starts with "y" or "t".
func ParseBoolean(cell string) Value {
	v := strings.ToLower(strings.TrimSpace(cell))
	if v == "" {
		return Null
	}
	return Bool(strings.HasPrefix(v, "y") || strings.HasPrefix(v, "t"))
}

// ParseNumber returns an integer for all-digit values and a float for other
// values containing digits. Values without digits pass through unchanged.
// Currency symbols, thousands separators and accounting parentheses are
// removed before parsing.
func ParseNumber(cell string) Value {
	s := strings.TrimSpace(cell)
	if s == "" {
		return Null
	}
	if !strings.ContainsFunc(s, isASCIIDigit) {
		return String(cell)
	}
	if isAllDigits(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.TrimSpace(strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s))
	if isAllDigits(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			if negative {
				i = -i
			}
			return Int(i)
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Null
	}
	if negative {
		f = -f
	}
	return Float(f)
}

// Lower lowercases and trims the value.
func Lower(cell string) Value {
	v := strings.TrimSpace(cell)
	if v == "" {
		return Null
	}
	return String(cases.Lower(language.Und).String(v))
}

// Upper uppercases and trims the value.
func Upper(cell string) Value {
	v := strings.TrimSpace(cell)
	if v == "" {
		return Null
	}
	return String(cases.Upper(language.Und).String(v))
}

// Capitalize uppercases the first letter and lowercases the rest.
func Capitalize(cell string) Value {
	v := strings.TrimSpace(cell)
	if v == "" {
		return Null
	}
	r, size := utf8.DecodeRuneInString(v)
	head := cases.Upper(language.Und).String(string(r))
	return String(head + cases.Lower(language.Und).String(v[size:]))
}

// NormalizeState resolves free text to a two-letter jurisdiction code,
// returning the original value when it cannot be resolved.
func NormalizeState(cell string) Value {
	v := strings.TrimSpace(cell)
	if v == "" {
		return Null
	}
	return String(NormalizeUsState(v))
}

// NormalizeCondition lowercases free text.
// TODO: categorize conditions (e.g. "DRUG", "ALCOHOL") once a label set exists.
func NormalizeCondition(cell string) Value {
	return Lower(cell)
}

func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }

func isAllDigits(s string) bool {
	for _, r := range s {
		if !isASCIIDigit(r) {
			return false
		}
	}
	return s != ""
}
