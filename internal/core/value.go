package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueKind discriminates the canonical value variants.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindDate
)

// DateLayout is the normalized calendar-date representation.
const DateLayout = "2006-01-02"

// Value is one canonical cell. The zero Value is null.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

// Null is the absent value.
var Null = Value{}

// String returns a text value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating-point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date returns a calendar-date value. The time of day is discarded.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ValueOf converts a decoded JSON literal into a Value.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return String(t.String())
	default:
		return String(fmt.Sprint(t))
	}
}

// Kind returns the variant of v.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// String renders v as delimited-text output. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindDate:
		return v.t.Format(DateLayout)
	default:
		return ""
	}
}

// Any returns v as a native Go value for programmatic consumers and
// database drivers: nil, string, int64, float64, bool, or a date string.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindDate:
		return v.t.Format(DateLayout)
	default:
		return nil
	}
}

// Time returns the calendar date held by a date value.
func (v Value) Time() (time.Time, bool) {
	return v.t, v.kind == KindDate
}

// MarshalJSON encodes v as its native JSON form; null as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}
