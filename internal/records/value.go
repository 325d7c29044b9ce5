// Package records defines the scalar payload carried in row dimension and raw maps.
//
// Spreadsheet rows are open-ended: their keys come from user headers and are only
// known at ingest time. Values are restricted to a tagged union of
// {null, number, string} so they round-trip through JSON columns unchanged.
package records

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// Kind tags the active member of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
)

// Value is a normalized cell scalar.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

// Null is the zero Value.
var Null = Value{}

// Number wraps a float.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// String wraps a string. An empty string is kept as a string; callers that
// want empty-as-null normalize before calling.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// IsNull reports whether v carries no data. Empty strings count as null.
func (v Value) IsNull() bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == ""
	default:
		return false
	}
}

// Text returns the display form used by CLI output and date parsing.
func (v Value) Text() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return v.Str
	default:
		return ""
	}
}

func (v Value) String() string { return v.Text() }

// MarshalJSON encodes null, a JSON number, or a JSON string.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, numbers, strings and booleans (as 0/1).
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Null
	case float64:
		*v = Number(t)
	case string:
		*v = String(t)
	case bool:
		if t {
			*v = Number(1)
		} else {
			*v = Number(0)
		}
	default:
		return fmt.Errorf("records: unsupported JSON value %T", raw)
	}
	return nil
}

// Map is a named set of values, keyed by column name.
type Map map[string]Value
