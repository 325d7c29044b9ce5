package workbook

import (
	"strconv"
	"strings"
	"time"
)

// Kind is the native type a cell was decoded as.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	default:
		return "empty"
	}
}

// Cell is one decoded spreadsheet value. Exactly one of Str, Num or Time is
// meaningful, selected by Kind. Bool cells carry 0/1 in Num.
type Cell struct {
	Kind Kind
	Str  string
	Num  float64
	Time time.Time
}

// Empty is the zero Cell.
var Empty = Cell{}

func Text(s string) Cell { return Cell{Kind: KindString, Str: s} }
func Number(f float64) Cell { return Cell{Kind: KindNumber, Num: f} }
func Date(t time.Time) Cell { return Cell{Kind: KindDate, Time: t} }
func Bool(b bool) Cell {
	if b {
		return Cell{Kind: KindBool, Num: 1}
	}
	return Cell{Kind: KindBool}
}

// IsBlank reports whether the cell is missing or whitespace-only text.
func (c Cell) IsBlank() bool {
	switch c.Kind {
	case KindEmpty:
		return true
	case KindString:
		return strings.TrimSpace(c.Str) == ""
	default:
		return false
	}
}

// IsNumeric reports whether the cell holds a native number (bools included).
func (c Cell) IsNumeric() bool { return c.Kind == KindNumber || c.Kind == KindBool }

// String renders the cell as plain text: integral numbers without a fraction,
// dates as "YYYY-MM-DD HH:MM:SS".
func (c Cell) String() string {
	switch c.Kind {
	case KindString:
		return c.Str
	case KindNumber:
		return formatNumber(c.Num)
	case KindBool:
		if c.Num != 0 {
			return "True"
		}
		return "False"
	case KindDate:
		return c.Time.Format("2006-01-02 15:04:05")
	default:
		return ""
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
