package probe

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sheetetl/internal/workbook"
)

// simpleDatePattern matches day/month[/year] with '-' or '/' separators.
var simpleDatePattern = regexp.MustCompile(`^(\d{1,2})[-/](\d{1,2})(?:[-/](\d{2,4}))?$`)

// dateHeaderTokens mark a header as date-bearing regardless of sampled values.
var dateHeaderTokens = []string{"date", "data", "day", "month", "year", "period"}

// InferValueType classifies a single non-blank cell.
//
// Order of checks:
//  1. native dates are date
//  2. native numbers and booleans are numeric
//  3. text that parses as a locale-tolerant float is numeric
//  4. text shaped like d/m[/y] is date
//  5. text that parses as an ISO-8601 date or datetime is date
//  6. anything else is text
func InferValueType(c workbook.Cell) ValueType {
	switch c.Kind {
	case workbook.KindDate:
		return TypeDate
	case workbook.KindNumber, workbook.KindBool:
		return TypeNumeric
	}

	s := strings.TrimSpace(c.String())
	if s == "" {
		return TypeText
	}
	if _, ok := ParseNumber(s); ok {
		return TypeNumeric
	}
	if simpleDatePattern.MatchString(s) {
		return TypeDate
	}
	if _, ok := ParseISO(s); ok {
		return TypeDate
	}
	return TypeText
}

// ParseNumber parses a float after dropping spaces and treating ',' as the
// decimal separator. Thousands separators are not supported: "1.000,50"
// fails.
//
// Edge cases:
//   - Leading/trailing whitespace is ignored.
//   - Overflowing values parse as ±Inf rather than failing.
//   - Hexadecimal forms are rejected.
//   - Underscores are accepted only between digits ("1_000").
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, " ", ""))
	if s == "" || strings.ContainsAny(s, "xX") {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Contains(s, "_") {
		var ok bool
		if s, ok = stripDigitUnderscores(s); !ok {
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

func stripDigitUnderscores(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			b.WriteByte(s[i])
			continue
		}
		if i == 0 || i == len(s)-1 || !isDigit(s[i-1]) || !isDigit(s[i+1]) {
			return "", false
		}
	}
	return b.String(), true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

var (
	isoDateLayouts = []string{"2006-01-02", "20060102"}
	isoTimeLayouts = []string{
		"15",
		"15:04",
		"15:04:05",
		"15:04:05.999999999",
		"1504",
		"150405",
	}
	isoZoneLayouts = []string{"", "Z07:00", "Z0700", "Z07"}
)

// ParseISO parses an ISO-8601 calendar date with an optional time part.
//
// The date is "YYYY-MM-DD" or "YYYYMMDD". When a time follows, any single
// separator character is accepted between date and time, and the time may
// carry a zone offset or "Z". Only the calendar date of the result is
// meaningful to callers.
func ParseISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	var datePart, rest string
	switch {
	case len(s) >= 10 && s[4] == '-':
		datePart, rest = s[:10], s[10:]
	case len(s) >= 8:
		datePart, rest = s[:8], s[8:]
	default:
		return time.Time{}, false
	}

	var day time.Time
	ok := false
	for _, layout := range isoDateLayouts {
		if len(layout) != len(datePart) {
			continue
		}
		if t, err := time.Parse(layout, datePart); err == nil {
			day, ok = t, true
			break
		}
	}
	if !ok {
		return time.Time{}, false
	}
	if rest == "" {
		return day, true
	}

	// One separator rune, then a time of day.
	_, size := utf8.DecodeRuneInString(rest)
	clock := rest[size:]
	if clock == "" {
		return time.Time{}, false
	}
	for _, tl := range isoTimeLayouts {
		for _, zl := range isoZoneLayouts {
			if _, err := time.Parse(tl+zl, clock); err == nil {
				return day, true
			}
		}
	}
	return time.Time{}, false
}

// ParseDate extracts a calendar date from a normalized cell text.
//
// ISO-8601 forms are tried first. Otherwise a d/m/y form is accepted with
// two-digit years mapped into 2000-2099. A day/month without a year yields no
// date, as do impossible calendar dates.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := ParseISO(s); ok {
		return t, true
	}

	m := simpleDatePattern.FindStringSubmatch(s)
	if m == nil || m[3] == "" {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}
	return makeDate(year, month, day)
}

// makeDate builds a UTC date, rejecting values time.Date would normalize.
func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || year < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// HeaderLooksDate reports whether a header name carries a date token
// (date, data, day, month, year, period), case-insensitively.
func HeaderLooksDate(name string) bool {
	h := cases.Lower(language.Und).String(name)
	for _, tok := range dateHeaderTokens {
		if strings.Contains(h, tok) {
			return true
		}
	}
	return false
}
