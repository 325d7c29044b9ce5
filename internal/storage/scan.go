package storage

import (
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// ParseTime converts a driver value into a time.Time.
//
// Drivers disagree on how DATE/TIMESTAMP columns come back: pgx, duckdb and
// sqlserver return time.Time, while sqlite returns text. Strings without a
// zone are interpreted as UTC.
//
// Supported string formats:
//   - RFC3339Nano / RFC3339 (what text backends write)
//   - "2006-01-02 15:04:05[.fraction][Z07:00]"
//   - "2006-01-02"
func ParseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	case nil:
		return time.Time{}, fmt.Errorf("nil time value")
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// FormatTime renders t for text timestamp columns.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatDate renders a calendar date for text date columns.
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}
