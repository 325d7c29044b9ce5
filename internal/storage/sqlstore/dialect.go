// Package sqlstore implements storage.Repository on top of database/sql.
//
// The sqlite, sqlserver and duckdb backends share this implementation and
// differ only in their Dialect: placeholder style, DDL, how generated ids
// come back from an INSERT, and how unique violations are reported.
package sqlstore

import (
	"fmt"
	"strings"
	"time"
)

// Dialect captures the SQL differences between database/sql backends.
type Dialect interface {
	// Name is the storage kind, used in error messages.
	Name() string
	// Bind returns the placeholder for the n-th (1-based) argument.
	Bind(n int) string
	// Quote quotes an identifier.
	Quote(ident string) string
	// SchemaStatements returns idempotent DDL, executed in order.
	SchemaStatements() []string
	// InsertReturning renders an INSERT of columns into table that yields the
	// generated idColumn as a single-row result.
	InsertReturning(table, idColumn string, columns []string) string
	// SelectLimit renders "SELECT <columns> <rest>" bounded to n rows.
	SelectLimit(columns, rest string, n int) string
	// TimeValue and DateValue convert Go times into driver arguments.
	TimeValue(t time.Time) any
	DateValue(t time.Time) any
	// IsUniqueViolation reports whether err is a UNIQUE/PK violation.
	IsUniqueViolation(err error) bool
	// MaxParams bounds the number of bind parameters per statement.
	MaxParams() int
}

// Table and column names shared by every backend.
const (
	TableIngestFile  = "ingest_file"
	TableTemplate    = "excel_template"
	TableRowFact     = "excel_row_fact"
	TableIngestEvent = "excel_ingest_event"
)

var rowFactColumns = []string{
	"file_id",
	"template_id",
	"sheet_name",
	"row_number",
	"event_date",
	"metrics_json",
	"dimensions_json",
	"raw_json",
}

// RowFactColumns returns the insert column order for excel_row_fact.
func RowFactColumns() []string {
	return append([]string(nil), rowFactColumns...)
}

// BuildMultiInsert renders a multi-row INSERT with rowCount value tuples.
//
// Placeholders are numbered left to right, row by row, so the args slice is
// the concatenation of each row's values in column order.
func BuildMultiInsert(d Dialect, table string, columns []string, rowCount int) string {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, d.Quote(c))
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	n := 1
	for i := 0; i < rowCount; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Bind(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// RowsPerStatement returns how many rows of width columns fit under the
// dialect's parameter limit. Never less than one.
func RowsPerStatement(d Dialect, width int) int {
	if width <= 0 {
		return 1
	}
	n := d.MaxParams() / width
	if n < 1 {
		return 1
	}
	return n
}

// QuestionBind is the "?" placeholder style used by sqlite and duckdb.
func QuestionBind(int) string { return "?" }

// DoubleQuote quotes an identifier ANSI-style.
func DoubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// ReturningClause renders "INSERT ... RETURNING id", supported by sqlite
// (3.35+), duckdb and postgres.
func ReturningClause(d Dialect, table, idColumn string, columns []string) string {
	return fmt.Sprintf("%s RETURNING %s", BuildMultiInsert(d, table, columns, 1), d.Quote(idColumn))
}
