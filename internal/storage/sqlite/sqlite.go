// Package sqlite is the default storage backend, built on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"sheetetl/internal/storage"
	"sheetetl/internal/storage/sqlstore"
)

func init() {
	storage.Register("sqlite", Open)
}

// Open opens (creating if needed) the database at cfg.DSN.
//
// A plain file path gets its parent directory created. SQLite stores
// timestamps as RFC3339Nano text and dates as YYYY-MM-DD text, which keeps
// range filters correct under lexical comparison.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	if err := ensureParentDir(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlstore.New(db, Dialect{}), nil
}

func ensureParentDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sqlite: create %s: %w", dir, err)
	}
	return nil
}

// Dialect is the sqlstore dialect for SQLite.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Bind(n int) string { return sqlstore.QuestionBind(n) }

func (Dialect) Quote(ident string) string { return sqlstore.DoubleQuote(ident) }

func (Dialect) SchemaStatements() []string { return schemaStatements }

func (d Dialect) InsertReturning(table, idColumn string, columns []string) string {
	return sqlstore.ReturningClause(d, table, idColumn, columns)
}

func (Dialect) SelectLimit(columns, rest string, n int) string {
	return fmt.Sprintf("SELECT %s %s LIMIT %d", columns, rest, n)
}

func (Dialect) TimeValue(t time.Time) any { return storage.FormatTime(t) }

func (Dialect) DateValue(t time.Time) any { return storage.FormatDate(t) }

// IsUniqueViolation matches SQLITE_CONSTRAINT_UNIQUE and _PRIMARYKEY.
func (Dialect) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// MaxParams is SQLITE_MAX_VARIABLE_NUMBER for SQLite >= 3.32.
func (Dialect) MaxParams() int { return 32766 }

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ingest_file (
  file_id INTEGER PRIMARY KEY AUTOINCREMENT,
  filename TEXT NOT NULL,
  checksum_sha256 TEXT NOT NULL UNIQUE,
  parser_version TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'OK',
  record_count INTEGER NOT NULL DEFAULT 0,
  ingested_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS excel_template (
  template_id INTEGER PRIMARY KEY AUTOINCREMENT,
  template_name TEXT NOT NULL,
  template_version INTEGER NOT NULL,
  workbook_signature TEXT NOT NULL UNIQUE,
  schema_json TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL,
  UNIQUE (template_name, template_version)
)`,
	`CREATE TABLE IF NOT EXISTS excel_row_fact (
  row_id INTEGER PRIMARY KEY AUTOINCREMENT,
  file_id INTEGER NOT NULL,
  template_id INTEGER NOT NULL,
  sheet_name TEXT NOT NULL,
  "row_number" INTEGER NOT NULL,
  event_date DATE,
  metrics_json TEXT NOT NULL,
  dimensions_json TEXT NOT NULL,
  raw_json TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_excel_row_template_date ON excel_row_fact(template_id, event_date)`,
	`CREATE INDEX IF NOT EXISTS idx_excel_row_file ON excel_row_fact(file_id)`,
	`CREATE TABLE IF NOT EXISTS excel_ingest_event (
  event_id INTEGER PRIMARY KEY AUTOINCREMENT,
  file_id INTEGER NOT NULL,
  template_id INTEGER NOT NULL,
  status TEXT NOT NULL,
  row_count INTEGER NOT NULL,
  notes TEXT,
  created_at TIMESTAMP NOT NULL
)`,
}
