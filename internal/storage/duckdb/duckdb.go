// Package duckdb stores templates and rows in an embedded DuckDB file.
//
// Ids come from sequences; DuckDB has no autoincrement columns.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"sheetetl/internal/storage"
	"sheetetl/internal/storage/sqlstore"
)

func init() {
	storage.Register("duckdb", Open)
}

// Open opens the database file at cfg.DSN, creating its directory. An empty
// DSN opens an in-memory database.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("duckdb: create %s: %w", dir, err)
			}
		}
	}
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	// In-memory databases are per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("duckdb: ping: %w", err)
	}
	return sqlstore.New(db, Dialect{}), nil
}

// Dialect is the sqlstore dialect for DuckDB.
type Dialect struct{}

func (Dialect) Name() string { return "duckdb" }

func (Dialect) Bind(n int) string { return sqlstore.QuestionBind(n) }

func (Dialect) Quote(ident string) string { return sqlstore.DoubleQuote(ident) }

func (Dialect) SchemaStatements() []string { return schemaStatements }

func (d Dialect) InsertReturning(table, idColumn string, columns []string) string {
	return sqlstore.ReturningClause(d, table, idColumn, columns)
}

func (Dialect) SelectLimit(columns, rest string, n int) string {
	return fmt.Sprintf("SELECT %s %s LIMIT %d", columns, rest, n)
}

func (Dialect) TimeValue(t time.Time) any { return t.UTC() }

func (Dialect) DateValue(t time.Time) any {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (Dialect) IsUniqueViolation(err error) bool {
	var de *duckdb.Error
	if errors.As(err, &de) && de.Type == duckdb.ErrorTypeConstraint {
		return strings.Contains(de.Msg, "Duplicate key") || strings.Contains(de.Msg, "unique")
	}
	return err != nil && strings.Contains(err.Error(), "Duplicate key")
}

func (Dialect) MaxParams() int { return 32000 }

var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS seq_file_id START 1`,
	`CREATE SEQUENCE IF NOT EXISTS seq_template_id START 1`,
	`CREATE SEQUENCE IF NOT EXISTS seq_row_id START 1`,
	`CREATE SEQUENCE IF NOT EXISTS seq_event_id START 1`,
	`CREATE TABLE IF NOT EXISTS ingest_file (
  file_id BIGINT PRIMARY KEY DEFAULT nextval('seq_file_id'),
  filename VARCHAR NOT NULL,
  checksum_sha256 VARCHAR(64) NOT NULL UNIQUE,
  parser_version VARCHAR(32) NOT NULL,
  status VARCHAR(20) NOT NULL DEFAULT 'OK',
  record_count BIGINT NOT NULL DEFAULT 0,
  ingested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS excel_template (
  template_id BIGINT PRIMARY KEY DEFAULT nextval('seq_template_id'),
  template_name VARCHAR NOT NULL,
  template_version INTEGER NOT NULL,
  workbook_signature VARCHAR(64) NOT NULL UNIQUE,
  schema_json VARCHAR NOT NULL,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE (template_name, template_version)
)`,
	`CREATE TABLE IF NOT EXISTS excel_row_fact (
  row_id BIGINT PRIMARY KEY DEFAULT nextval('seq_row_id'),
  file_id BIGINT NOT NULL,
  template_id BIGINT NOT NULL,
  sheet_name VARCHAR NOT NULL,
  "row_number" INTEGER NOT NULL,
  event_date DATE,
  metrics_json VARCHAR NOT NULL,
  dimensions_json VARCHAR NOT NULL,
  raw_json VARCHAR NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_excel_row_template_date ON excel_row_fact(template_id, event_date)`,
	`CREATE TABLE IF NOT EXISTS excel_ingest_event (
  event_id BIGINT PRIMARY KEY DEFAULT nextval('seq_event_id'),
  file_id BIGINT NOT NULL,
  template_id BIGINT NOT NULL,
  status VARCHAR(20) NOT NULL,
  row_count BIGINT NOT NULL,
  notes VARCHAR,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
}
