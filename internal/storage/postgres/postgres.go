// Package postgres is the PostgreSQL storage backend.
//
// The schema is managed by embedded golang-migrate migrations; rows are bulk
// loaded with COPY.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"sheetetl/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	storage.Register("postgres", Open)
}

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Repo)(nil)

// Open creates a pool for cfg.DSN and verifies connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

// Migrate applies pending migrations. An up-to-date schema is not an error.
func (r *Repo) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: migrations source: %w", err)
	}

	db := stdlib.OpenDB(*r.pool.Config().ConnConfig)
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("postgres: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("postgres: migration instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	return ctx.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *Repo) FileExists(ctx context.Context, checksum string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ingest_file WHERE checksum_sha256 = $1)`, checksum).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("file exists: %w", err)
	}
	return ok, nil
}

func (r *Repo) InsertIngestFile(ctx context.Context, filename, checksum, parserVersion string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
INSERT INTO ingest_file (filename, checksum_sha256, parser_version, status, record_count, ingested_at)
VALUES ($1, $2, $3, $4, 0, $5)
RETURNING file_id`,
		filename, checksum, parserVersion, storage.StatusPending, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.WrapConflict("insert ingest file", err)
		}
		return 0, fmt.Errorf("insert ingest file: %w", err)
	}
	return id, nil
}

func (r *Repo) UpdateIngestStatus(ctx context.Context, fileID int64, status string, recordCount int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE ingest_file SET status = $1, record_count = $2 WHERE file_id = $3`,
		status, recordCount, fileID)
	if err != nil {
		return fmt.Errorf("update ingest status: %w", err)
	}
	return nil
}

func (r *Repo) DeleteFileByChecksum(ctx context.Context, checksum string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete file: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var fileID int64
	err = tx.QueryRow(ctx,
		`SELECT file_id FROM ingest_file WHERE checksum_sha256 = $1 FOR UPDATE`, checksum).Scan(&fileID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete file: lookup: %w", err)
	}

	for _, stmt := range deleteFileSQL {
		if _, err := tx.Exec(ctx, stmt, fileID); err != nil {
			return fmt.Errorf("delete file: %w", err)
		}
	}
	return tx.Commit(ctx)
}

var deleteFileSQL = []string{
	`DELETE FROM excel_row_fact WHERE file_id = $1`,
	`DELETE FROM excel_ingest_event WHERE file_id = $1`,
	`DELETE FROM ingest_file WHERE file_id = $1`,
}

const selectTemplateSQL = `SELECT template_id, template_name, template_version, workbook_signature, schema_json, created_at FROM excel_template`

func scanTemplate(row pgx.Row) (*storage.Template, error) {
	var (
		t         storage.Template
		version   int32
		rawSchema []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &version, &t.Signature, &rawSchema, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Version = int(version)
	w, err := storage.DecodeSchema(rawSchema)
	if err != nil {
		return nil, fmt.Errorf("template %d: %w", t.ID, err)
	}
	t.Schema = w
	return &t, nil
}

func (r *Repo) TemplateBySignature(ctx context.Context, signature string) (*storage.Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, selectTemplateSQL+` WHERE workbook_signature = $1`, signature))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.NotFound("template signature", signature)
	}
	if err != nil {
		return nil, fmt.Errorf("template by signature: %w", err)
	}
	return t, nil
}

func (r *Repo) TemplateByID(ctx context.Context, id int64) (*storage.Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, selectTemplateSQL+` WHERE template_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.NotFound("template", id)
	}
	if err != nil {
		return nil, fmt.Errorf("template by id: %w", err)
	}
	return t, nil
}

func (r *Repo) NextTemplateVersion(ctx context.Context, name string) (int, error) {
	var next int32
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(template_version), 0) + 1 FROM excel_template WHERE template_name = $1`, name).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next template version: %w", err)
	}
	return int(next), nil
}

func (r *Repo) CreateTemplate(ctx context.Context, nt storage.NewTemplate) (*storage.Template, error) {
	rawSchema, err := storage.EncodeSchema(nt.Schema)
	if err != nil {
		return nil, err
	}

	t := &storage.Template{Name: nt.Name, Version: nt.Version, Signature: nt.Signature, Schema: nt.Schema}
	err = r.pool.QueryRow(ctx, `
INSERT INTO excel_template (template_name, template_version, workbook_signature, schema_json)
VALUES ($1, $2, $3, $4)
RETURNING template_id, created_at`,
		nt.Name, nt.Version, nt.Signature, []byte(rawSchema),
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.WrapConflict("create template", err)
		}
		return nil, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

func (r *Repo) ListTemplates(ctx context.Context) ([]storage.TemplateSummary, error) {
	rows, err := r.pool.Query(ctx, `
SELECT template_id, template_name, template_version, workbook_signature,
       CASE WHEN jsonb_typeof(schema_json->'sheets') = 'array'
            THEN jsonb_array_length(schema_json->'sheets') ELSE 0 END,
       created_at
FROM excel_template
ORDER BY template_id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.TemplateSummary, error) {
		var (
			s       storage.TemplateSummary
			version int32
			sheets  int32
		)
		err := row.Scan(&s.ID, &s.Name, &version, &s.Signature, &sheets, &s.CreatedAt)
		s.Version = int(version)
		s.SheetCount = int(sheets)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

// copyColumns is the COPY column order for excel_row_fact.
var copyColumns = []string{
	"file_id", "template_id", "sheet_name", "row_number", "event_date",
	"metrics_json", "dimensions_json", "raw_json",
}

// copyRows encodes facts into COPY tuples.
func copyRows(rows []storage.RowFact) ([][]any, error) {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		enc, err := storage.EncodeRow(r)
		if err != nil {
			return nil, err
		}
		var eventDate any
		if r.EventDate != nil {
			eventDate = *r.EventDate
		}
		out = append(out, []any{
			r.FileID,
			r.TemplateID,
			r.SheetName,
			int32(r.RowNumber),
			eventDate,
			[]byte(enc.MetricsJSON),
			[]byte(enc.DimensionsJSON),
			[]byte(enc.RawJSON),
		})
	}
	return out, nil
}

func (r *Repo) InsertRows(ctx context.Context, rows []storage.RowFact) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tuples, err := copyRows(rows)
	if err != nil {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert rows: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"excel_row_fact"}, copyColumns, pgx.CopyFromRows(tuples))
	if err != nil {
		return 0, fmt.Errorf("insert rows: copy: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("insert rows: commit: %w", err)
	}
	return int(n), nil
}

func (r *Repo) InsertIngestEvent(ctx context.Context, ev storage.IngestEvent) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO excel_ingest_event (file_id, template_id, status, row_count, notes)
VALUES ($1, $2, $3, $4, $5)`,
		ev.FileID, ev.TemplateID, ev.Status, ev.RowCount, ev.Notes)
	if err != nil {
		return fmt.Errorf("insert ingest event: %w", err)
	}
	return nil
}

// metricKeysSQL unions the keys of the first MetricSampleRows metric objects.
var metricKeysSQL = fmt.Sprintf(`
SELECT DISTINCT k
FROM (
    SELECT metrics_json FROM excel_row_fact
    WHERE template_id = $1
    ORDER BY row_id
    LIMIT %d
) s, jsonb_object_keys(s.metrics_json) AS k
ORDER BY k`, storage.MetricSampleRows)

func (r *Repo) ListTemplateMetrics(ctx context.Context, templateID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, metricKeysSQL, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template metrics: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list template metrics: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// buildTrendSQL narrows rows in SQL; values are summed in Go so that string
// metrics follow the same tolerant parse on every backend.
func buildTrendSQL(q storage.TrendQuery) (string, []any) {
	args := []any{q.TemplateID, q.Metric}
	sql := `SELECT event_date, metrics_json::text FROM excel_row_fact
WHERE template_id = $1 AND event_date IS NOT NULL AND metrics_json ? $2`

	if q.Sheet != "" {
		args = append(args, q.Sheet)
		sql += fmt.Sprintf(" AND sheet_name = $%d", len(args))
	}
	if q.Start != nil {
		args = append(args, *q.Start)
		sql += fmt.Sprintf(" AND event_date >= $%d::date", len(args))
	}
	if q.End != nil {
		args = append(args, *q.End)
		sql += fmt.Sprintf(" AND event_date <= $%d::date", len(args))
	}
	return sql + " ORDER BY event_date", args
}

func (r *Repo) QueryTemplateTrend(ctx context.Context, q storage.TrendQuery) ([]storage.TrendPoint, error) {
	sql, args := buildTrendSQL(q)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	defer rows.Close()

	acc := storage.NewTrendAccumulator(q)
	for rows.Next() {
		var (
			day     time.Time
			metrics string
		)
		if err := rows.Scan(&day, &metrics); err != nil {
			return nil, fmt.Errorf("query trend: %w", err)
		}
		acc.Add(day, []byte(metrics))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	return acc.Points(), nil
}
