package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"sheetetl/internal/storage"
)

// Store implements storage.Repository for a database/sql handle.
type Store struct {
	db  *sql.DB
	d   Dialect
	now func() time.Time
}

var _ storage.Repository = (*Store)(nil)

// New wraps an open handle. The Store owns db and closes it on Close.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle for backend-specific tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range s.d.SchemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate step %d: %w", s.d.Name(), i+1, err)
		}
	}
	return nil
}

func (s *Store) FileExists(ctx context.Context, checksum string) (bool, error) {
	q := s.d.SelectLimit("1", fmt.Sprintf("FROM %s WHERE checksum_sha256 = %s", TableIngestFile, s.d.Bind(1)), 1)
	var one int
	err := s.db.QueryRowContext(ctx, q, checksum).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("file exists: %w", err)
	}
	return true, nil
}

func (s *Store) InsertIngestFile(ctx context.Context, filename, checksum, parserVersion string) (int64, error) {
	q := s.d.InsertReturning(TableIngestFile, "file_id",
		[]string{"filename", "checksum_sha256", "parser_version", "status", "record_count", "ingested_at"})

	var id int64
	err := s.db.QueryRowContext(ctx, q,
		filename, checksum, parserVersion, storage.StatusPending, 0, s.d.TimeValue(s.now()),
	).Scan(&id)
	if err != nil {
		if s.d.IsUniqueViolation(err) {
			return 0, storage.WrapConflict("insert ingest file", err)
		}
		return 0, fmt.Errorf("insert ingest file: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateIngestStatus(ctx context.Context, fileID int64, status string, recordCount int) error {
	q := fmt.Sprintf("UPDATE %s SET status = %s, record_count = %s WHERE file_id = %s",
		TableIngestFile, s.d.Bind(1), s.d.Bind(2), s.d.Bind(3))
	if _, err := s.db.ExecContext(ctx, q, status, recordCount, fileID); err != nil {
		return fmt.Errorf("update ingest status: %w", err)
	}
	return nil
}

func (s *Store) DeleteFileByChecksum(ctx context.Context, checksum string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete file: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var fileID int64
	q := fmt.Sprintf("SELECT file_id FROM %s WHERE checksum_sha256 = %s", TableIngestFile, s.d.Bind(1))
	err = tx.QueryRowContext(ctx, q, checksum).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete file: lookup: %w", err)
	}

	for _, table := range []string{TableRowFact, TableIngestEvent, TableIngestFile} {
		del := fmt.Sprintf("DELETE FROM %s WHERE file_id = %s", table, s.d.Bind(1))
		if _, err := tx.ExecContext(ctx, del, fileID); err != nil {
			return fmt.Errorf("delete file: %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete file: commit: %w", err)
	}
	return nil
}

const templateColumns = "template_id, template_name, template_version, workbook_signature, schema_json, created_at"

func (s *Store) TemplateBySignature(ctx context.Context, signature string) (*storage.Template, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE workbook_signature = %s", templateColumns, TableTemplate, s.d.Bind(1))
	t, err := scanTemplate(s.db.QueryRowContext(ctx, q, signature))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound("template signature", signature)
	}
	if err != nil {
		return nil, fmt.Errorf("template by signature: %w", err)
	}
	return t, nil
}

func (s *Store) TemplateByID(ctx context.Context, id int64) (*storage.Template, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE template_id = %s", templateColumns, TableTemplate, s.d.Bind(1))
	t, err := scanTemplate(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound("template", id)
	}
	if err != nil {
		return nil, fmt.Errorf("template by id: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*storage.Template, error) {
	var (
		t         storage.Template
		version   int64
		rawSchema string
		createdAt any
	)
	if err := row.Scan(&t.ID, &t.Name, &version, &t.Signature, &rawSchema, &createdAt); err != nil {
		return nil, err
	}
	t.Version = int(version)

	w, err := storage.DecodeSchema([]byte(rawSchema))
	if err != nil {
		return nil, fmt.Errorf("template %d: %w", t.ID, err)
	}
	t.Schema = w

	if t.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("template %d created_at: %w", t.ID, err)
	}
	return &t, nil
}

func (s *Store) NextTemplateVersion(ctx context.Context, name string) (int, error) {
	q := fmt.Sprintf("SELECT COALESCE(MAX(template_version), 0) + 1 FROM %s WHERE template_name = %s",
		TableTemplate, s.d.Bind(1))
	var next int64
	if err := s.db.QueryRowContext(ctx, q, name).Scan(&next); err != nil {
		return 0, fmt.Errorf("next template version: %w", err)
	}
	return int(next), nil
}

func (s *Store) CreateTemplate(ctx context.Context, nt storage.NewTemplate) (*storage.Template, error) {
	rawSchema, err := storage.EncodeSchema(nt.Schema)
	if err != nil {
		return nil, err
	}
	createdAt := s.now()

	q := s.d.InsertReturning(TableTemplate, "template_id",
		[]string{"template_name", "template_version", "workbook_signature", "schema_json", "created_at"})

	var id int64
	err = s.db.QueryRowContext(ctx, q,
		nt.Name, nt.Version, nt.Signature, rawSchema, s.d.TimeValue(createdAt),
	).Scan(&id)
	if err != nil {
		if s.d.IsUniqueViolation(err) {
			return nil, storage.WrapConflict("create template", err)
		}
		return nil, fmt.Errorf("create template: %w", err)
	}

	return &storage.Template{
		ID:        id,
		Name:      nt.Name,
		Version:   nt.Version,
		Signature: nt.Signature,
		Schema:    nt.Schema,
		CreatedAt: createdAt,
	}, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]storage.TemplateSummary, error) {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY template_id", templateColumns, TableTemplate)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []storage.TemplateSummary{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		out = append(out, storage.TemplateSummary{
			ID:         t.ID,
			Name:       t.Name,
			Version:    t.Version,
			Signature:  t.Signature,
			SheetCount: len(t.Schema.Sheets),
			CreatedAt:  t.CreatedAt,
		})
	}
	return out, rows.Err()
}

// InsertRows writes the batch in one transaction, split into multi-row
// statements that respect the dialect's parameter limit.
func (s *Store) InsertRows(ctx context.Context, rows []storage.RowFact) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert rows: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	width := len(rowFactColumns)
	chunk := RowsPerStatement(s.d, width)
	written := 0

	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		part := rows[start:end]

		args := make([]any, 0, len(part)*width)
		for _, r := range part {
			enc, err := storage.EncodeRow(r)
			if err != nil {
				return 0, err
			}
			args = append(args, s.rowArgs(enc)...)
		}

		q := BuildMultiInsert(s.d, TableRowFact, rowFactColumns, len(part))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			if s.d.IsUniqueViolation(err) {
				return 0, storage.WrapConflict("insert rows", err)
			}
			return 0, fmt.Errorf("insert rows [%d:%d]: %w", start, end, err)
		}
		written += len(part)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert rows: commit: %w", err)
	}
	return written, nil
}

func (s *Store) rowArgs(r storage.EncodedRow) []any {
	var eventDate any
	if r.EventDate != nil {
		eventDate = s.d.DateValue(*r.EventDate)
	}
	return []any{
		r.FileID,
		r.TemplateID,
		r.SheetName,
		r.RowNumber,
		eventDate,
		r.MetricsJSON,
		r.DimensionsJSON,
		r.RawJSON,
	}
}

func (s *Store) InsertIngestEvent(ctx context.Context, ev storage.IngestEvent) error {
	q := BuildMultiInsert(s.d, TableIngestEvent,
		[]string{"file_id", "template_id", "status", "row_count", "notes", "created_at"}, 1)

	var notes any
	if ev.Notes != nil {
		notes = *ev.Notes
	}
	_, err := s.db.ExecContext(ctx, q,
		ev.FileID, ev.TemplateID, ev.Status, ev.RowCount, notes, s.d.TimeValue(s.now()))
	if err != nil {
		return fmt.Errorf("insert ingest event: %w", err)
	}
	return nil
}

func (s *Store) ListTemplateMetrics(ctx context.Context, templateID int64) ([]string, error) {
	q := s.d.SelectLimit("metrics_json",
		fmt.Sprintf("FROM %s WHERE template_id = %s ORDER BY row_id", TableRowFact, s.d.Bind(1)),
		storage.MetricSampleRows)

	rows, err := s.db.QueryContext(ctx, q, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template metrics: %w", err)
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("list template metrics: %w", err)
		}
		if !raw.Valid {
			continue
		}
		for _, k := range storage.MetricKeys([]byte(raw.String)) {
			seen[k] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list template metrics: %w", err)
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) QueryTemplateTrend(ctx context.Context, tq storage.TrendQuery) ([]storage.TrendPoint, error) {
	q, args := BuildTrendQuery(s.d, tq)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	defer rows.Close()

	acc := storage.NewTrendAccumulator(tq)
	for rows.Next() {
		var (
			eventDate any
			raw       sql.NullString
		)
		if err := rows.Scan(&eventDate, &raw); err != nil {
			return nil, fmt.Errorf("query trend: %w", err)
		}
		d, err := storage.ParseTime(eventDate)
		if err != nil {
			return nil, fmt.Errorf("query trend: event_date: %w", err)
		}
		acc.Add(d, []byte(raw.String))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	return acc.Points(), nil
}

// BuildTrendQuery renders the row selection for a trend query. Aggregation
// happens in Go; the SQL only narrows by template, sheet and date range.
func BuildTrendQuery(d Dialect, tq storage.TrendQuery) (string, []any) {
	args := []any{tq.TemplateID}
	q := fmt.Sprintf("SELECT event_date, metrics_json FROM %s WHERE template_id = %s AND event_date IS NOT NULL",
		TableRowFact, d.Bind(1))

	if tq.Sheet != "" {
		args = append(args, tq.Sheet)
		q += fmt.Sprintf(" AND sheet_name = %s", d.Bind(len(args)))
	}
	if tq.Start != nil {
		args = append(args, d.DateValue(*tq.Start))
		q += fmt.Sprintf(" AND event_date >= %s", d.Bind(len(args)))
	}
	if tq.End != nil {
		args = append(args, d.DateValue(*tq.End))
		q += fmt.Sprintf(" AND event_date <= %s", d.Bind(len(args)))
	}
	return q + " ORDER BY event_date", args
}
