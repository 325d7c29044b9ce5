// Package ingest runs one workbook through checksum, template resolution,
// row materialization and the audit trail.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sheetetl/internal/materialize"
	"sheetetl/internal/metrics"
	"sheetetl/internal/probe"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
	"sheetetl/internal/templates"
	"sheetetl/internal/workbook"
)

// DuplicateWarning is reported when a checksum is already on record.
const DuplicateWarning = "file already ingested (checksum duplicate)"

// Repository is the storage surface an ingest touches.
type Repository interface {
	templates.Repository

	FileExists(ctx context.Context, checksum string) (bool, error)
	InsertIngestFile(ctx context.Context, filename, checksum, parserVersion string) (int64, error)
	UpdateIngestStatus(ctx context.Context, fileID int64, status string, recordCount int) error
	DeleteFileByChecksum(ctx context.Context, checksum string) error
	InsertRows(ctx context.Context, rows []storage.RowFact) (int, error)
	InsertIngestEvent(ctx context.Context, ev storage.IngestEvent) error
}

// Options selects the template for one ingest.
type Options struct {
	// TemplateID forces an existing template; matching is skipped.
	TemplateID *int64
	// TemplateName names a template created for an unseen shape.
	TemplateName string
	// Force replaces a previously ingested file with the same checksum.
	Force bool
}

// Result describes what one ingest did.
type Result struct {
	RunID              string   `json:"run_id" yaml:"run_id"`
	FileID             *int64   `json:"file_id" yaml:"file_id"`
	Filename           string   `json:"filename" yaml:"filename"`
	Checksum           string   `json:"checksum" yaml:"checksum"`
	TemplateID         int64    `json:"template_id" yaml:"template_id"`
	TemplateName       string   `json:"template_name" yaml:"template_name"`
	TemplateVersion    int      `json:"template_version" yaml:"template_version"`
	CreatedNewTemplate bool     `json:"created_new_template" yaml:"created_new_template"`
	InsertedRows       int      `json:"inserted_rows" yaml:"inserted_rows"`
	SkippedDuplicate   bool     `json:"skipped_duplicate" yaml:"skipped_duplicate"`
	Warnings           []string `json:"warnings" yaml:"warnings"`
}

// Service ingests files into one repository. It is not safe for concurrent
// ingests of the same file.
type Service struct {
	repo      Repository
	templates *templates.Store
	batchSize int
	log       *zap.Logger
	newRunID  func() string
}

// Option configures a Service.
type Option func(*serviceConfig)

type serviceConfig struct {
	thresholds probe.Thresholds
	wbOptions  workbook.Options
	batchSize  int
	log        *zap.Logger
	newRunID   func() string
}

func WithThresholds(th probe.Thresholds) Option {
	return func(c *serviceConfig) { c.thresholds = th }
}

func WithWorkbookOptions(o workbook.Options) Option {
	return func(c *serviceConfig) { c.wbOptions = o }
}

// WithBatchSize sets rows per storage batch; <= 0 keeps the default.
func WithBatchSize(n int) Option {
	return func(c *serviceConfig) { c.batchSize = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *serviceConfig) { c.log = l }
}

// NewService wires the template store and materializer over repo.
func NewService(repo Repository, opts ...Option) *Service {
	c := serviceConfig{
		thresholds: probe.DefaultThresholds(),
		batchSize:  materialize.DefaultBatchSize,
		log:        zap.NewNop(),
		newRunID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(&c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.batchSize <= 0 {
		c.batchSize = materialize.DefaultBatchSize
	}

	return &Service{
		repo: repo,
		templates: templates.NewStore(repo,
			templates.WithThresholds(c.thresholds),
			templates.WithWorkbookOptions(c.wbOptions),
			templates.WithLogger(c.log),
		),
		batchSize: c.batchSize,
		log:       c.log,
		newRunID:  c.newRunID,
	}
}

// Templates exposes the template store for read-only callers.
func (s *Service) Templates() *templates.Store { return s.templates }

// Analyze describes the file without writing anything.
func (s *Service) Analyze(ctx context.Context, path string) (templates.Analysis, error) {
	a, _, err := s.templates.Analyze(ctx, path)
	if err != nil {
		return templates.Analysis{}, fmt.Errorf("analyze: %w", err)
	}
	return a, nil
}

// Ingest stores the rows of the file at path under a matched, created or
// explicitly chosen template.
//
// A checksum already on record is skipped with DuplicateWarning unless
// opts.Force is set, in which case the previous file, rows and events are
// deleted first. An unknown opts.TemplateID fails before any write.
func (s *Service) Ingest(ctx context.Context, path string, opts Options) (res Result, err error) {
	res = Result{RunID: s.newRunID(), Filename: filepath.Base(path), Warnings: []string{}}
	log := s.log.With(zap.String("run_id", res.RunID), zap.String("file", res.Filename))

	status := "error"
	defer func() {
		metrics.RecordIngest(status)
		if err != nil {
			log.Error("ingest failed", zap.Error(err))
		}
	}()

	var explicit *storage.Template
	if opts.TemplateID != nil {
		explicit, err = s.templates.Resolve(ctx, *opts.TemplateID)
		if err != nil {
			return res, fmt.Errorf("ingest %s: %w", res.Filename, err)
		}
	}

	start := time.Now()
	res.Checksum, err = FileChecksum(path)
	metrics.RecordStep("checksum", stepStatus(err), time.Since(start))
	if err != nil {
		return res, fmt.Errorf("ingest %s: %w", res.Filename, err)
	}

	exists, err := s.repo.FileExists(ctx, res.Checksum)
	if err != nil {
		return res, fmt.Errorf("ingest %s: check checksum: %w", res.Filename, err)
	}
	if exists && !opts.Force {
		if err := s.describeDuplicate(ctx, path, opts.TemplateName, &res); err != nil {
			return res, fmt.Errorf("ingest %s: %w", res.Filename, err)
		}
		status = "duplicate"
		log.Info("duplicate skipped", zap.String("checksum", res.Checksum), zap.Int64("template_id", res.TemplateID))
		return res, nil
	}
	if exists {
		if err := s.repo.DeleteFileByChecksum(ctx, res.Checksum); err != nil {
			return res, fmt.Errorf("ingest %s: replace previous file: %w", res.Filename, err)
		}
		log.Info("previous ingest removed", zap.String("checksum", res.Checksum))
	}

	start = time.Now()
	a, wb, err := s.templates.Analyze(ctx, path)
	metrics.RecordStep("analyze", stepStatus(err), time.Since(start))
	if err != nil {
		return res, fmt.Errorf("ingest %s: %w", res.Filename, err)
	}

	tmpl := explicit
	if tmpl == nil {
		tmpl, res.CreatedNewTemplate, err = s.templates.CreateOrReuse(ctx, a.Signature, a.Schema, opts.TemplateName)
		if err != nil {
			return res, fmt.Errorf("ingest %s: %w", res.Filename, err)
		}
	}
	res.TemplateID, res.TemplateName, res.TemplateVersion = tmpl.ID, tmpl.Name, tmpl.Version

	fileID, err := s.repo.InsertIngestFile(ctx, res.Filename, res.Checksum, schema.EngineVersion)
	if err != nil {
		return res, fmt.Errorf("ingest %s: register file: %w", res.Filename, err)
	}
	res.FileID = &fileID

	start = time.Now()
	mr, err := materialize.Run(ctx, wb, materialize.Job{
		FileID:     fileID,
		TemplateID: tmpl.ID,
		Schema:     tmpl.Schema,
		DateHint:   schema.FileDateHint(res.Filename),
		BatchSize:  s.batchSize,
	}, s.repo)
	metrics.RecordStep("materialize", stepStatus(err), time.Since(start))
	metrics.RecordRows("produced", mr.Produced)
	metrics.RecordRows("inserted", mr.Inserted)
	metrics.RecordBatches(mr.Batches)
	if err != nil {
		s.markFailed(ctx, log, fileID, tmpl.ID, mr, err)
		return res, fmt.Errorf("ingest %s: %w", res.Filename, err)
	}
	res.InsertedRows = mr.Inserted
	res.Warnings = append(res.Warnings, mr.Warnings...)

	if err := s.repo.UpdateIngestStatus(ctx, fileID, storage.StatusOK, mr.Inserted); err != nil {
		return res, fmt.Errorf("ingest %s: finalize file: %w", res.Filename, err)
	}
	if err := s.repo.InsertIngestEvent(ctx, storage.IngestEvent{
		FileID:     fileID,
		TemplateID: tmpl.ID,
		Status:     storage.StatusOK,
		RowCount:   mr.Inserted,
		Notes:      joinNotes(res.Warnings),
	}); err != nil {
		return res, fmt.Errorf("ingest %s: audit event: %w", res.Filename, err)
	}

	status = "ok"
	log.Info("ingest complete",
		zap.Int64("file_id", fileID),
		zap.Int64("template_id", tmpl.ID),
		zap.String("template_name", tmpl.Name),
		zap.Int("template_version", tmpl.Version),
		zap.Bool("created_new_template", res.CreatedNewTemplate),
		zap.Int("rows", mr.Inserted),
		zap.Int("batches", mr.Batches),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// describeDuplicate fills the template fields of a skipped ingest. An
// unseen shape still gets a template so the caller can report one.
func (s *Service) describeDuplicate(ctx context.Context, path, name string, res *Result) error {
	a, _, err := s.templates.Analyze(ctx, path)
	if err != nil {
		return err
	}
	tmpl := a.Matched
	if tmpl == nil {
		if tmpl, _, err = s.templates.CreateOrReuse(ctx, a.Signature, a.Schema, name); err != nil {
			return err
		}
	}
	res.TemplateID, res.TemplateName, res.TemplateVersion = tmpl.ID, tmpl.Name, tmpl.Version
	res.SkippedDuplicate = true
	res.Warnings = append(res.Warnings, DuplicateWarning)
	return nil
}

// markFailed records a failed materialization on the file and in the audit
// trail. The caller's context may already be canceled, so the writes run
// detached from it.
func (s *Service) markFailed(ctx context.Context, log *zap.Logger, fileID, templateID int64, mr materialize.Result, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.repo.UpdateIngestStatus(ctx, fileID, storage.StatusFailed, mr.Inserted); err != nil {
		log.Warn("mark file failed", zap.Int64("file_id", fileID), zap.Error(err))
	}
	notes := append([]string{cause.Error()}, mr.Warnings...)
	if err := s.repo.InsertIngestEvent(ctx, storage.IngestEvent{
		FileID:     fileID,
		TemplateID: templateID,
		Status:     storage.StatusFailed,
		RowCount:   mr.Inserted,
		Notes:      joinNotes(notes),
	}); err != nil {
		log.Warn("audit failed ingest", zap.Int64("file_id", fileID), zap.Error(err))
	}
}

// FileChecksum is the lower-case hex SHA-256 of the file's bytes.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func joinNotes(warnings []string) *string {
	if len(warnings) == 0 {
		return nil
	}
	s := strings.Join(warnings, "; ")
	return &s
}

func stepStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
