// Package templates decides which versioned template a workbook belongs to.
//
// A template is identified by the signature of its structural schema. Files
// with the same shape reuse the template; a new shape creates a new version
// under the requested name.
package templates

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"sheetetl/internal/apperrors"
	"sheetetl/internal/probe"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
	"sheetetl/internal/workbook"
)

// Repository is the subset of storage the store needs.
type Repository interface {
	TemplateBySignature(ctx context.Context, signature string) (*storage.Template, error)
	TemplateByID(ctx context.Context, id int64) (*storage.Template, error)
	NextTemplateVersion(ctx context.Context, name string) (int, error)
	CreateTemplate(ctx context.Context, t storage.NewTemplate) (*storage.Template, error)
}

// Analysis is the read-only result of inspecting a file.
type Analysis struct {
	Signature string            `json:"signature" yaml:"signature"`
	Schema    schema.Workbook   `json:"schema" yaml:"-"`
	Matched   *storage.Template `json:"matched_template" yaml:"-"`
}

// Store applies the match-or-create policy.
type Store struct {
	repo       Repository
	thresholds probe.Thresholds
	wbOptions  workbook.Options
	log        *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithThresholds overrides the inference thresholds.
func WithThresholds(th probe.Thresholds) Option {
	return func(s *Store) { s.thresholds = th.WithDefaults() }
}

// WithWorkbookOptions sets the decoding options used by Analyze.
func WithWorkbookOptions(o workbook.Options) Option {
	return func(s *Store) { s.wbOptions = o }
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore builds a Store over repo.
func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{repo: repo, thresholds: probe.DefaultThresholds(), log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Analyze opens the file at path and describes it. Storage is only read.
func (s *Store) Analyze(ctx context.Context, path string) (Analysis, *workbook.Workbook, error) {
	wb, err := workbook.Open(ctx, path, s.wbOptions)
	if err != nil {
		return Analysis{}, nil, err
	}
	a, err := s.AnalyzeWorkbook(ctx, wb, filepath.Base(path))
	if err != nil {
		return Analysis{}, nil, err
	}
	return a, wb, nil
}

// AnalyzeWorkbook infers the schema of an already opened workbook and looks
// up the template with the same signature.
func (s *Store) AnalyzeWorkbook(ctx context.Context, wb *workbook.Workbook, filename string) (Analysis, error) {
	w := schema.Build(wb, filename, s.thresholds)
	a := Analysis{Signature: schema.Signature(w), Schema: w}

	t, err := s.repo.TemplateBySignature(ctx, a.Signature)
	switch {
	case err == nil:
		a.Matched = t
	case errors.Is(err, apperrors.ErrNotFound):
		// unseen shape
	default:
		return Analysis{}, fmt.Errorf("analyze %s: %w", filename, err)
	}
	return a, nil
}

// DefaultName is the template name used when the caller gives none.
func DefaultName(signature string) string {
	if len(signature) > 8 {
		signature = signature[:8]
	}
	return "AUTO_" + signature
}

// CreateOrReuse returns the template with this signature, or creates the
// next version of name. created reports whether a template was written.
//
// Uniqueness races surface as errors wrapping apperrors.ErrConflict; they are
// not retried.
func (s *Store) CreateOrReuse(ctx context.Context, signature string, w schema.Workbook, name string) (t *storage.Template, created bool, err error) {
	t, err = s.repo.TemplateBySignature(ctx, signature)
	if err == nil {
		return t, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup template: %w", err)
	}

	if name == "" {
		name = DefaultName(signature)
	}
	version, err := s.repo.NextTemplateVersion(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("next version of %s: %w", name, err)
	}

	t, err = s.repo.CreateTemplate(ctx, storage.NewTemplate{
		Name:      name,
		Version:   version,
		Signature: signature,
		Schema:    w,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create template %s v%d: %w", name, version, err)
	}

	s.log.Info("template created",
		zap.Int64("template_id", t.ID),
		zap.String("template_name", t.Name),
		zap.Int("template_version", t.Version),
		zap.String("signature", signature),
	)
	return t, true, nil
}

// Resolve returns the template with id without any matching. A missing id
// is an error wrapping apperrors.ErrNotFound.
func (s *Store) Resolve(ctx context.Context, id int64) (*storage.Template, error) {
	t, err := s.repo.TemplateByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve template %d: %w", id, err)
	}
	return t, nil
}
