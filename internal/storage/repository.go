package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config is the minimal configuration needed to open a repository.
//
// When to use:
//   - Use Config when constructing a Repository via New.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the storage capability the template engine runs against.
//
// Backends implement these semantics in their own idiomatic way (pgx COPY,
// multi-row VALUES, OUTPUT/RETURNING ids), but share the same table layout.
// Implementations are used by a single logical writer; uniqueness races on
// templates or checksums surface as errors wrapping apperrors.ErrConflict.
type Repository interface {
	// Migrate creates tables, sequences and indexes if missing. Idempotent.
	Migrate(ctx context.Context) error

	// FileExists reports whether a file with this checksum is on record.
	FileExists(ctx context.Context, checksum string) (bool, error)
	// InsertIngestFile registers a file in PENDING status and returns its id.
	InsertIngestFile(ctx context.Context, filename, checksum, parserVersion string) (int64, error)
	// UpdateIngestStatus sets the final status and row count of a file.
	UpdateIngestStatus(ctx context.Context, fileID int64, status string, recordCount int) error
	// DeleteFileByChecksum removes a file with its rows and events in one
	// transaction. A missing checksum is not an error.
	DeleteFileByChecksum(ctx context.Context, checksum string) error

	// TemplateBySignature and TemplateByID return apperrors.ErrNotFound when absent.
	TemplateBySignature(ctx context.Context, signature string) (*Template, error)
	TemplateByID(ctx context.Context, id int64) (*Template, error)
	// NextTemplateVersion returns max(version)+1 for name, or 1 when unused.
	NextTemplateVersion(ctx context.Context, name string) (int, error)
	CreateTemplate(ctx context.Context, t NewTemplate) (*Template, error)
	ListTemplates(ctx context.Context) ([]TemplateSummary, error)

	// InsertRows persists one batch and returns how many rows were written.
	InsertRows(ctx context.Context, rows []RowFact) (int, error)
	InsertIngestEvent(ctx context.Context, ev IngestEvent) error

	// ListTemplateMetrics returns the sorted union of metric names found in up
	// to MetricSampleRows stored rows of the template.
	ListTemplateMetrics(ctx context.Context, templateID int64) ([]string, error)
	// QueryTemplateTrend sums one metric per event date. See TrendAccumulator.
	// RowsIncluded counts only rows whose metrics carry the key; rows without
	// it add neither value nor count.
	QueryTemplateTrend(ctx context.Context, q TrendQuery) ([]TrendPoint, error)

	Close() error
}

// MetricSampleRows bounds how many rows ListTemplateMetrics inspects.
const MetricSampleRows = 1000

// Ingest file statuses.
const (
	StatusPending = "PENDING"
	StatusOK      = "OK"
	StatusFailed  = "FAILED"
)

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Ambiguous
//     backend selection must fail fast at startup.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// dateOnly truncates t to its UTC calendar date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
