package storage

import (
	"time"

	"sheetetl/internal/records"
	"sheetetl/internal/schema"
)

// Template is a persisted, versioned workbook shape.
type Template struct {
	ID        int64           `json:"template_id"`
	Name      string          `json:"template_name"`
	Version   int             `json:"template_version"`
	Signature string          `json:"workbook_signature"`
	Schema    schema.Workbook `json:"schema"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewTemplate is the payload for CreateTemplate.
type NewTemplate struct {
	Name      string
	Version   int
	Signature string
	Schema    schema.Workbook
}

// TemplateSummary is a template listing row without the schema body.
type TemplateSummary struct {
	ID         int64     `json:"template_id" yaml:"template_id"`
	Name       string    `json:"template_name" yaml:"template_name"`
	Version    int       `json:"template_version" yaml:"template_version"`
	Signature  string    `json:"workbook_signature" yaml:"workbook_signature"`
	SheetCount int       `json:"sheet_count" yaml:"sheet_count"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// RowFact is one materialized data row.
type RowFact struct {
	FileID     int64
	TemplateID int64
	SheetName  string
	RowNumber  int
	EventDate  *time.Time
	Metrics    map[string]float64
	Dimensions records.Map
	Raw        records.Map
}

// IngestEvent is the audit record written once per ingest.
type IngestEvent struct {
	FileID     int64
	TemplateID int64
	Status     string
	RowCount   int
	Notes      *string
}

// TrendQuery selects one metric of one template. Sheet, Start and End are
// optional; Start and End are inclusive calendar dates.
type TrendQuery struct {
	TemplateID int64
	Metric     string
	Sheet      string
	Start      *time.Time
	End        *time.Time
}

// TrendPoint is the per-date aggregate of a metric.
type TrendPoint struct {
	Date         time.Time `json:"date" yaml:"date"`
	Value        float64   `json:"value" yaml:"value"`
	RowsIncluded int       `json:"rows_included" yaml:"rows_included"`
}
