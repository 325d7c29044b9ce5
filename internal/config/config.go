// Package config loads sheetetl settings from an optional YAML file with
// environment overrides.
//
// Environment names keep the MNP_CDX_ prefix used by existing deployments.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"sheetetl/internal/probe"
	"sheetetl/internal/storage"
)

// Config is the full process configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	Inference InferenceConfig `yaml:"inference"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StorageConfig selects the backend. DSN is a file path for sqlite and
// duckdb, a URL for postgres and sqlserver.
type StorageConfig struct {
	Kind string `yaml:"kind" env:"MNP_CDX_STORAGE_KIND" env-default:"sqlite"`
	DSN  string `yaml:"dsn" env:"MNP_CDX_DB_PATH" env-default:"data/sheetetl.db"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"MNP_CDX_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"MNP_CDX_LOG_FORMAT" env-default:"console"`
}

// InferenceConfig mirrors probe.Thresholds.
type InferenceConfig struct {
	HeaderScanRows   int     `yaml:"header_scan_rows" env:"MNP_CDX_HEADER_SCAN_ROWS" env-default:"80"`
	HeaderScanCols   int     `yaml:"header_scan_cols" env:"MNP_CDX_HEADER_SCAN_COLS" env-default:"400"`
	SampleRows       int     `yaml:"sample_rows" env:"MNP_CDX_SAMPLE_ROWS" env-default:"600"`
	MinNonEmptyRatio float64 `yaml:"min_non_empty_ratio" env:"MNP_CDX_MIN_NON_EMPTY_RATIO" env-default:"0.01"`
	MetricMinRatio   float64 `yaml:"metric_min_ratio" env:"MNP_CDX_METRIC_MIN_RATIO" env-default:"0.10"`
}

type IngestConfig struct {
	BatchSize int `yaml:"batch_size" env:"MNP_CDX_BATCH_SIZE" env-default:"5000"`
	// CSVDelimiter is a single character; empty means ','.
	CSVDelimiter string `yaml:"csv_delimiter" env:"MNP_CDX_CSV_DELIMITER" env-default:","`
}

// MetricsConfig picks the metrics backend: "", "none", "pushgateway" or "datadog".
type MetricsConfig struct {
	Backend        string `yaml:"backend" env:"METRICS_BACKEND"`
	PushgatewayURL string `yaml:"pushgateway_url" env:"PUSHGATEWAY_URL"`
	Tags           string `yaml:"tags" env:"METRICS_TAGS"`
	Job            string `yaml:"job" env:"METRICS_JOB" env-default:"sheetetl"`
}

// Thresholds converts the inference section for the probe package.
func (c Config) Thresholds() probe.Thresholds {
	return probe.Thresholds{
		HeaderScanRows:   c.Inference.HeaderScanRows,
		HeaderScanCols:   c.Inference.HeaderScanCols,
		SampleRows:       c.Inference.SampleRows,
		MinNonEmptyRatio: c.Inference.MinNonEmptyRatio,
		MetricMinRatio:   c.Inference.MetricMinRatio,
	}.WithDefaults()
}

// StorageParams converts the storage section for storage.New.
func (c Config) StorageParams() storage.Config {
	return storage.Config{Kind: c.Storage.Kind, DSN: c.Storage.DSN}
}

// Comma returns the CSV delimiter rune.
func (c Config) Comma() rune {
	for _, r := range c.Ingest.CSVDelimiter {
		return r
	}
	return ','
}

// Load reads path (when non-empty) and applies environment overrides.
// A missing file at an explicit path is an error; an empty path means
// environment and defaults only.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("read env: %w", err)
		}
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config file: %w", err)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return cfg, nil
}

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses the yaml key path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Validate checks cfg and returns every issue found. Callers abort on any
// SeverityError.
func Validate(cfg Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	kind := strings.TrimSpace(cfg.Storage.Kind)
	switch {
	case kind == "":
		add(SeverityError, "storage.kind", "must be set")
	case !knownKind(kind):
		add(SeverityError, "storage.kind", "unknown backend %q (registered: %s)", kind, strings.Join(storage.Kinds(), ", "))
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" && kind != "duckdb" {
		add(SeverityError, "storage.dsn", "must be set")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add(SeverityError, "log.level", "unknown level %q", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "console", "json":
	default:
		add(SeverityError, "log.format", "must be console or json, got %q", cfg.Log.Format)
	}

	in := cfg.Inference
	if in.HeaderScanRows < 1 {
		add(SeverityError, "inference.header_scan_rows", "must be >= 1")
	}
	if in.HeaderScanCols < 1 {
		add(SeverityError, "inference.header_scan_cols", "must be >= 1")
	}
	if in.SampleRows < 1 {
		add(SeverityError, "inference.sample_rows", "must be >= 1")
	}
	if in.MinNonEmptyRatio < 0 || in.MinNonEmptyRatio > 1 {
		add(SeverityError, "inference.min_non_empty_ratio", "must be within [0,1]")
	}
	if in.MetricMinRatio < 0 || in.MetricMinRatio > 1 {
		add(SeverityError, "inference.metric_min_ratio", "must be within [0,1]")
	}
	if in.MetricMinRatio < in.MinNonEmptyRatio {
		add(SeverityWarning, "inference.metric_min_ratio", "below min_non_empty_ratio; every kept numeric column becomes a metric")
	}

	if cfg.Ingest.BatchSize < 1 {
		add(SeverityError, "ingest.batch_size", "must be >= 1")
	}
	if n := len([]rune(cfg.Ingest.CSVDelimiter)); n > 1 {
		add(SeverityError, "ingest.csv_delimiter", "must be a single character")
	}

	switch cfg.Metrics.Backend {
	case "", "none", "datadog":
	case "pushgateway":
		if cfg.Metrics.PushgatewayURL == "" {
			add(SeverityWarning, "metrics.pushgateway_url", "empty; http://localhost:9091 is used")
		}
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q", cfg.Metrics.Backend)
	}
	return out
}

// Err folds error-severity issues into a single error, or nil.
func Err(issues []Issue) error {
	var errs []error
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, errors.New(iss.Path+": "+iss.Message))
		}
	}
	return errors.Join(errs...)
}

func knownKind(kind string) bool {
	for _, k := range storage.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
