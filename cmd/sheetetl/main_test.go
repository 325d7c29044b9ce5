package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sheetetl/internal/config"
	"sheetetl/internal/metrics"
	"sheetetl/internal/metrics/datadog"
	"sheetetl/internal/storage"
	"sheetetl/internal/workbook/workbooktest"
)

// fatalDeps fails the test if any startup stage is reached.
func fatalDeps(t *testing.T) appDeps {
	t.Helper()
	return appDeps{
		loadConfig: func(string) (config.Config, error) {
			t.Fatalf("loadConfig should not be called")
			return config.Config{}, nil
		},
		newLogger: func(string, string, io.Writer) (*zap.Logger, error) {
			t.Fatalf("newLogger should not be called")
			return nil, nil
		},
		initMetrics: func(context.Context, config.MetricsConfig, *zap.Logger) (func(), error) {
			t.Fatalf("initMetrics should not be called")
			return nil, nil
		},
		openStorage: func(context.Context, storage.Config) (storage.Repository, error) {
			t.Fatalf("openStorage should not be called")
			return nil, nil
		},
	}
}

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Storage.Kind = "sqlite"
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "cli.db")
	cfg.Metrics.Backend = "none"
	return cfg
}

func TestRunMain_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown command", args: []string{"nope"}, want: "unknown command"},
		{name: "missing file", args: []string{"ingest"}, want: "accepts 1 arg"},
		{name: "bad output", args: []string{"-o", "xml", "templates"}, want: "unsupported output format"},
		{name: "bad template id", args: []string{"template", "abc"}, want: `invalid template id "abc"`},
		{name: "zero template id", args: []string{"metrics", "0"}, want: "invalid template id"},
		{name: "bad start date", args: []string{"trend", "1", "Revenue", "--start", "01/02/2025"}, want: "--start: want YYYY-MM-DD"},
		{name: "end before start", args: []string{"trend", "1", "Revenue", "--start", "2025-02-01", "--end", "2025-01-01"}, want: "is before --start"},
		{name: "non-positive explicit template", args: []string{"ingest", "x.xlsx", "--template-id", "0"}, want: "--template-id must be a positive integer"},
		{name: "unknown flag", args: []string{"templates", "--bogus"}, want: "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tt.args, &stdout, &stderr, fatalDeps(t))
			if code != 2 {
				t.Fatalf("exit code = %d, want 2 (stderr=%q)", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.want) {
				t.Fatalf("stderr = %q, want substring %q", stderr.String(), tt.want)
			}
		})
	}
}

// stubRepo satisfies storage.Repository for startup tests. Unset methods
// panic through the nil embedded interface.
type stubRepo struct {
	storage.Repository
	migrateErr error
	listErr    error
	closed     int
}

func (r *stubRepo) Migrate(context.Context) error { return r.migrateErr }
func (r *stubRepo) Close() error                  { r.closed++; return nil }
func (r *stubRepo) ListTemplates(context.Context) ([]storage.TemplateSummary, error) {
	return nil, r.listErr
}

func TestRunMain_ErrorPrecedence(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name        string
		loadErr     error
		metricsErr  error
		storageErr  error
		migrateErr  error
		listErr     error
		wantPrefix  string
		wantCleanup int
		wantClosed  int
		wantOpen    bool
	}{
		{name: "config", loadErr: boom, wantPrefix: "load config:"},
		{name: "metrics", metricsErr: boom, wantPrefix: "init metrics:"},
		{name: "storage", storageErr: boom, wantPrefix: "open storage:", wantCleanup: 1, wantOpen: true},
		{name: "migrate", migrateErr: boom, wantPrefix: "open storage:", wantCleanup: 1, wantClosed: 1, wantOpen: true},
		{name: "run", listErr: boom, wantPrefix: "run:", wantCleanup: 1, wantClosed: 1, wantOpen: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanups := 0
			opened := false
			repo := &stubRepo{migrateErr: tt.migrateErr, listErr: tt.listErr}

			deps := appDeps{
				loadConfig: func(string) (config.Config, error) {
					if tt.loadErr != nil {
						return config.Config{}, tt.loadErr
					}
					return baseConfig(t), nil
				},
				newLogger: func(string, string, io.Writer) (*zap.Logger, error) { return zap.NewNop(), nil },
				initMetrics: func(context.Context, config.MetricsConfig, *zap.Logger) (func(), error) {
					if tt.metricsErr != nil {
						return func() {}, tt.metricsErr
					}
					return func() { cleanups++ }, nil
				},
				openStorage: func(context.Context, storage.Config) (storage.Repository, error) {
					opened = true
					if tt.storageErr != nil {
						return nil, tt.storageErr
					}
					return repo, nil
				},
			}

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), []string{"templates"}, &stdout, &stderr, deps)
			if code != 1 {
				t.Fatalf("exit code = %d, want 1 (stderr=%q)", code, stderr.String())
			}
			if !strings.HasPrefix(stderr.String(), tt.wantPrefix) {
				t.Fatalf("stderr = %q, want prefix %q", stderr.String(), tt.wantPrefix)
			}
			if !strings.Contains(stderr.String(), "boom") {
				t.Fatalf("stderr = %q, want cause", stderr.String())
			}
			if cleanups != tt.wantCleanup {
				t.Fatalf("metrics cleanup ran %d times, want %d", cleanups, tt.wantCleanup)
			}
			if repo.closed != tt.wantClosed {
				t.Fatalf("repo closed %d times, want %d", repo.closed, tt.wantClosed)
			}
			if opened != tt.wantOpen {
				t.Fatalf("openStorage called = %v, want %v", opened, tt.wantOpen)
			}
		})
	}
}

func TestRunMain_InvalidConfigIsLoadError(t *testing.T) {
	deps := fatalDeps(t)
	deps.loadConfig = func(string) (config.Config, error) {
		cfg := baseConfig(t)
		cfg.Ingest.BatchSize = 0
		return cfg, nil
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"templates"}, &stdout, &stderr, deps)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "load config: ingest.batch_size") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunMain_FlagOverrides(t *testing.T) {
	var gotMetrics config.MetricsConfig
	var gotLevel string

	deps := appDeps{
		loadConfig: func(string) (config.Config, error) { return baseConfig(t), nil },
		newLogger: func(level, _ string, _ io.Writer) (*zap.Logger, error) {
			gotLevel = level
			return zap.NewNop(), nil
		},
		initMetrics: func(_ context.Context, mc config.MetricsConfig, _ *zap.Logger) (func(), error) {
			gotMetrics = mc
			return func() {}, nil
		},
		openStorage: func(context.Context, storage.Config) (storage.Repository, error) {
			return &stubRepo{}, nil
		},
	}

	args := []string{"--metrics-backend", "pushgateway", "--pushgateway-url", "http://pg:9091", "-v", "templates"}
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), args, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("exit code = %d (stderr=%q)", code, stderr.String())
	}
	if gotMetrics.Backend != "pushgateway" || gotMetrics.PushgatewayURL != "http://pg:9091" {
		t.Fatalf("metrics config = %+v", gotMetrics)
	}
	if gotLevel != "debug" {
		t.Fatalf("log level = %q, want debug", gotLevel)
	}
	if !strings.Contains(stdout.String(), "No templates found.") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

type fakeBackend struct {
	flushes  int
	closes   int
	closeErr error
}

func (f *fakeBackend) IncCounter(string, float64, metrics.Labels)       {}
func (f *fakeBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (f *fakeBackend) Flush() error                                     { f.flushes++; return nil }
func (f *fakeBackend) Close() error                                     { f.closes++; return f.closeErr }

// swapSeams replaces the package-level backend constructors for one test.
func swapSeams(t *testing.T) *[]metrics.Backend {
	t.Helper()
	origDD, origPush, origSet := newDatadogBackend, newPushBackend, setMetricsBackend
	t.Cleanup(func() {
		newDatadogBackend, newPushBackend, setMetricsBackend = origDD, origPush, origSet
	})
	var installed []metrics.Backend
	setMetricsBackend = func(b metrics.Backend) { installed = append(installed, b) }
	return &installed
}

func TestInitMetrics_None(t *testing.T) {
	installed := swapSeams(t)
	for _, backend := range []string{"", "none"} {
		cleanup, err := initMetrics(context.Background(), config.MetricsConfig{Backend: backend}, zap.NewNop())
		if err != nil {
			t.Fatalf("%q: %v", backend, err)
		}
		cleanup()
	}
	if len(*installed) != 0 {
		t.Fatalf("no backend should be installed, got %d", len(*installed))
	}
}

func TestInitMetrics_Unknown(t *testing.T) {
	swapSeams(t)
	cleanup, err := initMetrics(context.Background(), config.MetricsConfig{Backend: "statsd"}, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), `unknown metrics backend "statsd"`) {
		t.Fatalf("err = %v", err)
	}
	if cleanup == nil {
		t.Fatalf("cleanup must never be nil")
	}
	cleanup()
}

func TestInitMetrics_Pushgateway(t *testing.T) {
	installed := swapSeams(t)
	fb := &fakeBackend{}
	var gotJob, gotURL string
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		gotJob, gotURL = job, url
		return fb, nil
	}

	cleanup, err := initMetrics(context.Background(), config.MetricsConfig{Backend: "pushgateway"}, zap.NewNop())
	if err != nil {
		t.Fatalf("initMetrics: %v", err)
	}
	if gotJob != "sheetetl" || gotURL != defaultPushgatewayURL {
		t.Fatalf("job=%q url=%q", gotJob, gotURL)
	}
	cleanup()

	if fb.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", fb.flushes)
	}
	if len(*installed) != 2 || (*installed)[0] != fb || (*installed)[1] != nil {
		t.Fatalf("installed = %v, want [backend nil]", *installed)
	}
}

func TestInitMetrics_PushgatewayConstructorError(t *testing.T) {
	installed := swapSeams(t)
	newPushBackend = func(string, string) (metrics.Backend, error) { return nil, errors.New("bad url") }

	cleanup, err := initMetrics(context.Background(), config.MetricsConfig{Backend: "pushgateway", PushgatewayURL: "::"}, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "pushgateway: bad url") {
		t.Fatalf("err = %v", err)
	}
	cleanup()
	if len(*installed) != 0 {
		t.Fatalf("nothing should be installed on error")
	}
}

func TestInitMetrics_DatadogCloseErrorIsLogged(t *testing.T) {
	installed := swapSeams(t)
	fb := &fakeBackend{closeErr: errors.New("submit failed")}
	var gotOpts datadog.Options
	newDatadogBackend = func(_ context.Context, opts datadog.Options) (closableBackend, error) {
		gotOpts = opts
		return fb, nil
	}

	core, logs := observer.New(zap.WarnLevel)
	mc := config.MetricsConfig{Backend: "datadog", Job: "nightly", Tags: "team:data, env:prod"}
	cleanup, err := initMetrics(context.Background(), mc, zap.New(core))
	if err != nil {
		t.Fatalf("initMetrics: %v", err)
	}
	if gotOpts.JobName != "nightly" || len(gotOpts.Tags) != 2 {
		t.Fatalf("options = %+v", gotOpts)
	}
	cleanup()

	if fb.closes != 1 {
		t.Fatalf("closes = %d, want 1", fb.closes)
	}
	if logs.FilterMessage("metrics: datadog close error").Len() != 1 {
		t.Fatalf("close error not logged: %v", logs.All())
	}
	if len(*installed) != 2 || (*installed)[1] != nil {
		t.Fatalf("backend not reset: %v", *installed)
	}
}

func salesFile(t *testing.T, dir string) string {
	t.Helper()
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	return workbooktest.WriteXLSX(t, dir, "sales_20250103.xlsx", workbooktest.Sheet{
		Name: "Sales",
		Rows: [][]any{
			{"Data", "Region", "Revenue", "Cost"},
			{day(1), "North", 1000.0, 600.0},
			{day(2), "South", 1100.0, 660.0},
			{day(3), "North", 900.0, 540.0},
		},
	})
}

// cli runs commands against one sqlite file with the real storage stack.
type cli struct {
	t    *testing.T
	cfg  config.Config
	deps appDeps
}

func newCLI(t *testing.T) *cli {
	cfg := baseConfig(t)
	return &cli{t: t, cfg: cfg, deps: appDeps{
		loadConfig: func(string) (config.Config, error) { return cfg, nil },
		newLogger:  func(string, string, io.Writer) (*zap.Logger, error) { return zap.NewNop(), nil },
	}}
}

func (c *cli) run(args ...string) (string, string, int) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), args, &stdout, &stderr, c.deps)
	return stdout.String(), stderr.String(), code
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, errOut, code := c.run(args...)
	if code != 0 {
		c.t.Fatalf("%v: exit %d, stderr=%q", args, code, errOut)
	}
	return out
}

func (c *cli) mustJSON(v any, args ...string) {
	c.t.Helper()
	out := c.mustRun(append([]string{"-o", "json"}, args...)...)
	if err := json.Unmarshal([]byte(out), v); err != nil {
		c.t.Fatalf("%v: decode %q: %v", args, out, err)
	}
}

func TestCLI_EndToEnd(t *testing.T) {
	c := newCLI(t)
	path := salesFile(t, t.TempDir())

	if out := c.mustRun("init-db"); !strings.Contains(out, "database ready (sqlite)") {
		t.Fatalf("init-db output = %q", out)
	}

	var analysis struct {
		Signature string `json:"signature"`
		Matched   any    `json:"matched_template"`
		Schema    struct {
			Sheets []struct {
				SheetName     string   `json:"sheet_name"`
				MetricColumns []string `json:"metric_columns"`
			} `json:"sheets"`
		} `json:"schema"`
	}
	c.mustJSON(&analysis, "analyze", path)
	if len(analysis.Signature) != 64 || analysis.Matched != nil {
		t.Fatalf("analysis = %+v", analysis)
	}
	if len(analysis.Schema.Sheets) != 1 || analysis.Schema.Sheets[0].SheetName != "Sales" {
		t.Fatalf("sheets = %+v", analysis.Schema.Sheets)
	}

	var res struct {
		TemplateID         int64    `json:"template_id"`
		TemplateName       string   `json:"template_name"`
		TemplateVersion    int      `json:"template_version"`
		CreatedNewTemplate bool     `json:"created_new_template"`
		InsertedRows       int      `json:"inserted_rows"`
		SkippedDuplicate   bool     `json:"skipped_duplicate"`
		Warnings           []string `json:"warnings"`
	}
	c.mustJSON(&res, "ingest", path, "--template-name", "SALES")
	if res.TemplateName != "SALES" || res.TemplateVersion != 1 || !res.CreatedNewTemplate || res.InsertedRows != 3 || res.SkippedDuplicate {
		t.Fatalf("ingest = %+v", res)
	}
	if res.Warnings == nil {
		t.Fatalf("warnings must encode as an empty list")
	}

	out := c.mustRun("ingest", path)
	if !strings.Contains(out, "file already ingested (checksum duplicate)") {
		t.Fatalf("duplicate output = %q", out)
	}

	c.mustJSON(&analysis, "analyze", path)
	if analysis.Matched == nil {
		t.Fatalf("analyze after ingest should report the matched template")
	}

	out = c.mustRun("templates")
	if !strings.Contains(out, "SALES") || !strings.HasPrefix(out, "ID") {
		t.Fatalf("templates output = %q", out)
	}

	out = c.mustRun("-o", "yaml", "template", "1")
	for _, want := range []string{"template_name: SALES", "engine_version: generic-template-1.0", "sheet_name: Sales"} {
		if !strings.Contains(out, want) {
			t.Fatalf("template yaml missing %q:\n%s", want, out)
		}
	}

	var names struct {
		Metrics []string `json:"metrics"`
	}
	c.mustJSON(&names, "metrics", "1")
	if strings.Join(names.Metrics, ",") != "Cost,Revenue" {
		t.Fatalf("metrics = %v", names.Metrics)
	}

	var points []trendPointView
	c.mustJSON(&points, "trend", "1", "Revenue")
	if len(points) != 3 || points[0].Date != "2025-01-01" || points[0].Value != 1000 || points[2].Value != 900 {
		t.Fatalf("trend = %+v", points)
	}

	c.mustJSON(&points, "trend", "1", "Revenue", "--start", "2025-01-02", "--end", "2025-01-02", "--sheet", "Sales")
	if len(points) != 1 || points[0].Value != 1100 || points[0].RowsIncluded != 1 {
		t.Fatalf("filtered trend = %+v", points)
	}

	out = c.mustRun("trend", "1", "Revenue", "--sheet", "Other")
	if !strings.Contains(out, "No data points.") {
		t.Fatalf("empty trend output = %q", out)
	}
}

func TestCLI_RuntimeErrors(t *testing.T) {
	c := newCLI(t)

	_, errOut, code := c.run("template", "99")
	if code != 1 || !strings.HasPrefix(errOut, "run:") || !strings.Contains(errOut, "not found") {
		t.Fatalf("template 99: code=%d stderr=%q", code, errOut)
	}

	_, errOut, code = c.run("metrics", "99")
	if code != 1 || !strings.Contains(errOut, "not found") {
		t.Fatalf("metrics 99: code=%d stderr=%q", code, errOut)
	}

	_, errOut, code = c.run("ingest", filepath.Join(t.TempDir(), "missing.xlsx"))
	if code != 1 || !strings.HasPrefix(errOut, "run:") {
		t.Fatalf("missing file: code=%d stderr=%q", code, errOut)
	}

	_, errOut, code = c.run("ingest", salesFile(t, t.TempDir()), "--template-id", "42")
	if code != 1 || !strings.Contains(errOut, "not found") {
		t.Fatalf("unknown template id: code=%d stderr=%q", code, errOut)
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]outputFormat{"": outputTable, "TABLE": outputTable, "json": outputJSON, " yaml ": outputYAML} {
		got, err := parseOutputFormat(in)
		if err != nil || got != want {
			t.Fatalf("parseOutputFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := parseOutputFormat("csv"); err == nil {
		t.Fatalf("csv should be rejected")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 5); got != "ab..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("abc", 5); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("abcdef", 2); got != "ab" {
		t.Fatalf("got %q", got)
	}
}
