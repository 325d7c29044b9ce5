// Command sheetetl ingests spreadsheets into versioned templates and queries
// metric trends over the stored rows.
//
// Exit codes: 0 success, 1 runtime failure, 2 usage error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sheetetl/internal/config"
	"sheetetl/internal/ingest"
	"sheetetl/internal/logging"
	"sheetetl/internal/storage"
	_ "sheetetl/internal/storage/all"
	"sheetetl/internal/workbook"
)

// appDeps are the side-effecting seams of the CLI. Nil fields get the
// production implementation.
type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	newLogger   func(level, format string, w io.Writer) (*zap.Logger, error)
	initMetrics func(ctx context.Context, mc config.MetricsConfig, log *zap.Logger) (func(), error)
	openStorage func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
}

func (d appDeps) withDefaults() appDeps {
	if d.loadConfig == nil {
		d.loadConfig = config.Load
	}
	if d.newLogger == nil {
		d.newLogger = logging.New
	}
	if d.initMetrics == nil {
		d.initMetrics = initMetrics
	}
	if d.openStorage == nil {
		d.openStorage = storage.New
	}
	return d
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, appDeps{})
	stop()
	os.Exit(code)
}

// exitError carries the exit code chosen for a failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

func failure(prefix string, err error) error {
	return &exitError{code: 1, err: fmt.Errorf("%s %w", prefix, err)}
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	a := &app{deps: deps.withDefaults(), stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintln(stderr, ee.Error())
		return ee.code
	}
	// cobra's own argument and flag errors
	fmt.Fprintf(stderr, "%v\nRun 'sheetetl --help' for usage.\n", err)
	return 2
}

type globalFlags struct {
	configPath     string
	metricsBackend string
	pushgatewayURL string
	output         string
	verbose        bool
}

type app struct {
	deps   appDeps
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags
	format outputFormat
}

// session is everything a subcommand needs once startup succeeded.
type session struct {
	cfg  config.Config
	log  *zap.Logger
	repo storage.Repository
	svc  *ingest.Service
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sheetetl",
		Short: "Generic spreadsheet template engine",
		Long: `sheetetl infers the structure of spreadsheets, groups files of the same
shape under versioned templates and stores their rows for trend queries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseOutputFormat(a.flags.output)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			a.format = f
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "YAML config path (environment overrides apply)")
	pf.StringVar(&a.flags.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway, datadog (overrides METRICS_BACKEND)")
	pf.StringVar(&a.flags.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides PUSHGATEWAY_URL)")
	pf.StringVarP(&a.flags.output, "output", "o", "table", "output format: table, json, yaml")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.initDBCommand(),
		a.analyzeCommand(),
		a.ingestCommand(),
		a.templatesCommand(),
		a.templateCommand(),
		a.metricsCommand(),
		a.trendCommand(),
	)
	return root
}

// withSession loads config, builds the logger, starts metrics and opens
// storage, in that order, then calls fn. Each stage has its own error prefix.
func (a *app) withSession(ctx context.Context, fn func(ctx context.Context, s *session) error) error {
	cfg, err := a.deps.loadConfig(a.flags.configPath)
	if err != nil {
		return failure("load config:", err)
	}
	a.applyFlagOverrides(&cfg)

	issues := config.Validate(cfg)
	for _, iss := range issues {
		if iss.Severity == config.SeverityWarning {
			fmt.Fprintln(a.stderr, iss.String())
		}
	}
	if err := config.Err(issues); err != nil {
		return failure("load config:", err)
	}

	log, err := a.deps.newLogger(cfg.Log.Level, cfg.Log.Format, a.stderr)
	if err != nil {
		return failure("load config:", err)
	}
	defer func() { _ = log.Sync() }()

	cleanup, err := a.deps.initMetrics(ctx, cfg.Metrics, log)
	if err != nil {
		return failure("init metrics:", err)
	}
	defer cleanup()

	log.Debug("opening storage", zap.String("kind", cfg.Storage.Kind), zap.String("dsn", logging.SanitizeDSN(cfg.Storage.DSN)))
	repo, err := a.deps.openStorage(ctx, cfg.StorageParams())
	if err != nil {
		return failure("open storage:", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warn("close storage", zap.Error(err))
		}
	}()
	if err := repo.Migrate(ctx); err != nil {
		return failure("open storage:", err)
	}

	s := &session{
		cfg:  cfg,
		log:  log,
		repo: repo,
		svc: ingest.NewService(repo,
			ingest.WithThresholds(cfg.Thresholds()),
			ingest.WithWorkbookOptions(workbook.Options{Comma: cfg.Comma()}),
			ingest.WithBatchSize(cfg.Ingest.BatchSize),
			ingest.WithLogger(log),
		),
	}
	if err := fn(ctx, s); err != nil {
		return failure("run:", err)
	}
	return nil
}

func (a *app) applyFlagOverrides(cfg *config.Config) {
	if a.flags.metricsBackend != "" {
		cfg.Metrics.Backend = a.flags.metricsBackend
	}
	if a.flags.pushgatewayURL != "" {
		cfg.Metrics.PushgatewayURL = a.flags.pushgatewayURL
	}
	if a.flags.verbose {
		cfg.Log.Level = "debug"
	}
}
