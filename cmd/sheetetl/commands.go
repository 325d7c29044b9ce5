package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sheetetl/internal/ingest"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
)

const dateLayout = "2006-01-02"

func (a *app) initDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				// withSession already migrated.
				if a.format != outputTable {
					return printData(a.stdout, a.format, map[string]any{"status": "ok", "storage_kind": s.cfg.Storage.Kind})
				}
				fmt.Fprintf(a.stdout, "database ready (%s)\n", s.cfg.Storage.Kind)
				return nil
			})
		},
	}
}

func (a *app) analyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file>",
		Short: "Infer a file's schema and show the template it would match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				an, err := s.svc.Analyze(ctx, args[0])
				if err != nil {
					return err
				}
				if a.format != outputTable {
					return printData(a.stdout, a.format, an)
				}

				matched := "none"
				if an.Matched != nil {
					matched = fmt.Sprintf("%d %s v%d", an.Matched.ID, an.Matched.Name, an.Matched.Version)
				}
				hint := "none"
				if an.Schema.FileDateHint != nil {
					hint = *an.Schema.FileDateHint
				}
				if err := printFields(a.stdout, [][2]string{
					{"Signature", an.Signature},
					{"Matched template", matched},
					{"File date hint", hint},
				}); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout)
				return printSheets(a, an.Schema)
			})
		},
	}
}

func (a *app) ingestCommand() *cobra.Command {
	var (
		templateName string
		templateID   int64
		force        bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Store a file's rows under a matched, new or explicit template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := ingest.Options{TemplateName: templateName, Force: force}
			if cmd.Flags().Changed("template-id") {
				if templateID <= 0 {
					return usageErr("--template-id must be a positive integer")
				}
				id := templateID
				opts.TemplateID = &id
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				res, err := s.svc.Ingest(ctx, args[0], opts)
				if err != nil {
					return err
				}
				if a.format != outputTable {
					return printData(a.stdout, a.format, res)
				}

				fileID := "-"
				if res.FileID != nil {
					fileID = strconv.FormatInt(*res.FileID, 10)
				}
				warnings := "-"
				if len(res.Warnings) > 0 {
					warnings = strings.Join(res.Warnings, "; ")
				}
				return printFields(a.stdout, [][2]string{
					{"Run", res.RunID},
					{"File", res.Filename},
					{"File ID", fileID},
					{"Checksum", res.Checksum},
					{"Template", fmt.Sprintf("%d %s v%d", res.TemplateID, res.TemplateName, res.TemplateVersion)},
					{"New template", strconv.FormatBool(res.CreatedNewTemplate)},
					{"Inserted rows", strconv.Itoa(res.InsertedRows)},
					{"Skipped duplicate", strconv.FormatBool(res.SkippedDuplicate)},
					{"Warnings", warnings},
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&templateName, "template-name", "", "name for a newly created template (default AUTO_<signature prefix>)")
	f.Int64Var(&templateID, "template-id", 0, "ingest with this template and skip matching")
	f.BoolVar(&force, "force", false, "replace a previously ingested file with the same checksum")
	return cmd
}

func (a *app) templatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				list, err := s.repo.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if list == nil {
					list = []storage.TemplateSummary{}
				}
				if a.format != outputTable {
					return printData(a.stdout, a.format, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(a.stdout, "No templates found.")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, t := range list {
					rows = append(rows, []string{
						strconv.FormatInt(t.ID, 10),
						truncate(t.Name, 40),
						strconv.Itoa(t.Version),
						strconv.Itoa(t.SheetCount),
						truncate(t.Signature, 16),
						t.CreatedAt.UTC().Format(time.RFC3339),
					})
				}
				return printTable(a.stdout, []string{"id", "name", "version", "sheets", "signature", "created"}, rows)
			})
		},
	}
}

func (a *app) templateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "template <id>",
		Short: "Show one template with its schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTemplateID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				t, err := s.repo.TemplateByID(ctx, id)
				if err != nil {
					return err
				}
				if a.format != outputTable {
					return printData(a.stdout, a.format, t)
				}
				if err := printFields(a.stdout, [][2]string{
					{"ID", strconv.FormatInt(t.ID, 10)},
					{"Name", t.Name},
					{"Version", strconv.Itoa(t.Version)},
					{"Signature", t.Signature},
					{"Engine", t.Schema.EngineVersion},
					{"Created", t.CreatedAt.UTC().Format(time.RFC3339)},
				}); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout)
				return printSheets(a, t.Schema)
			})
		},
	}
}

func (a *app) metricsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <template-id>",
		Short: "List metric names stored under a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTemplateID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if _, err := s.repo.TemplateByID(ctx, id); err != nil {
					return err
				}
				names, err := s.repo.ListTemplateMetrics(ctx, id)
				if err != nil {
					return err
				}
				if names == nil {
					names = []string{}
				}
				if a.format != outputTable {
					return printData(a.stdout, a.format, map[string]any{"template_id": id, "metrics": names})
				}
				if len(names) == 0 {
					fmt.Fprintln(a.stdout, "No metrics found.")
					return nil
				}
				rows := make([][]string, 0, len(names))
				for _, n := range names {
					rows = append(rows, []string{n})
				}
				return printTable(a.stdout, []string{"metric"}, rows)
			})
		},
	}
}

func (a *app) trendCommand() *cobra.Command {
	var sheet, start, end string
	cmd := &cobra.Command{
		Use:   "trend <template-id> <metric>",
		Short: "Sum a metric per event date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTemplateID(args[0])
			if err != nil {
				return err
			}
			q := storage.TrendQuery{TemplateID: id, Metric: args[1], Sheet: sheet}
			if q.Start, err = parseDateFlag("--start", start); err != nil {
				return err
			}
			if q.End, err = parseDateFlag("--end", end); err != nil {
				return err
			}
			if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
				return usageErr("--end %s is before --start %s", end, start)
			}

			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				points, err := s.repo.QueryTemplateTrend(ctx, q)
				if err != nil {
					return err
				}
				if points == nil {
					points = []storage.TrendPoint{}
				}
				if a.format != outputTable {
					return printData(a.stdout, a.format, trendView(points))
				}
				if len(points) == 0 {
					fmt.Fprintln(a.stdout, "No data points.")
					return nil
				}
				rows := make([][]string, 0, len(points))
				for _, p := range points {
					rows = append(rows, []string{
						p.Date.Format(dateLayout),
						strconv.FormatFloat(p.Value, 'f', -1, 64),
						strconv.Itoa(p.RowsIncluded),
					})
				}
				return printTable(a.stdout, []string{"date", "value", "rows"}, rows)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&sheet, "sheet", "", "only rows from this sheet")
	f.StringVar(&start, "start", "", "first date, inclusive (YYYY-MM-DD)")
	f.StringVar(&end, "end", "", "last date, inclusive (YYYY-MM-DD)")
	return cmd
}

type trendPointView struct {
	Date         string  `json:"date"`
	Value        float64 `json:"value"`
	RowsIncluded int     `json:"rows_included"`
}

// trendView renders dates as plain calendar days.
func trendView(points []storage.TrendPoint) []trendPointView {
	out := make([]trendPointView, 0, len(points))
	for _, p := range points {
		out = append(out, trendPointView{Date: p.Date.Format(dateLayout), Value: p.Value, RowsIncluded: p.RowsIncluded})
	}
	return out
}

func printSheets(a *app, w schema.Workbook) error {
	if len(w.Sheets) == 0 {
		fmt.Fprintln(a.stdout, "No sheets.")
		return nil
	}
	rows := make([][]string, 0, len(w.Sheets))
	for _, sh := range w.Sheets {
		rows = append(rows, []string{
			truncate(sh.SheetName, 31),
			strconv.Itoa(sh.HeaderRow),
			strconv.Itoa(len(sh.Columns)),
			listOrDash(sh.DateColumns),
			listOrDash(sh.MetricColumns),
			listOrDash(sh.DimensionColumns),
		})
	}
	return printTable(a.stdout, []string{"sheet", "header", "cols", "dates", "metrics", "dimensions"}, rows)
}

func listOrDash(ss []string) string {
	if len(ss) == 0 {
		return "-"
	}
	return truncate(strings.Join(ss, ","), 60)
}

func parseTemplateID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, usageErr("invalid template id %q", s)
	}
	return id, nil
}

func parseDateFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, usageErr("%s: want YYYY-MM-DD, got %q", name, v)
	}
	return &t, nil
}
