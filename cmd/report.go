package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gl-deviation/internal/deviation"
	"github.com/sells-group/gl-deviation/internal/export"
	"github.com/sells-group/gl-deviation/internal/ingest"
	"github.com/sells-group/gl-deviation/internal/pipeline"
	"github.com/sells-group/gl-deviation/internal/store"
	"github.com/sells-group/gl-deviation/internal/tabular"
)

var reportCmd = newReportCmd()

func newReportCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "report",
		Short: "Build the deviation watchlist for a metrics table",
		Long: `Reads a per-account metrics table (CSV, XLSX, or JSON), runs the deviation
checks, and writes the tiered watchlist. Use --input - to read from stdin.`,
		Example: `  gl-deviation report --input gl_metrics.csv
  gl-deviation report --input gl_metrics.xlsx --sheet Metrics --output watchlist.xlsx
  gl-deviation report --input gl_metrics.csv --include-tier3 --max-tier1 10 --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd)
		},
	}

	f := c.Flags()
	f.String("input", "", "metrics table to read (csv, xlsx, json, or - for stdin)")
	f.String("input-format", "", "input format when it cannot be inferred (csv, xlsx, json)")
	f.String("sheet", "", "XLSX sheet name (default: input.sheet or the first sheet)")
	f.String("format", string(export.FormatTable), "output format: table, csv, json, xlsx")
	f.String("output", "", "write to this file instead of stdout")
	f.Bool("include-tier3", false, "include Tier-3 accounts in the watchlist")
	f.Int("max-tier1", 0, "cap on Tier-1 accounts (0 = uncapped)")
	f.Float64("tier1-min", 0, "minimum score for Tier-1")
	f.Float64("tier2-min", 0, "minimum score for Tier-2")
	f.StringSlice("disable", nil, "checks to skip (e.g. high_cv,pearson_skew)")
	f.Bool("no-evidence", false, "omit the metric values column")
	f.Int("concurrency", 0, "scoring workers (default: engine.concurrency or GOMAXPROCS)")
	f.Bool("save", false, "record the run in the run store")
	_ = c.MarkFlagRequired("input")

	return c
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command) error {
	ctx := cmd.Context()

	outFmt, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	ov, err := reportOverrides(cmd)
	if err != nil {
		return err
	}

	inputPath, _ := cmd.Flags().GetString("input")
	in, closeIn, err := openInput(cmd, inputPath)
	if err != nil {
		return err
	}
	defer closeIn() //nolint:errcheck

	save, _ := cmd.Flags().GetBool("save")
	var st store.Store
	if save {
		if st, err = requireStore(ctx); err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
	}

	if n, _ := cmd.Flags().GetInt("concurrency"); cmd.Flags().Changed("concurrency") {
		cfg.Engine.Concurrency = n
	}
	pipe, err := initPipeline(st)
	if err != nil {
		return err
	}

	res, err := pipe.Run(ctx, in, ov, save)
	if err != nil {
		return eris.Wrap(err, "report")
	}

	outPath, _ := cmd.Flags().GetString("output")
	if err := writeReport(cmd.OutOrStdout(), outPath, res.Report, outFmt); err != nil {
		return err
	}

	s := res.Report.Summary
	msg := fmt.Sprintf("%d of %d accounts flagged (Tier-1 %d, Tier-2 %d, Tier-3 %d)",
		s.Flagged(), s.AccountsEvaluated, s.Tier1, s.Tier2, s.Tier3)
	if res.Run != nil {
		msg += fmt.Sprintf(", saved as run %s", res.Run.ID)
	}
	if d := res.Ingest.DuplicateCodes; len(d) > 0 {
		msg += fmt.Sprintf("\nwarning: duplicate account codes: %s", strings.Join(d, ", "))
	}
	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), msg)
	return nil
}

// openInput resolves the input path into a pipeline input.
func openInput(cmd *cobra.Command, path string) (pipeline.Input, func() error, error) {
	noop := func() error { return nil }

	formatFlag, _ := cmd.Flags().GetString("input-format")
	var (
		format tabular.Format
		err    error
	)
	switch {
	case formatFlag != "":
		format, err = tabular.ParseFormat(formatFlag)
	case path == "-":
		format = tabular.FormatCSV
	default:
		format, err = tabular.FormatFromPath(path)
	}
	if err != nil {
		return pipeline.Input{}, noop, err
	}

	sheet, _ := cmd.Flags().GetString("sheet")
	if sheet == "" {
		sheet = cfg.Input.Sheet
	}
	in := pipeline.Input{
		Source: filepath.Base(path),
		Format: format,
		Options: tabular.Options{
			CSV: tabular.CSVOptions{
				Delimiter: cfg.Input.DelimiterRune(),
				TrimSpace: true,
			},
			XLSX: tabular.XLSXOptions{
				SheetName: sheet,
				SkipRows:  cfg.Input.SkipRows,
			},
			LeadingColumns: []string{ingest.ColumnAccountCode, ingest.ColumnAccountName},
		},
	}

	if path == "-" {
		in.Source = "stdin"
		in.Reader = cmd.InOrStdin()
		return in, noop, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return pipeline.Input{}, noop, eris.Wrapf(err, "report: open %s", path)
	}
	in.Reader = f
	return in, f.Close, nil
}

// outputFormat takes --format when given, otherwise the --output extension,
// otherwise the aligned table.
func outputFormat(cmd *cobra.Command) (export.Format, error) {
	format, _ := cmd.Flags().GetString("format")
	if cmd.Flags().Changed("format") {
		return export.ParseFormat(format)
	}
	out, _ := cmd.Flags().GetString("output")
	if ext := strings.TrimPrefix(filepath.Ext(out), "."); ext != "" {
		if f, err := export.ParseFormat(ext); err == nil {
			return f, nil
		}
	}
	return export.ParseFormat(format)
}

func reportOverrides(cmd *cobra.Command) (pipeline.Overrides, error) {
	var ov pipeline.Overrides
	flags := cmd.Flags()

	if flags.Changed("include-tier3") {
		v, _ := flags.GetBool("include-tier3")
		ov.IncludeTier3 = &v
	}
	if flags.Changed("max-tier1") {
		v, _ := flags.GetInt("max-tier1")
		ov.MaxTier1 = &v
	}
	if flags.Changed("tier1-min") {
		v, _ := flags.GetFloat64("tier1-min")
		ov.Tier1MinScore = &v
	}
	if flags.Changed("tier2-min") {
		v, _ := flags.GetFloat64("tier2-min")
		ov.Tier2MinScore = &v
	}
	if flags.Changed("no-evidence") {
		v, _ := flags.GetBool("no-evidence")
		evidence := !v
		ov.Evidence = &evidence
	}

	disable, _ := flags.GetStringSlice("disable")
	known := make(map[deviation.Kind]bool)
	for _, k := range deviation.AllKinds() {
		known[k] = true
	}
	for _, name := range disable {
		k := deviation.Kind(strings.TrimSpace(name))
		if !known[k] {
			return ov, eris.Errorf("report: unknown check %q", name)
		}
		ov.Disable = append(ov.Disable, k)
	}
	return ov, nil
}

func writeReport(stdout io.Writer, path string, rep *deviation.Report, format export.Format) error {
	if path == "" {
		return export.Write(stdout, rep, format)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := export.Write(f, rep, format); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "report: close %s", path)
	}
	zap.L().Info("report: written", zap.String("path", path), zap.String("format", string(format)))
	return nil
}
