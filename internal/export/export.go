// Package export writes deviation reports as CSV, aligned text, JSON, or
// XLSX.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/gl-deviation/internal/deviation"
)

// Format names an output format.
type Format string

// Output formats.
const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatXLSX  Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", eris.Errorf("export: unsupported format %q", s)
}

// ContentType is the MIME type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/plain; charset=utf-8"
}

// Write renders rep to w in the given format.
func Write(w io.Writer, rep *deviation.Report, format Format) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, rep)
	case FormatTable:
		return WriteTable(w, rep)
	case FormatJSON:
		return WriteJSON(w, rep)
	case FormatXLSX:
		return WriteXLSX(w, rep)
	}
	return eris.Errorf("export: unsupported format %q", format)
}

// WriteCSV writes the watchlist rows with a header.
func WriteCSV(w io.Writer, rep *deviation.Report) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(rep.Columns()); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}
	for _, r := range rep.Rows {
		if err := cw.Write(r.Record(rep.IncludeEvidence)); err != nil {
			return eris.Wrap(err, "export: write CSV row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush CSV")
}

// WriteJSON writes the full report, including unflagged accounts.
func WriteJSON(w io.Writer, rep *deviation.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return eris.Wrap(err, "export: encode JSON")
	}
	return nil
}

// WriteTable writes a human-readable listing grouped by tier, followed by a
// summary.
func WriteTable(w io.Writer, rep *deviation.Report) error {
	p := message.NewPrinter(language.English)

	header := fmt.Sprintf("%-7s %-10s %-36s %7s %-16s %s\n",
		"Tier", "Code", "Account Name", "Score", "Dominant", "Key Metrics")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "export: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 110)); err != nil {
		return eris.Wrap(err, "export: write table separator")
	}

	for _, r := range rep.Rows {
		line := fmt.Sprintf("%-7s %-10s %-36s %7s %-16s %s\n",
			r.Tier, truncate(r.AccountCode, 10), truncate(r.AccountName, 36),
			p.Sprintf("%.1f", r.Score), truncate(r.DominantMetric, 16), strings.Join(r.KeyMetrics, ", "))
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "export: write table row")
		}
		if r.Interpretation != "" {
			if _, err := fmt.Fprintf(w, "        %s\n", r.Interpretation); err != nil {
				return eris.Wrap(err, "export: write table row")
			}
		}
	}

	s := rep.Summary
	summary := p.Sprintf("\n--- Summary ---\nAccounts evaluated: %d\nWith signals:       %d\nTier-1:             %d\nTier-2:             %d\n",
		s.AccountsEvaluated, s.AccountsWithSignals, s.Tier1, s.Tier2)
	if s.Tier3 > 0 {
		summary += p.Sprintf("Tier-3:             %d\n", s.Tier3)
	}
	if s.DemotedByCap > 0 {
		summary += p.Sprintf("Demoted by cap:     %d\n", s.DemotedByCap)
	}
	if len(rep.SuppressedMetrics) > 0 {
		summary += fmt.Sprintf("Materiality off:    %s (too few values)\n", strings.Join(rep.SuppressedMetrics, ", "))
	}
	if _, err := fmt.Fprint(w, summary); err != nil {
		return eris.Wrap(err, "export: write summary")
	}
	return nil
}

// WriteXLSX writes a workbook with a "Watchlist" sheet of flagged rows and
// an "Accounts" sheet with every scored account.
func WriteXLSX(w io.Writer, rep *deviation.Report) error {
	f := xlsx.NewFile()

	watch, err := f.AddSheet("Watchlist")
	if err != nil {
		return eris.Wrap(err, "export: add watchlist sheet")
	}
	addStringRow(watch, rep.Columns())
	for _, r := range rep.Rows {
		row := watch.AddRow()
		rec := r.Record(rep.IncludeEvidence)
		scoreCol := len(rec) - 2
		for i, v := range rec {
			if i == scoreCol {
				row.AddCell().SetFloat(r.Score)
				continue
			}
			row.AddCell().SetString(v)
		}
	}

	all, err := f.AddSheet("Accounts")
	if err != nil {
		return eris.Wrap(err, "export: add accounts sheet")
	}
	addStringRow(all, []string{"Account Code", "Account Name", "Tier", "Score", "Materiality Pct", "Signals", "Reasons"})
	for _, a := range rep.Accounts {
		row := all.AddRow()
		row.AddCell().SetString(a.Code)
		row.AddCell().SetString(a.Name)
		row.AddCell().SetString(a.Tier.String())
		row.AddCell().SetFloat(a.Score)
		mat := row.AddCell()
		if a.Materiality != nil {
			mat.SetFloat(*a.Materiality)
		}
		row.AddCell().SetInt(len(a.Signals))
		reasons := make([]string, 0, len(a.Signals))
		for _, s := range a.Signals {
			reasons = append(reasons, s.Reason)
		}
		row.AddCell().SetString(strings.Join(reasons, "; "))
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write XLSX")
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
