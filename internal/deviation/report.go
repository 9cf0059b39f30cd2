package deviation

import (
	"sort"
	"strconv"
	"strings"
)

// ScoredAccount is the full scoring outcome for one account, flagged or not.
type ScoredAccount struct {
	Code           string   `json:"account_code"`
	Name           string   `json:"account_name"`
	Score          float64  `json:"score"`
	Materiality    *float64 `json:"materiality_pct,omitempty"`
	Signals        []Signal `json:"signals"`
	DominantMetric string   `json:"dominant_metric,omitempty"`
	Tier           Tier     `json:"tier"`
	DemotedByCap   bool     `json:"demoted_by_cap,omitempty"`
	Interpretation string   `json:"interpretation,omitempty"`
	Evidence       string   `json:"evidence,omitempty"`
}

// Dominant returns the top-ranked signal, or nil when there is none.
func (a ScoredAccount) Dominant() *Signal {
	if len(a.Signals) == 0 {
		return nil
	}
	s := a.Signals[0]
	return &s
}

// Report columns in output order.
const (
	ColumnTier           = "Tier"
	ColumnAccountCode    = "Account Code"
	ColumnAccountName    = "Account Name"
	ColumnKeyMetrics     = "Key Metrics Triggered"
	ColumnMetricValues   = "Metric Values"
	ColumnInterpretation = "Accounting Interpretation"
	ColumnScore          = "Score"
	ColumnDominantMetric = "Dominant Metric"
)

// Columns returns the report header. The Metric Values column is omitted
// when evidence is disabled.
func Columns(includeEvidence bool) []string {
	cols := []string{ColumnTier, ColumnAccountCode, ColumnAccountName, ColumnKeyMetrics}
	if includeEvidence {
		cols = append(cols, ColumnMetricValues)
	}
	return append(cols, ColumnInterpretation, ColumnScore, ColumnDominantMetric)
}

// Row is one line of the watchlist.
type Row struct {
	Tier           Tier     `json:"tier"`
	AccountCode    string   `json:"account_code"`
	AccountName    string   `json:"account_name"`
	KeyMetrics     []string `json:"key_metrics_triggered"`
	MetricValues   string   `json:"metric_values,omitempty"`
	Interpretation string   `json:"accounting_interpretation"`
	Score          float64  `json:"score"`
	DominantMetric string   `json:"dominant_metric"`
}

// Record renders the row in Columns order.
func (r Row) Record(includeEvidence bool) []string {
	rec := []string{r.Tier.String(), r.AccountCode, r.AccountName, strings.Join(r.KeyMetrics, ", ")}
	if includeEvidence {
		rec = append(rec, r.MetricValues)
	}
	return append(rec, r.Interpretation, FormatScore(r.Score), r.DominantMetric)
}

// FormatScore prints a score without trailing zeros.
func FormatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Summary counts the outcome of a run.
type Summary struct {
	AccountsEvaluated   int `json:"accounts_evaluated"`
	AccountsWithSignals int `json:"accounts_with_signals"`
	Tier1               int `json:"tier1"`
	Tier2               int `json:"tier2"`
	Tier3               int `json:"tier3"`
	DemotedByCap        int `json:"demoted_by_cap"`
}

// Flagged is the number of rows in the report.
func (s Summary) Flagged() int {
	return s.Tier1 + s.Tier2 + s.Tier3
}

// Report is the outcome of one engine run.
type Report struct {
	Rows              []Row           `json:"rows"`
	Accounts          []ScoredAccount `json:"accounts"`
	Metrics           []string        `json:"metrics"`
	SuppressedMetrics []string        `json:"suppressed_metrics,omitempty"`
	Summary           Summary         `json:"summary"`
	IncludeEvidence   bool            `json:"include_evidence"`
}

// Columns returns the header matching Rows.
func (r *Report) Columns() []string {
	return Columns(r.IncludeEvidence)
}

// Tier returns the rows of one tier.
func (r *Report) Tier(t Tier) []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.Tier == t {
			out = append(out, row)
		}
	}
	return out
}

func buildReport(accounts []ScoredAccount, metrics, suppressed []string, opts ReportOptions, demoted int) *Report {
	rep := &Report{
		Accounts:          accounts,
		Metrics:           append([]string(nil), metrics...),
		SuppressedMetrics: suppressed,
		IncludeEvidence:   opts.IncludeEvidence,
		Summary: Summary{
			AccountsEvaluated: len(accounts),
			DemotedByCap:      demoted,
		},
	}

	for _, a := range accounts {
		if len(a.Signals) > 0 {
			rep.Summary.AccountsWithSignals++
		}
		switch a.Tier {
		case Tier1:
			rep.Summary.Tier1++
		case Tier2:
			rep.Summary.Tier2++
		case Tier3:
			rep.Summary.Tier3++
		default:
			continue
		}

		row := Row{
			Tier:           a.Tier,
			AccountCode:    a.Code,
			AccountName:    a.Name,
			KeyMetrics:     keyMetrics(a.Signals, opts.MaxReasons),
			Interpretation: a.Interpretation,
			Score:          a.Score,
			DominantMetric: a.DominantMetric,
		}
		if opts.IncludeEvidence {
			row.MetricValues = a.Evidence
		}
		rep.Rows = append(rep.Rows, row)
	}

	sortRows(rep.Rows)
	return rep
}

// keyMetrics lists the first max unique labels in signal order.
func keyMetrics(signals []Signal, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range signals {
		if len(out) >= max {
			break
		}
		if seen[s.Label] {
			continue
		}
		seen[s.Label] = true
		out = append(out, s.Label)
	}
	return out
}

// sortRows orders by tier, then score descending, then account code.
func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Tier.rank() != b.Tier.rank() {
			return a.Tier.rank() < b.Tier.rank()
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.AccountCode < b.AccountCode
	})
}
