package deviation

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Per-metric column suffixes. A metric "Credit" is read from columns such as
// "Credit_CY_Mean" and "Credit_TTest_Significant".
const (
	ColLYMean           = "LY_Mean"
	ColCYMean           = "CY_Mean"
	ColLYStd            = "LY_Std"
	ColCYStd            = "CY_Std"
	ColCYMedian         = "CY_Median"
	ColMeanDiff         = "Mean_Diff"
	ColStdDiff          = "Std_Diff"
	ColCohensD          = "Cohens_D"
	ColEffectSize       = "Effect_Size"
	ColTTestSignificant = "TTest_Significant"
	ColAnovaSignificant = "ANOVA_Significant"
	ColMWSignificant    = "MannWhitney_Significant"
	ColKSSignificant    = "KS_Significant"
)

// preferredMetrics come first in metric order. Everything else follows
// alphabetically.
var preferredMetrics = []string{"Credit", "Debit", "Running_Balance", "GST"}

var metricColumnRe = regexp.MustCompile(`^(.+)_CY_Mean$`)

// DiscoverMetrics returns the tracked metric prefixes found in columns, in
// metric order.
func DiscoverMetrics(columns []string) []string {
	found := make(map[string]bool)
	for _, c := range columns {
		if m := metricColumnRe.FindStringSubmatch(strings.TrimSpace(c)); m != nil {
			found[m[1]] = true
		}
	}

	out := make([]string, 0, len(found))
	for _, p := range preferredMetrics {
		if found[p] {
			out = append(out, p)
			delete(found, p)
		}
	}
	rest := make([]string, 0, len(found))
	for m := range found {
		rest = append(rest, m)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// AccountRow is one account's identity plus its raw metric fields. Fields
// holds the untyped cell text keyed by column name. Missing and malformed
// cells both read as absent.
type AccountRow struct {
	Code   string
	Name   string
	Fields map[string]string
}

// Field returns the trimmed text of column col and whether it is non-empty.
func (r AccountRow) Field(col string) (string, bool) {
	v, ok := r.Fields[col]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// Float parses column col as a finite number.
func (r AccountRow) Float(col string) (float64, bool) {
	v, ok := r.Field(col)
	if !ok {
		return 0, false
	}
	switch strings.ToLower(v) {
	case "nan", "null", "none", "n/a", "na", "-":
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Bool parses column col as a boolean flag. Accepts true/false, yes/no, y/n
// and 1/0 in any case.
func (r AccountRow) Bool(col string) (bool, bool) {
	v, ok := r.Field(col)
	if !ok {
		return false, false
	}
	switch strings.ToLower(v) {
	case "true", "t", "yes", "y", "1", "1.0":
		return true, true
	case "false", "f", "no", "n", "0", "0.0":
		return false, true
	}
	return false, false
}

// Metric returns an accessor for one metric's columns.
func (r AccountRow) Metric(prefix string) MetricFields {
	return MetricFields{row: r, prefix: prefix}
}

// MetricFields reads the columns of one metric of one account.
type MetricFields struct {
	row    AccountRow
	prefix string
}

// Column returns the full column name for suffix.
func (m MetricFields) Column(suffix string) string {
	return m.prefix + "_" + suffix
}

// Float reads a numeric field.
func (m MetricFields) Float(suffix string) (float64, bool) {
	return m.row.Float(m.Column(suffix))
}

// Flag reads a significance flag. Absent or malformed flags are false.
func (m MetricFields) Flag(suffix string) bool {
	v, ok := m.row.Bool(m.Column(suffix))
	return ok && v
}

// Text reads a free-form field.
func (m MetricFields) Text(suffix string) (string, bool) {
	return m.row.Field(m.Column(suffix))
}

// Batch is every account of one run plus the metrics to evaluate.
type Batch struct {
	Metrics []string
	Rows    []AccountRow
}

// NewBatch builds a Batch, discovering metrics from columns.
func NewBatch(columns []string, rows []AccountRow) Batch {
	return Batch{Metrics: DiscoverMetrics(columns), Rows: rows}
}

func (b Batch) metricOrder() map[string]int {
	order := make(map[string]int, len(b.Metrics))
	for i, m := range b.Metrics {
		order[m] = i
	}
	return order
}
