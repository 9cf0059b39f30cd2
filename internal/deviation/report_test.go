package deviation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompactNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{12.346, "12.35"},
		{-999.5, "-999.50"},
		{1500, "1.50k"},
		{-2500000, "-2.50m"},
		{3.2e9, "3.20b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compactNumber(tt.in))
	}
}

func TestEvidenceBlob(t *testing.T) {
	row := acct("1", "a",
		"Credit_LY_Mean", "400", "Credit_CY_Mean", "1000", "Credit_CY_Std", "1500",
		"Credit_CY_Median", "500", "Credit_Cohens_D", "1.2",
		"Credit_TTest_Significant", "true", "Credit_KS_Significant", "yes",
		"Debit_CY_Mean", "5",
	)
	signals := []Signal{
		{Metric: "Credit", Kind: KindDistributionChange, Label: "Distribution Change", EffectiveWeight: 5},
		{Metric: "Credit", Kind: KindHighCV, Label: "High CV", EffectiveWeight: 2},
		{Metric: "Debit", Kind: KindNewActivity, Label: "New Activity / Re-start", EffectiveWeight: 2},
	}
	order := map[string]int{"Credit": 0, "Debit": 1}

	got := evidenceBlob(row, signals, order, 1e-9, 1)
	assert.Equal(t,
		"Credit: LYμ:400.00 CYμ:1.00k (+150%); CYσ:1.50k CV:1.50; μ~med:1.00; skew:1.00; d:1.20; sig[T,KS]; tag[Distribution Change,High CV] | +1 more",
		got,
	)

	got = evidenceBlob(row, signals, order, 1e-9, 3)
	assert.Contains(t, got, " | Debit: CYμ:5.00; tag[New Activity / Re-start]")
}

func TestKeyMetrics(t *testing.T) {
	signals := []Signal{
		{Label: "Mean Shift"}, {Label: "Mean Shift"}, {Label: "High CV"}, {Label: "Pearson Skew"},
	}
	assert.Equal(t, []string{"Mean Shift", "High CV"}, keyMetrics(signals, 2))
	assert.Equal(t, []string{"Mean Shift", "High CV", "Pearson Skew"}, keyMetrics(signals, 6))
}

func TestBuildReport(t *testing.T) {
	accounts := []ScoredAccount{
		{Code: "300", Tier: Tier2, Score: 9, Signals: []Signal{{Label: "Mean Shift"}}, Evidence: "e300"},
		{Code: "100", Tier: Tier1, Score: 15, Signals: []Signal{{Label: "Distribution Change"}}},
		{Code: "200", Tier: Tier2, Score: 9, Signals: []Signal{{Label: "High CV"}}},
		{Code: "400", Tier: Unflagged, Score: 2, Signals: []Signal{{Label: "Pearson Skew"}}},
		{Code: "500"},
	}
	opts := ReportOptions{MaxReasons: 6, MaxEvidenceMetrics: 3, IncludeEvidence: false}

	rep := buildReport(accounts, []string{"Credit"}, nil, opts, 1)

	codes := make([]string, 0, len(rep.Rows))
	for _, r := range rep.Rows {
		codes = append(codes, r.AccountCode)
	}
	assert.Equal(t, []string{"100", "200", "300"}, codes)
	assert.Empty(t, rep.Rows[2].MetricValues, "evidence disabled")
	assert.Equal(t, Summary{
		AccountsEvaluated:   5,
		AccountsWithSignals: 4,
		Tier1:               1,
		Tier2:               2,
		DemotedByCap:        1,
	}, rep.Summary)
	assert.Equal(t, 3, rep.Summary.Flagged())
	assert.Len(t, rep.Tier(Tier2), 2)
	assert.NotContains(t, rep.Columns(), ColumnMetricValues)
}

func TestRowRecord(t *testing.T) {
	r := Row{
		Tier:           Tier1,
		AccountCode:    "200",
		AccountName:    "Sales",
		KeyMetrics:     []string{"Mean Shift", "High CV"},
		MetricValues:   "Credit: ...",
		Interpretation: "Credit postings: moved.",
		Score:          14.5,
		DominantMetric: "Credit",
	}
	assert.Equal(t,
		[]string{"Tier-1", "200", "Sales", "Mean Shift, High CV", "Credit: ...", "Credit postings: moved.", "14.5", "Credit"},
		r.Record(true),
	)
	assert.Len(t, r.Record(false), len(Columns(false)))
	assert.Equal(t, "Metric Values", Columns(true)[4])
}
