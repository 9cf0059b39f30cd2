package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/gl-deviation/internal/deviation"
	"github.com/sells-group/gl-deviation/internal/ingest"
	"github.com/sells-group/gl-deviation/internal/store"
	"github.com/sells-group/gl-deviation/internal/tabular"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const threeAccountsCSV = `Account Code,Account Name,Credit_CY_Mean,Credit_LY_Mean,Credit_Mean_Diff,Credit_TTest_Significant,Credit_Effect_Size
200,Sales Revenue,1000,400,600,true,large
610,Bank Fees,900,300,600,true,
999,Rounding,10,,,,large
`

func csvInput(body string) Input {
	return Input{Source: "accounts.csv", Reader: strings.NewReader(body), Format: tabular.FormatCSV}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestRun(t *testing.T) {
	p, err := New(deviation.DefaultConfig(), nil, 2)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), csvInput(threeAccountsCSV), Overrides{}, false)
	require.NoError(t, err)

	require.Len(t, res.Report.Rows, 2)
	assert.Equal(t, deviation.Tier1, res.Report.Rows[0].Tier)
	assert.Equal(t, "200", res.Report.Rows[0].AccountCode)
	assert.Equal(t, 14.0, res.Report.Rows[0].Score)
	assert.Equal(t, deviation.Tier2, res.Report.Rows[1].Tier)
	assert.Equal(t, 3, res.Report.Summary.AccountsEvaluated)
	assert.Len(t, res.Ingest.Batch.Rows, 3)
	assert.Nil(t, res.Run)
}

func TestRun_Overrides(t *testing.T) {
	p, err := New(deviation.DefaultConfig(), nil, 1)
	require.NoError(t, err)

	tier2 := 11.0
	noEvidence := false
	res, err := p.Run(context.Background(), csvInput(threeAccountsCSV), Overrides{
		Tier2MinScore: &tier2,
		Evidence:      &noEvidence,
	}, false)
	require.NoError(t, err)

	require.Len(t, res.Report.Rows, 1)
	assert.Equal(t, "200", res.Report.Rows[0].AccountCode)
	assert.Empty(t, res.Report.Rows[0].MetricValues)
	assert.NotContains(t, res.Report.Columns(), deviation.ColumnMetricValues)

	assert.InDelta(t, 7, p.Config().Tiers.Tier2MinScore, 0.001, "base config untouched")
}

func TestRun_InvalidOverride(t *testing.T) {
	p, err := New(deviation.DefaultConfig(), nil, 1)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), csvInput(threeAccountsCSV), Overrides{
		Disable: []deviation.Kind{"bogus"},
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown check "bogus"`)

	var cfgErr *deviation.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.NotEmpty(t, cfgErr.Problems)
}

func TestRun_UnreadableInput(t *testing.T) {
	p, err := New(deviation.DefaultConfig(), nil, 1)
	require.NoError(t, err)

	in := Input{Source: "upload.json", Reader: strings.NewReader(`{"a":1}`), Format: tabular.FormatJSON}
	_, err = p.Run(context.Background(), in, Overrides{}, false)
	require.Error(t, err)

	var inErr *InputError
	require.True(t, errors.As(err, &inErr))
	assert.Equal(t, "upload.json", inErr.Source)
	assert.Contains(t, err.Error(), "pipeline: read upload.json")
}

func TestRun_BadInput(t *testing.T) {
	p, err := New(deviation.DefaultConfig(), nil, 1)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), csvInput("Account Code,Account Name,Credit_LY_Mean\n1,Cash,5\n"), Overrides{}, false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ingest.ErrNoMetrics))
}

func TestRun_Save(t *testing.T) {
	st := newTestStore(t)
	p, err := New(deviation.DefaultConfig(), st, 2)
	require.NoError(t, err)
	assert.True(t, p.CanSave())

	res, err := p.Run(context.Background(), csvInput(threeAccountsCSV), Overrides{}, true)
	require.NoError(t, err)
	require.NotNil(t, res.Run)

	got, err := p.GetRun(context.Background(), res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, "accounts.csv", got.Source)
	assert.Equal(t, res.Report.Summary, got.Summary)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, res.Report.Rows[0].Interpretation, got.Rows[0].Interpretation)

	runs, err := p.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRun_SaveWithoutStore(t *testing.T) {
	p, err := New(deviation.DefaultConfig(), nil, 1)
	require.NoError(t, err)
	assert.False(t, p.CanSave())

	_, err = p.Run(context.Background(), csvInput(threeAccountsCSV), Overrides{}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run store")

	_, err = p.ListRuns(context.Background(), store.RunFilter{})
	assert.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := deviation.DefaultConfig()
	cfg.Weights.MeanShift = -1
	_, err := New(cfg, nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: invalid config")
}

func TestOverrides_Apply(t *testing.T) {
	base := deviation.DefaultConfig()
	on := true
	maxT1 := 2
	tier1 := 20.0

	got := Overrides{
		IncludeTier3:  &on,
		MaxTier1:      &maxT1,
		Tier1MinScore: &tier1,
		Disable:       []deviation.Kind{deviation.KindHighCV},
	}.Apply(base)

	assert.True(t, got.Tiers.IncludeTier3)
	assert.Equal(t, 2, got.Tiers.MaxTier1)
	assert.InDelta(t, 20, got.Tiers.Tier1MinScore, 0.001)
	assert.False(t, got.Enabled(deviation.KindHighCV))
	assert.True(t, base.Enabled(deviation.KindHighCV))
	assert.False(t, base.Tiers.IncludeTier3)
}
