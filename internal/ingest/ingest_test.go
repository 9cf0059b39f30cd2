package ingest

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/gl-deviation/internal/tabular"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestBuild(t *testing.T) {
	tbl := tabular.NewTable(
		[]string{"Account Code", "Account Name", "Debit_CY_Mean", "Credit_CY_Mean", "Credit_LY_Mean", "Credit_LY_Mean"},
		[][]string{
			{" 200 ", "Sales", "5", "1000", "400", "999"},
			{"610", "Bank Fees", "", "900", "300", ""},
			{"610", "Bank Fees (dup)", "", "1", "1", ""},
		},
	)

	res, err := Build(tbl)
	require.NoError(t, err)

	assert.Equal(t, []string{"Credit", "Debit"}, res.Batch.Metrics)
	require.Len(t, res.Batch.Rows, 3)
	assert.Equal(t, "200", res.Batch.Rows[0].Code)
	assert.Equal(t, "Sales", res.Batch.Rows[0].Name)
	assert.Equal(t, "400", res.Batch.Rows[0].Fields["Credit_LY_Mean"])
	assert.Equal(t, []string{"Credit_LY_Mean"}, res.DuplicateColumns)
	assert.Equal(t, []string{"610"}, res.DuplicateCodes)
}

func TestBuild_StructuralErrors(t *testing.T) {
	tests := []struct {
		name     string
		header   []string
		rows     [][]string
		sentinel error
		msg      string
	}{
		{
			name:     "missing identity",
			header:   []string{"Account Code", "Credit_CY_Mean"},
			rows:     [][]string{{"1", "2"}},
			sentinel: ErrMissingIdentity,
			msg:      "Missing required column: Account Name",
		},
		{
			name:     "no metrics",
			header:   []string{"Account Code", "Account Name", "Credit_LY_Mean"},
			rows:     [][]string{{"1", "a", "2"}},
			sentinel: ErrNoMetrics,
			msg:      "No '<Metric>_CY_Mean' columns found",
		},
		{
			name:     "empty",
			header:   []string{"Account Code", "Account Name", "Credit_CY_Mean"},
			sentinel: ErrEmpty,
			msg:      "Input looks empty.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tabular.NewTable(tt.header, tt.rows))
			require.Error(t, err)
			assert.True(t, eris.Is(err, tt.sentinel))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	issues := Validate(tabular.NewTable([]string{"foo"}, nil))
	require.Len(t, issues, 4)
	assert.Equal(t, ErrEmpty, issues[0].Err)
	assert.Equal(t, "Missing required column: Account Code", issues[1].String())
	assert.Equal(t, ErrNoMetrics, issues[3].Err)

	assert.Len(t, Validate(nil), 1)
}
