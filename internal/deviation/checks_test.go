package deviation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func val(v float64) reading { return reading{v: v, ok: true} }

func kinds(signals []Signal) []Kind {
	out := make([]Kind, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.Kind)
	}
	return out
}

func findSignal(signals []Signal, k Kind) (Signal, bool) {
	for _, s := range signals {
		if s.Kind == k {
			return s, true
		}
	}
	return Signal{}, false
}

func TestEvaluate_DistributionChange(t *testing.T) {
	ev := evaluator{cfg: DefaultConfig()}

	t.Run("material gets full weight", func(t *testing.T) {
		got := ev.evaluate(metricInputs{metric: "Credit", mwSig: true, meanPct: val(90)})
		s, ok := findSignal(got, KindDistributionChange)
		require.True(t, ok)
		assert.Equal(t, 5.0, s.EffectiveWeight)
		assert.Equal(t, DirectionVolatility, s.Direction)
		assert.Equal(t, "Credit distribution changed (Mann-Whitney)", s.Reason)
	})

	t.Run("unsupported change is reduced", func(t *testing.T) {
		got := ev.evaluate(metricInputs{metric: "Credit", ksSig: true, meanPct: val(10)})
		s, ok := findSignal(got, KindDistributionChange)
		require.True(t, ok)
		assert.Equal(t, 2.0, s.EffectiveWeight)
	})

	t.Run("t-test corroborates", func(t *testing.T) {
		got := ev.evaluate(metricInputs{metric: "Credit", tSig: true, meanDiff: val(-4)})
		s, ok := findSignal(got, KindDistributionChange)
		require.True(t, ok)
		assert.Equal(t, 5.0, s.EffectiveWeight)
		assert.Equal(t, DirectionDecrease, s.Direction)
	})

	t.Run("anova alone does not fire", func(t *testing.T) {
		got := ev.evaluate(metricInputs{metric: "Credit", anovaSig: true, meanPct: val(90)})
		assert.Empty(t, got)
	})
}

func TestEvaluate_MeanShift(t *testing.T) {
	ev := evaluator{cfg: DefaultConfig()}

	got := ev.evaluate(metricInputs{metric: "Credit", lyMean: val(100), meanDiff: val(80), meanPct: val(90)})
	s, ok := findSignal(got, KindMeanShift)
	require.True(t, ok)
	assert.Equal(t, 5.0, s.EffectiveWeight)
	assert.Equal(t, DirectionIncrease, s.Direction)
	assert.Equal(t, "Credit mean +80% vs LY", s.Reason)

	got = ev.evaluate(metricInputs{metric: "Credit", lyMean: val(100), meanDiff: val(80), meanPct: val(10)})
	s, ok = findSignal(got, KindMeanShift)
	require.True(t, ok)
	assert.Equal(t, 2.5, s.EffectiveWeight)

	got = ev.evaluate(metricInputs{metric: "Credit", lyMean: val(100), meanDiff: val(50), meanPct: val(90)})
	_, ok = findSignal(got, KindMeanShift)
	assert.False(t, ok)

	got = ev.evaluate(metricInputs{metric: "Credit", meanDiff: val(500), meanPct: val(90)})
	assert.Empty(t, got, "no LY mean means no evidence")
}

func TestEvaluate_EffectSizeNeedsChange(t *testing.T) {
	ev := evaluator{cfg: DefaultConfig()}

	got := ev.evaluate(metricInputs{metric: "Credit", cohensD: val(2.5), effectLabel: "large", meanPct: val(95)})
	assert.Empty(t, got)

	got = ev.evaluate(metricInputs{metric: "Credit", tSig: true, cohensD: val(1.2), meanPct: val(95)})
	s, ok := findSignal(got, KindEffectSize)
	require.True(t, ok)
	assert.Equal(t, "Large Effect Size", s.Label)
	assert.Equal(t, 4.0, s.EffectiveWeight)

	got = ev.evaluate(metricInputs{metric: "Running_Balance", tSig: true, cohensD: val(-1.2), meanPct: val(95)})
	s, ok = findSignal(got, KindEffectSize)
	require.True(t, ok)
	assert.InDelta(t, 2.8, s.EffectiveWeight, 1e-9)
	assert.Equal(t, DirectionDecrease, s.Direction)

	got = ev.evaluate(metricInputs{metric: "Credit", tSig: true, cohensD: val(0.6), meanPct: val(95)})
	s, ok = findSignal(got, KindEffectSize)
	require.True(t, ok)
	assert.Equal(t, "Medium Effect Size", s.Label)
	assert.Equal(t, 2.0, s.EffectiveWeight)

	// Below the effect floor the support is withheld.
	got = ev.evaluate(metricInputs{metric: "Credit", tSig: true, cohensD: val(1.2), meanPct: val(40)})
	_, ok = findSignal(got, KindEffectSize)
	assert.False(t, ok)
}

func TestEvaluate_CoefficientOfVariation(t *testing.T) {
	ev := evaluator{cfg: DefaultConfig()}

	got := ev.evaluate(metricInputs{metric: "Credit", cyMean: val(100), cyStd: val(150), meanPct: val(90)})
	s, ok := findSignal(got, KindHighCV)
	require.True(t, ok)
	assert.Equal(t, "High CV", s.Label)
	assert.Equal(t, 2.0, s.EffectiveWeight)

	got = ev.evaluate(metricInputs{metric: "Credit", cyMean: val(100), cyStd: val(80), meanPct: val(90)})
	s, ok = findSignal(got, KindHighCV)
	require.True(t, ok)
	assert.Equal(t, "Moderate CV", s.Label)
	assert.Equal(t, 1.0, s.EffectiveWeight)

	got = ev.evaluate(metricInputs{metric: "GST", cyMean: val(100), cyStd: val(150), meanPct: val(90)})
	s, ok = findSignal(got, KindHighCV)
	require.True(t, ok)
	assert.InDelta(t, 1.8, s.EffectiveWeight, 1e-9)

	got = ev.evaluate(metricInputs{metric: "Credit", cyMean: val(100), cyStd: val(150), meanPct: val(50)})
	_, ok = findSignal(got, KindHighCV)
	assert.False(t, ok, "below cv floor")
}

func TestEvaluate_SkewChecks(t *testing.T) {
	ev := evaluator{cfg: DefaultConfig()}

	got := ev.evaluate(metricInputs{metric: "Credit", cyMean: val(100), cyMedian: val(60), cyStd: val(50), meanPct: val(90)})
	gap, ok := findSignal(got, KindMeanMedianGap)
	require.True(t, ok)
	assert.Equal(t, 2.0, gap.EffectiveWeight)
	skew, ok := findSignal(got, KindPearsonSkew)
	require.True(t, ok)
	assert.Equal(t, 1.0, skew.EffectiveWeight)
	assert.Equal(t, "Credit Pearson skew 2.40", skew.Reason)

	got = ev.evaluate(metricInputs{metric: "Credit", cyMean: val(100), cyMedian: val(90), cyStd: val(50), meanPct: val(90)})
	assert.Empty(t, got)

	got = ev.evaluate(metricInputs{metric: "Credit", cyMean: val(100), cyMedian: val(60), cyStd: val(50), meanPct: val(20)})
	_, ok = findSignal(got, KindMeanMedianGap)
	assert.False(t, ok)
}

func TestEvaluate_VolatilityJump(t *testing.T) {
	ev := evaluator{cfg: DefaultConfig()}

	got := ev.evaluate(metricInputs{metric: "Running_Balance", lyStd: val(100), stdDiff: val(90), meanPct: val(80)})
	s, ok := findSignal(got, KindVolatilityJump)
	require.True(t, ok)
	assert.InDelta(t, 1.6, s.EffectiveWeight, 1e-9)

	got = ev.evaluate(metricInputs{metric: "Running_Balance", lyStd: val(100), stdDiff: val(90), meanPct: val(70)})
	assert.Empty(t, got)
}

func TestEvaluate_LowMeanHighVariance(t *testing.T) {
	ev := evaluator{cfg: DefaultConfig()}

	got := ev.evaluate(metricInputs{metric: "Credit", cyMean: val(10), cyStd: val(20), meanPct: val(20), stdPct: val(80)})
	assert.Equal(t, []Kind{KindLowMeanHighVariance}, kinds(got))

	got = ev.evaluate(metricInputs{metric: "Credit", cyMean: val(10), cyStd: val(20), meanPct: val(20), stdPct: val(50)})
	assert.Empty(t, got)

	got = ev.evaluate(metricInputs{metric: "Credit", cyMean: val(10), cyStd: val(20), meanPct: val(20)})
	assert.Empty(t, got, "missing std percentile is no evidence")
}

func TestEvaluate_NewActivityAndSignReversal(t *testing.T) {
	ev := evaluator{cfg: DefaultConfig()}

	got := ev.evaluate(metricInputs{metric: "Debit", lyMean: val(0), cyMean: val(500), meanPct: val(90)})
	s, ok := findSignal(got, KindNewActivity)
	require.True(t, ok)
	assert.Equal(t, DirectionIncrease, s.Direction)
	assert.Equal(t, 2.0, s.EffectiveWeight)

	got = ev.evaluate(metricInputs{metric: "Debit", lyMean: val(0), cyMean: val(500), meanPct: val(10)})
	_, ok = findSignal(got, KindNewActivity)
	assert.False(t, ok)

	got = ev.evaluate(metricInputs{metric: "Credit", lyMean: val(100), cyMean: val(-50), meanPct: val(70)})
	s, ok = findSignal(got, KindSignReversal)
	require.True(t, ok)
	assert.Equal(t, DirectionDecrease, s.Direction)
	assert.Equal(t, 3.0, s.EffectiveWeight)

	got = ev.evaluate(metricInputs{metric: "Credit", lyMean: val(100), cyMean: val(-50), meanPct: val(40)})
	_, ok = findSignal(got, KindSignReversal)
	assert.False(t, ok)
}

func TestEvaluate_DisabledCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnabledChecks[KindMeanShift] = false
	ev := evaluator{cfg: cfg}

	got := ev.evaluate(metricInputs{metric: "Credit", tSig: true, lyMean: val(100), meanDiff: val(200), meanPct: val(90)})
	assert.Equal(t, []Kind{KindDistributionChange}, kinds(got))
}

func TestEvaluate_ZeroWeightSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.DistributionChange = 0
	ev := evaluator{cfg: cfg}

	got := ev.evaluate(metricInputs{metric: "Credit", mwSig: true, meanPct: val(90)})
	assert.Empty(t, got)
}

func TestEvaluate_NoEvidence(t *testing.T) {
	ev := evaluator{cfg: DefaultConfig()}
	assert.Empty(t, ev.evaluate(metricInputs{metric: "Credit"}))
	assert.Empty(t, ev.evaluate(metricInputs{metric: "Credit", meanPct: val(100), stdPct: val(100)}))
}
