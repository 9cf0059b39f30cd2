package deviation

import (
	"fmt"
	"math"
	"strings"
)

// reading is an optional numeric cell.
type reading struct {
	v  float64
	ok bool
}

// metricInputs are the parsed fields of one metric of one account together
// with its materiality.
type metricInputs struct {
	metric string

	lyMean, cyMean, lyStd, cyStd, cyMedian reading
	meanDiff, stdDiff, cohensD             reading
	effectLabel                            string

	tSig, anovaSig, mwSig, ksSig bool

	meanPct, stdPct reading
}

func readInputs(row AccountRow, idx int, metric string, mat *Materiality) metricInputs {
	f := row.Metric(metric)
	get := func(suffix string) reading {
		v, ok := f.Float(suffix)
		return reading{v: v, ok: ok}
	}

	in := metricInputs{
		metric:   metric,
		lyMean:   get(ColLYMean),
		cyMean:   get(ColCYMean),
		lyStd:    get(ColLYStd),
		cyStd:    get(ColCYStd),
		cyMedian: get(ColCYMedian),
		meanDiff: get(ColMeanDiff),
		stdDiff:  get(ColStdDiff),
		cohensD:  get(ColCohensD),
		tSig:     f.Flag(ColTTestSignificant),
		anovaSig: f.Flag(ColAnovaSignificant),
		mwSig:    f.Flag(ColMWSignificant),
		ksSig:    f.Flag(ColKSSignificant),
	}
	if label, ok := f.Text(ColEffectSize); ok {
		in.effectLabel = strings.ToLower(label)
	}
	if v, ok := mat.MeanPct(metric, idx); ok {
		in.meanPct = reading{v: v, ok: true}
	}
	if v, ok := mat.StdPct(metric, idx); ok {
		in.stdPct = reading{v: v, ok: true}
	}
	return in
}

// significantTests lists the distribution tests that fired, in a fixed order.
func (in metricInputs) significantTests() []string {
	var out []string
	if in.tSig {
		out = append(out, "T-Test")
	}
	if in.mwSig {
		out = append(out, "Mann-Whitney")
	}
	if in.ksSig {
		out = append(out, "K-S")
	}
	return out
}

// cv is |CY_Std| / |CY_Mean| with an epsilon floor on the denominator.
func (in metricInputs) cv(eps float64) reading {
	if !in.cyMean.ok || !in.cyStd.ok {
		return reading{}
	}
	return reading{v: math.Abs(in.cyStd.v) / math.Max(math.Abs(in.cyMean.v), eps), ok: true}
}

func (in metricInputs) levelDirection() Direction {
	if in.meanDiff.ok {
		if in.meanDiff.v > 0 {
			return DirectionIncrease
		}
		if in.meanDiff.v < 0 {
			return DirectionDecrease
		}
	}
	return DirectionVolatility
}

// evaluator runs every enabled check against one metric. Change checks run
// first and the materiality and volatility checks last, so that effect-size
// support can see whether a change signal already fired.
type evaluator struct {
	cfg Config
}

func (e evaluator) evaluate(in metricInputs) []Signal {
	t := e.cfg.Thresholds
	w := e.cfg.Weights
	p := e.cfg.Profile(in.metric)

	effectMaterial := in.meanPct.ok && in.meanPct.v >= p.MinMeanPctForEffect
	cvMaterial := in.meanPct.ok && in.meanPct.v >= p.MinMeanPctForCV
	meanTest := in.tSig || in.anovaSig

	var out []Signal
	emit := func(kind Kind, label string, base, mult float64, dir Direction, reason string) {
		eff := roundTo(base*mult, 4)
		if eff <= 0 {
			return
		}
		out = append(out, Signal{
			Metric:          in.metric,
			Kind:            kind,
			Label:           label,
			BaseWeight:      base,
			EffectiveWeight: eff,
			Direction:       dir,
			Reason:          reason,
		})
	}

	effectLarge := in.effectLabel == "large" || (in.cohensD.ok && math.Abs(in.cohensD.v) >= t.CohensDLarge)
	effectMedium := in.effectLabel == "medium" || (in.cohensD.ok && math.Abs(in.cohensD.v) >= t.CohensDMedium)

	// Distribution change.
	changeFired := false
	if tests := in.significantTests(); e.cfg.Enabled(KindDistributionChange) && len(tests) > 0 {
		mult := 1.0
		if !effectMaterial && !meanTest && !effectLarge {
			mult = t.UnsupportedChangeMult
		}
		emit(KindDistributionChange, "Distribution Change", w.DistributionChange, mult, in.levelDirection(),
			fmt.Sprintf("%s distribution changed (%s)", in.metric, strings.Join(tests, ", ")))
		changeFired = true
	}

	// Mean shift.
	if e.cfg.Enabled(KindMeanShift) && in.meanDiff.ok && in.lyMean.ok {
		rel := math.Abs(in.meanDiff.v) / math.Max(math.Abs(in.lyMean.v), t.Epsilon)
		if rel >= t.RelMeanShift {
			mult := 1.0
			if !effectMaterial && !meanTest {
				mult = t.UnsupportedShiftMult
			}
			emit(KindMeanShift, "Mean Shift", w.MeanShift, mult, in.levelDirection(),
				fmt.Sprintf("%s mean %s vs LY", in.metric, formatSignedPct(in.meanDiff.v/math.Max(math.Abs(in.lyMean.v), t.Epsilon))))
			changeFired = true
		}
	}

	// Effect size only corroborates a change already seen on this metric.
	if e.cfg.Enabled(KindEffectSize) && changeFired && effectMaterial {
		dir := in.levelDirection()
		if in.cohensD.ok && in.cohensD.v != 0 {
			dir = DirectionIncrease
			if in.cohensD.v < 0 {
				dir = DirectionDecrease
			}
		}
		switch {
		case effectLarge:
			emit(KindEffectSize, "Large Effect Size", w.EffectLarge, p.EffectWeightMult, dir,
				fmt.Sprintf("%s effect size large%s", in.metric, formatD(in.cohensD)))
		case effectMedium:
			emit(KindEffectSize, "Medium Effect Size", w.EffectMedium, p.EffectWeightMult, dir,
				fmt.Sprintf("%s effect size medium%s", in.metric, formatD(in.cohensD)))
		}
	}

	// Sign reversal.
	if e.cfg.Enabled(KindSignReversal) && in.lyMean.ok && in.cyMean.ok && in.lyMean.v*in.cyMean.v < 0 &&
		in.meanPct.ok && in.meanPct.v >= t.SignReversalMinMeanPct {
		dir := DirectionDecrease
		if in.cyMean.v > 0 {
			dir = DirectionIncrease
		}
		emit(KindSignReversal, "Sign Reversal", w.SignReversal, 1, dir,
			fmt.Sprintf("%s mean changed sign vs LY", in.metric))
	}

	// New activity.
	if e.cfg.Enabled(KindNewActivity) && in.lyMean.ok && in.cyMean.ok && effectMaterial &&
		math.Abs(in.lyMean.v) <= t.Epsilon && math.Abs(in.cyMean.v) > t.NewActivityFactor*t.Epsilon {
		dir := DirectionDecrease
		if in.cyMean.v > 0 {
			dir = DirectionIncrease
		}
		emit(KindNewActivity, "New Activity / Re-start", w.NewActivity, 1, dir,
			fmt.Sprintf("%s active this year with no activity last year", in.metric))
	}

	// Mean-median gap.
	if e.cfg.Enabled(KindMeanMedianGap) && cvMaterial && in.cyMean.ok && in.cyMedian.ok {
		gap := math.Abs(in.cyMean.v-in.cyMedian.v) / math.Max(math.Abs(in.cyMedian.v), t.Epsilon)
		if gap >= t.MeanMedianGapRatio {
			emit(KindMeanMedianGap, "Mean-Median Gap", w.MeanMedianGap, 1, DirectionVolatility,
				fmt.Sprintf("%s mean/median gap %.2f", in.metric, gap))
		}
	}

	// Pearson skew.
	if e.cfg.Enabled(KindPearsonSkew) && cvMaterial && in.cyMean.ok && in.cyMedian.ok && in.cyStd.ok &&
		math.Abs(in.cyStd.v) > t.Epsilon {
		skew := 3 * (in.cyMean.v - in.cyMedian.v) / math.Abs(in.cyStd.v)
		if math.Abs(skew) >= t.PearsonSkewAbs {
			emit(KindPearsonSkew, "Pearson Skew", w.PearsonSkew, 1, DirectionVolatility,
				fmt.Sprintf("%s Pearson skew %.2f", in.metric, skew))
		}
	}

	cv := in.cv(t.Epsilon)

	// Coefficient of variation.
	if e.cfg.Enabled(KindHighCV) && cvMaterial && cv.ok {
		switch {
		case cv.v >= t.HighCV:
			emit(KindHighCV, "High CV", w.HighCV, p.CVWeightMult, DirectionVolatility,
				fmt.Sprintf("%s CV %.2f", in.metric, cv.v))
		case cv.v >= t.ModerateCV:
			emit(KindHighCV, "Moderate CV", w.ModerateCV, p.CVWeightMult, DirectionVolatility,
				fmt.Sprintf("%s CV %.2f", in.metric, cv.v))
		}
	}

	// Volatility jump.
	if e.cfg.Enabled(KindVolatilityJump) && cvMaterial && in.stdDiff.ok && in.lyStd.ok {
		rel := math.Abs(in.stdDiff.v) / math.Max(math.Abs(in.lyStd.v), t.Epsilon)
		if rel >= t.RelStdJump {
			emit(KindVolatilityJump, "Volatility Jump", w.VolatilityJump, p.CVWeightMult, DirectionVolatility,
				fmt.Sprintf("%s std %s vs LY", in.metric, formatSignedPct(in.stdDiff.v/math.Max(math.Abs(in.lyStd.v), t.Epsilon))))
		}
	}

	// Small average with outsized spread.
	if e.cfg.Enabled(KindLowMeanHighVariance) && cv.ok && cv.v >= t.HighCV &&
		in.meanPct.ok && in.meanPct.v <= p.LowMeanPct && in.stdPct.ok && in.stdPct.v >= p.HighStdPct {
		emit(KindLowMeanHighVariance, "Low Mean with High Variance", w.LowMeanHighVariance, 1, DirectionVolatility,
			fmt.Sprintf("%s small mean with high spread (CV %.2f)", in.metric, cv.v))
	}

	return out
}

// evaluateAccount collects signals for every metric of one account and
// applies the pure-volatility drop rule.
func (e evaluator) evaluateAccount(row AccountRow, idx int, metrics []string, mat *Materiality) []Signal {
	var out []Signal
	for _, metric := range metrics {
		out = append(out, e.evaluate(readInputs(row, idx, metric, mat))...)
	}

	if pureVolatility(out) {
		overall, ok := mat.Overall(idx)
		if !ok || overall < e.cfg.Tiers.DropPureVolatilityBelowMeanPct {
			return nil
		}
	}
	return out
}

func formatSignedPct(ratio float64) string {
	return fmt.Sprintf("%+.0f%%", ratio*100)
}

func formatD(d reading) string {
	if !d.ok {
		return ""
	}
	return fmt.Sprintf(" (d=%.2f)", d.v)
}
