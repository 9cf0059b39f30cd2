package deviation

import (
	"math"
	"sort"
)

// Kind identifies which check produced a signal.
type Kind string

// Check kinds, in tie-break priority order.
const (
	KindDistributionChange  Kind = "distribution_change"
	KindMeanShift           Kind = "mean_shift"
	KindEffectSize          Kind = "effect_size_support"
	KindMeanMedianGap       Kind = "mean_median_gap"
	KindHighCV              Kind = "high_cv"
	KindLowMeanHighVariance Kind = "low_mean_high_variance"
	KindSignReversal        Kind = "sign_reversal"
	KindNewActivity         Kind = "new_activity"
	KindVolatilityJump      Kind = "volatility_jump"
	KindPearsonSkew         Kind = "pearson_skew"
)

var kindPriority = map[Kind]int{
	KindDistributionChange:  0,
	KindMeanShift:           1,
	KindEffectSize:          2,
	KindMeanMedianGap:       3,
	KindHighCV:              4,
	KindLowMeanHighVariance: 5,
	KindSignReversal:        6,
	KindNewActivity:         7,
	KindVolatilityJump:      8,
	KindPearsonSkew:         9,
}

// AllKinds lists every check kind in priority order.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(kindPriority))
	for k := range kindPriority {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kindPriority[kinds[i]] < kindPriority[kinds[j]] })
	return kinds
}

// Valid reports whether k is a known check kind.
func (k Kind) Valid() bool {
	_, ok := kindPriority[k]
	return ok
}

// Volatility reports whether k describes dispersion rather than a change in
// level. Accounts whose only signals are volatility-class can be dropped as
// noise.
func (k Kind) Volatility() bool {
	switch k {
	case KindHighCV, KindMeanMedianGap, KindPearsonSkew, KindVolatilityJump, KindLowMeanHighVariance:
		return true
	}
	return false
}

// Direction is the sense of movement a signal describes.
type Direction string

// Directions.
const (
	DirectionIncrease   Direction = "increase"
	DirectionDecrease   Direction = "decrease"
	DirectionVolatility Direction = "volatility"
)

// Signal is one piece of evidence that a metric of an account deviates.
type Signal struct {
	Metric          string    `json:"metric"`
	Kind            Kind      `json:"kind"`
	Label           string    `json:"label"`
	BaseWeight      float64   `json:"base_weight"`
	EffectiveWeight float64   `json:"effective_weight"`
	Direction       Direction `json:"direction"`
	Reason          string    `json:"reason"`
}

// rankSignals orders signals by effective weight descending, then kind
// priority, then metric order. The sort is stable so evaluation order breaks
// any remaining tie.
func rankSignals(signals []Signal, metricOrder map[string]int) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if a.EffectiveWeight != b.EffectiveWeight {
			return a.EffectiveWeight > b.EffectiveWeight
		}
		if kindPriority[a.Kind] != kindPriority[b.Kind] {
			return kindPriority[a.Kind] < kindPriority[b.Kind]
		}
		return metricOrder[a.Metric] < metricOrder[b.Metric]
	})
}

// totalScore sums effective weights. Ranking never changes the total.
func totalScore(signals []Signal) float64 {
	var sum float64
	for _, s := range signals {
		sum += s.EffectiveWeight
	}
	return roundTo(sum, 2)
}

// metricScores totals effective weight per metric.
func metricScores(signals []Signal) map[string]float64 {
	out := make(map[string]float64)
	for _, s := range signals {
		out[s.Metric] += s.EffectiveWeight
	}
	for m, v := range out {
		out[m] = roundTo(v, 2)
	}
	return out
}

// pureVolatility reports whether every signal is volatility-class.
func pureVolatility(signals []Signal) bool {
	if len(signals) == 0 {
		return false
	}
	for _, s := range signals {
		if !s.Kind.Volatility() {
			return false
		}
	}
	return true
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
