package deviation

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// evidenceBlob renders the compact "Metric Values" text: one segment per
// contributing metric, strongest first, at most max segments.
func evidenceBlob(row AccountRow, signals []Signal, metricOrder map[string]int, eps float64, max int) string {
	scores := metricScores(signals)
	metrics := make([]string, 0, len(scores))
	for m := range scores {
		metrics = append(metrics, m)
	}
	sort.Slice(metrics, func(i, j int) bool {
		if scores[metrics[i]] != scores[metrics[j]] {
			return scores[metrics[i]] > scores[metrics[j]]
		}
		return metricOrder[metrics[i]] < metricOrder[metrics[j]]
	})

	shown := metrics
	if max > 0 && len(shown) > max {
		shown = shown[:max]
	}

	parts := make([]string, 0, len(shown)+1)
	for _, m := range shown {
		parts = append(parts, metricEvidence(row.Metric(m), m, signalsFor(signals, m), eps))
	}
	if extra := len(metrics) - len(shown); extra > 0 {
		parts = append(parts, fmt.Sprintf("+%d more", extra))
	}
	return strings.Join(parts, " | ")
}

func signalsFor(signals []Signal, metric string) []Signal {
	var out []Signal
	for _, s := range signals {
		if s.Metric == metric {
			out = append(out, s)
		}
	}
	return out
}

func metricEvidence(f MetricFields, metric string, signals []Signal, eps float64) string {
	var parts []string

	ly, lyOK := f.Float(ColLYMean)
	cy, cyOK := f.Float(ColCYMean)
	var means []string
	if lyOK {
		means = append(means, "LYμ:"+compactNumber(ly))
	}
	if cyOK {
		means = append(means, "CYμ:"+compactNumber(cy))
	}
	if lyOK && cyOK {
		means = append(means, "("+formatSignedPct((cy-ly)/math.Max(math.Abs(ly), eps))+")")
	}
	if len(means) > 0 {
		parts = append(parts, strings.Join(means, " "))
	}

	std, stdOK := f.Float(ColCYStd)
	var spread []string
	if stdOK {
		spread = append(spread, "CYσ:"+compactNumber(std))
	}
	if stdOK && cyOK {
		spread = append(spread, fmt.Sprintf("CV:%.2f", math.Abs(std)/math.Max(math.Abs(cy), eps)))
	}
	if len(spread) > 0 {
		parts = append(parts, strings.Join(spread, " "))
	}

	if med, ok := f.Float(ColCYMedian); ok && cyOK {
		parts = append(parts, fmt.Sprintf("μ~med:%.2f", math.Abs(cy-med)/math.Max(math.Abs(med), eps)))
		if stdOK && math.Abs(std) > eps {
			parts = append(parts, fmt.Sprintf("skew:%.2f", 3*(cy-med)/math.Abs(std)))
		}
	}

	if d, ok := f.Float(ColCohensD); ok {
		parts = append(parts, fmt.Sprintf("d:%.2f", d))
	}

	var sig []string
	for _, t := range []struct {
		col, tag string
	}{
		{ColTTestSignificant, "T"},
		{ColAnovaSignificant, "A"},
		{ColMWSignificant, "MW"},
		{ColKSSignificant, "KS"},
	} {
		if f.Flag(t.col) {
			sig = append(sig, t.tag)
		}
	}
	if len(sig) > 0 {
		parts = append(parts, "sig["+strings.Join(sig, ",")+"]")
	}

	var tags []string
	for _, s := range signals {
		if len(tags) == 3 {
			break
		}
		tags = append(tags, s.Label)
	}
	if len(tags) > 0 {
		parts = append(parts, "tag["+strings.Join(tags, ",")+"]")
	}

	if len(parts) == 0 {
		return metric + ": (no numeric evidence)"
	}
	return metric + ": " + strings.Join(parts, "; ")
}

// compactNumber formats with k/m/b suffixes and two decimals.
func compactNumber(x float64) string {
	ax := math.Abs(x)
	switch {
	case ax >= 1e9:
		return fmt.Sprintf("%.2fb", x/1e9)
	case ax >= 1e6:
		return fmt.Sprintf("%.2fm", x/1e6)
	case ax >= 1e3:
		return fmt.Sprintf("%.2fk", x/1e3)
	}
	return fmt.Sprintf("%.2f", x)
}
