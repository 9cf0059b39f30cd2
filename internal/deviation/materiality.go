package deviation

import (
	"math"
	"sort"
)

// Materiality holds batch-relative size percentiles (0-100) for every
// account and metric. A missing value has no percentile.
type Materiality struct {
	mean       map[string][]float64
	std        map[string][]float64
	overall    []float64
	suppressed []string
}

// ComputeMateriality ranks |CY_Mean| and |CY_Std| of each metric across the
// batch. Metrics with fewer than minSample present values get no
// percentiles at all, which makes every materiality-gated check on them
// ineligible.
func ComputeMateriality(b Batch, minSample int) *Materiality {
	n := len(b.Rows)
	m := &Materiality{
		mean:    make(map[string][]float64, len(b.Metrics)),
		std:     make(map[string][]float64, len(b.Metrics)),
		overall: nanSlice(n),
	}

	for _, metric := range b.Metrics {
		means := columnAbs(b.Rows, metric, ColCYMean)
		if presentCount(means) < minSample {
			m.suppressed = append(m.suppressed, metric)
			m.mean[metric] = nanSlice(n)
			m.std[metric] = nanSlice(n)
			continue
		}
		m.mean[metric] = PercentileRanks(means)
		m.std[metric] = PercentileRanks(columnAbs(b.Rows, metric, ColCYStd))

		for i, p := range m.mean[metric] {
			if math.IsNaN(p) {
				continue
			}
			if math.IsNaN(m.overall[i]) || p > m.overall[i] {
				m.overall[i] = p
			}
		}
	}
	return m
}

// MeanPct is the percentile of |CY_Mean| for metric on account i.
func (m *Materiality) MeanPct(metric string, i int) (float64, bool) {
	return lookupPct(m.mean[metric], i)
}

// StdPct is the percentile of |CY_Std| for metric on account i.
func (m *Materiality) StdPct(metric string, i int) (float64, bool) {
	return lookupPct(m.std[metric], i)
}

// Overall is the account's largest mean percentile over all metrics.
func (m *Materiality) Overall(i int) (float64, bool) {
	return lookupPct(m.overall, i)
}

// Suppressed lists metrics whose sample was too small to rank.
func (m *Materiality) Suppressed() []string {
	return append([]string(nil), m.suppressed...)
}

// PercentileRanks converts values to percentile ranks on a 0-100 scale.
// Ties share the average of their ranks. NaN inputs stay NaN and do not
// count towards the sample size.
func PercentileRanks(values []float64) []float64 {
	out := nanSlice(len(values))

	idx := make([]int, 0, len(values))
	for i, v := range values {
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	n := len(idx)
	if n == 0 {
		return out
	}

	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	for start := 0; start < n; {
		end := start + 1
		for end < n && values[idx[end]] == values[idx[start]] {
			end++
		}
		// 1-based ranks start+1..end averaged.
		avg := float64(start+1+end) / 2
		for k := start; k < end; k++ {
			out[idx[k]] = avg / float64(n) * 100
		}
		start = end
	}
	return out
}

func columnAbs(rows []AccountRow, metric, suffix string) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		v, ok := r.Metric(metric).Float(suffix)
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Abs(v)
	}
	return out
}

func presentCount(values []float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

func lookupPct(values []float64, i int) (float64, bool) {
	if i < 0 || i >= len(values) || math.IsNaN(values[i]) {
		return 0, false
	}
	return values[i], true
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
