package sampler

import (
	"math"
	"sort"
)

// summary holds the percentile statistics computed from one raw series.
type summary struct {
	p50, p95, p99 float64
	count         int
}

// summarize computes p50/p95/p99 from raw sample values.
func summarize(values []float64) summary {
	if len(values) == 0 {
		return summary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return summary{
		p50:   percentile(sorted, 50),
		p95:   percentile(sorted, 95),
		p99:   percentile(sorted, 99),
		count: len(values),
	}
}

// percentile computes the Nth percentile of sorted values using linear
// interpolation between the two nearest ranks.
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (pct / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return sorted[lower]
	}

	fraction := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*fraction
}
