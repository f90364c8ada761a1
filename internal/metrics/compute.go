package metrics

import (
	"math"
	"sort"

	"btc-feature-lab/internal/domain"
)

// PriceSummary holds descriptive statistics over a window of price observations.
type PriceSummary struct {
	WindowStartMs int64
	WindowEndMs   int64

	Count int

	Min    float64
	Max    float64
	Mean   float64
	Median float64
	P10    float64
	P90    float64
	Stddev float64

	First     float64
	Last      float64
	Change    float64
	ChangePct float64
}

// SummarizePrices calculates descriptive statistics from a slice of
// observations. Observations must be in chronological order. An empty
// slice yields a summary with Count == 0 and zero statistics.
func SummarizePrices(obs []*domain.PriceObservation) *PriceSummary {
	n := len(obs)
	if n == 0 {
		return &PriceSummary{}
	}

	prices := make([]float64, n)
	for i, o := range obs {
		prices[i] = o.Price
	}

	sortedPrices := make([]float64, n)
	copy(sortedPrices, prices)
	sort.Float64s(sortedPrices)

	mean := computeMean(prices)
	first := prices[0]
	last := prices[n-1]

	summary := &PriceSummary{
		WindowStartMs: obs[0].TimestampMs,
		WindowEndMs:   obs[n-1].TimestampMs,

		Count: n,

		Min:    sortedPrices[0],
		Max:    sortedPrices[n-1],
		Mean:   mean,
		Median: computePercentile(sortedPrices, 0.50),
		P10:    computePercentile(sortedPrices, 0.10),
		P90:    computePercentile(sortedPrices, 0.90),
		Stddev: computeStddev(prices, mean),

		First:  first,
		Last:   last,
		Change: last - first,
	}
	if first != 0 {
		summary.ChangePct = (last - first) / first
	}

	return summary
}

// computeMean calculates arithmetic mean of values.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
// All stddev figures reported by this package use the sample formula;
// see FEATURE_CATALOG.md for the convention.
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0 // Need at least 2 samples for sample stddev
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	// Index for percentile (0-based, continuous)
	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	// Linear interpolation
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
