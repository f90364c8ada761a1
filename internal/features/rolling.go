package features

import "math"

// RollingFeatures holds the windowed statistics for one row. Each field is
// nil until its window is full: a window of N observations requires exactly
// N trailing observations including the current one.
type RollingFeatures struct {
	Mean5  *float64
	Mean15 *float64
	Mean30 *float64
	Mean60 *float64
	Std5   *float64
	Std15  *float64
	Std30  *float64
	Std60  *float64
	Min30  *float64
	Max30  *float64
}

// ExtractRolling computes all rolling statistics from the trailing prices,
// oldest first, current observation last. Windows are counted in
// observations at the nominal 1-minute cadence.
func ExtractRolling(prices []float64) RollingFeatures {
	min30, max30 := windowMinMax(prices, 30)
	return RollingFeatures{
		Mean5:  windowMean(prices, 5),
		Mean15: windowMean(prices, 15),
		Mean30: windowMean(prices, 30),
		Mean60: windowMean(prices, 60),
		Std5:   windowStd(prices, 5),
		Std15:  windowStd(prices, 15),
		Std30:  windowStd(prices, 30),
		Std60:  windowStd(prices, 60),
		Min30:  min30,
		Max30:  max30,
	}
}

// windowTail returns the last n prices, or nil when fewer exist.
func windowTail(prices []float64, n int) []float64 {
	if len(prices) < n {
		return nil
	}
	return prices[len(prices)-n:]
}

// windowMean returns the mean of the last n prices, nil on a short window.
func windowMean(prices []float64, n int) *float64 {
	w := windowTail(prices, n)
	if w == nil {
		return nil
	}
	sum := 0.0
	for _, p := range w {
		sum += p
	}
	return floatPtr(sum / float64(n))
}

// windowStd returns the sample standard deviation of the last n prices,
// nil on a short window. The sample (N-1) convention is part of the
// feature contract; see FEATURE_CATALOG.md.
func windowStd(prices []float64, n int) *float64 {
	w := windowTail(prices, n)
	if w == nil || len(w) < 2 {
		return nil
	}
	mean := 0.0
	for _, p := range w {
		mean += p
	}
	mean /= float64(len(w))

	sumSq := 0.0
	for _, p := range w {
		diff := p - mean
		sumSq += diff * diff
	}
	return floatPtr(math.Sqrt(sumSq / float64(len(w)-1)))
}

// windowMinMax returns the min and max of the last n prices, nil on a
// short window.
func windowMinMax(prices []float64, n int) (*float64, *float64) {
	w := windowTail(prices, n)
	if w == nil {
		return nil, nil
	}
	lo, hi := w[0], w[0]
	for _, p := range w[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return floatPtr(lo), floatPtr(hi)
}

// floatPtr returns a pointer to a copy of v.
func floatPtr(v float64) *float64 {
	return &v
}
