package prediction

import (
	"math"

	"btc-feature-lab/internal/domain"
)

// Confidence bounds for the baseline predictors. A baseline is never
// reported as certain, and never below a coin flip.
const (
	minConfidence = 0.5
	maxConfidence = 0.95
)

// trendOf classifies a forecast against the current price. The evaluation
// rule counts only actual > current as UP, so a flat forecast is DOWN.
func trendOf(predicted, current float64) string {
	if predicted > current {
		return domain.TrendUp
	}
	return domain.TrendDown
}

// scaleConfidence maps a signal strength in [0, 1] onto the bounded
// confidence range.
func scaleConfidence(strength float64) float64 {
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}
	return minConfidence + (maxConfidence-minConfidence)*strength
}

// mean computes the arithmetic mean. Caller guarantees non-empty input.
func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStddev computes the sample (N-1) standard deviation.
// Returns 0 for fewer than two values.
func sampleStddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
