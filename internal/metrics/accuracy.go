package metrics

import (
	"math"
	"sort"

	"btc-feature-lab/internal/domain"
)

// AccuracyReport aggregates prediction quality over a set of evaluated
// predictions. Only predictions with a resolved actual price contribute;
// pending predictions are counted in PendingSkipped and otherwise ignored.
type AccuracyReport struct {
	ModelID string

	EvaluatedCount int
	PendingSkipped int

	// Price error metrics, in price units except MAPE (percent).
	MAE  float64
	RMSE float64
	MAPE float64

	MedianAbsError float64

	// Direction metrics. The confusion counts treat UP as the positive class.
	TrendAccuracy  float64
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
	Precision      float64
	Recall         float64
	F1             float64
}

// ComputeAccuracy calculates an AccuracyReport from a slice of predictions.
// Predictions for other models must be filtered out by the caller; the
// ModelID field is taken from the first evaluated prediction when present.
func ComputeAccuracy(predictions []*domain.PricePrediction) *AccuracyReport {
	report := &AccuracyReport{}

	absErrors := make([]float64, 0, len(predictions))
	sumAbs := 0.0
	sumSq := 0.0
	sumAPE := 0.0
	apeCount := 0
	trendCorrect := 0

	for _, p := range predictions {
		if !p.Evaluated() {
			report.PendingSkipped++
			continue
		}
		if report.ModelID == "" {
			report.ModelID = p.ModelID
		}
		report.EvaluatedCount++

		actual := *p.ActualPrice
		diff := actual - p.PredictedPrice
		abs := math.Abs(diff)
		absErrors = append(absErrors, abs)
		sumAbs += abs
		sumSq += diff * diff
		if actual != 0 {
			sumAPE += abs / math.Abs(actual)
			apeCount++
		}

		actualTrend := *p.ActualTrend
		if p.PredictedTrend == actualTrend {
			trendCorrect++
		}
		switch {
		case p.PredictedTrend == domain.TrendUp && actualTrend == domain.TrendUp:
			report.TruePositives++
		case p.PredictedTrend == domain.TrendUp && actualTrend == domain.TrendDown:
			report.FalsePositives++
		case p.PredictedTrend == domain.TrendDown && actualTrend == domain.TrendDown:
			report.TrueNegatives++
		case p.PredictedTrend == domain.TrendDown && actualTrend == domain.TrendUp:
			report.FalseNegatives++
		}
	}

	n := report.EvaluatedCount
	if n == 0 {
		return report
	}

	report.MAE = sumAbs / float64(n)
	report.RMSE = math.Sqrt(sumSq / float64(n))
	if apeCount > 0 {
		report.MAPE = sumAPE / float64(apeCount) * 100
	}

	sort.Float64s(absErrors)
	report.MedianAbsError = computePercentile(absErrors, 0.50)

	report.TrendAccuracy = float64(trendCorrect) / float64(n)
	report.Precision = safeRatio(report.TruePositives, report.TruePositives+report.FalsePositives)
	report.Recall = safeRatio(report.TruePositives, report.TruePositives+report.FalseNegatives)
	if report.Precision+report.Recall > 0 {
		report.F1 = 2 * report.Precision * report.Recall / (report.Precision + report.Recall)
	}

	return report
}

// safeRatio returns numerator/denominator, or 0 when the denominator is 0.
func safeRatio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}
