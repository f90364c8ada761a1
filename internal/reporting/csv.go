package reporting

import (
	"fmt"
	"strings"

	"btc-feature-lab/internal/metrics"
)

// RenderCoverageCSV renders feature coverage rows as CSV string.
func RenderCoverageCSV(coverage []CoverageRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("column,null_count,null_ratio,post_warmup_nulls,post_warmup_null_ratio\n")

	// Rows
	for _, c := range coverage {
		sb.WriteString(fmt.Sprintf("%s,%d,%.6f,%d,%.6f\n",
			c.Column,
			c.NullCount,
			c.NullRatio,
			c.PostWarmupNulls,
			c.PostWarmupNullRatio,
		))
	}

	return sb.String()
}

// RenderAccuracyCSV renders per-model accuracy reports as CSV string.
func RenderAccuracyCSV(reports []*metrics.AccuracyReport) string {
	var sb strings.Builder

	// Header
	sb.WriteString("model_id,evaluated_count,pending_skipped,mae,rmse,mape,median_abs_error,")
	sb.WriteString("trend_accuracy,true_positives,false_positives,true_negatives,false_negatives,")
	sb.WriteString("precision,recall,f1\n")

	// Rows
	for _, r := range reports {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%d,%d,%d,%d,%.6f,%.6f,%.6f\n",
			r.ModelID,
			r.EvaluatedCount,
			r.PendingSkipped,
			r.MAE,
			r.RMSE,
			r.MAPE,
			r.MedianAbsError,
			r.TrendAccuracy,
			r.TruePositives,
			r.FalsePositives,
			r.TrueNegatives,
			r.FalseNegatives,
			r.Precision,
			r.Recall,
			r.F1,
		))
	}

	return sb.String()
}
