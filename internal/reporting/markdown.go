package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Training Data Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Observations: %d | Feature Rows: %d | Predictions: %d\n\n",
		r.DataSummary.ObservationCount, r.DataSummary.FeatureRowCount, r.DataSummary.PredictionCount))

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Raw Observations | %d |\n", r.DataSummary.ObservationCount))
	sb.WriteString(fmt.Sprintf("| Enriched Feature Rows | %d |\n", r.DataSummary.FeatureRowCount))
	sb.WriteString(fmt.Sprintf("| Stored Predictions | %d |\n", r.DataSummary.PredictionCount))
	sb.WriteString(fmt.Sprintf("| Date Range Start (ms) | %d |\n", r.DataSummary.DateRangeStart))
	sb.WriteString(fmt.Sprintf("| Date Range End (ms) | %d |\n", r.DataSummary.DateRangeEnd))
	sb.WriteString("\n")

	if len(r.DataSummary.Sources) > 0 {
		sb.WriteString("### Observations by Source\n\n")
		sb.WriteString("| Source | Count |\n")
		sb.WriteString("|--------|-------|\n")
		for _, s := range r.DataSummary.Sources {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", s.Source, s.Count))
		}
		sb.WriteString("\n")
	}

	// Price Statistics
	sb.WriteString("## Price Statistics\n\n")
	if r.PriceStats != nil && r.PriceStats.Count > 0 {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Count | %d |\n", r.PriceStats.Count))
		sb.WriteString(fmt.Sprintf("| Min | %.2f |\n", r.PriceStats.Min))
		sb.WriteString(fmt.Sprintf("| Max | %.2f |\n", r.PriceStats.Max))
		sb.WriteString(fmt.Sprintf("| Mean | %.2f |\n", r.PriceStats.Mean))
		sb.WriteString(fmt.Sprintf("| Median | %.2f |\n", r.PriceStats.Median))
		sb.WriteString(fmt.Sprintf("| P10 | %.2f |\n", r.PriceStats.P10))
		sb.WriteString(fmt.Sprintf("| P90 | %.2f |\n", r.PriceStats.P90))
		sb.WriteString(fmt.Sprintf("| Stddev | %.2f |\n", r.PriceStats.Stddev))
		sb.WriteString(fmt.Sprintf("| First | %.2f |\n", r.PriceStats.First))
		sb.WriteString(fmt.Sprintf("| Last | %.2f |\n", r.PriceStats.Last))
		sb.WriteString(fmt.Sprintf("| Change | %.2f |\n", r.PriceStats.Change))
		sb.WriteString(fmt.Sprintf("| Change %% | %.2f%% |\n", r.PriceStats.ChangePct))
		sb.WriteString("\n")
	} else {
		sb.WriteString("No price observations available.\n\n")
	}

	// Feature Coverage
	sb.WriteString("## Feature Coverage\n\n")
	if len(r.FeatureCoverage) > 0 {
		sb.WriteString("| Column | Nulls | Null % | Post-Warm-Up Nulls | Post-Warm-Up Null % |\n")
		sb.WriteString("|--------|-------|--------|--------------------|---------------------|\n")
		for _, c := range r.FeatureCoverage {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.2f%% | %d | %.2f%% |\n",
				c.Column, c.NullCount, c.NullRatio*100, c.PostWarmupNulls, c.PostWarmupNullRatio*100))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("No feature rows available.\n\n")
	}

	// Prediction Accuracy
	sb.WriteString("## Prediction Accuracy\n\n")
	if len(r.Accuracy) > 0 {
		sb.WriteString("| Model | Evaluated | Pending | MAE | RMSE | MAPE | Median Abs Err | Trend Acc | Precision | Recall | F1 |\n")
		sb.WriteString("|-------|-----------|---------|-----|------|------|----------------|-----------|-----------|--------|----|\n")
		for _, a := range r.Accuracy {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.2f | %.2f | %.2f%% | %.2f | %.4f | %.4f | %.4f | %.4f |\n",
				a.ModelID, a.EvaluatedCount, a.PendingSkipped,
				a.MAE, a.RMSE, a.MAPE, a.MedianAbsError,
				a.TrendAccuracy, a.Precision, a.Recall, a.F1))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("No evaluated predictions available.\n\n")
	}

	if len(r.StalePendingWarnings) > 0 {
		sb.WriteString("### Warnings\n\n")
		for _, w := range r.StalePendingWarnings {
			sb.WriteString(fmt.Sprintf("- %s\n", w))
		}
		sb.WriteString("\n")
	}

	// Quality Gate
	if r.Gate != nil {
		sb.WriteString("## Quality Gate\n\n")
		sb.WriteString(fmt.Sprintf("Verdict: **%s**\n\n", r.Gate.Verdict))

		sb.WriteString("| # | Criterion | Threshold | Actual | Pass |\n")
		sb.WriteString("|---|-----------|-----------|--------|------|\n")
		for i, c := range r.Gate.GOCriteria {
			passStr := "PASS"
			if !c.Pass {
				passStr = "FAIL"
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
				i+1, c.Name, c.Threshold, c.Actual, passStr))
		}
		sb.WriteString("\n")

		sb.WriteString("| # | Trigger | Condition | Actual | Status |\n")
		sb.WriteString("|---|---------|-----------|--------|--------|\n")
		for i, c := range r.Gate.NOGOChecks {
			statusStr := "NOT TRIGGERED"
			if !c.Pass { // Pass=false means triggered
				statusStr = "TRIGGERED"
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
				i+1, c.Name, c.Threshold, c.Actual, statusStr))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
