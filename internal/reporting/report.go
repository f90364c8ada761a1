package reporting

import (
	"time"

	"btc-feature-lab/internal/metrics"
	"btc-feature-lab/internal/quality"
)

// Report represents the training-data report structure.
type Report struct {
	// Metadata
	GeneratedAt time.Time

	// Data Summary
	DataSummary DataSummary

	// Price Statistics over the full stored history
	PriceStats *metrics.PriceSummary

	// Feature Coverage (canonical catalog order)
	FeatureCoverage []CoverageRow

	// Prediction Accuracy (sorted by model_id)
	Accuracy []*metrics.AccuracyReport

	// Stale-prediction warnings from the accuracy aggregation
	StalePendingWarnings []string

	// Quality Gate (set only when the generator runs with a gate builder)
	Gate      *quality.GateResult
	GateInput *quality.GateInput
}

// DataSummary contains row counts and the stored history range.
type DataSummary struct {
	ObservationCount int64
	FeatureRowCount  int64
	PredictionCount  int
	DateRangeStart   int64 // ms, first observation
	DateRangeEnd     int64 // ms, last observation
	Sources          []SourceCountRow
}

// SourceCountRow is the observation count for one collector source.
type SourceCountRow struct {
	Source string
	Count  int
}

// CoverageRow is the null coverage for one nullable feature column.
// Overall ratios include the warm-up rows, where nulls are expected;
// the post-warm-up ratios are the training-readiness signal.
type CoverageRow struct {
	Column              string
	NullCount           int     // nulls over all rows
	NullRatio           float64 // 0-1 over all rows
	PostWarmupNulls     int     // nulls past the warm-up boundary
	PostWarmupNullRatio float64 // 0-1 over rows past the warm-up boundary
}
