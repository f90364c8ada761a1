package domain

// PricePrediction represents a stored 15-minute-ahead prediction and, once
// the target time has passed, its realized outcome.
// Corresponds to predictions table in PostgreSQL.
type PricePrediction struct {
	PredictionID string // deterministic hash (model|created_at)
	ModelID      string // predictor identifier

	// Made at prediction time
	CreatedAtMs    int64   // when the prediction was made (ms)
	TargetTimeMs   int64   // created_at + horizon (ms)
	HorizonMs      int64   // prediction horizon, default 15 minutes
	CurrentPrice   float64 // price when the prediction was made
	PredictedPrice float64 // predicted price at target time
	PredictedTrend string  // "UP" | "DOWN"
	Confidence     float64 // [0,1]

	// Resolved once an observation near the target time exists
	ActualPrice *float64 // observation within tolerance of target, nullable
	ActualTrend *string  // actual_price > current_price ? UP : DOWN
	AbsError    *float64 // |predicted - actual|
	PctError    *float64 // abs_error / actual
	EvaluatedAt *int64   // when the outcome was recorded (ms)
}

// Trend direction constants
const (
	TrendUp   = "UP"
	TrendDown = "DOWN"
)

// Evaluated reports whether the prediction outcome has been resolved.
func (p *PricePrediction) Evaluated() bool {
	return p.ActualPrice != nil
}

// Correct reports whether the predicted trend matched the actual trend.
// Returns false for unevaluated predictions.
func (p *PricePrediction) Correct() bool {
	return p.ActualTrend != nil && p.PredictedTrend == *p.ActualTrend
}
