package prediction

import (
	"context"
)

// NaivePredictor carries the last observed price forward unchanged and
// the direction of the last step forward for the trend. The persistence
// baseline every learned model has to beat.
type NaivePredictor struct{}

// NewNaivePredictor creates a new NaivePredictor.
func NewNaivePredictor() *NaivePredictor {
	return &NaivePredictor{}
}

// ID returns the predictor identifier.
func (p *NaivePredictor) ID() string {
	return "NAIVE"
}

// Predict forecasts no price change over the horizon:
//   - predicted = current price
//   - trend = direction of the last observed step
//   - confidence = 0.5 (a persistence forecast carries no signal)
func (p *NaivePredictor) Predict(_ context.Context, input *PredictorInput) (*Forecast, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if len(input.History) < 2 {
		return nil, ErrInsufficientHistory
	}

	n := len(input.History)
	current := input.History[n-1].Price
	previous := input.History[n-2].Price

	return &Forecast{
		PredictedPrice: current,
		Trend:          trendOf(current, previous),
		Confidence:     minConfidence,
	}, nil
}

// Ensure NaivePredictor implements Predictor
var _ Predictor = (*NaivePredictor)(nil)
