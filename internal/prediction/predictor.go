package prediction

import (
	"context"
	"errors"

	"btc-feature-lab/internal/domain"
)

// DefaultHorizonMs is the forecast horizon: price 15 minutes ahead.
const DefaultHorizonMs = int64(15 * 60 * 1000)

// Input validation errors
var (
	ErrNilInput            = errors.New("nil predictor input")
	ErrInvalidHorizon      = errors.New("horizon must be positive")
	ErrInsufficientHistory = errors.New("insufficient price history")
)

// Predictor produces a price forecast one horizon ahead of the latest
// observation.
type Predictor interface {
	// Predict issues a forecast from recent history. Deterministic for
	// identical input.
	Predict(ctx context.Context, input *PredictorInput) (*Forecast, error)

	// ID returns the predictor identifier (includes parameters).
	ID() string
}

// PredictorInput holds the data a predictor sees at forecast time.
type PredictorInput struct {
	// History carries recent raw observations ordered by timestamp
	// ascending; the last one is the current price.
	History []*domain.PriceObservation

	// Row is the enriched feature row for the current observation.
	// Optional: the baseline predictors work from raw history alone.
	Row *domain.EnrichedFeatureRow

	// HorizonMs is how far ahead the forecast targets.
	HorizonMs int64
}

// Validate checks the input is usable by any predictor. Individual
// predictors additionally require enough history for their window.
func (in *PredictorInput) Validate() error {
	if in == nil {
		return ErrNilInput
	}
	if len(in.History) == 0 {
		return ErrInsufficientHistory
	}
	if in.HorizonMs <= 0 {
		return ErrInvalidHorizon
	}
	return nil
}

// Current returns the observation the forecast is anchored on.
func (in *PredictorInput) Current() *domain.PriceObservation {
	return in.History[len(in.History)-1]
}

// Forecast is a single prediction before storage.
type Forecast struct {
	PredictedPrice float64
	Trend          string  // domain.TrendUp | domain.TrendDown
	Confidence     float64 // [0, 1]
}
