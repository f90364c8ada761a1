package prediction

import (
	"context"
	"fmt"
	"math"
)

// MeanReversionPredictor pulls the forecast toward the trailing window
// mean: the further the current price sits from the mean, the larger
// the predicted move back.
type MeanReversionPredictor struct {
	WindowSize    int     // observations the mean is computed over
	ReversionRate float64 // fraction of the gap closed per horizon, (0, 1]
}

// NewMeanReversionPredictor creates a new MeanReversionPredictor.
func NewMeanReversionPredictor(windowSize int, reversionRate float64) *MeanReversionPredictor {
	return &MeanReversionPredictor{
		WindowSize:    windowSize,
		ReversionRate: reversionRate,
	}
}

// ID returns the predictor identifier including parameters.
func (p *MeanReversionPredictor) ID() string {
	return fmt.Sprintf("MEAN_REVERSION_%d_rate%.0f", p.WindowSize, p.ReversionRate*100)
}

// Predict closes a fraction of the gap to the window mean:
//   - predicted = current + reversion_rate * (mean - current)
//   - confidence scales with the gap in sample standard deviations,
//     saturating at two
func (p *MeanReversionPredictor) Predict(_ context.Context, input *PredictorInput) (*Forecast, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if len(input.History) < p.WindowSize {
		return nil, ErrInsufficientHistory
	}

	window := input.History[len(input.History)-p.WindowSize:]
	prices := make([]float64, len(window))
	for i, o := range window {
		prices[i] = o.Price
	}

	m := mean(prices)
	current := window[len(window)-1].Price
	predicted := current + p.ReversionRate*(m-current)

	strength := 0.0
	if sd := sampleStddev(prices, m); sd > 0 {
		strength = math.Abs(current-m) / sd / 2
	}

	return &Forecast{
		PredictedPrice: predicted,
		Trend:          trendOf(predicted, current),
		Confidence:     scaleConfidence(strength),
	}, nil
}

// Ensure MeanReversionPredictor implements Predictor
var _ Predictor = (*MeanReversionPredictor)(nil)
