package prediction

import (
	"context"
	"fmt"
)

// MomentumPredictor extrapolates the recent price slope over the horizon.
type MomentumPredictor struct {
	LookbackSteps int     // steps the slope is fitted over
	DampingFactor float64 // fraction of the raw extrapolation kept, (0, 1]
}

// NewMomentumPredictor creates a new MomentumPredictor.
func NewMomentumPredictor(lookbackSteps int, dampingFactor float64) *MomentumPredictor {
	return &MomentumPredictor{
		LookbackSteps: lookbackSteps,
		DampingFactor: dampingFactor,
	}
}

// ID returns the predictor identifier including parameters.
func (p *MomentumPredictor) ID() string {
	return fmt.Sprintf("MOMENTUM_%d_damp%.0f", p.LookbackSteps, p.DampingFactor*100)
}

// Predict extrapolates the net slope of the lookback window:
//   - slope = (p_last - p_first) / (t_last - t_first)
//   - predicted = current + slope * horizon_ms * damping_factor
//   - confidence scales with how many steps in the window moved in the
//     direction of the net slope
func (p *MomentumPredictor) Predict(_ context.Context, input *PredictorInput) (*Forecast, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if len(input.History) < p.LookbackSteps+1 {
		return nil, ErrInsufficientHistory
	}

	window := input.History[len(input.History)-p.LookbackSteps-1:]
	first, last := window[0], window[len(window)-1]

	var slope float64 // price units per millisecond
	if span := last.TimestampMs - first.TimestampMs; span > 0 {
		slope = (last.Price - first.Price) / float64(span)
	}

	current := last.Price
	predicted := current + slope*float64(input.HorizonMs)*p.DampingFactor

	rising := slope >= 0
	agree := 0
	for i := 1; i < len(window); i++ {
		if (window[i].Price >= window[i-1].Price) == rising {
			agree++
		}
	}

	return &Forecast{
		PredictedPrice: predicted,
		Trend:          trendOf(predicted, current),
		Confidence:     scaleConfidence(float64(agree) / float64(p.LookbackSteps)),
	}, nil
}

// Ensure MomentumPredictor implements Predictor
var _ Predictor = (*MomentumPredictor)(nil)
