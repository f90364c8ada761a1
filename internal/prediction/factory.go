package prediction

import (
	"errors"

	"btc-feature-lab/internal/domain"
)

// Factory errors
var (
	ErrUnknownModelType     = errors.New("unknown predictor type")
	ErrMissingLookbackSteps = errors.New("MOMENTUM requires LookbackSteps")
	ErrMissingDampingFactor = errors.New("MOMENTUM requires DampingFactor")
	ErrMissingWindowSize    = errors.New("MEAN_REVERSION requires WindowSize")
	ErrMissingReversionRate = errors.New("MEAN_REVERSION requires ReversionRate")
)

// FromConfig creates a Predictor from domain.PredictorConfig.
// Validates required parameters per model type.
// Returns clear errors for missing/invalid params.
func FromConfig(cfg domain.PredictorConfig) (Predictor, error) {
	switch cfg.ModelType {
	case domain.ModelTypeNaive:
		return NewNaivePredictor(), nil
	case domain.ModelTypeMomentum:
		return fromMomentumConfig(cfg)
	case domain.ModelTypeMeanReversion:
		return fromMeanReversionConfig(cfg)
	default:
		return nil, ErrUnknownModelType
	}
}

// fromMomentumConfig creates MomentumPredictor from config.
func fromMomentumConfig(cfg domain.PredictorConfig) (*MomentumPredictor, error) {
	if cfg.LookbackSteps == nil {
		return nil, ErrMissingLookbackSteps
	}
	if cfg.DampingFactor == nil {
		return nil, ErrMissingDampingFactor
	}

	return NewMomentumPredictor(*cfg.LookbackSteps, *cfg.DampingFactor), nil
}

// fromMeanReversionConfig creates MeanReversionPredictor from config.
func fromMeanReversionConfig(cfg domain.PredictorConfig) (*MeanReversionPredictor, error) {
	if cfg.WindowSize == nil {
		return nil, ErrMissingWindowSize
	}
	if cfg.ReversionRate == nil {
		return nil, ErrMissingReversionRate
	}

	return NewMeanReversionPredictor(*cfg.WindowSize, *cfg.ReversionRate), nil
}
