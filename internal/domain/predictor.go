package domain

// PredictorConfig represents predictor configuration parameters.
type PredictorConfig struct {
	ModelType string // "NAIVE" | "MOMENTUM" | "MEAN_REVERSION"

	// MOMENTUM parameters
	LookbackSteps *int
	DampingFactor *float64

	// MEAN_REVERSION parameters
	WindowSize    *int
	ReversionRate *float64
}

// Predictor type constants
const (
	ModelTypeNaive         = "NAIVE"
	ModelTypeMomentum      = "MOMENTUM"
	ModelTypeMeanReversion = "MEAN_REVERSION"
)
