package features

import (
	"encoding/json"
	"fmt"

	"btc-feature-lab/internal/domain"
)

// StateVersion identifies the snapshot schema written by this build.
// Restoring a snapshot with a different version fails rather than
// silently reinterpreting recurrence values.
const StateVersion = 1

// StatePoint is a compact serialized observation inside a state snapshot.
type StatePoint struct {
	TimestampMs int64   `json:"ts"`
	Price       float64 `json:"price"`
	Source      string  `json:"source,omitempty"`
}

// NormalizationState is the parameter set in effect when the snapshot was
// taken. Carrying it in the snapshot pins resumed enrichment to the exact
// transform the earlier rows used.
type NormalizationState struct {
	FeatureName string  `json:"feature_name"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	FittedAtMs  int64   `json:"fitted_at_ms"`
	CorpusSize  int64   `json:"corpus_size"`
}

// PipelineState is the explicit, versioned snapshot of all recurrence and
// window state the pipeline carries between observations. Resuming from a
// snapshot and continuing from raw history produce identical rows; see
// ENRICHMENT_PROTOCOL.md for the resume contract.
type PipelineState struct {
	Version          int   `json:"version"`
	ObservationCount int64 `json:"observation_count"`
	LastTimestampMs  int64 `json:"last_timestamp_ms"`

	// Configuration echoed so a restored pipeline reproduces the same rows.
	ContextSize    int    `json:"context_size"`
	LagToleranceMs int64  `json:"lag_tolerance_ms"`
	Timezone       string `json:"timezone"`

	// Context carries the trailing observations consumed by lag and window
	// computations, oldest first, bounded by ContextSize.
	Context []StatePoint `json:"context"`

	// RSI Wilder recurrence.
	RSIAvgGain float64 `json:"rsi_avg_gain"`
	RSIAvgLoss float64 `json:"rsi_avg_loss"`
	RSISeeded  bool    `json:"rsi_seeded"`

	// MACD EMA recurrences. MACDSeedBuf accumulates MACD line values until
	// the signal EMA has enough of them to seed.
	EMAFast       float64   `json:"ema_fast"`
	EMAFastSeeded bool      `json:"ema_fast_seeded"`
	EMASlow       float64   `json:"ema_slow"`
	EMASlowSeeded bool      `json:"ema_slow_seeded"`
	Signal        float64   `json:"signal"`
	SignalSeeded  bool      `json:"signal_seeded"`
	MACDSeedBuf   []float64 `json:"macd_seed_buf,omitempty"`

	// ATR Wilder recurrence over the close-to-close range proxy.
	ATRValue  float64 `json:"atr_value"`
	ATRSeeded bool    `json:"atr_seeded"`

	// RecentK holds the trailing stochastic %K values (null entries for
	// flat windows) feeding the %D moving average.
	RecentK []*float64 `json:"recent_k,omitempty"`

	// PriceParams is nil until price normalization parameters are applied.
	PriceParams *NormalizationState `json:"price_params,omitempty"`
}

// Marshal serializes the snapshot to JSON.
func (s *PipelineState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState deserializes and validates a snapshot.
func UnmarshalState(data []byte) (*PipelineState, error) {
	var s PipelineState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *PipelineState) validate() error {
	if s.Version != StateVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrStateVersion, s.Version, StateVersion)
	}
	if s.ContextSize < MinContextSize {
		return fmt.Errorf("%w: context size %d below minimum %d", ErrCorruptState, s.ContextSize, MinContextSize)
	}
	if int64(len(s.Context)) > s.ObservationCount {
		return fmt.Errorf("%w: context holds %d points but only %d observations were consumed",
			ErrCorruptState, len(s.Context), s.ObservationCount)
	}
	prev := int64(-1 << 62)
	for i, p := range s.Context {
		if p.TimestampMs <= prev {
			return fmt.Errorf("%w: context not strictly increasing at index %d", ErrCorruptState, i)
		}
		prev = p.TimestampMs
	}
	if n := len(s.Context); n > 0 && s.Context[n-1].TimestampMs != s.LastTimestampMs {
		return fmt.Errorf("%w: last context timestamp %d does not match last_timestamp_ms %d",
			ErrCorruptState, s.Context[n-1].TimestampMs, s.LastTimestampMs)
	}
	if len(s.RecentK) > StochDPeriod {
		return fmt.Errorf("%w: recent_k holds %d values, max %d", ErrCorruptState, len(s.RecentK), StochDPeriod)
	}

	// Seed flags are a pure function of the observation count; a mismatch
	// means the recurrence values cannot be trusted.
	checks := []struct {
		name   string
		seeded bool
		atObs  int64
	}{
		{"rsi", s.RSISeeded, RSIPeriod + 1},
		{"ema_fast", s.EMAFastSeeded, MACDFastPeriod},
		{"ema_slow", s.EMASlowSeeded, MACDSlowPeriod},
		{"signal", s.SignalSeeded, WarmupObservations},
		{"atr", s.ATRSeeded, ATRPeriod + 1},
	}
	for _, c := range checks {
		if want := s.ObservationCount >= c.atObs; c.seeded != want {
			return fmt.Errorf("%w: %s seeded=%t inconsistent with %d observations",
				ErrCorruptState, c.name, c.seeded, s.ObservationCount)
		}
	}
	if s.SignalSeeded && len(s.MACDSeedBuf) != 0 {
		return fmt.Errorf("%w: macd seed buffer non-empty after signal seeding", ErrCorruptState)
	}
	return nil
}

// contextObservations converts snapshot points back to domain observations.
func (s *PipelineState) contextObservations() []*domain.PriceObservation {
	obs := make([]*domain.PriceObservation, len(s.Context))
	for i, p := range s.Context {
		obs[i] = &domain.PriceObservation{
			TimestampMs: p.TimestampMs,
			Price:       p.Price,
			Source:      p.Source,
		}
	}
	return obs
}

// normalizationParameters converts the snapshot parameter set back to the
// domain form, nil when none is in effect.
func (s *PipelineState) normalizationParameters() *domain.NormalizationParameters {
	if s.PriceParams == nil {
		return nil
	}
	return &domain.NormalizationParameters{
		FeatureName: s.PriceParams.FeatureName,
		Min:         s.PriceParams.Min,
		Max:         s.PriceParams.Max,
		FittedAtMs:  s.PriceParams.FittedAtMs,
		CorpusSize:  s.PriceParams.CorpusSize,
	}
}
