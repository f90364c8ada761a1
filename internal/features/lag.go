package features

import (
	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/timeseries"
)

// LagFeatures holds the lagged price values for one row. A field is nil
// when no observation falls within tolerance of its target time; the
// value is never substituted with a default.
type LagFeatures struct {
	Lag1  *float64
	Lag5  *float64
	Lag15 *float64
	Lag30 *float64
	Lag60 *float64
}

// ExtractLags resolves each configured lag horizon against the trailing
// observations. For horizon h the target is nowMs - h minutes; the
// observation nearest to the target within toleranceMs supplies the value,
// so the series does not need perfectly uniform sampling.
func ExtractLags(obs []*domain.PriceObservation, nowMs, toleranceMs int64) LagFeatures {
	return LagFeatures{
		Lag1:  lagAt(obs, nowMs, 1, toleranceMs),
		Lag5:  lagAt(obs, nowMs, 5, toleranceMs),
		Lag15: lagAt(obs, nowMs, 15, toleranceMs),
		Lag30: lagAt(obs, nowMs, 30, toleranceMs),
		Lag60: lagAt(obs, nowMs, 60, toleranceMs),
	}
}

func lagAt(obs []*domain.PriceObservation, nowMs, horizonMin, toleranceMs int64) *float64 {
	target := nowMs - horizonMin*60_000
	found, ok := timeseries.NearestWithin(obs, target, toleranceMs)
	if !ok {
		return nil
	}
	return floatPtr(found.Price)
}
