package timeseries

import (
	"btc-feature-lab/internal/domain"
)

// NearestWithin returns the observation whose timestamp is closest to
// targetMs, provided the distance is at most toleranceMs. The false return
// means no observation qualifies; the series need not be uniformly sampled,
// so absence within tolerance is an expected outcome, not an error.
// Observations must be ordered by timestamp ascending. Ties (equal distance
// on both sides) resolve to the earlier observation so lookups never read
// ahead of an equally close past value.
func NearestWithin(obs []*domain.PriceObservation, targetMs, toleranceMs int64) (*domain.PriceObservation, bool) {
	if len(obs) == 0 {
		return nil, false
	}

	var best *domain.PriceObservation
	var bestDist int64
	for i := len(obs) - 1; i >= 0; i-- {
		d := obs[i].TimestampMs - targetMs
		if d < 0 {
			d = -d
		}
		if best == nil || d <= bestDist {
			best, bestDist = obs[i], d
		}
		// Ordered input: once past the target, distances only grow.
		if obs[i].TimestampMs < targetMs-toleranceMs {
			break
		}
	}

	if best == nil || bestDist > toleranceMs {
		return nil, false
	}
	return best, true
}

// AtOrBefore returns the latest observation with timestamp at or before
// targetMs, or false when none exists.
func AtOrBefore(obs []*domain.PriceObservation, targetMs int64) (*domain.PriceObservation, bool) {
	for i := len(obs) - 1; i >= 0; i-- {
		if obs[i].TimestampMs <= targetMs {
			return obs[i], true
		}
	}
	return nil, false
}
