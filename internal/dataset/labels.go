package dataset

import (
	"fmt"
	"sort"

	"btc-feature-lab/internal/domain"
)

// Label holds the forward-looking training targets for one feature row.
// Labels exist only at export: stored feature rows never carry future
// information.
type Label struct {
	FuturePrice  float64
	FutureReturn float64 // (future - current) / current
	FutureTrend  string  // UP | DOWN
}

// LabelColumns returns the label column names for a horizon.
func LabelColumns(horizonMs int64) []string {
	min := horizonMs / 60_000
	return []string{
		fmt.Sprintf("future_price_%dmin", min),
		fmt.Sprintf("future_return_%dmin", min),
		fmt.Sprintf("future_trend_%dmin", min),
	}
}

// ComputeLabels resolves the observation nearest to each row's horizon
// target, keyed by row timestamp. Rows whose target has no observation
// within tolerance get no entry. Equal future and current price labels
// DOWN, matching the prediction outcome convention.
func ComputeLabels(rows []*domain.EnrichedFeatureRow, obs []*domain.PriceObservation, horizonMs, toleranceMs int64) map[int64]Label {
	labels := make(map[int64]Label, len(rows))

	for _, row := range rows {
		target := nearestObservation(obs, row.TimestampMs+horizonMs, toleranceMs)
		if target == nil {
			continue
		}

		label := Label{
			FuturePrice: target.Price,
			FutureTrend: domain.TrendDown,
		}
		if target.Price > row.Price {
			label.FutureTrend = domain.TrendUp
		}
		if row.Price != 0 {
			label.FutureReturn = (target.Price - row.Price) / row.Price
		}
		labels[row.TimestampMs] = label
	}

	return labels
}

// nearestObservation finds the observation closest to targetMs within
// toleranceMs, nil when none qualifies. Ties resolve to the earlier
// observation. obs must be sorted by timestamp ascending.
func nearestObservation(obs []*domain.PriceObservation, targetMs, toleranceMs int64) *domain.PriceObservation {
	i := sort.Search(len(obs), func(k int) bool {
		return obs[k].TimestampMs >= targetMs
	})

	var best *domain.PriceObservation
	bestDist := toleranceMs + 1
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(obs) {
			continue
		}
		dist := obs[j].TimestampMs - targetMs
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestDist = dist
			best = obs[j]
		}
	}
	return best
}
