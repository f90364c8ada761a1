package timeseries

import (
	"sort"

	"btc-feature-lab/internal/domain"
)

// SortObservations orders observations by timestamp ascending. Ties keep
// their relative order so that re-sorting already-sorted input is a no-op.
func SortObservations(obs []*domain.PriceObservation) {
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].TimestampMs < obs[j].TimestampMs
	})
}

// ValidateOrdering checks that observations are strictly increasing by
// timestamp. Returns ErrOutOfOrder on a regression, ErrDuplicateTimestamp
// on an exact repeat.
func ValidateOrdering(obs []*domain.PriceObservation) error {
	for i := 1; i < len(obs); i++ {
		switch c := compareObservations(obs[i-1], obs[i]); {
		case c > 0:
			return ErrOutOfOrder
		case c == 0:
			return ErrDuplicateTimestamp
		}
	}
	return nil
}

// CountOrderingViolations returns how many adjacent pairs are not
// strictly increasing by timestamp. Unlike ValidateOrdering it scans the
// full slice, for quality reporting over dirty history.
func CountOrderingViolations(obs []*domain.PriceObservation) int {
	violations := 0
	for i := 1; i < len(obs); i++ {
		if compareObservations(obs[i-1], obs[i]) >= 0 {
			violations++
		}
	}
	return violations
}

// compareObservations returns:
//   - negative if a precedes b
//   - zero if same timestamp
//   - positive if a follows b
func compareObservations(a, b *domain.PriceObservation) int {
	switch {
	case a.TimestampMs < b.TimestampMs:
		return -1
	case a.TimestampMs > b.TimestampMs:
		return 1
	default:
		return 0
	}
}
