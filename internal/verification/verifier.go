// Package verification implements feature recompute verification per ENRICHMENT_PROTOCOL.md Section 6.
// It verifies that stored feature rows match a deterministic recompute from raw history.
package verification

import (
	"context"
	"math"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
)

// RelativeTolerance is the tolerance for float64 comparisons.
// Per ENRICHMENT_PROTOCOL.md Section 6.1: recomputed values must agree with
// stored values within 1e-9 relative to the larger magnitude.
const RelativeTolerance = 1e-9

// FieldDivergence represents a mismatch between a stored and recomputed value.
type FieldDivergence struct {
	Field    string      // column name per FEATURE_CATALOG.md
	Expected interface{} // stored value
	Actual   interface{} // recomputed value
}

// RowResult contains the result of verifying a single feature row.
type RowResult struct {
	TimestampMs     int64             // verified row timestamp
	Match           bool              // true if all columns match
	Divergences     []FieldDivergence // list of divergent columns
	StoredPrice     float64           // price from the stored row
	RecomputedPrice float64           // price from the recomputed row
}

// Report contains results for batch verification.
type Report struct {
	TotalRows     int         // total stored rows verified
	MatchedRows   int         // rows that matched
	DivergentRows int         // rows with divergences
	Results       []RowResult // individual results
}

// Verifier interface for feature recompute verification.
type Verifier interface {
	// VerifyRow verifies a single feature row by timestamp.
	// It loads the stored row, recomputes it by replaying raw history up to
	// that timestamp through a fresh pipeline, and compares all columns.
	VerifyRow(ctx context.Context, timestampMs int64) (*RowResult, error)

	// VerifyAll verifies all stored feature rows against one full recompute.
	// Returns a report with individual results.
	VerifyAll(ctx context.Context) (*Report, error)
}

// CompareFeatureRows compares a stored row with its recompute and returns
// divergences. Integer and string columns must match exactly; float64
// columns use RelativeTolerance.
func CompareFeatureRows(stored, recomputed *domain.EnrichedFeatureRow) []FieldDivergence {
	var divergences []FieldDivergence

	if stored.TimestampMs != recomputed.TimestampMs {
		divergences = append(divergences, FieldDivergence{
			Field:    "timestamp_ms",
			Expected: stored.TimestampMs,
			Actual:   recomputed.TimestampMs,
		})
	}

	if !floatEquals(stored.Price, recomputed.Price) {
		divergences = append(divergences, FieldDivergence{
			Field:    "price",
			Expected: stored.Price,
			Actual:   recomputed.Price,
		})
	}

	if stored.Source != recomputed.Source {
		divergences = append(divergences, FieldDivergence{
			Field:    "source",
			Expected: stored.Source,
			Actual:   recomputed.Source,
		})
	}

	// Temporal columns are pure functions of the timestamp and compare exactly.
	temporal := []struct {
		name             string
		stored, replayed int64
	}{
		{"minute_of_hour", stored.MinuteOfHour, recomputed.MinuteOfHour},
		{"hour_of_day", stored.HourOfDay, recomputed.HourOfDay},
		{"day_of_week", stored.DayOfWeek, recomputed.DayOfWeek},
		{"week_of_year", stored.WeekOfYear, recomputed.WeekOfYear},
	}
	for _, col := range temporal {
		if col.stored != col.replayed {
			divergences = append(divergences, FieldDivergence{
				Field:    col.name,
				Expected: col.stored,
				Actual:   col.replayed,
			})
		}
	}

	// Nullable columns in canonical order. A null on one side only is a
	// divergence: warm-up boundaries are part of the contract.
	storedVals := features.NullableValues(stored)
	recomputedVals := features.NullableValues(recomputed)
	for _, name := range features.NullableColumns() {
		sv, rv := storedVals[name], recomputedVals[name]
		if floatPtrEquals(sv, rv) {
			continue
		}
		divergences = append(divergences, FieldDivergence{
			Field:    name,
			Expected: derefOrNil(sv),
			Actual:   derefOrNil(rv),
		})
	}

	return divergences
}

// floatEquals compares two float64 values within RelativeTolerance.
func floatEquals(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= RelativeTolerance*scale
}

// floatPtrEquals compares two *float64 values.
// Both nil is equal, one nil is a divergence.
func floatPtrEquals(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return floatEquals(*a, *b)
}

// derefOrNil unwraps a *float64 for divergence reporting.
func derefOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
