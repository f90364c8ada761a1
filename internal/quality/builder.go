package quality

import (
	"context"
	"errors"
	"fmt"
	"math"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/storage"
	"btc-feature-lab/internal/timeseries"
	"btc-feature-lab/internal/verification"
)

// Builder assembles GateInput from the stores and a recompute verifier.
type Builder struct {
	observationStore storage.PriceObservationStore
	featureStore     storage.FeatureStore
	verifier         verification.Verifier
}

// NewBuilder creates a new gate input builder. The verifier is required:
// a verdict without the recompute check would certify rows nothing has
// checked.
func NewBuilder(observationStore storage.PriceObservationStore, featureStore storage.FeatureStore, verifier verification.Verifier) (*Builder, error) {
	if observationStore == nil {
		return nil, errors.New("quality: observation store is required")
	}
	if featureStore == nil {
		return nil, errors.New("quality: feature store is required")
	}
	if verifier == nil {
		return nil, errors.New("quality: verifier is required")
	}
	return &Builder{
		observationStore: observationStore,
		featureStore:     featureStore,
		verifier:         verifier,
	}, nil
}

// Build scans raw history, the feature table, and the recompute report
// into a GateInput.
func (b *Builder) Build(ctx context.Context) (*GateInput, error) {
	input := &GateInput{}

	// 1. Raw history: count, ordering, cadence
	obs, err := b.observationStore.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	input.ObservationCount = int64(len(obs))
	input.OrderingViolations = timeseries.CountOrderingViolations(obs)
	input.GapCount, input.MaxGapMs = scanGaps(obs)

	// 2. Feature table: count and null coverage past warm-up
	rows, err := b.featureStore.GetByTimeRange(ctx, 0, math.MaxInt64)
	if err != nil {
		return nil, fmt.Errorf("load feature rows: %w", err)
	}
	input.FeatureRowCount = int64(len(rows))
	input.WorstColumn, input.WorstNullRatio, input.ScannedRows = scanNullRatios(rows)

	// 3. Recompute verification
	report, err := b.verifier.VerifyAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify rows: %w", err)
	}
	input.VerifiedRows = report.TotalRows
	input.DivergentRows = report.DivergentRows

	return input, nil
}

// scanGaps counts inter-observation deltas beyond GapCeilingMs and
// tracks the widest delta seen.
func scanGaps(obs []*domain.PriceObservation) (count int, maxMs int64) {
	for i := 1; i < len(obs); i++ {
		delta := obs[i].TimestampMs - obs[i-1].TimestampMs
		if delta > maxMs {
			maxMs = delta
		}
		if delta > GapCeilingMs {
			count++
		}
	}
	return count, maxMs
}

// scanNullRatios finds the nullable column with the highest null ratio
// over rows past the warm-up boundary. Enrichment starts at the first
// observation, so the boundary is a plain row index. Ties keep the first
// column in canonical order.
func scanNullRatios(rows []*domain.EnrichedFeatureRow) (worst string, ratio float64, scanned int) {
	if len(rows) <= features.WarmupObservations {
		return "", 0, 0
	}
	tail := rows[features.WarmupObservations:]

	nulls := make(map[string]int, len(features.NullableColumns()))
	for _, row := range tail {
		for name, v := range features.NullableValues(row) {
			if v == nil {
				nulls[name]++
			}
		}
	}

	for _, name := range features.NullableColumns() {
		r := float64(nulls[name]) / float64(len(tail))
		if worst == "" || r > ratio {
			worst, ratio = name, r
		}
	}
	return worst, ratio, len(tail)
}
