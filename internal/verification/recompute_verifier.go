package verification

import (
	"context"
	"errors"
	"fmt"
	"math"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/observability"
	"btc-feature-lab/internal/storage"
)

var (
	// ErrRowNotFound is returned when no feature row exists at the timestamp.
	ErrRowNotFound = errors.New("feature row not found")

	// ErrObservationNotFound is returned when a stored row has no raw observation.
	ErrObservationNotFound = errors.New("raw observation not found")
)

// RecomputeVerifier implements Verifier interface.
type RecomputeVerifier struct {
	observationStore storage.PriceObservationStore
	featureStore     storage.FeatureStore

	// parameterStore supplies the normalization parameters the recompute
	// runs under. Nil leaves price_normalized null in recomputed rows.
	parameterStore storage.NormalizationParameterStore

	// config for the recompute pipeline. Must match the configuration the
	// stored rows were enriched with.
	config features.Config
}

// RecomputeVerifierOptions contains configuration for creating a RecomputeVerifier.
type RecomputeVerifierOptions struct {
	ObservationStore storage.PriceObservationStore
	FeatureStore     storage.FeatureStore
	ParameterStore   storage.NormalizationParameterStore
	// Config for the recompute pipeline. Zero value uses features.DefaultConfig.
	Config features.Config
}

// NewRecomputeVerifier creates a new RecomputeVerifier.
func NewRecomputeVerifier(opts RecomputeVerifierOptions) (*RecomputeVerifier, error) {
	if opts.ObservationStore == nil {
		return nil, errors.New("verification: observation store is required")
	}
	if opts.FeatureStore == nil {
		return nil, errors.New("verification: feature store is required")
	}

	cfg := opts.Config
	if cfg == (features.Config{}) {
		cfg = features.DefaultConfig()
	}

	return &RecomputeVerifier{
		observationStore: opts.ObservationStore,
		featureStore:     opts.FeatureStore,
		parameterStore:   opts.ParameterStore,
		config:           cfg,
	}, nil
}

// VerifyRow verifies a single feature row by replaying history through it.
func (v *RecomputeVerifier) VerifyRow(ctx context.Context, timestampMs int64) (*RowResult, error) {
	// 1. Load stored row
	rows, err := v.featureStore.GetByTimeRange(ctx, timestampMs, timestampMs)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}
	stored := rows[0]

	// 2. Recompute by replaying raw history through the row's timestamp
	recomputed, err := v.recomputeThrough(ctx, timestampMs)
	if err != nil {
		return nil, err
	}

	// 3. Compare columns
	divergences := CompareFeatureRows(stored, recomputed)

	observability.RecordRowsVerified(1)

	return &RowResult{
		TimestampMs:     timestampMs,
		Match:           len(divergences) == 0,
		Divergences:     divergences,
		StoredPrice:     stored.Price,
		RecomputedPrice: recomputed.Price,
	}, nil
}

// VerifyAll verifies every stored feature row against one recompute of the
// full raw history. A stored row with no raw observation is reported as a
// divergence, not an error, so one pruned observation cannot abort the scan.
func (v *RecomputeVerifier) VerifyAll(ctx context.Context) (*Report, error) {
	// 1. Load stored rows
	stored, err := v.featureStore.GetByTimeRange(ctx, 0, math.MaxInt64)
	if err != nil {
		return nil, err
	}

	report := &Report{
		TotalRows: len(stored),
		Results:   make([]RowResult, 0, len(stored)),
	}
	if len(stored) == 0 {
		return report, nil
	}

	// 2. Recompute the full history once
	recomputed, err := v.recomputeAll(ctx)
	if err != nil {
		return nil, err
	}
	byTimestamp := make(map[int64]*domain.EnrichedFeatureRow, len(recomputed))
	for _, row := range recomputed {
		byTimestamp[row.TimestampMs] = row
	}

	// 3. Compare each stored row against its recompute
	for _, row := range stored {
		replayed, ok := byTimestamp[row.TimestampMs]
		if !ok {
			report.Results = append(report.Results, RowResult{
				TimestampMs: row.TimestampMs,
				Match:       false,
				StoredPrice: row.Price,
				Divergences: []FieldDivergence{
					{Field: "Error", Expected: nil, Actual: ErrObservationNotFound.Error()},
				},
			})
			report.DivergentRows++
			continue
		}

		divergences := CompareFeatureRows(row, replayed)
		result := RowResult{
			TimestampMs:     row.TimestampMs,
			Match:           len(divergences) == 0,
			Divergences:     divergences,
			StoredPrice:     row.Price,
			RecomputedPrice: replayed.Price,
		}
		report.Results = append(report.Results, result)
		if result.Match {
			report.MatchedRows++
		} else {
			report.DivergentRows++
		}
	}

	observability.RecordRowsVerified(report.TotalRows)

	return report, nil
}

// recomputeThrough replays raw history through timestampMs and returns the
// final recomputed row.
func (v *RecomputeVerifier) recomputeThrough(ctx context.Context, timestampMs int64) (*domain.EnrichedFeatureRow, error) {
	obs, err := v.observationStore.GetByTimeRange(ctx, 0, timestampMs)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 || obs[len(obs)-1].TimestampMs != timestampMs {
		return nil, ErrObservationNotFound
	}

	rows, err := v.replay(ctx, obs)
	if err != nil {
		return nil, err
	}
	return rows[len(rows)-1], nil
}

// recomputeAll replays the entire raw history.
func (v *RecomputeVerifier) recomputeAll(ctx context.Context) ([]*domain.EnrichedFeatureRow, error) {
	obs, err := v.observationStore.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}
	return v.replay(ctx, obs)
}

// replay enriches obs through a fresh pipeline, in order.
func (v *RecomputeVerifier) replay(ctx context.Context, obs []*domain.PriceObservation) ([]*domain.EnrichedFeatureRow, error) {
	// 1. Build a cold pipeline
	pipeline, err := features.NewPipeline(v.config)
	if err != nil {
		return nil, err
	}

	// 2. Apply the current normalization parameters. The recompute must run
	// under the same parameters the stored rows were normalized with; a
	// refit in between shows up as price_normalized divergences.
	if v.parameterStore != nil {
		params, err := v.parameterStore.GetCurrent(ctx, domain.NormalizedFeaturePrice)
		switch {
		case err == nil:
			pipeline.SetPriceParameters(params)
		case errors.Is(err, storage.ErrNotFound):
			// Never fitted, price_normalized stays null on both sides
		default:
			return nil, fmt.Errorf("load normalization parameters: %w", err)
		}
	}

	// 3. Enrich the full span in one deterministic pass
	return pipeline.EnrichBatch(obs)
}
