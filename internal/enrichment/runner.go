package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/idhash"
	"btc-feature-lab/internal/observability"
	"btc-feature-lab/internal/storage"
)

// Runner drives the feature pipeline against the stores: full-history
// backfill in chunks, resume from the latest state snapshot, and
// incremental enrichment for the live path. One pipeline instance is
// carried across calls; see ENRICHMENT_PROTOCOL.md for the contract.
//
// Not safe for concurrent use, the pipeline is sequential by construction.
type Runner struct {
	observationStore storage.PriceObservationStore
	featureStore     storage.FeatureStore
	snapshotStore    storage.StateSnapshotStore
	parameterStore   storage.NormalizationParameterStore
	config           features.Config
	chunkSize        int
	logger           *log.Logger

	pipeline *features.Pipeline
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	ObservationStore storage.PriceObservationStore
	FeatureStore     storage.FeatureStore
	// SnapshotStore persists resume checkpoints. Nil disables snapshots;
	// resumption then always rebuilds state from raw history.
	SnapshotStore storage.StateSnapshotStore
	// ParameterStore supplies fitted normalization parameters. Nil leaves
	// price_normalized null in every row.
	ParameterStore storage.NormalizationParameterStore
	// Config for the feature pipeline. Zero value uses features.DefaultConfig.
	Config features.Config
	// ChunkSize bounds observations enriched per batch. Default: 1000.
	ChunkSize int
	Logger    *log.Logger
}

// NewRunner creates a new enrichment runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.ObservationStore == nil {
		return nil, errors.New("enrichment: observation store is required")
	}
	if opts.FeatureStore == nil {
		return nil, errors.New("enrichment: feature store is required")
	}

	cfg := opts.Config
	if cfg == (features.Config{}) {
		cfg = features.DefaultConfig()
	}

	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = 1000
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		observationStore: opts.ObservationStore,
		featureStore:     opts.FeatureStore,
		snapshotStore:    opts.SnapshotStore,
		parameterStore:   opts.ParameterStore,
		config:           cfg,
		chunkSize:        chunkSize,
		logger:           logger,
	}, nil
}

// Result contains statistics from an enrichment operation.
type Result struct {
	ObservationsProcessed int
	RowsWritten           int
	RowsSkipped           int
	SnapshotsSaved        int
	Duration              time.Duration
}

// Count returns the number of observations the pipeline has consumed,
// 0 when cold.
func (r *Runner) Count() int64 {
	if r.pipeline == nil {
		return 0
	}
	return r.pipeline.Count()
}

// LastTimestampMs returns the timestamp of the last enriched observation,
// 0 when cold.
func (r *Runner) LastTimestampMs() int64 {
	if r.pipeline == nil {
		return 0
	}
	return r.pipeline.LastTimestampMs()
}

// Backfill recomputes features over the entire raw history with a fresh
// pipeline. Rows already present in the feature store are recomputed but
// not rewritten; the replacement pipeline is carried for subsequent
// incremental calls.
func (r *Runner) Backfill(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	obs, err := r.observationStore.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}

	pipeline, err := r.newPipeline(ctx)
	if err != nil {
		return nil, err
	}
	r.pipeline = pipeline

	if len(obs) == 0 {
		r.logger.Println("Backfill: no observations to enrich")
		result.Duration = time.Since(start)
		return result, nil
	}

	r.logger.Printf("Starting backfill over %d observations", len(obs))

	if err := r.enrichAndStore(ctx, obs, result); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	r.logger.Printf("Backfill complete: %d observations, %d rows written, %d skipped, %d snapshots in %v",
		result.ObservationsProcessed, result.RowsWritten, result.RowsSkipped,
		result.SnapshotsSaved, result.Duration)

	return result, nil
}

// Resume prepares the pipeline for incremental enrichment. The latest
// state snapshot restores it directly; with no snapshot the state is
// rebuilt by replaying raw history up to the last written feature row.
// Returns whether a snapshot was used. A corrupt snapshot is an error,
// never a silent rebuild.
func (r *Runner) Resume(ctx context.Context) (bool, error) {
	if r.snapshotStore != nil {
		snap, err := r.snapshotStore.GetLatest(ctx)
		switch {
		case err == nil:
			state, err := features.UnmarshalState(snap.Payload)
			if err != nil {
				return false, fmt.Errorf("decode snapshot %s: %w", snap.SnapshotID, err)
			}
			pipeline, err := features.RestorePipeline(r.config, state)
			if err != nil {
				return false, fmt.Errorf("restore snapshot %s: %w", snap.SnapshotID, err)
			}
			if err := r.applyCurrentParameters(ctx, pipeline); err != nil {
				return false, err
			}
			r.pipeline = pipeline
			r.logger.Printf("Resumed from snapshot %s: %d observations, last ts %d",
				snap.SnapshotID, snap.ObservationCount, snap.LastTimestampMs)
			return true, nil
		case errors.Is(err, storage.ErrNotFound):
			// No checkpoint yet, rebuild below
		default:
			return false, fmt.Errorf("load snapshot: %w", err)
		}
	}

	if err := r.rebuildFromHistory(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// EnrichNext enriches observations newer than the pipeline's last
// timestamp. A cold runner resumes first. Raw rows at or before the
// pipeline position are never re-enriched; an out-of-order batch from
// the store is fatal.
func (r *Runner) EnrichNext(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	if r.pipeline == nil {
		if _, err := r.Resume(ctx); err != nil {
			return nil, err
		}
	}

	obs, err := r.observationStore.GetByTimeRange(ctx, r.pipeline.LastTimestampMs()+1, math.MaxInt64)
	if err != nil {
		return nil, fmt.Errorf("load new observations: %w", err)
	}

	if len(obs) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	if err := r.enrichAndStore(ctx, obs, result); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

// newPipeline builds a cold pipeline with the current normalization
// parameters applied when any have been fitted.
func (r *Runner) newPipeline(ctx context.Context) (*features.Pipeline, error) {
	pipeline, err := features.NewPipeline(r.config)
	if err != nil {
		return nil, err
	}
	if err := r.applyCurrentParameters(ctx, pipeline); err != nil {
		return nil, err
	}
	return pipeline, nil
}

// applyCurrentParameters applies the store's current parameter set. After
// an explicit refit the store row is newer than any snapshot, so resumed
// pipelines normalize under the refit parameters.
func (r *Runner) applyCurrentParameters(ctx context.Context, pipeline *features.Pipeline) error {
	if r.parameterStore == nil {
		return nil
	}
	params, err := r.parameterStore.GetCurrent(ctx, domain.NormalizedFeaturePrice)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load normalization parameters: %w", err)
	}
	pipeline.SetPriceParameters(params)
	return nil
}

// rebuildFromHistory replays raw observations up to the last written
// feature row through a fresh pipeline, discarding the recomputed rows.
// Determinism makes the rebuilt state identical to the state the original
// run carried at that point.
func (r *Runner) rebuildFromHistory(ctx context.Context) error {
	pipeline, err := r.newPipeline(ctx)
	if err != nil {
		return err
	}

	lastStoredTs, err := r.lastStoredTimestamp(ctx)
	if err != nil {
		return err
	}

	if lastStoredTs > 0 {
		obs, err := r.observationStore.GetByTimeRange(ctx, 0, lastStoredTs)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		for i := 0; i < len(obs); i += r.chunkSize {
			end := i + r.chunkSize
			if end > len(obs) {
				end = len(obs)
			}
			if _, err := pipeline.EnrichBatch(obs[i:end]); err != nil {
				return fmt.Errorf("rebuild state: %w", err)
			}
		}
		r.logger.Printf("Rebuilt pipeline state from %d observations, last ts %d",
			pipeline.Count(), pipeline.LastTimestampMs())
	} else {
		r.logger.Println("No feature rows written yet, starting cold")
	}

	r.pipeline = pipeline
	return nil
}

// enrichAndStore runs the chunked enrich-write-checkpoint loop over obs.
func (r *Runner) enrichAndStore(ctx context.Context, obs []*domain.PriceObservation, result *Result) error {
	lastStoredTs, err := r.lastStoredTimestamp(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < len(obs); i += r.chunkSize {
		end := i + r.chunkSize
		if end > len(obs) {
			end = len(obs)
		}
		chunk := obs[i:end]
		chunkStart := time.Now()

		rows, err := r.pipeline.EnrichBatch(chunk)
		if err != nil {
			observability.RecordEnrichmentError()
			return fmt.Errorf("enrich batch at %d: %w", chunk[0].TimestampMs, err)
		}
		result.ObservationsProcessed += len(chunk)

		// Rows at or before the last written feature row recompute to the
		// same values, so skipping them is an idempotent no-op.
		keep := rows
		if lastStoredTs > 0 {
			keep = make([]*domain.EnrichedFeatureRow, 0, len(rows))
			for _, row := range rows {
				if row.TimestampMs > lastStoredTs {
					keep = append(keep, row)
				}
			}
		}
		result.RowsSkipped += len(rows) - len(keep)

		if len(keep) > 0 {
			if err := r.featureStore.InsertBulk(ctx, keep); err != nil {
				observability.RecordEnrichmentError()
				return fmt.Errorf("store feature rows: %w", err)
			}
			result.RowsWritten += len(keep)
		}

		observability.RecordRowsEnriched(len(keep), time.Since(chunkStart).Seconds())

		if r.saveSnapshot(ctx) {
			result.SnapshotsSaved++
		}

		if len(obs) > r.chunkSize {
			r.logger.Printf("Enriched %d/%d observations", end, len(obs))
		}
	}

	return nil
}

// lastStoredTimestamp returns the newest feature row timestamp, 0 when
// the feature store is empty.
func (r *Runner) lastStoredTimestamp(ctx context.Context) (int64, error) {
	last, err := r.featureStore.GetLast(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load last feature row: %w", err)
	}
	return last.TimestampMs, nil
}

// saveSnapshot persists the current pipeline state. Snapshot identity is
// derived from (last timestamp, observation count), so re-checkpointing
// an unchanged position is a duplicate and treated as already saved.
// Checkpoint failures are logged, not fatal: the state can always be
// rebuilt from raw history.
func (r *Runner) saveSnapshot(ctx context.Context) bool {
	if r.snapshotStore == nil || r.pipeline == nil || r.pipeline.Count() == 0 {
		return false
	}

	state := r.pipeline.State()
	payload, err := state.Marshal()
	if err != nil {
		r.logger.Printf("Error serializing snapshot: %v", err)
		return false
	}

	snap := &storage.StateSnapshot{
		SnapshotID:       idhash.ComputeStateSnapshotID(state.LastTimestampMs, state.ObservationCount),
		CreatedAtMs:      time.Now().UnixMilli(),
		LastTimestampMs:  state.LastTimestampMs,
		ObservationCount: state.ObservationCount,
		Version:          state.Version,
		Payload:          payload,
	}

	if err := r.snapshotStore.SaveSnapshot(ctx, snap); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return false
		}
		r.logger.Printf("Error saving snapshot %s: %v", snap.SnapshotID, err)
		return false
	}

	observability.RecordSnapshotSaved()
	return true
}
