// Package orchestrator provides end-to-end backfill orchestration.
// It coordinates: normalization fit → enrichment → gate → report
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/enrichment"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/observability"
	"btc-feature-lab/internal/quality"
	"btc-feature-lab/internal/reporting"
	"btc-feature-lab/internal/storage"
	"btc-feature-lab/internal/verification"
)

// Orchestrator coordinates the backfill pipeline execution.
// Flow: load raw history → optional normalization fit → chunked
// enrichment → gate and report
type Orchestrator struct {
	// Stores
	observationStore storage.PriceObservationStore
	featureStore     storage.FeatureStore
	snapshotStore    storage.StateSnapshotStore
	parameterStore   storage.NormalizationParameterStore
	predictionStore  storage.PredictionStore

	// Pipeline config
	config    features.Config
	chunkSize int

	// Options
	fitNormalization bool
	skipReport       bool
	verbose          bool
}

// Options for creating Orchestrator.
type Options struct {
	// Required stores
	ObservationStore storage.PriceObservationStore
	FeatureStore     storage.FeatureStore

	// Optional stores. Nil SnapshotStore disables checkpoints, nil
	// ParameterStore leaves price_normalized null, nil PredictionStore
	// is an error unless SkipReport is set.
	SnapshotStore   storage.StateSnapshotStore
	ParameterStore  storage.NormalizationParameterStore
	PredictionStore storage.PredictionStore

	// Config for the feature pipeline. Zero value uses features.DefaultConfig.
	Config features.Config
	// ChunkSize bounds observations enriched per batch. Default: 1000.
	ChunkSize int

	// Options
	FitNormalization bool // Fit min-max parameters over raw history before enriching
	SkipReport       bool // Skip the gate and report phase
	Verbose          bool
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		observationStore: opts.ObservationStore,
		featureStore:     opts.FeatureStore,
		snapshotStore:    opts.SnapshotStore,
		parameterStore:   opts.ParameterStore,
		predictionStore:  opts.PredictionStore,
		config:           opts.Config,
		chunkSize:        opts.ChunkSize,
		fitNormalization: opts.FitNormalization,
		skipReport:       opts.SkipReport,
		verbose:          opts.Verbose,
	}
}

// RunResult contains results from orchestrator execution.
type RunResult struct {
	ObservationsLoaded int
	ParametersFitted   bool
	RowsWritten        int
	RowsSkipped        int
	SnapshotsSaved     int
	GateVerdict        quality.Verdict   // empty when the report phase was skipped
	Report             *reporting.Report // nil when the report phase was skipped
	Errors             []string
}

// Run executes the full backfill pipeline.
// Phases:
//  1. Load raw history
//  2. Fit normalization parameters (when requested)
//  3. Enrich features in chunks
//  4. Gate and report
//
// The fit runs before enrichment so the backfilled rows are normalized
// under the freshly fitted parameters. A report failure does not undo
// the backfill, so phase 4 errors are collected instead of fatal.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}

	// Phase 1: Load raw history
	o.log("Phase 1: Loading raw history...")
	phaseStart := time.Now()
	obs, err := o.observationStore.GetAll(ctx)
	if err != nil {
		observability.RecordBackfillPhase("load", "error", time.Since(phaseStart).Seconds())
		return nil, fmt.Errorf("phase 1 (load observations) failed: %w", err)
	}
	observability.RecordBackfillPhase("load", "ok", time.Since(phaseStart).Seconds())
	result.ObservationsLoaded = len(obs)
	o.log("  Found %d observations", len(obs))

	if len(obs) == 0 {
		return result, nil
	}

	// Phase 2: Normalization fit
	if o.fitNormalization {
		o.log("Phase 2: Fitting normalization parameters...")
		phaseStart = time.Now()
		params, err := o.runFit(ctx, obs)
		if err != nil {
			observability.RecordBackfillPhase("fit", "error", time.Since(phaseStart).Seconds())
			return nil, fmt.Errorf("phase 2 (normalization fit) failed: %w", err)
		}
		observability.RecordBackfillPhase("fit", "ok", time.Since(phaseStart).Seconds())
		result.ParametersFitted = true
		o.log("  Fitted %s over %d observations: min=%.2f max=%.2f",
			params.FeatureName, params.CorpusSize, params.Min, params.Max)
	} else {
		o.log("Phase 2: Skipping normalization fit (fitNormalization=false)")
	}

	// Phase 3: Enrichment
	o.log("Phase 3: Enriching features...")
	phaseStart = time.Now()
	enrichResult, err := o.runEnrichment(ctx)
	if err != nil {
		observability.RecordBackfillPhase("enrich", "error", time.Since(phaseStart).Seconds())
		return nil, fmt.Errorf("phase 3 (enrichment) failed: %w", err)
	}
	observability.RecordBackfillPhase("enrich", "ok", time.Since(phaseStart).Seconds())
	result.RowsWritten = enrichResult.RowsWritten
	result.RowsSkipped = enrichResult.RowsSkipped
	result.SnapshotsSaved = enrichResult.SnapshotsSaved
	o.log("  Wrote %d rows (%d skipped, %d snapshots)",
		result.RowsWritten, result.RowsSkipped, result.SnapshotsSaved)

	// Phase 4: Gate and report
	if o.skipReport {
		o.log("Phase 4: Skipping gate and report (skipReport=true)")
	} else {
		o.log("Phase 4: Running gate and report...")
		phaseStart = time.Now()
		report, err := o.runReport(ctx)
		if err != nil {
			observability.RecordBackfillPhase("report", "error", time.Since(phaseStart).Seconds())
			result.Errors = append(result.Errors, fmt.Sprintf("gate and report: %v", err))
		} else {
			observability.RecordBackfillPhase("report", "ok", time.Since(phaseStart).Seconds())
			result.Report = report
			if report.Gate != nil {
				result.GateVerdict = report.Gate.Verdict
			}
			o.log("  Gate verdict: %s", result.GateVerdict)
		}
	}

	o.log("Backfill completed: %d observations, %d rows written (%d errors)",
		result.ObservationsLoaded, result.RowsWritten, len(result.Errors))

	return result, nil
}

// runFit fits min-max parameters over the raw corpus and persists them as
// a new version row. A duplicate key means parameters with this exact fit
// timestamp already exist, which only happens when a fit re-runs inside
// the same millisecond; the fit result is identical, so it is skipped.
func (o *Orchestrator) runFit(ctx context.Context, obs []*domain.PriceObservation) (*domain.NormalizationParameters, error) {
	if o.parameterStore == nil {
		return nil, errors.New("parameter store is required for normalization fit")
	}

	params, err := features.FitPriceParameters(obs, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}

	if err := o.parameterStore.Insert(ctx, params); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("store parameters: %w", err)
		}
	}
	return params, nil
}

// runEnrichment backfills the feature table over the full raw history.
func (o *Orchestrator) runEnrichment(ctx context.Context) (*enrichment.Result, error) {
	logger := log.Default()
	if !o.verbose {
		logger = log.New(io.Discard, "", 0)
	}

	runner, err := enrichment.NewRunner(enrichment.RunnerOptions{
		ObservationStore: o.observationStore,
		FeatureStore:     o.featureStore,
		SnapshotStore:    o.snapshotStore,
		ParameterStore:   o.parameterStore,
		Config:           o.config,
		ChunkSize:        o.chunkSize,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	return runner.Backfill(ctx)
}

// runReport runs the quality gate over the backfilled table and renders
// the full report.
func (o *Orchestrator) runReport(ctx context.Context) (*reporting.Report, error) {
	if o.predictionStore == nil {
		return nil, errors.New("prediction store is required for the report phase")
	}

	verifier, err := verification.NewRecomputeVerifier(verification.RecomputeVerifierOptions{
		ObservationStore: o.observationStore,
		FeatureStore:     o.featureStore,
		ParameterStore:   o.parameterStore,
		Config:           o.config,
	})
	if err != nil {
		return nil, err
	}

	builder, err := quality.NewBuilder(o.observationStore, o.featureStore, verifier)
	if err != nil {
		return nil, err
	}

	generator := reporting.NewGenerator(o.observationStore, o.featureStore, o.predictionStore).
		WithGate(builder)
	return generator.Generate(ctx)
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		log.Printf("[orchestrator] "+format, args...)
	}
}
