package quality

import (
	"context"
	"testing"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/storage/memory"
	"btc-feature-lab/internal/verification"
)

const (
	gateStartMs = int64(1_700_000_000_000)
	gateStepMs  = int64(60_000)
)

// makeGateObservations builds a minute-cadence walk with an optional
// hole of skipped indices.
func makeGateObservations(n int, skip map[int]bool) []*domain.PriceObservation {
	obs := make([]*domain.PriceObservation, 0, n)
	for i := 0; i < n; i++ {
		if skip[i] {
			continue
		}
		obs = append(obs, &domain.PriceObservation{
			TimestampMs: gateStartMs + int64(i)*gateStepMs,
			Price:       50_000.0 + float64(i)*3.25,
			Source:      domain.SourceBinance,
		})
	}
	return obs
}

// seedStores enriches obs and fills both stores.
func seedStores(t *testing.T, obs []*domain.PriceObservation, params *domain.NormalizationParameters) (*memory.PriceObservationStore, *memory.FeatureStore) {
	t.Helper()
	ctx := context.Background()

	obsStore := memory.NewPriceObservationStore()
	featStore := memory.NewFeatureStore()

	if err := obsStore.InsertBulk(ctx, obs); err != nil {
		t.Fatalf("InsertBulk observations failed: %v", err)
	}

	pipeline, err := features.NewPipeline(features.DefaultConfig())
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if params != nil {
		pipeline.SetPriceParameters(params)
	}
	rows, err := pipeline.EnrichBatch(obs)
	if err != nil {
		t.Fatalf("EnrichBatch failed: %v", err)
	}
	if err := featStore.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("InsertBulk rows failed: %v", err)
	}

	return obsStore, featStore
}

func newGateBuilder(t *testing.T, obsStore *memory.PriceObservationStore, featStore *memory.FeatureStore, paramStore *memory.NormalizationParamStore) *Builder {
	t.Helper()

	opts := verification.RecomputeVerifierOptions{
		ObservationStore: obsStore,
		FeatureStore:     featStore,
	}
	if paramStore != nil {
		opts.ParameterStore = paramStore
	}
	verifier, err := verification.NewRecomputeVerifier(opts)
	if err != nil {
		t.Fatalf("NewRecomputeVerifier failed: %v", err)
	}

	builder, err := NewBuilder(obsStore, featStore, verifier)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return builder
}

func TestBuilder_Build(t *testing.T) {
	ctx := context.Background()

	obs := makeGateObservations(120, nil)
	obsStore, featStore := seedStores(t, obs, nil)
	builder := newGateBuilder(t, obsStore, featStore, nil)

	input, err := builder.Build(ctx)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if input.ObservationCount != 120 {
		t.Errorf("Expected 120 observations, got %d", input.ObservationCount)
	}
	if input.FeatureRowCount != 120 {
		t.Errorf("Expected 120 feature rows, got %d", input.FeatureRowCount)
	}
	if input.OrderingViolations != 0 {
		t.Errorf("Expected 0 ordering violations, got %d", input.OrderingViolations)
	}
	if input.GapCount != 0 {
		t.Errorf("Expected 0 gaps, got %d", input.GapCount)
	}
	if input.MaxGapMs != gateStepMs {
		t.Errorf("Expected max gap %d, got %d", gateStepMs, input.MaxGapMs)
	}
	if input.ScannedRows != 120-features.WarmupObservations {
		t.Errorf("Expected %d scanned rows, got %d", 120-features.WarmupObservations, input.ScannedRows)
	}
	if input.VerifiedRows != 120 {
		t.Errorf("Expected 120 verified rows, got %d", input.VerifiedRows)
	}
	if input.DivergentRows != 0 {
		t.Errorf("Expected 0 divergent rows, got %d", input.DivergentRows)
	}

	// Without fitted parameters every row has null price_normalized.
	if input.WorstColumn != "price_normalized" {
		t.Errorf("Expected price_normalized as worst column, got %s", input.WorstColumn)
	}
	if input.WorstNullRatio != 1.0 {
		t.Errorf("Expected 100%% null ratio, got %v", input.WorstNullRatio)
	}
}

func TestBuilder_Build_GapScan(t *testing.T) {
	ctx := context.Background()

	// Indices 40-43 missing: one 5-minute hole.
	skip := map[int]bool{40: true, 41: true, 42: true, 43: true}
	obs := makeGateObservations(120, skip)
	obsStore, featStore := seedStores(t, obs, nil)
	builder := newGateBuilder(t, obsStore, featStore, nil)

	input, err := builder.Build(ctx)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if input.GapCount != 1 {
		t.Errorf("Expected 1 gap, got %d", input.GapCount)
	}
	if input.MaxGapMs != 5*gateStepMs {
		t.Errorf("Expected max gap %d, got %d", 5*gateStepMs, input.MaxGapMs)
	}
}

func TestGate_EndToEnd_GO(t *testing.T) {
	ctx := context.Background()

	params := &domain.NormalizationParameters{
		FeatureName: domain.NormalizedFeaturePrice,
		Min:         40_000.0,
		Max:         60_000.0,
		FittedAtMs:  gateStartMs,
		CorpusSize:  1500,
	}
	paramStore := memory.NewNormalizationParamStore()
	if err := paramStore.Insert(ctx, params); err != nil {
		t.Fatalf("Insert params failed: %v", err)
	}

	obs := makeGateObservations(1500, nil)
	obsStore, featStore := seedStores(t, obs, params)
	builder := newGateBuilder(t, obsStore, featStore, paramStore)

	input, err := builder.Build(ctx)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	result := NewEvaluator().Evaluate(*input)

	if result.Verdict != VerdictGO {
		t.Fatalf("Expected GO, got %s\n%s", result.Verdict, RenderMarkdown(result))
	}

	// The 60-minute lag warms up last: null until row 60, so it is the
	// worst column over a clean corpus.
	if input.WorstColumn != "price_lag_60min" {
		t.Errorf("Expected price_lag_60min as worst column, got %s", input.WorstColumn)
	}
}

func TestNewBuilder_Validation(t *testing.T) {
	obsStore := memory.NewPriceObservationStore()
	featStore := memory.NewFeatureStore()
	verifier, err := verification.NewRecomputeVerifier(verification.RecomputeVerifierOptions{
		ObservationStore: obsStore,
		FeatureStore:     featStore,
	})
	if err != nil {
		t.Fatalf("NewRecomputeVerifier failed: %v", err)
	}

	if _, err := NewBuilder(nil, featStore, verifier); err == nil {
		t.Error("Expected error for missing observation store")
	}
	if _, err := NewBuilder(obsStore, nil, verifier); err == nil {
		t.Error("Expected error for missing feature store")
	}
	if _, err := NewBuilder(obsStore, featStore, nil); err == nil {
		t.Error("Expected error for missing verifier")
	}
}
