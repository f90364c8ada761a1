package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/quality"
	"btc-feature-lab/internal/storage/memory"
	"btc-feature-lab/internal/verification"
)

const (
	reportStartMs = int64(1_700_000_000_000)
	reportStepMs  = int64(60_000)
	reportObsN    = 60
)

// reportClock is two hours past the last observation, so every stored
// prediction target is due by report time.
func reportClock() time.Time {
	return time.UnixMilli(reportStartMs + 2*3_600_000).UTC()
}

func insertPrediction(t *testing.T, store *memory.PredictionStore, id, modelID string, createdAtMs int64, currentPrice, predictedPrice float64, trend string) *domain.PricePrediction {
	t.Helper()

	p := &domain.PricePrediction{
		PredictionID:   id,
		ModelID:        modelID,
		CreatedAtMs:    createdAtMs,
		TargetTimeMs:   createdAtMs + 15*60_000,
		HorizonMs:      15 * 60_000,
		CurrentPrice:   currentPrice,
		PredictedPrice: predictedPrice,
		PredictedTrend: trend,
		Confidence:     0.6,
	}
	if err := store.Insert(context.Background(), p); err != nil {
		t.Fatalf("Insert prediction failed: %v", err)
	}
	return p
}

func resolvePrediction(t *testing.T, store *memory.PredictionStore, p *domain.PricePrediction, actual float64) {
	t.Helper()

	trend := domain.TrendDown
	if actual > p.CurrentPrice {
		trend = domain.TrendUp
	}
	absErr := p.PredictedPrice - actual
	if absErr < 0 {
		absErr = -absErr
	}
	pctErr := absErr / actual
	evaluatedAt := p.TargetTimeMs

	update := *p
	update.ActualPrice = &actual
	update.ActualTrend = &trend
	update.AbsError = &absErr
	update.PctError = &pctErr
	update.EvaluatedAt = &evaluatedAt

	if err := store.UpdateEvaluation(context.Background(), &update); err != nil {
		t.Fatalf("UpdateEvaluation failed: %v", err)
	}
}

func setupTestData(t *testing.T) (*memory.PriceObservationStore, *memory.FeatureStore, *memory.PredictionStore) {
	t.Helper()
	ctx := context.Background()

	obsStore := memory.NewPriceObservationStore()
	featStore := memory.NewFeatureStore()
	predStore := memory.NewPredictionStore()

	// Insert observations: one-minute cadence, mostly binance with a few
	// manual backfills.
	obs := make([]*domain.PriceObservation, reportObsN)
	for i := 0; i < reportObsN; i++ {
		source := domain.SourceBinance
		if i%10 == 0 {
			source = domain.SourceManual
		}
		obs[i] = &domain.PriceObservation{
			TimestampMs: reportStartMs + int64(i)*reportStepMs,
			Price:       50_000 + float64(i)*5,
			Source:      source,
		}
	}
	if err := obsStore.InsertBulk(ctx, obs); err != nil {
		t.Fatalf("InsertBulk observations failed: %v", err)
	}

	// Enrich and insert feature rows
	pipeline, err := features.NewPipeline(features.DefaultConfig())
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	rows, err := pipeline.EnrichBatch(obs)
	if err != nil {
		t.Fatalf("EnrichBatch failed: %v", err)
	}
	if err := featStore.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("InsertBulk features failed: %v", err)
	}

	// Insert predictions: two models, one stale pending for naive-v1
	p1 := insertPrediction(t, predStore, "p1", "naive-v1", reportStartMs+10*reportStepMs, 50_050, 50_100, domain.TrendUp)
	p2 := insertPrediction(t, predStore, "p2", "naive-v1", reportStartMs+20*reportStepMs, 50_100, 50_200, domain.TrendUp)
	insertPrediction(t, predStore, "p3", "naive-v1", reportStartMs+30*reportStepMs, 50_150, 50_250, domain.TrendUp)
	p4 := insertPrediction(t, predStore, "p4", "momentum-v1", reportStartMs+40*reportStepMs, 50_200, 50_150, domain.TrendDown)

	resolvePrediction(t, predStore, p1, 50_125) // UP, trend correct
	resolvePrediction(t, predStore, p2, 50_060) // DOWN, trend wrong
	resolvePrediction(t, predStore, p4, 50_120) // DOWN, trend correct

	return obsStore, featStore, predStore
}

func findCoverage(t *testing.T, coverage []CoverageRow, column string) CoverageRow {
	t.Helper()
	for _, c := range coverage {
		if c.Column == column {
			return c
		}
	}
	t.Fatalf("Column %s not found in coverage", column)
	return CoverageRow{}
}

func TestGenerator_Generate(t *testing.T) {
	obsStore, featStore, predStore := setupTestData(t)

	gen := NewGenerator(obsStore, featStore, predStore).WithClock(reportClock)
	report, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Data summary
	if report.DataSummary.ObservationCount != reportObsN {
		t.Errorf("Expected %d observations, got %d", reportObsN, report.DataSummary.ObservationCount)
	}
	if report.DataSummary.FeatureRowCount != reportObsN {
		t.Errorf("Expected %d feature rows, got %d", reportObsN, report.DataSummary.FeatureRowCount)
	}
	if report.DataSummary.PredictionCount != 4 {
		t.Errorf("Expected 4 predictions, got %d", report.DataSummary.PredictionCount)
	}
	if report.DataSummary.DateRangeStart != reportStartMs {
		t.Errorf("Expected range start %d, got %d", reportStartMs, report.DataSummary.DateRangeStart)
	}
	wantEnd := reportStartMs + int64(reportObsN-1)*reportStepMs
	if report.DataSummary.DateRangeEnd != wantEnd {
		t.Errorf("Expected range end %d, got %d", wantEnd, report.DataSummary.DateRangeEnd)
	}

	// Sources sorted by name: binance 54, manual 6
	if len(report.DataSummary.Sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(report.DataSummary.Sources))
	}
	if report.DataSummary.Sources[0].Source != domain.SourceBinance || report.DataSummary.Sources[0].Count != 54 {
		t.Errorf("Unexpected first source row: %+v", report.DataSummary.Sources[0])
	}
	if report.DataSummary.Sources[1].Source != domain.SourceManual || report.DataSummary.Sources[1].Count != 6 {
		t.Errorf("Unexpected second source row: %+v", report.DataSummary.Sources[1])
	}

	// Price statistics
	if report.PriceStats == nil || report.PriceStats.Count != reportObsN {
		t.Fatalf("Expected price stats over %d observations, got %+v", reportObsN, report.PriceStats)
	}
	if report.PriceStats.Min != 50_000 {
		t.Errorf("Expected min 50000, got %f", report.PriceStats.Min)
	}
	if report.PriceStats.Last != 50_000+float64(reportObsN-1)*5 {
		t.Errorf("Expected last %f, got %f", 50_000+float64(reportObsN-1)*5, report.PriceStats.Last)
	}

	// Coverage has one row per nullable column
	if len(report.FeatureCoverage) != len(features.NullableColumns()) {
		t.Fatalf("Expected %d coverage rows, got %d", len(features.NullableColumns()), len(report.FeatureCoverage))
	}

	// 5-minute lag fills from row 5; fully covered past warm-up
	lag5 := findCoverage(t, report.FeatureCoverage, "price_lag_5min")
	if lag5.NullCount != 5 {
		t.Errorf("Expected 5 nulls for price_lag_5min, got %d", lag5.NullCount)
	}
	if lag5.PostWarmupNulls != 0 || lag5.PostWarmupNullRatio != 0 {
		t.Errorf("Expected full post-warm-up coverage for price_lag_5min, got %+v", lag5)
	}

	// 60-minute lag never fills inside 60 rows
	lag60 := findCoverage(t, report.FeatureCoverage, "price_lag_60min")
	if lag60.NullCount != reportObsN || lag60.NullRatio != 1.0 {
		t.Errorf("Expected price_lag_60min fully null, got %+v", lag60)
	}
	wantPostWarmup := reportObsN - features.WarmupObservations
	if lag60.PostWarmupNulls != wantPostWarmup {
		t.Errorf("Expected %d post-warm-up nulls, got %d", wantPostWarmup, lag60.PostWarmupNulls)
	}

	// No normalization parameters fitted
	norm := findCoverage(t, report.FeatureCoverage, "price_normalized")
	if norm.NullRatio != 1.0 || norm.PostWarmupNullRatio != 1.0 {
		t.Errorf("Expected price_normalized fully null, got %+v", norm)
	}

	// Accuracy sorted by model ID
	if len(report.Accuracy) != 2 {
		t.Fatalf("Expected 2 accuracy reports, got %d", len(report.Accuracy))
	}
	if report.Accuracy[0].ModelID != "momentum-v1" || report.Accuracy[1].ModelID != "naive-v1" {
		t.Errorf("Unexpected model order: %s, %s", report.Accuracy[0].ModelID, report.Accuracy[1].ModelID)
	}
	naive := report.Accuracy[1]
	if naive.EvaluatedCount != 2 || naive.PendingSkipped != 1 {
		t.Errorf("Expected naive-v1 evaluated=2 pending=1, got %+v", naive)
	}
	if naive.TrendAccuracy != 0.5 {
		t.Errorf("Expected naive-v1 trend accuracy 0.5, got %f", naive.TrendAccuracy)
	}

	// p3 was due before report time and never resolved
	if len(report.StalePendingWarnings) != 1 {
		t.Fatalf("Expected 1 stale warning, got %v", report.StalePendingWarnings)
	}
	if !strings.Contains(report.StalePendingWarnings[0], "naive-v1") {
		t.Errorf("Expected warning to name naive-v1, got %q", report.StalePendingWarnings[0])
	}

	// No gate without a builder
	if report.Gate != nil || report.GateInput != nil {
		t.Error("Expected no gate section without WithGate")
	}
}

func TestGenerator_Generate_WithGate(t *testing.T) {
	obsStore, featStore, predStore := setupTestData(t)

	verifier, err := verification.NewRecomputeVerifier(verification.RecomputeVerifierOptions{
		ObservationStore: obsStore,
		FeatureStore:     featStore,
	})
	if err != nil {
		t.Fatalf("NewRecomputeVerifier failed: %v", err)
	}
	builder, err := quality.NewBuilder(obsStore, featStore, verifier)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}

	gen := NewGenerator(obsStore, featStore, predStore).WithClock(reportClock).WithGate(builder)
	report, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if report.Gate == nil || report.GateInput == nil {
		t.Fatal("Expected gate section with WithGate")
	}
	if report.GateInput.ObservationCount != reportObsN {
		t.Errorf("Expected gate input over %d observations, got %d", reportObsN, report.GateInput.ObservationCount)
	}
	if report.GateInput.VerifiedRows != reportObsN || report.GateInput.DivergentRows != 0 {
		t.Errorf("Expected %d verified rows with no divergence, got %+v", reportObsN, report.GateInput)
	}

	// 60 observations is below the history floor
	if report.Gate.Verdict != quality.VerdictNOGO {
		t.Errorf("Expected NO-GO verdict for short history, got %s", report.Gate.Verdict)
	}
}

func TestGenerator_Generate_EmptyStores(t *testing.T) {
	obsStore := memory.NewPriceObservationStore()
	featStore := memory.NewFeatureStore()
	predStore := memory.NewPredictionStore()

	gen := NewGenerator(obsStore, featStore, predStore).WithClock(reportClock)
	report, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if report.DataSummary.ObservationCount != 0 || report.DataSummary.PredictionCount != 0 {
		t.Errorf("Expected empty data summary, got %+v", report.DataSummary)
	}
	if report.PriceStats == nil || report.PriceStats.Count != 0 {
		t.Errorf("Expected empty price stats, got %+v", report.PriceStats)
	}
	if len(report.FeatureCoverage) != 0 {
		t.Errorf("Expected no coverage rows, got %d", len(report.FeatureCoverage))
	}
	if len(report.Accuracy) != 0 {
		t.Errorf("Expected no accuracy reports, got %d", len(report.Accuracy))
	}
	if len(report.StalePendingWarnings) != 0 {
		t.Errorf("Expected no warnings, got %v", report.StalePendingWarnings)
	}
}

func TestRenderMarkdown(t *testing.T) {
	obsStore, featStore, predStore := setupTestData(t)

	gen := NewGenerator(obsStore, featStore, predStore).WithClock(reportClock)
	report, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	md := RenderMarkdown(report)

	for _, want := range []string{
		"# Training Data Report",
		"Generated: " + reportClock().Format(time.RFC3339),
		"## Data Summary",
		"| Raw Observations | 60 |",
		"### Observations by Source",
		"| binance | 54 |",
		"| manual | 6 |",
		"## Price Statistics",
		"| Min | 50000.00 |",
		"## Feature Coverage",
		"| price_normalized | 60 | 100.00% | 26 | 100.00% |",
		"## Prediction Accuracy",
		"| naive-v1 | 2 | 1 |",
		"| momentum-v1 | 1 | 0 |",
		"### Warnings",
		"past due without an outcome",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown missing %q", want)
		}
	}

	if strings.Contains(md, "## Quality Gate") {
		t.Error("Expected no gate section without WithGate")
	}
}

func TestRenderMarkdown_WithGate(t *testing.T) {
	obsStore, featStore, predStore := setupTestData(t)

	verifier, err := verification.NewRecomputeVerifier(verification.RecomputeVerifierOptions{
		ObservationStore: obsStore,
		FeatureStore:     featStore,
	})
	if err != nil {
		t.Fatalf("NewRecomputeVerifier failed: %v", err)
	}
	builder, err := quality.NewBuilder(obsStore, featStore, verifier)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}

	gen := NewGenerator(obsStore, featStore, predStore).WithClock(reportClock).WithGate(builder)
	report, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	md := RenderMarkdown(report)

	for _, want := range []string{
		"## Quality Gate",
		"Verdict: **NO-GO**",
		"| 1 | Sufficient history |",
		"NOT TRIGGERED",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown missing %q", want)
		}
	}
}

func TestRenderMarkdown_EmptyReport(t *testing.T) {
	report := &Report{GeneratedAt: reportClock()}

	md := RenderMarkdown(report)

	for _, want := range []string{
		"No price observations available.",
		"No feature rows available.",
		"No evaluated predictions available.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown missing %q", want)
		}
	}
}

func TestRenderCoverageCSV(t *testing.T) {
	obsStore, featStore, predStore := setupTestData(t)

	gen := NewGenerator(obsStore, featStore, predStore).WithClock(reportClock)
	report, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	csv := RenderCoverageCSV(report.FeatureCoverage)
	lines := strings.Split(strings.TrimRight(csv, "\n"), "\n")

	if lines[0] != "column,null_count,null_ratio,post_warmup_nulls,post_warmup_null_ratio" {
		t.Errorf("Unexpected CSV header: %s", lines[0])
	}
	if len(lines) != len(features.NullableColumns())+1 {
		t.Errorf("Expected %d lines, got %d", len(features.NullableColumns())+1, len(lines))
	}
	if !strings.Contains(csv, "price_normalized,60,1.000000,26,1.000000\n") {
		t.Error("CSV missing expected price_normalized row")
	}
}

func TestRenderAccuracyCSV(t *testing.T) {
	obsStore, featStore, predStore := setupTestData(t)

	gen := NewGenerator(obsStore, featStore, predStore).WithClock(reportClock)
	report, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	csv := RenderAccuracyCSV(report.Accuracy)
	lines := strings.Split(strings.TrimRight(csv, "\n"), "\n")

	if len(lines) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "model_id,evaluated_count,pending_skipped,") {
		t.Errorf("Unexpected CSV header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "momentum-v1,1,0,") {
		t.Errorf("Unexpected first row: %s", lines[1])
	}
	if !strings.HasPrefix(lines[2], "naive-v1,2,1,") {
		t.Errorf("Unexpected second row: %s", lines[2])
	}
}
