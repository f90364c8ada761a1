package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/metrics"
	"btc-feature-lab/internal/quality"
	"btc-feature-lab/internal/storage"
)

// Generator produces reports from stored data.
type Generator struct {
	observationStore storage.PriceObservationStore
	featureStore     storage.FeatureStore
	predictionStore  storage.PredictionStore
	gateBuilder      *quality.Builder // nil skips the gate section
	now              func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(observationStore storage.PriceObservationStore, featureStore storage.FeatureStore, predictionStore storage.PredictionStore) *Generator {
	return &Generator{
		observationStore: observationStore,
		featureStore:     featureStore,
		predictionStore:  predictionStore,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the generator clock. Returns the generator for chaining.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithGate attaches a quality-gate builder. The gate runs the full recompute
// verification pass over stored history, so it is opt-in per report rather
// than part of every generation. Returns the generator for chaining.
func (g *Generator) WithGate(builder *quality.Builder) *Generator {
	g.gateBuilder = builder
	return g
}

// Generate produces a complete report from the stores.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	report := &Report{
		GeneratedAt: g.now(),
	}

	if err := g.generateDataSummary(ctx, report); err != nil {
		return nil, fmt.Errorf("generate data summary: %w", err)
	}

	if err := g.generatePriceStats(ctx, report); err != nil {
		return nil, fmt.Errorf("generate price statistics: %w", err)
	}

	if err := g.generateFeatureCoverage(ctx, report); err != nil {
		return nil, fmt.Errorf("generate feature coverage: %w", err)
	}

	if err := g.generateAccuracy(ctx, report); err != nil {
		return nil, fmt.Errorf("generate prediction accuracy: %w", err)
	}

	if err := g.generateGate(ctx, report); err != nil {
		return nil, fmt.Errorf("generate quality gate: %w", err)
	}

	return report, nil
}

// generateDataSummary populates row counts, date range and per-source counts.
func (g *Generator) generateDataSummary(ctx context.Context, report *Report) error {
	obs, err := g.observationStore.GetAll(ctx)
	if err != nil {
		return err
	}

	summary := DataSummary{
		ObservationCount: int64(len(obs)),
	}

	if len(obs) > 0 {
		summary.DateRangeStart = obs[0].TimestampMs
		summary.DateRangeEnd = obs[len(obs)-1].TimestampMs
	}

	bySource := make(map[string]int)
	for _, o := range obs {
		bySource[o.Source]++
	}
	for source, count := range bySource {
		summary.Sources = append(summary.Sources, SourceCountRow{Source: source, Count: count})
	}
	sort.Slice(summary.Sources, func(i, j int) bool {
		return summary.Sources[i].Source < summary.Sources[j].Source
	})

	featureCount, err := g.featureStore.Count(ctx)
	if err != nil {
		return err
	}
	summary.FeatureRowCount = featureCount

	predictions, err := g.predictionStore.GetByTimeRange(ctx, 0, math.MaxInt64)
	if err != nil {
		return err
	}
	summary.PredictionCount = len(predictions)

	report.DataSummary = summary
	return nil
}

// generatePriceStats populates descriptive statistics over the full history.
func (g *Generator) generatePriceStats(ctx context.Context, report *Report) error {
	obs, err := g.observationStore.GetAll(ctx)
	if err != nil {
		return err
	}
	report.PriceStats = metrics.SummarizePrices(obs)
	return nil
}

// generateFeatureCoverage populates per-column null counts over stored rows.
func (g *Generator) generateFeatureCoverage(ctx context.Context, report *Report) error {
	rows, err := g.featureStore.GetByTimeRange(ctx, 0, math.MaxInt64)
	if err != nil {
		return err
	}
	report.FeatureCoverage = computeCoverage(rows)
	return nil
}

// generateAccuracy populates per-model accuracy reports and stale warnings.
func (g *Generator) generateAccuracy(ctx context.Context, report *Report) error {
	aggregator := metrics.NewAggregator(g.predictionStore)

	reports, err := aggregator.ComputeAllModels(ctx, 0, g.now().UnixMilli())
	if err != nil {
		return err
	}

	report.Accuracy = reports
	report.StalePendingWarnings = aggregator.GetStalePendingWarnings()
	return nil
}

// generateGate runs the quality gate when a builder is attached.
func (g *Generator) generateGate(ctx context.Context, report *Report) error {
	if g.gateBuilder == nil {
		return nil
	}

	input, err := g.gateBuilder.Build(ctx)
	if err != nil {
		return err
	}

	report.GateInput = input
	report.Gate = quality.NewEvaluator().Evaluate(*input)
	return nil
}

// computeCoverage counts nulls per nullable column, both over all rows and
// over the rows past the warm-up boundary. Enrichment starts at the first
// observation, so the boundary is a plain row index. Columns come out in
// canonical catalog order.
func computeCoverage(rows []*domain.EnrichedFeatureRow) []CoverageRow {
	if len(rows) == 0 {
		return nil
	}

	columns := features.NullableColumns()
	nulls := make(map[string]int, len(columns))
	postNulls := make(map[string]int, len(columns))

	postWarmupRows := 0
	for i, row := range rows {
		values := features.NullableValues(row)
		pastWarmup := i >= features.WarmupObservations
		if pastWarmup {
			postWarmupRows++
		}
		for _, column := range columns {
			if values[column] == nil {
				nulls[column]++
				if pastWarmup {
					postNulls[column]++
				}
			}
		}
	}

	coverage := make([]CoverageRow, 0, len(columns))
	for _, column := range columns {
		row := CoverageRow{
			Column:          column,
			NullCount:       nulls[column],
			NullRatio:       float64(nulls[column]) / float64(len(rows)),
			PostWarmupNulls: postNulls[column],
		}
		if postWarmupRows > 0 {
			row.PostWarmupNullRatio = float64(postNulls[column]) / float64(postWarmupRows)
		}
		coverage = append(coverage, row)
	}
	return coverage
}
