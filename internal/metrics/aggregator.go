package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

// ErrNoPredictions is returned when no evaluated predictions are available
// for aggregation.
var ErrNoPredictions = errors.New("no evaluated predictions available for aggregation")

// Aggregator computes accuracy reports from stored predictions.
type Aggregator struct {
	predictionStore storage.PredictionStore

	// StalePending tracks predictions that were due inside the aggregation
	// window but never received an outcome (for data quality reporting).
	// Key: model_id, Value: count of stale predictions.
	StalePending map[string]int
}

// NewAggregator creates a new accuracy aggregator.
func NewAggregator(predictionStore storage.PredictionStore) *Aggregator {
	return &Aggregator{
		predictionStore: predictionStore,
		StalePending:    make(map[string]int),
	}
}

// ComputeWindow computes an accuracy report for one model over predictions
// created within [start, end] (inclusive). Predictions that were due before
// the window end but are still unevaluated are recorded in StalePending
// instead of silently skipped. Returns ErrNoPredictions if no prediction in
// the window has an outcome.
func (a *Aggregator) ComputeWindow(ctx context.Context, modelID string, start, end int64) (*AccuracyReport, error) {
	predictions, err := a.predictionStore.GetByModel(ctx, modelID, start, end)
	if err != nil {
		return nil, err
	}

	a.trackStale(predictions, end)

	report := ComputeAccuracy(predictions)
	if report.EvaluatedCount == 0 {
		return nil, ErrNoPredictions
	}
	report.ModelID = modelID
	return report, nil
}

// ComputeAllModels computes one accuracy report per model over predictions
// created within [start, end] (inclusive). Models with no evaluated
// predictions are omitted. Reports are sorted by model ID for deterministic
// output.
func (a *Aggregator) ComputeAllModels(ctx context.Context, start, end int64) ([]*AccuracyReport, error) {
	predictions, err := a.predictionStore.GetByTimeRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	a.trackStale(predictions, end)

	byModel := make(map[string][]*domain.PricePrediction)
	for _, p := range predictions {
		byModel[p.ModelID] = append(byModel[p.ModelID], p)
	}

	modelIDs := make([]string, 0, len(byModel))
	for id := range byModel {
		modelIDs = append(modelIDs, id)
	}
	sort.Strings(modelIDs)

	var reports []*AccuracyReport
	for _, id := range modelIDs {
		report := ComputeAccuracy(byModel[id])
		if report.EvaluatedCount == 0 {
			continue
		}
		report.ModelID = id
		reports = append(reports, report)
	}
	return reports, nil
}

// trackStale records predictions due at or before asOfMs that have no outcome.
func (a *Aggregator) trackStale(predictions []*domain.PricePrediction, asOfMs int64) {
	for _, p := range predictions {
		if !p.Evaluated() && p.TargetTimeMs <= asOfMs {
			a.StalePending[p.ModelID]++
		}
	}
}

// GetStalePendingWarnings returns data quality warnings for stale predictions.
// Returns a slice of messages sorted by model_id for deterministic output.
func (a *Aggregator) GetStalePendingWarnings() []string {
	if len(a.StalePending) == 0 {
		return nil
	}

	keys := make([]string, 0, len(a.StalePending))
	for k := range a.StalePending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	warnings := make([]string, len(keys))
	for i, modelID := range keys {
		warnings[i] = fmt.Sprintf("model %s has %d prediction(s) past due without an outcome", modelID, a.StalePending[modelID])
	}
	return warnings
}
