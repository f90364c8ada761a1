package prediction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/idhash"
	"btc-feature-lab/internal/observability"
	"btc-feature-lab/internal/storage"
	"btc-feature-lab/internal/timeseries"
)

// Tracker defaults
const (
	DefaultToleranceMs = int64(60 * 1000) // actual = observation within +-60s of target
	DefaultRetention   = 90 * 24 * time.Hour
)

// Tracker records predictions and resolves their outcomes once the
// target time has passed.
type Tracker struct {
	predictions  storage.PredictionStore
	observations storage.PriceObservationStore
	horizonMs    int64
	toleranceMs  int64
	retention    time.Duration
	logger       *log.Logger
	now          func() time.Time
}

// TrackerOptions configures a Tracker. Zero values get defaults.
type TrackerOptions struct {
	PredictionStore  storage.PredictionStore
	ObservationStore storage.PriceObservationStore
	HorizonMs        int64         // default 15 minutes
	ToleranceMs      int64         // default 60 seconds
	Retention        time.Duration // default 90 days
	Logger           *log.Logger
	Clock            func() time.Time
}

// NewTracker creates a Tracker from options.
func NewTracker(opts TrackerOptions) (*Tracker, error) {
	if opts.PredictionStore == nil {
		return nil, errors.New("prediction: prediction store is required")
	}
	if opts.ObservationStore == nil {
		return nil, errors.New("prediction: observation store is required")
	}
	if opts.HorizonMs == 0 {
		opts.HorizonMs = DefaultHorizonMs
	}
	if opts.ToleranceMs == 0 {
		opts.ToleranceMs = DefaultToleranceMs
	}
	if opts.Retention == 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[prediction] ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Tracker{
		predictions:  opts.PredictionStore,
		observations: opts.ObservationStore,
		horizonMs:    opts.HorizonMs,
		toleranceMs:  opts.ToleranceMs,
		retention:    opts.Retention,
		logger:       opts.Logger,
		now:          opts.Clock,
	}, nil
}

// HorizonMs returns the horizon recorded predictions target.
func (t *Tracker) HorizonMs() int64 {
	return t.horizonMs
}

// Record stores a forecast made now. The prediction ID derives from
// (model, created_at), so recording the same model twice in the same
// millisecond returns the already-stored prediction.
func (t *Tracker) Record(ctx context.Context, modelID string, currentPrice float64, f *Forecast) (*domain.PricePrediction, error) {
	createdAt := t.now().UnixMilli()

	p := &domain.PricePrediction{
		PredictionID:   idhash.ComputePredictionID(modelID, createdAt),
		ModelID:        modelID,
		CreatedAtMs:    createdAt,
		TargetTimeMs:   createdAt + t.horizonMs,
		HorizonMs:      t.horizonMs,
		CurrentPrice:   currentPrice,
		PredictedPrice: f.PredictedPrice,
		PredictedTrend: f.Trend,
		Confidence:     f.Confidence,
	}

	err := t.predictions.Insert(ctx, p)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return t.predictions.GetByID(ctx, p.PredictionID)
	}
	if err != nil {
		return nil, fmt.Errorf("store prediction: %w", err)
	}

	observability.RecordPredictionMade(modelID)
	t.logger.Printf("Prediction recorded: model=%s predicted=%.2f trend=%s target=%d",
		modelID, f.PredictedPrice, f.Trend, p.TargetTimeMs)

	return p, nil
}

// ResolveDue evaluates pending predictions whose target time has passed,
// using the observation nearest the target within the tolerance. A
// prediction with no observation near its target stays pending; a
// collection gap longer than the tolerance leaves it for the stale
// warnings, not a guessed outcome.
func (t *Tracker) ResolveDue(ctx context.Context) (int, error) {
	nowMs := t.now().UnixMilli()

	pending, err := t.predictions.GetPendingDue(ctx, nowMs)
	if err != nil {
		return 0, fmt.Errorf("load due predictions: %w", err)
	}

	resolved := 0
	for _, p := range pending {
		obs, err := t.observations.GetByTimeRange(ctx, p.TargetTimeMs-t.toleranceMs, p.TargetTimeMs+t.toleranceMs)
		if err != nil {
			return resolved, fmt.Errorf("load observations near target %d: %w", p.TargetTimeMs, err)
		}

		actual, ok := timeseries.NearestWithin(obs, p.TargetTimeMs, t.toleranceMs)
		if !ok {
			continue
		}

		ResolveOutcome(p, actual, nowMs)

		if err := t.predictions.UpdateEvaluation(ctx, p); err != nil {
			// A concurrent resolver won the race, not an error.
			if errors.Is(err, storage.ErrAlreadyEvaluated) {
				continue
			}
			return resolved, fmt.Errorf("record evaluation %s: %w", p.PredictionID, err)
		}

		observability.RecordPredictionEvaluated(p.ModelID, p.Correct(), *p.AbsError)
		resolved++
	}

	if resolved > 0 {
		t.logger.Printf("Resolved %d predictions", resolved)
	}
	return resolved, nil
}

// ResolveOutcome fills a prediction's outcome fields from the observation
// nearest its target. Only a strict price increase counts as an UP outcome,
// matching the trend convention of the predictors. Shared by the live
// tracker and the walk-forward replayer.
func ResolveOutcome(p *domain.PricePrediction, actual *domain.PriceObservation, evaluatedAtMs int64) {
	price := actual.Price
	trend := domain.TrendDown
	if price > p.CurrentPrice {
		trend = domain.TrendUp
	}

	absErr := math.Abs(p.PredictedPrice - price)
	var pctErr float64
	if price != 0 {
		pctErr = absErr / price
	}

	p.ActualPrice = &price
	p.ActualTrend = &trend
	p.AbsError = &absErr
	p.PctError = &pctErr
	p.EvaluatedAt = &evaluatedAtMs
}

// Prune removes predictions created before the retention window.
func (t *Tracker) Prune(ctx context.Context) (int64, error) {
	cutoffMs := t.now().Add(-t.retention).UnixMilli()

	removed, err := t.predictions.DeleteOlderThan(ctx, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("prune predictions: %w", err)
	}
	if removed > 0 {
		t.logger.Printf("Pruned %d predictions older than %s", removed, t.retention)
	}
	return removed, nil
}
