// Package evaluation replays predictors over stored price history. Each
// step re-creates the forecast a live deployment would have made at that
// observation and resolves its outcome from the observations that
// followed, so baselines can be scored before any of them runs live.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
	"btc-feature-lab/internal/idhash"
	"btc-feature-lab/internal/metrics"
	"btc-feature-lab/internal/prediction"
	"btc-feature-lab/internal/storage"
	"btc-feature-lab/internal/timeseries"
)

// Replayer walks a predictor forward through stored history. Results stay
// in memory; a replay never writes to the prediction store, so backtest
// forecasts cannot mix into the live accuracy history.
type Replayer struct {
	observations storage.PriceObservationStore
	features     storage.FeatureStore
	horizonMs    int64
	toleranceMs  int64
	windowSize   int
}

// ReplayerOptions configures a Replayer. Zero values get defaults.
type ReplayerOptions struct {
	ObservationStore storage.PriceObservationStore
	FeatureStore     storage.FeatureStore // optional; nil replays on price history alone

	HorizonMs   int64 // default 15 minutes
	ToleranceMs int64 // default 60 seconds, matching the live tracker

	// WindowSize caps the history handed to the predictor at each step,
	// matching the bounded context the serving path carries. Without the
	// cap a replay would hand late steps more history than production
	// ever sees. Default features.DefaultContextSize.
	WindowSize int
}

// Result holds the output of one replay.
type Result struct {
	ModelID   string
	HorizonMs int64

	Steps         int // observations stepped over
	Forecasts     int // predictions produced
	SkippedWarmup int // steps with too little history for the predictor
	Unresolved    int // forecasts with no observation near their target

	// Stepped range, zero when nothing was stepped.
	StartMs int64
	EndMs   int64

	// Predictions in step order. Unresolved forecasts are included
	// pending, so Accuracy.PendingSkipped mirrors Unresolved.
	Predictions []*domain.PricePrediction

	// Accuracy is nil when no forecast was produced.
	Accuracy *metrics.AccuracyReport
}

// NewReplayer creates a Replayer from options.
func NewReplayer(opts ReplayerOptions) (*Replayer, error) {
	if opts.ObservationStore == nil {
		return nil, errors.New("evaluation: observation store is required")
	}
	if opts.HorizonMs == 0 {
		opts.HorizonMs = prediction.DefaultHorizonMs
	}
	if opts.HorizonMs < 0 {
		return nil, fmt.Errorf("evaluation: horizon must be positive, got %dms", opts.HorizonMs)
	}
	if opts.ToleranceMs == 0 {
		opts.ToleranceMs = prediction.DefaultToleranceMs
	}
	if opts.ToleranceMs < 0 || opts.ToleranceMs >= opts.HorizonMs {
		return nil, fmt.Errorf("evaluation: tolerance %dms must be positive and below the horizon %dms",
			opts.ToleranceMs, opts.HorizonMs)
	}
	if opts.WindowSize == 0 {
		opts.WindowSize = features.DefaultContextSize
	}
	if opts.WindowSize < 0 {
		return nil, fmt.Errorf("evaluation: window size must be positive, got %d", opts.WindowSize)
	}

	return &Replayer{
		observations: opts.ObservationStore,
		features:     opts.FeatureStore,
		horizonMs:    opts.HorizonMs,
		toleranceMs:  opts.ToleranceMs,
		windowSize:   opts.WindowSize,
	}, nil
}

// Run replays the predictor over observations in [startMs, endMs]. The
// window warms up from startMs, exactly as a fresh deployment would, and
// outcome lookups read past endMs so forecasts near the end of the range
// still resolve.
func (r *Replayer) Run(ctx context.Context, p prediction.Predictor, startMs, endMs int64) (*Result, error) {
	loadEnd := endMs
	if loadEnd <= math.MaxInt64-r.horizonMs-r.toleranceMs {
		loadEnd += r.horizonMs + r.toleranceMs
	}

	series, err := r.observations.GetByTimeRange(ctx, startMs, loadEnd)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	rows, err := r.loadRows(ctx, startMs, endMs)
	if err != nil {
		return nil, err
	}
	return r.replay(ctx, p, series, rows, endMs)
}

// RunAll replays the predictor over the full stored history.
func (r *Replayer) RunAll(ctx context.Context, p prediction.Predictor) (*Result, error) {
	series, err := r.observations.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	rows, err := r.loadRows(ctx, 0, math.MaxInt64)
	if err != nil {
		return nil, err
	}
	return r.replay(ctx, p, series, rows, math.MaxInt64)
}

// Compare replays each predictor over the same range and returns results
// in caller order, so baselines are scored against identical history.
func (r *Replayer) Compare(ctx context.Context, predictors []prediction.Predictor, startMs, endMs int64) ([]*Result, error) {
	results := make([]*Result, 0, len(predictors))
	for _, p := range predictors {
		res, err := r.Run(ctx, p, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", p.ID(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// replay steps the predictor over series up to stepEndMs inclusive.
// Outcome resolution searches the whole series, which may extend past
// stepEndMs.
func (r *Replayer) replay(ctx context.Context, p prediction.Predictor, series []*domain.PriceObservation, rowByTs map[int64]*domain.EnrichedFeatureRow, stepEndMs int64) (*Result, error) {
	if err := timeseries.ValidateOrdering(series); err != nil {
		return nil, fmt.Errorf("replay history: %w", err)
	}

	result := &Result{ModelID: p.ID(), HorizonMs: r.horizonMs}

	for i, obs := range series {
		if obs.TimestampMs > stepEndMs {
			break
		}
		if result.Steps == 0 {
			result.StartMs = obs.TimestampMs
		}
		result.Steps++
		result.EndMs = obs.TimestampMs

		lo := 0
		if i+1 > r.windowSize {
			lo = i + 1 - r.windowSize
		}
		input := &prediction.PredictorInput{
			History:   series[lo : i+1],
			Row:       rowByTs[obs.TimestampMs],
			HorizonMs: r.horizonMs,
		}

		forecast, err := p.Predict(ctx, input)
		if errors.Is(err, prediction.ErrInsufficientHistory) {
			result.SkippedWarmup++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("predict at %d: %w", obs.TimestampMs, err)
		}
		result.Forecasts++

		pred := &domain.PricePrediction{
			PredictionID:   idhash.ComputePredictionID(p.ID(), obs.TimestampMs),
			ModelID:        p.ID(),
			CreatedAtMs:    obs.TimestampMs,
			TargetTimeMs:   obs.TimestampMs + r.horizonMs,
			HorizonMs:      r.horizonMs,
			CurrentPrice:   obs.Price,
			PredictedPrice: forecast.PredictedPrice,
			PredictedTrend: forecast.Trend,
			Confidence:     forecast.Confidence,
		}

		near := sliceAround(series, pred.TargetTimeMs, r.toleranceMs)
		if actual, ok := timeseries.NearestWithin(near, pred.TargetTimeMs, r.toleranceMs); ok {
			prediction.ResolveOutcome(pred, actual, actual.TimestampMs)
		} else {
			result.Unresolved++
		}

		result.Predictions = append(result.Predictions, pred)
	}

	if len(result.Predictions) > 0 {
		result.Accuracy = metrics.ComputeAccuracy(result.Predictions)
	}
	return result, nil
}

// loadRows maps feature rows by timestamp for the stepped range.
func (r *Replayer) loadRows(ctx context.Context, startMs, endMs int64) (map[int64]*domain.EnrichedFeatureRow, error) {
	if r.features == nil {
		return nil, nil
	}
	rows, err := r.features.GetByTimeRange(ctx, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("load feature rows: %w", err)
	}
	byTs := make(map[int64]*domain.EnrichedFeatureRow, len(rows))
	for _, row := range rows {
		byTs[row.TimestampMs] = row
	}
	return byTs, nil
}

// sliceAround narrows series to timestamps within toleranceMs of targetMs
// by binary search, keeping per-step resolution cheap over long histories.
func sliceAround(series []*domain.PriceObservation, targetMs, toleranceMs int64) []*domain.PriceObservation {
	lo := sort.Search(len(series), func(i int) bool {
		return series[i].TimestampMs >= targetMs-toleranceMs
	})
	hi := sort.Search(len(series), func(i int) bool {
		return series[i].TimestampMs > targetMs+toleranceMs
	})
	return series[lo:hi]
}
