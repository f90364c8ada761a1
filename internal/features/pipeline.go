package features

import (
	"fmt"
	"time"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/timeseries"
)

// Pipeline converts raw price observations into enriched feature rows, one
// row per observation, in strict timestamp order. It owns all window and
// recurrence state; batch and streaming enrichment run through the same
// per-observation step, so the two paths cannot diverge. Not safe for
// concurrent use: rolling state depends on sequential-by-timestamp
// processing, see ENRICHMENT_PROTOCOL.md.
type Pipeline struct {
	cfg        Config
	normalizer *Normalizer
	engine     *indicatorEngine

	context []*domain.PriceObservation
	count   int64
	lastTs  int64
}

// NewPipeline creates a cold pipeline with no history.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:        cfg,
		normalizer: NewNormalizer(),
		engine:     &indicatorEngine{},
	}, nil
}

// RestorePipeline resumes from a state snapshot. Settings echoed in the
// snapshot (context size, lag tolerance, timezone) take precedence so the
// resumed pipeline emits the same rows the original would have; a config
// that explicitly conflicts with the snapshot is rejected. Only Strict is
// taken from cfg unconditionally.
func RestorePipeline(cfg Config, state *PipelineState) (*Pipeline, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrCorruptState)
	}
	if err := state.validate(); err != nil {
		return nil, err
	}
	if cfg.ContextSize != 0 && cfg.ContextSize != state.ContextSize {
		return nil, fmt.Errorf("%w: context size %d conflicts with snapshot %d",
			ErrInvalidConfig, cfg.ContextSize, state.ContextSize)
	}
	if cfg.LagToleranceMs != 0 && cfg.LagToleranceMs != state.LagToleranceMs {
		return nil, fmt.Errorf("%w: lag tolerance %d conflicts with snapshot %d",
			ErrInvalidConfig, cfg.LagToleranceMs, state.LagToleranceMs)
	}
	if cfg.Timezone != nil && cfg.Timezone.String() != state.Timezone {
		return nil, fmt.Errorf("%w: timezone %s conflicts with snapshot %s",
			ErrInvalidConfig, cfg.Timezone, state.Timezone)
	}

	loc, err := time.LoadLocation(state.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrCorruptState, state.Timezone, err)
	}

	restored := Config{
		LagToleranceMs: state.LagToleranceMs,
		ContextSize:    state.ContextSize,
		Timezone:       loc,
		Strict:         cfg.Strict,
	}
	if err := restored.validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:        restored,
		normalizer: NewNormalizer(),
		engine:     engineFromState(state),
		context:    state.contextObservations(),
		count:      state.ObservationCount,
		lastTs:     state.LastTimestampMs,
	}
	if params := state.normalizationParameters(); params != nil {
		p.normalizer.SetPriceParameters(params)
	}
	return p, nil
}

// SetPriceParameters applies fitted normalization parameters for all
// subsequent rows. Parameters are read once at pipeline start and never
// mutated mid-run by the pipeline itself.
func (p *Pipeline) SetPriceParameters(params *domain.NormalizationParameters) {
	p.normalizer.SetPriceParameters(params)
}

// Count returns the number of observations consumed so far.
func (p *Pipeline) Count() int64 {
	return p.count
}

// LastTimestampMs returns the timestamp of the last consumed observation,
// 0 when cold.
func (p *Pipeline) LastTimestampMs() int64 {
	return p.lastTs
}

// EnrichOne consumes a single observation and emits its feature row. The
// streaming entry point. In strict mode it fails with
// ErrInsufficientHistory while the row would still carry warm-up nulls;
// by default incompleteness is represented in the row, not rejected.
func (p *Pipeline) EnrichOne(obs *domain.PriceObservation) (*domain.EnrichedFeatureRow, error) {
	if obs == nil {
		return nil, fmt.Errorf("enrich: nil observation")
	}
	if err := p.checkOrder(obs.TimestampMs); err != nil {
		return nil, err
	}
	if p.cfg.Strict && p.count+1 < WarmupObservations {
		return nil, fmt.Errorf("%w: need %d observations, have %d",
			ErrInsufficientHistory, WarmupObservations, p.count+1)
	}
	return p.step(obs), nil
}

// EnrichBatch consumes observations in timestamp order and emits one row
// per observation. The whole batch is validated before any state mutation:
// an ordering violation rejects the batch with no rows emitted and no
// observations consumed. In strict mode the batch is rejected when even
// its final row would carry warm-up nulls.
func (p *Pipeline) EnrichBatch(obs []*domain.PriceObservation) ([]*domain.EnrichedFeatureRow, error) {
	if len(obs) == 0 {
		return nil, nil
	}
	if err := timeseries.ValidateOrdering(obs); err != nil {
		return nil, err
	}
	if err := p.checkOrder(obs[0].TimestampMs); err != nil {
		return nil, err
	}
	if p.cfg.Strict && p.count+int64(len(obs)) < WarmupObservations {
		return nil, fmt.Errorf("%w: need %d observations, batch ends at %d",
			ErrInsufficientHistory, WarmupObservations, p.count+int64(len(obs)))
	}

	rows := make([]*domain.EnrichedFeatureRow, len(obs))
	for i, o := range obs {
		rows[i] = p.step(o)
	}
	return rows, nil
}

// State returns a versioned deep-copy snapshot of all pipeline state.
// Restoring it and continuing produces the same rows as never stopping.
func (p *Pipeline) State() *PipelineState {
	s := &PipelineState{
		Version:          StateVersion,
		ObservationCount: p.count,
		LastTimestampMs:  p.lastTs,
		ContextSize:      p.cfg.ContextSize,
		LagToleranceMs:   p.cfg.LagToleranceMs,
		Timezone:         p.cfg.Timezone.String(),
		Context:          make([]StatePoint, len(p.context)),
	}
	for i, o := range p.context {
		s.Context[i] = StatePoint{TimestampMs: o.TimestampMs, Price: o.Price, Source: o.Source}
	}
	p.engine.toState(s)
	if params := p.normalizer.PriceParameters(); params != nil {
		s.PriceParams = &NormalizationState{
			FeatureName: params.FeatureName,
			Min:         params.Min,
			Max:         params.Max,
			FittedAtMs:  params.FittedAtMs,
			CorpusSize:  params.CorpusSize,
		}
	}
	return s
}

// checkOrder enforces strictly increasing timestamps against prior state.
func (p *Pipeline) checkOrder(ts int64) error {
	if p.count == 0 {
		return nil
	}
	if ts < p.lastTs {
		return fmt.Errorf("%w: %d precedes %d", timeseries.ErrOutOfOrder, ts, p.lastTs)
	}
	if ts == p.lastTs {
		return fmt.Errorf("%w: %d", timeseries.ErrDuplicateTimestamp, ts)
	}
	return nil
}

// step consumes one observation and emits its row. Ordering must already
// be validated by the caller.
func (p *Pipeline) step(obs *domain.PriceObservation) *domain.EnrichedFeatureRow {
	rowIndex := p.count

	p.context = append(p.context, obs)
	if len(p.context) > p.cfg.ContextSize {
		trimmed := make([]*domain.PriceObservation, p.cfg.ContextSize)
		copy(trimmed, p.context[len(p.context)-p.cfg.ContextSize:])
		p.context = trimmed
	}
	p.count++
	p.lastTs = obs.TimestampMs

	prices := make([]float64, len(p.context))
	for i, o := range p.context {
		prices[i] = o.Price
	}

	temporal := ExtractTemporal(obs.TimestampMs, p.cfg.Timezone)
	lags := ExtractLags(p.context, obs.TimestampMs, p.cfg.LagToleranceMs)
	rolling := ExtractRolling(prices)
	indicators := p.engine.update(prices, rowIndex)
	changes := ExtractChanges(obs.Price, lags, rolling.Std30)

	return &domain.EnrichedFeatureRow{
		TimestampMs: obs.TimestampMs,
		Price:       obs.Price,
		Source:      obs.Source,

		MinuteOfHour: temporal.MinuteOfHour,
		HourOfDay:    temporal.HourOfDay,
		DayOfWeek:    temporal.DayOfWeek,
		WeekOfYear:   temporal.WeekOfYear,

		PriceLag1Min:  lags.Lag1,
		PriceLag5Min:  lags.Lag5,
		PriceLag15Min: lags.Lag15,
		PriceLag30Min: lags.Lag30,
		PriceLag60Min: lags.Lag60,

		RollingMean5Min:  rolling.Mean5,
		RollingMean15Min: rolling.Mean15,
		RollingMean30Min: rolling.Mean30,
		RollingMean60Min: rolling.Mean60,
		RollingStd5Min:   rolling.Std5,
		RollingStd15Min:  rolling.Std15,
		RollingStd30Min:  rolling.Std30,
		RollingStd60Min:  rolling.Std60,
		RollingMin30Min:  rolling.Min30,
		RollingMax30Min:  rolling.Max30,

		RSI14:         indicators.RSI14,
		MACDLine:      indicators.MACDLine,
		MACDSignal:    indicators.MACDSignal,
		MACDHistogram: indicators.MACDHistogram,
		BBUpper:       indicators.BBUpper,
		BBMiddle:      indicators.BBMiddle,
		BBLower:       indicators.BBLower,
		BBWidth:       indicators.BBWidth,
		BBPosition:    indicators.BBPosition,
		ATR14:         indicators.ATR14,
		StochK:        indicators.StochK,
		StochD:        indicators.StochD,

		PriceChange1Min:     changes.Change1,
		PriceChange5Min:     changes.Change5,
		PriceChange15Min:    changes.Change15,
		PriceChangePct1Min:  changes.ChangePct1,
		PriceChangePct5Min:  changes.ChangePct5,
		PriceChangePct15Min: changes.ChangePct15,
		Volatility30Min:     changes.Volatility30,
		Momentum5Min:        changes.Momentum5,
		Momentum15Min:       changes.Momentum15,
		Momentum30Min:       changes.Momentum30,

		PriceNormalized:  p.normalizer.NormalizePrice(obs.Price),
		VolumeNormalized: floatPtr(0),
	}
}
