package features

import (
	"errors"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/timeseries"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error building pipeline: %v", err)
	}
	return p
}

// randomWalk builds n observations at exact 1-minute spacing following a
// seeded walk, so equivalence tests cover moving prices deterministically.
func randomWalk(seed int64, n int) []*domain.PriceObservation {
	rng := rand.New(rand.NewSource(seed))
	obs := make([]*domain.PriceObservation, n)
	price := 50_000.0
	for i := range obs {
		price += (rng.Float64() - 0.5) * 200
		obs[i] = &domain.PriceObservation{
			TimestampMs: int64(i) * 60_000,
			Price:       price,
			Source:      "test",
		}
	}
	return obs
}

func floatPtrClose(a, b *float64, tol float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	diff := math.Abs(*a - *b)
	if diff == 0 {
		return true
	}
	scale := math.Max(math.Abs(*a), math.Abs(*b))
	if scale < 1 {
		scale = 1
	}
	return diff/scale <= tol
}

func fmtPtr(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// assertRowsEqual compares every derived column of two rows within a
// relative tolerance.
func assertRowsEqual(t *testing.T, label string, want, got *domain.EnrichedFeatureRow, tol float64) {
	t.Helper()
	if want.TimestampMs != got.TimestampMs {
		t.Errorf("%s: timestamp %d != %d", label, got.TimestampMs, want.TimestampMs)
		return
	}
	if want.MinuteOfHour != got.MinuteOfHour || want.HourOfDay != got.HourOfDay ||
		want.DayOfWeek != got.DayOfWeek || want.WeekOfYear != got.WeekOfYear {
		t.Errorf("%s: temporal fields diverge", label)
	}
	gotVals := NullableValues(got)
	for name, wv := range NullableValues(want) {
		if !floatPtrClose(wv, gotVals[name], tol) {
			t.Errorf("%s: column %s diverges: want %s, got %s",
				label, name, fmtPtr(wv), fmtPtr(gotVals[name]))
		}
	}
}

func TestEnrichBatch_FiveObservations(t *testing.T) {
	p := newTestPipeline(t)
	obs := minuteSeries(0, []float64{100, 102, 101, 105, 103})

	rows, err := p.EnrichBatch(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}

	last := rows[4]
	if last.PriceLag1Min == nil || *last.PriceLag1Min != 105 {
		t.Errorf("expected lag1 105 at final row, got %v", last.PriceLag1Min)
	}
	if last.RollingMean5Min == nil || math.Abs(*last.RollingMean5Min-102.2) > 1e-9 {
		t.Errorf("expected rolling mean 102.2, got %v", last.RollingMean5Min)
	}
	if last.RollingStd5Min == nil || math.Abs(*last.RollingStd5Min-math.Sqrt(3.7)) > 1e-9 {
		t.Errorf("expected rolling std sqrt(3.7), got %v", last.RollingStd5Min)
	}
	// price_change_1min = 103 - 105
	if last.PriceChange1Min == nil || math.Abs(*last.PriceChange1Min-(-2)) > 1e-9 {
		t.Errorf("expected change1 -2, got %v", last.PriceChange1Min)
	}
	if last.PriceChangePct1Min == nil || math.Abs(*last.PriceChangePct1Min-(-2.0/105.0)) > 1e-9 {
		t.Errorf("expected pct1 %f, got %v", -2.0/105.0, last.PriceChangePct1Min)
	}
}

func TestEnrichBatch_SingleObservation(t *testing.T) {
	p := newTestPipeline(t)
	// 2024-01-01T00:05:00Z
	obs := []*domain.PriceObservation{{TimestampMs: 1704067500000, Price: 42_000, Source: "test"}}

	rows, err := p.EnrichBatch(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	row := rows[0]
	if row.MinuteOfHour != 5 || row.HourOfDay != 0 || row.DayOfWeek != 0 {
		t.Errorf("expected temporal fields populated, got minute=%d hour=%d dow=%d",
			row.MinuteOfHour, row.HourOfDay, row.DayOfWeek)
	}

	for name, v := range NullableValues(row) {
		if name == "volume_normalized" {
			if v == nil || *v != 0 {
				t.Errorf("expected volume_normalized 0, got %s", fmtPtr(v))
			}
			continue
		}
		if v != nil {
			t.Errorf("expected %s null with single observation, got %f", name, *v)
		}
	}
}

func TestEnrichBatch_Deterministic(t *testing.T) {
	obs := randomWalk(7, 60)

	first, err := newTestPipeline(t).EnrichBatch(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := newTestPipeline(t).EnrichBatch(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range first {
		assertRowsEqual(t, "row "+strconv.Itoa(i), first[i], second[i], 0)
	}
}

func TestEnrichOne_MatchesBatchWithCarriedState(t *testing.T) {
	obs := randomWalk(42, 80)

	batchRows, err := newTestPipeline(t).EnrichBatch(obs)
	if err != nil {
		t.Fatalf("unexpected batch error: %v", err)
	}

	streaming := newTestPipeline(t)
	for i, o := range obs {
		row, err := streaming.EnrichOne(o)
		if err != nil {
			t.Fatalf("unexpected streaming error at %d: %v", i, err)
		}
		assertRowsEqual(t, "row "+strconv.Itoa(i), batchRows[i], row, 1e-9)
	}
}

func TestEnrichBatch_ChunkedMatchesSinglePass(t *testing.T) {
	obs := randomWalk(11, 80)

	whole, err := newTestPipeline(t).EnrichBatch(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chunked := newTestPipeline(t)
	var rows []*domain.EnrichedFeatureRow
	for start := 0; start < len(obs); start += 7 {
		end := start + 7
		if end > len(obs) {
			end = len(obs)
		}
		part, err := chunked.EnrichBatch(obs[start:end])
		if err != nil {
			t.Fatalf("unexpected error on chunk at %d: %v", start, err)
		}
		rows = append(rows, part...)
	}

	if len(rows) != len(whole) {
		t.Fatalf("expected %d rows, got %d", len(whole), len(rows))
	}
	for i := range whole {
		assertRowsEqual(t, "row "+strconv.Itoa(i), whole[i], rows[i], 1e-9)
	}
}

func TestPipeline_ResumeFromSnapshot(t *testing.T) {
	obs := randomWalk(3, 80)

	whole, err := newTestPipeline(t).EnrichBatch(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	interrupted := newTestPipeline(t)
	head, err := interrupted.EnrichBatch(obs[:50])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Serialize the snapshot the way a checkpoint store would
	payload, err := interrupted.State().Marshal()
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	state, err := UnmarshalState(payload)
	if err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	resumed, err := RestorePipeline(Config{}, state)
	if err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}

	tail, err := resumed.EnrichBatch(obs[50:])
	if err != nil {
		t.Fatalf("unexpected error after resume: %v", err)
	}

	rows := append(head, tail...)
	if len(rows) != len(whole) {
		t.Fatalf("expected %d rows, got %d", len(whole), len(rows))
	}
	for i := range whole {
		assertRowsEqual(t, "row "+strconv.Itoa(i), whole[i], rows[i], 1e-9)
	}
}

func TestEnrichBatch_NoLookAhead(t *testing.T) {
	obs := randomWalk(19, 45)

	shorter, err := newTestPipeline(t).EnrichBatch(obs[:44])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	longer, err := newTestPipeline(t).EnrichBatch(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Appending a later observation must not change any earlier row
	for i := range shorter {
		assertRowsEqual(t, "row "+strconv.Itoa(i), shorter[i], longer[i], 0)
	}
}

func TestEnrichBatch_OutOfOrderRejectsWholeBatch(t *testing.T) {
	p := newTestPipeline(t)
	obs := []*domain.PriceObservation{
		{TimestampMs: 0, Price: 100, Source: "test"},
		{TimestampMs: 120_000, Price: 101, Source: "test"},
		{TimestampMs: 60_000, Price: 102, Source: "test"},
	}

	rows, err := p.EnrichBatch(obs)
	if !errors.Is(err, timeseries.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if rows != nil {
		t.Errorf("expected no rows on rejection, got %d", len(rows))
	}
	// No observation may be consumed from a rejected batch
	if p.Count() != 0 {
		t.Errorf("expected no state consumed, got count %d", p.Count())
	}

	// The pipeline stays usable with a valid batch
	if _, err := p.EnrichBatch(minuteSeries(0, []float64{100, 101})); err != nil {
		t.Fatalf("expected pipeline usable after rejection, got %v", err)
	}
}

func TestEnrichBatch_DuplicateTimestampRejected(t *testing.T) {
	p := newTestPipeline(t)
	obs := []*domain.PriceObservation{
		{TimestampMs: 60_000, Price: 100, Source: "test"},
		{TimestampMs: 60_000, Price: 101, Source: "test"},
	}

	_, err := p.EnrichBatch(obs)
	if !errors.Is(err, timeseries.ErrDuplicateTimestamp) {
		t.Fatalf("expected ErrDuplicateTimestamp, got %v", err)
	}
}

func TestEnrichBatch_RegressionAgainstPriorState(t *testing.T) {
	p := newTestPipeline(t)
	if _, err := p.EnrichBatch(minuteSeries(0, []float64{100, 101, 102})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Batch starting before the last consumed timestamp
	_, err := p.EnrichBatch(minuteSeries(60_000, []float64{103, 104}))
	if !errors.Is(err, timeseries.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if p.Count() != 3 {
		t.Errorf("expected count unchanged at 3, got %d", p.Count())
	}
}

func TestEnrichOne_OutOfOrderAgainstPriorState(t *testing.T) {
	p := newTestPipeline(t)
	if _, err := p.EnrichOne(&domain.PriceObservation{TimestampMs: 300_000, Price: 100, Source: "test"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := p.EnrichOne(&domain.PriceObservation{TimestampMs: 180_000, Price: 101, Source: "test"})
	if !errors.Is(err, timeseries.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}

	_, err = p.EnrichOne(&domain.PriceObservation{TimestampMs: 300_000, Price: 101, Source: "test"})
	if !errors.Is(err, timeseries.ErrDuplicateTimestamp) {
		t.Fatalf("expected ErrDuplicateTimestamp, got %v", err)
	}
}

func TestStrictMode_EnrichOneBeforeWarmup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strict = true
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = p.EnrichOne(&domain.PriceObservation{TimestampMs: 0, Price: 100, Source: "test"})
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if p.Count() != 0 {
		t.Errorf("expected no state consumed, got count %d", p.Count())
	}

	// A batch long enough to complete warm-up is accepted
	obs := randomWalk(5, WarmupObservations)
	rows, err := p.EnrichBatch(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != WarmupObservations {
		t.Fatalf("expected %d rows, got %d", WarmupObservations, len(rows))
	}

	// Streaming now produces complete rows
	row, err := p.EnrichOne(&domain.PriceObservation{
		TimestampMs: obs[len(obs)-1].TimestampMs + 60_000,
		Price:       50_000,
		Source:      "test",
	})
	if err != nil {
		t.Fatalf("unexpected error after warm-up: %v", err)
	}
	if row.MACDSignal == nil {
		t.Error("expected complete row after warm-up")
	}
}

func TestStrictMode_ShortBatchRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strict = true
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = p.EnrichBatch(randomWalk(2, 10))
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if p.Count() != 0 {
		t.Errorf("expected no state consumed, got count %d", p.Count())
	}
}

func TestEnrichBatch_ConstantSeries(t *testing.T) {
	p := newTestPipeline(t)
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100
	}

	rows, err := p.EnrichBatch(minuteSeries(0, prices))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := BollingerPeriod - 1; i < len(rows); i++ {
		row := rows[i]
		if row.BBWidth == nil || *row.BBWidth != 0 {
			t.Errorf("row %d: expected zero band width, got %s", i, fmtPtr(row.BBWidth))
		}
		if row.BBPosition != nil {
			t.Errorf("row %d: expected null position on zero width, got %f", i, *row.BBPosition)
		}
	}
	for i := RSIPeriod; i < len(rows); i++ {
		if rows[i].RSI14 == nil || *rows[i].RSI14 != 100 {
			t.Errorf("row %d: expected RSI 100 with zero average loss, got %s", i, fmtPtr(rows[i].RSI14))
		}
	}
	for i, row := range rows {
		if row.StochK != nil || row.StochD != nil {
			t.Errorf("row %d: expected null stochastic on flat series", i)
		}
	}
	// Flat series: deltas present and zero, volatility zero
	last := rows[len(rows)-1]
	if last.PriceChange1Min == nil || *last.PriceChange1Min != 0 {
		t.Errorf("expected change1 0, got %s", fmtPtr(last.PriceChange1Min))
	}
	if last.PriceChangePct1Min == nil || *last.PriceChangePct1Min != 0 {
		t.Errorf("expected pct1 0, got %s", fmtPtr(last.PriceChangePct1Min))
	}
	if last.Volatility30Min == nil || *last.Volatility30Min != 0 {
		t.Errorf("expected volatility 0, got %s", fmtPtr(last.Volatility30Min))
	}
}

func TestPipeline_WarmupBoundaries(t *testing.T) {
	p := newTestPipeline(t)
	prices := make([]float64, 70)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}

	rows, err := p.EnrichBatch(minuteSeries(0, prices))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	firstRow := map[string]int{
		"price_lag_1min":  1,
		"price_lag_5min":  5,
		"price_lag_15min": 15,
		"price_lag_30min": 30,
		"price_lag_60min": 60,

		"rolling_mean_5min":  4,
		"rolling_mean_15min": 14,
		"rolling_mean_30min": 29,
		"rolling_mean_60min": 59,
		"rolling_std_5min":   4,
		"rolling_std_15min":  14,
		"rolling_std_30min":  29,
		"rolling_std_60min":  59,
		"rolling_min_30min":  29,
		"rolling_max_30min":  29,

		"rsi_14":         14,
		"macd_line":      25,
		"macd_signal":    33,
		"macd_histogram": 33,
		"bb_upper":       19,
		"bb_middle":      19,
		"bb_lower":       19,
		"bb_width":       19,
		"bb_position":    19,
		"atr_14":         14,
		"stoch_k":        13,
		"stoch_d":        15,

		"price_change_1min":      1,
		"price_change_5min":      5,
		"price_change_15min":     15,
		"price_change_pct_1min":  1,
		"price_change_pct_5min":  5,
		"price_change_pct_15min": 15,
		"volatility_30min":       29,
		"momentum_5min":          5,
		"momentum_15min":         15,
		"momentum_30min":         30,
	}

	for i, row := range rows {
		vals := NullableValues(row)
		for name, first := range firstRow {
			v := vals[name]
			if i < first && v != nil {
				t.Errorf("row %d: expected %s null before warm-up row %d, got %f", i, name, first, *v)
			}
			if i >= first && v == nil {
				t.Errorf("row %d: expected %s populated from row %d", i, name, first)
			}
		}
	}
}

func TestRestorePipeline_ConflictingConfigRejected(t *testing.T) {
	p := newTestPipeline(t)
	if _, err := p.EnrichBatch(randomWalk(1, 10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := p.State()

	conflicting := Config{ContextSize: 80}
	_, err := RestorePipeline(conflicting, state)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestPipeline_NormalizationApplied(t *testing.T) {
	p := newTestPipeline(t)
	p.SetPriceParameters(&domain.NormalizationParameters{
		FeatureName: domain.NormalizedFeaturePrice,
		Min:         100,
		Max:         200,
	})

	rows, err := p.EnrichBatch(minuteSeries(0, []float64{150, 250}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rows[0].PriceNormalized == nil || math.Abs(*rows[0].PriceNormalized-0.5) > 1e-12 {
		t.Errorf("expected 0.5, got %s", fmtPtr(rows[0].PriceNormalized))
	}
	// Out-of-range prices are not clamped
	if rows[1].PriceNormalized == nil || math.Abs(*rows[1].PriceNormalized-1.5) > 1e-12 {
		t.Errorf("expected 1.5 unclamped, got %s", fmtPtr(rows[1].PriceNormalized))
	}
}
