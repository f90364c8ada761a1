package prediction

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/idhash"
	"btc-feature-lab/internal/storage/memory"
)

const trackerStartMs = int64(1_700_000_000_000)

func trackerLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", log.LstdFlags)
}

// testClock is a settable clock for deterministic tracker tests.
type testClock struct {
	ms int64
}

func (c *testClock) Now() time.Time {
	return time.UnixMilli(c.ms)
}

func newTestTracker(t *testing.T, clock *testClock) (*Tracker, *memory.PredictionStore, *memory.PriceObservationStore) {
	t.Helper()
	predStore := memory.NewPredictionStore()
	obsStore := memory.NewPriceObservationStore()

	tracker, err := NewTracker(TrackerOptions{
		PredictionStore:  predStore,
		ObservationStore: obsStore,
		Logger:           trackerLogger(),
		Clock:            clock.Now,
	})
	require.NoError(t, err)
	return tracker, predStore, obsStore
}

func TestNewTracker_Validation(t *testing.T) {
	_, err := NewTracker(TrackerOptions{ObservationStore: memory.NewPriceObservationStore()})
	assert.Error(t, err)

	_, err = NewTracker(TrackerOptions{PredictionStore: memory.NewPredictionStore()})
	assert.Error(t, err)

	tracker, err := NewTracker(TrackerOptions{
		PredictionStore:  memory.NewPredictionStore(),
		ObservationStore: memory.NewPriceObservationStore(),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultHorizonMs, tracker.HorizonMs())
	assert.Equal(t, DefaultToleranceMs, tracker.toleranceMs)
	assert.Equal(t, DefaultRetention, tracker.retention)
}

func TestTracker_Record(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{ms: trackerStartMs}
	tracker, predStore, _ := newTestTracker(t, clock)

	forecast := &Forecast{PredictedPrice: 50750, Trend: domain.TrendUp, Confidence: 0.8}

	p, err := tracker.Record(ctx, "NAIVE", 50500, forecast)
	require.NoError(t, err)

	assert.Equal(t, idhash.ComputePredictionID("NAIVE", trackerStartMs), p.PredictionID)
	assert.Equal(t, "NAIVE", p.ModelID)
	assert.Equal(t, trackerStartMs, p.CreatedAtMs)
	assert.Equal(t, trackerStartMs+DefaultHorizonMs, p.TargetTimeMs)
	assert.Equal(t, DefaultHorizonMs, p.HorizonMs)
	assert.Equal(t, 50500.0, p.CurrentPrice)
	assert.Equal(t, 50750.0, p.PredictedPrice)
	assert.Equal(t, domain.TrendUp, p.PredictedTrend)
	assert.Equal(t, 0.8, p.Confidence)
	assert.False(t, p.Evaluated())

	stored, err := predStore.GetByID(ctx, p.PredictionID)
	require.NoError(t, err)
	assert.Equal(t, p.PredictedPrice, stored.PredictedPrice)
}

func TestTracker_RecordSameInstantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{ms: trackerStartMs}
	tracker, predStore, _ := newTestTracker(t, clock)

	first, err := tracker.Record(ctx, "NAIVE", 50500, &Forecast{PredictedPrice: 50750, Trend: domain.TrendUp, Confidence: 0.8})
	require.NoError(t, err)

	// Clock has not advanced, the stored prediction wins
	second, err := tracker.Record(ctx, "NAIVE", 50600, &Forecast{PredictedPrice: 99999, Trend: domain.TrendDown, Confidence: 0.1})
	require.NoError(t, err)

	assert.Equal(t, first.PredictionID, second.PredictionID)
	assert.Equal(t, 50750.0, second.PredictedPrice, "first insert wins")

	all, err := predStore.GetByTimeRange(ctx, 0, trackerStartMs+1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTracker_RecordDistinctModelsSameInstant(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{ms: trackerStartMs}
	tracker, predStore, _ := newTestTracker(t, clock)

	_, err := tracker.Record(ctx, "NAIVE", 50500, &Forecast{PredictedPrice: 50500, Trend: domain.TrendDown, Confidence: 0.5})
	require.NoError(t, err)
	_, err = tracker.Record(ctx, "MOMENTUM_12_damp80", 50500, &Forecast{PredictedPrice: 50800, Trend: domain.TrendUp, Confidence: 0.9})
	require.NoError(t, err)

	all, err := predStore.GetByTimeRange(ctx, 0, trackerStartMs+1)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTracker_ResolveDue(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{ms: trackerStartMs}
	tracker, predStore, obsStore := newTestTracker(t, clock)

	p, err := tracker.Record(ctx, "NAIVE", 50500, &Forecast{PredictedPrice: 50500, Trend: domain.TrendUp, Confidence: 0.5})
	require.NoError(t, err)

	// Observations straddling the target; 10s after is nearer than 30s before
	require.NoError(t, obsStore.Insert(ctx, &domain.PriceObservation{
		TimestampMs: p.TargetTimeMs - 30_000, Price: 50900, Source: domain.SourceBinance,
	}))
	require.NoError(t, obsStore.Insert(ctx, &domain.PriceObservation{
		TimestampMs: p.TargetTimeMs + 10_000, Price: 51000, Source: domain.SourceBinance,
	}))

	clock.ms = p.TargetTimeMs + 20_000

	resolved, err := tracker.ResolveDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := predStore.GetByID(ctx, p.PredictionID)
	require.NoError(t, err)
	require.True(t, got.Evaluated())
	assert.Equal(t, 51000.0, *got.ActualPrice, "nearest observation to target")
	assert.Equal(t, domain.TrendUp, *got.ActualTrend)
	assert.InDelta(t, 500.0, *got.AbsError, 1e-9)
	assert.InDelta(t, 500.0/51000.0, *got.PctError, 1e-9)
	assert.Equal(t, clock.ms, *got.EvaluatedAt)
	assert.True(t, got.Correct())
}

func TestTracker_ResolveDueNotYetDue(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{ms: trackerStartMs}
	tracker, predStore, _ := newTestTracker(t, clock)

	p, err := tracker.Record(ctx, "NAIVE", 50500, &Forecast{PredictedPrice: 50500, Trend: domain.TrendDown, Confidence: 0.5})
	require.NoError(t, err)

	clock.ms = p.TargetTimeMs - 1

	resolved, err := tracker.ResolveDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)

	got, err := predStore.GetByID(ctx, p.PredictionID)
	require.NoError(t, err)
	assert.False(t, got.Evaluated())
}

func TestTracker_ResolveDueNoObservationNearTarget(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{ms: trackerStartMs}
	tracker, predStore, obsStore := newTestTracker(t, clock)

	p, err := tracker.Record(ctx, "NAIVE", 50500, &Forecast{PredictedPrice: 50500, Trend: domain.TrendDown, Confidence: 0.5})
	require.NoError(t, err)

	// Collection gap: nearest observation is well outside the tolerance
	require.NoError(t, obsStore.Insert(ctx, &domain.PriceObservation{
		TimestampMs: p.TargetTimeMs + 5*60_000, Price: 51000, Source: domain.SourceBinance,
	}))

	clock.ms = p.TargetTimeMs + 10*60_000

	resolved, err := tracker.ResolveDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved, "gap leaves the prediction pending")

	got, err := predStore.GetByID(ctx, p.PredictionID)
	require.NoError(t, err)
	assert.False(t, got.Evaluated())
}

func TestTracker_ResolveDueDownTrendCorrect(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{ms: trackerStartMs}
	tracker, predStore, obsStore := newTestTracker(t, clock)

	p, err := tracker.Record(ctx, "MEAN_REVERSION_30_rate50", 50500, &Forecast{PredictedPrice: 50200, Trend: domain.TrendDown, Confidence: 0.7})
	require.NoError(t, err)

	// Actual lands exactly at current price: not above, so DOWN
	require.NoError(t, obsStore.Insert(ctx, &domain.PriceObservation{
		TimestampMs: p.TargetTimeMs, Price: 50500, Source: domain.SourceBinance,
	}))

	clock.ms = p.TargetTimeMs + 1

	resolved, err := tracker.ResolveDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := predStore.GetByID(ctx, p.PredictionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendDown, *got.ActualTrend)
	assert.True(t, got.Correct())
}

func TestTracker_ResolveDueSecondPassSkipsEvaluated(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{ms: trackerStartMs}
	tracker, _, obsStore := newTestTracker(t, clock)

	p, err := tracker.Record(ctx, "NAIVE", 50500, &Forecast{PredictedPrice: 50500, Trend: domain.TrendUp, Confidence: 0.5})
	require.NoError(t, err)

	require.NoError(t, obsStore.Insert(ctx, &domain.PriceObservation{
		TimestampMs: p.TargetTimeMs, Price: 50600, Source: domain.SourceBinance,
	}))

	clock.ms = p.TargetTimeMs + 1

	resolved, err := tracker.ResolveDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	resolved, err = tracker.ResolveDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved, "already-evaluated predictions are not due")
}

func TestTracker_Prune(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{ms: trackerStartMs}
	tracker, predStore, _ := newTestTracker(t, clock)

	old, err := tracker.Record(ctx, "NAIVE", 50500, &Forecast{PredictedPrice: 50500, Trend: domain.TrendUp, Confidence: 0.5})
	require.NoError(t, err)

	clock.ms = trackerStartMs + 60_000
	recent, err := tracker.Record(ctx, "NAIVE", 50600, &Forecast{PredictedPrice: 50600, Trend: domain.TrendUp, Confidence: 0.5})
	require.NoError(t, err)

	// 90 days after the first prediction plus a minute
	clock.ms = trackerStartMs + 90*24*3600*1000 + 60_000

	removed, err := tracker.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = predStore.GetByID(ctx, old.PredictionID)
	assert.Error(t, err, "old prediction removed")

	_, err = predStore.GetByID(ctx, recent.PredictionID)
	assert.NoError(t, err, "recent prediction retained")
}
