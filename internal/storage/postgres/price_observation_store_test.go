package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

func TestPriceObservationStore_InsertAndGetAll(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	obs := &domain.PriceObservation{
		TimestampMs: 1700000000000,
		Price:       42123.45,
		Source:      domain.SourceBinance,
	}

	err := store.Insert(ctx, obs)
	require.NoError(t, err)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)

	assert.Len(t, all, 1)
	assert.Equal(t, obs.TimestampMs, all[0].TimestampMs)
	assert.InDelta(t, obs.Price, all[0].Price, 0.0001)
	assert.Equal(t, obs.Source, all[0].Source)
}

func TestPriceObservationStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	obs := &domain.PriceObservation{
		TimestampMs: 1700000000000,
		Price:       42123.45,
		Source:      domain.SourceBinance,
	}

	// First insert should succeed
	err := store.Insert(ctx, obs)
	require.NoError(t, err)

	// Second insert with same timestamp_ms should fail
	err = store.Insert(ctx, obs)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestPriceObservationStore_InsertBulkAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	firstBatch := []*domain.PriceObservation{
		{TimestampMs: 1000, Price: 100.0, Source: domain.SourceBinance},
		{TimestampMs: 2000, Price: 102.0, Source: domain.SourceBinance},
	}

	err := store.InsertBulk(ctx, firstBatch)
	require.NoError(t, err)

	// Second batch collides on timestamp 2000 - should fail entirely
	secondBatch := []*domain.PriceObservation{
		{TimestampMs: 3000, Price: 103.0, Source: domain.SourceBinance},
		{TimestampMs: 2000, Price: 102.0, Source: domain.SourceBinance}, // duplicate!
	}

	err = store.InsertBulk(ctx, secondBatch)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Should still have only the first batch (atomic rollback)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestPriceObservationStore_InsertBulkEmpty(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	// Empty bulk should succeed (no-op)
	err := store.InsertBulk(ctx, []*domain.PriceObservation{})
	require.NoError(t, err)
}

func TestPriceObservationStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	obs := []*domain.PriceObservation{
		{TimestampMs: 1000, Price: 100.0, Source: domain.SourceBinance},
		{TimestampMs: 2000, Price: 102.0, Source: domain.SourceBinance},
		{TimestampMs: 3000, Price: 101.0, Source: domain.SourceBinance},
		{TimestampMs: 4000, Price: 105.0, Source: domain.SourceBinance},
	}

	err := store.InsertBulk(ctx, obs)
	require.NoError(t, err)

	// [2000, 3000] should return 2 observations (inclusive)
	result, err := store.GetByTimeRange(ctx, 2000, 3000)
	require.NoError(t, err)

	assert.Len(t, result, 2)
	assert.Equal(t, int64(2000), result[0].TimestampMs)
	assert.Equal(t, int64(3000), result[1].TimestampMs)
}

func TestPriceObservationStore_GetLatestOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	// Insert out of order
	obs := []*domain.PriceObservation{
		{TimestampMs: 3000, Price: 101.0, Source: domain.SourceBinance},
		{TimestampMs: 1000, Price: 100.0, Source: domain.SourceBinance},
		{TimestampMs: 4000, Price: 105.0, Source: domain.SourceBinance},
		{TimestampMs: 2000, Price: 102.0, Source: domain.SourceBinance},
	}

	for _, o := range obs {
		err := store.Insert(ctx, o)
		require.NoError(t, err)
	}

	// Latest 2 should be [3000, 4000] in ASC order
	result, err := store.GetLatest(ctx, 2)
	require.NoError(t, err)

	assert.Len(t, result, 2)
	assert.Equal(t, int64(3000), result[0].TimestampMs)
	assert.Equal(t, int64(4000), result[1].TimestampMs)
}

func TestPriceObservationStore_GetLatestFewerThanRequested(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	err := store.Insert(ctx, &domain.PriceObservation{
		TimestampMs: 1000, Price: 100.0, Source: domain.SourceBinance,
	})
	require.NoError(t, err)

	result, err := store.GetLatest(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, result, 1)
}

func TestPriceObservationStore_GetLast(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	// Empty store
	_, err := store.GetLast(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	obs := []*domain.PriceObservation{
		{TimestampMs: 1000, Price: 100.0, Source: domain.SourceBinance},
		{TimestampMs: 2000, Price: 102.0, Source: domain.SourceBinance},
	}
	err = store.InsertBulk(ctx, obs)
	require.NoError(t, err)

	last, err := store.GetLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), last.TimestampMs)
	assert.InDelta(t, 102.0, last.Price, 0.0001)
}

func TestPriceObservationStore_Count(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	obs := []*domain.PriceObservation{
		{TimestampMs: 1000, Price: 100.0, Source: domain.SourceBinance},
		{TimestampMs: 2000, Price: 102.0, Source: domain.SourceBinance},
		{TimestampMs: 3000, Price: 101.0, Source: domain.SourceBinance},
	}
	err = store.InsertBulk(ctx, obs)
	require.NoError(t, err)

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestPriceObservationStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceObservationStore(pool)

	err := store.Insert(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Insert(ctx, &domain.PriceObservation{TimestampMs: 0, Price: 100.0})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.GetLatest(ctx, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
