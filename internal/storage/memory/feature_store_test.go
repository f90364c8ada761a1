package memory

import (
	"context"
	"errors"
	"testing"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

func ptr(v float64) *float64 {
	return &v
}

func TestFeatureStore_InsertBulkAndGet(t *testing.T) {
	store := NewFeatureStore()
	ctx := context.Background()

	rows := []*domain.EnrichedFeatureRow{
		{TimestampMs: 1000, Price: 50_000, MinuteOfHour: 0},
		{TimestampMs: 61_000, Price: 50_100, MinuteOfHour: 1, PriceLag1Min: ptr(50_000)},
	}

	if err := store.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetByTimeRange(ctx, 0, 100_000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}

	if len(result) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(result))
	}
}

func TestFeatureStore_DuplicateKey(t *testing.T) {
	store := NewFeatureStore()
	ctx := context.Background()

	rows := []*domain.EnrichedFeatureRow{{TimestampMs: 1000, Price: 50_000}}

	if err := store.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	// Insert duplicate
	err := store.InsertBulk(ctx, rows)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestFeatureStore_IntraBatchDuplicate(t *testing.T) {
	store := NewFeatureStore()
	ctx := context.Background()

	rows := []*domain.EnrichedFeatureRow{
		{TimestampMs: 1000, Price: 50_000},
		{TimestampMs: 1000, Price: 50_100}, // duplicate key
	}

	err := store.InsertBulk(ctx, rows)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	// Verify nothing was inserted
	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("Expected 0 rows (rollback), got %d", count)
	}
}

func TestFeatureStore_NullableFieldsPreserved(t *testing.T) {
	store := NewFeatureStore()
	ctx := context.Background()

	rows := []*domain.EnrichedFeatureRow{
		{
			TimestampMs:     1000,
			Price:           50_000,
			PriceLag1Min:    nil, // warm-up null
			RollingMean5Min: ptr(49_980.5),
			RSI14:           ptr(62.4),
		},
	}

	if err := store.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetLast(ctx)
	if err != nil {
		t.Fatalf("GetLast failed: %v", err)
	}

	if result.PriceLag1Min != nil {
		t.Errorf("Expected null lag to stay null, got %f", *result.PriceLag1Min)
	}
	if result.RollingMean5Min == nil || *result.RollingMean5Min != 49_980.5 {
		t.Errorf("Expected rolling mean 49980.5 preserved, got %v", result.RollingMean5Min)
	}
	if result.RSI14 == nil || *result.RSI14 != 62.4 {
		t.Errorf("Expected RSI 62.4 preserved, got %v", result.RSI14)
	}
}

func TestFeatureStore_GetLatest(t *testing.T) {
	store := NewFeatureStore()
	ctx := context.Background()

	rows := []*domain.EnrichedFeatureRow{
		{TimestampMs: 3000, Price: 50_200},
		{TimestampMs: 1000, Price: 50_000},
		{TimestampMs: 2000, Price: 50_100},
	}

	if err := store.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetLatest(ctx, 2)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(result))
	}
	if result[0].TimestampMs != 2000 || result[1].TimestampMs != 3000 {
		t.Errorf("Expected timestamps [2000, 3000], got [%d, %d]",
			result[0].TimestampMs, result[1].TimestampMs)
	}
}

func TestFeatureStore_GetLastEmpty(t *testing.T) {
	store := NewFeatureStore()
	ctx := context.Background()

	_, err := store.GetLast(ctx)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on empty store, got %v", err)
	}
}

func TestFeatureStore_EmptyBulk(t *testing.T) {
	store := NewFeatureStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.EnrichedFeatureRow{}); err != nil {
		t.Errorf("Empty bulk should succeed, got %v", err)
	}
}
