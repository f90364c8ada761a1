package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

func TestNormalizationParamStore_InsertAndGetCurrent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewNormalizationParamStore(pool)

	params := &domain.NormalizationParameters{
		FeatureName: domain.NormalizedFeaturePrice,
		Min:         15000.0,
		Max:         73000.0,
		FittedAtMs:  1700000000000,
		CorpusSize:  525600,
	}

	err := store.Insert(ctx, params)
	require.NoError(t, err)

	current, err := store.GetCurrent(ctx, domain.NormalizedFeaturePrice)
	require.NoError(t, err)

	assert.Equal(t, params.FeatureName, current.FeatureName)
	assert.InDelta(t, params.Min, current.Min, 0.0001)
	assert.InDelta(t, params.Max, current.Max, 0.0001)
	assert.Equal(t, params.FittedAtMs, current.FittedAtMs)
	assert.Equal(t, params.CorpusSize, current.CorpusSize)
}

func TestNormalizationParamStore_RefitAppendsVersion(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewNormalizationParamStore(pool)

	first := &domain.NormalizationParameters{
		FeatureName: domain.NormalizedFeaturePrice,
		Min:         15000.0,
		Max:         73000.0,
		FittedAtMs:  1700000000000,
		CorpusSize:  525600,
	}
	second := &domain.NormalizationParameters{
		FeatureName: domain.NormalizedFeaturePrice,
		Min:         15000.0,
		Max:         95000.0,
		FittedAtMs:  1710000000000,
		CorpusSize:  700000,
	}

	err := store.Insert(ctx, first)
	require.NoError(t, err)
	err = store.Insert(ctx, second)
	require.NoError(t, err)

	// GetCurrent picks the newest fit
	current, err := store.GetCurrent(ctx, domain.NormalizedFeaturePrice)
	require.NoError(t, err)
	assert.Equal(t, second.FittedAtMs, current.FittedAtMs)
	assert.InDelta(t, 95000.0, current.Max, 0.0001)

	// History keeps both, ordered by fitted_at ASC
	history, err := store.GetHistory(ctx, domain.NormalizedFeaturePrice)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, first.FittedAtMs, history[0].FittedAtMs)
	assert.Equal(t, second.FittedAtMs, history[1].FittedAtMs)
}

func TestNormalizationParamStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewNormalizationParamStore(pool)

	params := &domain.NormalizationParameters{
		FeatureName: domain.NormalizedFeaturePrice,
		Min:         15000.0,
		Max:         73000.0,
		FittedAtMs:  1700000000000,
		CorpusSize:  525600,
	}

	err := store.Insert(ctx, params)
	require.NoError(t, err)

	// Same (feature_name, fitted_at_ms) should fail
	err = store.Insert(ctx, params)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestNormalizationParamStore_GetCurrentNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewNormalizationParamStore(pool)

	_, err := store.GetCurrent(ctx, "never-fitted")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNormalizationParamStore_GetHistoryEmpty(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewNormalizationParamStore(pool)

	history, err := store.GetHistory(ctx, "never-fitted")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestNormalizationParamStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewNormalizationParamStore(pool)

	err := store.Insert(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Insert(ctx, &domain.NormalizationParameters{FeatureName: ""})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
