package memory

import (
	"context"
	"sort"
	"sync"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

// FeatureStore is an in-memory implementation of storage.FeatureStore.
type FeatureStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.EnrichedFeatureRow // keyed by timestamp_ms
}

// NewFeatureStore creates a new in-memory feature store.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{
		data: make(map[int64]*domain.EnrichedFeatureRow),
	}
}

// InsertBulk adds multiple rows. Fails entire batch on duplicate.
func (s *FeatureStore) InsertBulk(_ context.Context, rows []*domain.EnrichedFeatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[int64]struct{}, len(rows))

	// First pass: check for duplicates (existing + intra-batch)
	for _, r := range rows {
		if r == nil || r.TimestampMs <= 0 {
			return storage.ErrInvalidInput
		}

		// Check existing data
		if _, exists := s.data[r.TimestampMs]; exists {
			return storage.ErrDuplicateKey
		}
		// Check intra-batch duplicate
		if _, exists := batchKeys[r.TimestampMs]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[r.TimestampMs] = struct{}{}
	}

	// Second pass: insert all
	for _, r := range rows {
		rowCopy := *r
		s.data[r.TimestampMs] = &rowCopy
	}

	return nil
}

// GetByTimeRange retrieves rows within [start, end] (inclusive).
func (s *FeatureStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.EnrichedFeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EnrichedFeatureRow
	for _, r := range s.data {
		if r.TimestampMs >= start && r.TimestampMs <= end {
			rowCopy := *r
			result = append(result, &rowCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// GetLatest retrieves the most recent n rows, ordered by timestamp ASC.
func (s *FeatureStore) GetLatest(_ context.Context, n int) ([]*domain.EnrichedFeatureRow, error) {
	if n <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.EnrichedFeatureRow, 0, len(s.data))
	for _, r := range s.data {
		rowCopy := *r
		result = append(result, &rowCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	if len(result) > n {
		result = result[len(result)-n:]
	}
	return result, nil
}

// GetLast retrieves the single most recent row. Returns ErrNotFound if empty.
func (s *FeatureStore) GetLast(ctx context.Context) (*domain.EnrichedFeatureRow, error) {
	latest, err := s.GetLatest(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return nil, storage.ErrNotFound
	}
	return latest[0], nil
}

// Count returns the total number of stored rows.
func (s *FeatureStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.data)), nil
}

// Verify interface compliance at compile time.
var _ storage.FeatureStore = (*FeatureStore)(nil)
