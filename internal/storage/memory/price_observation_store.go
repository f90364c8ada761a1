package memory

import (
	"context"
	"sort"
	"sync"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

// PriceObservationStore is an in-memory implementation of storage.PriceObservationStore.
type PriceObservationStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.PriceObservation // keyed by timestamp_ms
}

// NewPriceObservationStore creates a new in-memory price observation store.
func NewPriceObservationStore() *PriceObservationStore {
	return &PriceObservationStore{
		data: make(map[int64]*domain.PriceObservation),
	}
}

// Insert adds a new observation. Returns ErrDuplicateKey if timestamp_ms exists.
func (s *PriceObservationStore) Insert(_ context.Context, o *domain.PriceObservation) error {
	if o == nil || o.TimestampMs <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.TimestampMs]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	obsCopy := *o
	s.data[o.TimestampMs] = &obsCopy
	return nil
}

// InsertBulk adds multiple observations. Fails entire batch on duplicate.
func (s *PriceObservationStore) InsertBulk(_ context.Context, obs []*domain.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[int64]struct{}, len(obs))

	// First pass: check for duplicates (existing + intra-batch)
	for _, o := range obs {
		if o == nil || o.TimestampMs <= 0 {
			return storage.ErrInvalidInput
		}

		// Check existing data
		if _, exists := s.data[o.TimestampMs]; exists {
			return storage.ErrDuplicateKey
		}
		// Check intra-batch duplicate
		if _, exists := batchKeys[o.TimestampMs]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[o.TimestampMs] = struct{}{}
	}

	// Second pass: insert all
	for _, o := range obs {
		obsCopy := *o
		s.data[o.TimestampMs] = &obsCopy
	}

	return nil
}

// GetByTimeRange retrieves observations within [start, end] (inclusive).
func (s *PriceObservationStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceObservation
	for _, o := range s.data {
		if o.TimestampMs >= start && o.TimestampMs <= end {
			obsCopy := *o
			result = append(result, &obsCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// GetLatest retrieves the most recent n observations, ordered by timestamp ASC.
func (s *PriceObservationStore) GetLatest(_ context.Context, n int) ([]*domain.PriceObservation, error) {
	if n <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PriceObservation, 0, len(s.data))
	for _, o := range s.data {
		obsCopy := *o
		result = append(result, &obsCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	if len(result) > n {
		result = result[len(result)-n:]
	}
	return result, nil
}

// GetLast retrieves the single most recent observation. Returns ErrNotFound if empty.
func (s *PriceObservationStore) GetLast(ctx context.Context) (*domain.PriceObservation, error) {
	latest, err := s.GetLatest(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return nil, storage.ErrNotFound
	}
	return latest[0], nil
}

// GetAll retrieves all observations, ordered by timestamp ASC.
func (s *PriceObservationStore) GetAll(_ context.Context) ([]*domain.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PriceObservation, 0, len(s.data))
	for _, o := range s.data {
		obsCopy := *o
		result = append(result, &obsCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// Count returns the total number of stored observations.
func (s *PriceObservationStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.data)), nil
}

// Verify interface compliance at compile time.
var _ storage.PriceObservationStore = (*PriceObservationStore)(nil)
