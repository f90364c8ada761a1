package memory

import (
	"context"
	"sort"
	"sync"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

// PredictionStore is an in-memory implementation of storage.PredictionStore.
type PredictionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PricePrediction // keyed by prediction_id
}

// NewPredictionStore creates a new in-memory prediction store.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{
		data: make(map[string]*domain.PricePrediction),
	}
}

// clonePrediction copies a prediction including its nullable evaluation
// fields, so stored records and returned records never share pointers.
func clonePrediction(p *domain.PricePrediction) *domain.PricePrediction {
	c := *p
	if p.ActualPrice != nil {
		v := *p.ActualPrice
		c.ActualPrice = &v
	}
	if p.ActualTrend != nil {
		v := *p.ActualTrend
		c.ActualTrend = &v
	}
	if p.AbsError != nil {
		v := *p.AbsError
		c.AbsError = &v
	}
	if p.PctError != nil {
		v := *p.PctError
		c.PctError = &v
	}
	if p.EvaluatedAt != nil {
		v := *p.EvaluatedAt
		c.EvaluatedAt = &v
	}
	return &c
}

// Insert adds a new prediction. Returns ErrDuplicateKey if prediction_id exists.
func (s *PredictionStore) Insert(_ context.Context, p *domain.PricePrediction) error {
	if p == nil || p.PredictionID == "" || p.ModelID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PredictionID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.PredictionID] = clonePrediction(p)
	return nil
}

// GetByID retrieves a prediction by its ID. Returns ErrNotFound if not exists.
func (s *PredictionStore) GetByID(_ context.Context, predictionID string) (*domain.PricePrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[predictionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return clonePrediction(p), nil
}

// GetPendingDue retrieves unevaluated predictions whose target time is at or
// before nowMs, ordered by target time ASC.
func (s *PredictionStore) GetPendingDue(_ context.Context, nowMs int64) ([]*domain.PricePrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PricePrediction
	for _, p := range s.data {
		if !p.Evaluated() && p.TargetTimeMs <= nowMs {
			result = append(result, clonePrediction(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TargetTimeMs < result[j].TargetTimeMs
	})

	return result, nil
}

// GetByTimeRange retrieves predictions created within [start, end] (inclusive).
func (s *PredictionStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.PricePrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PricePrediction
	for _, p := range s.data {
		if p.CreatedAtMs >= start && p.CreatedAtMs <= end {
			result = append(result, clonePrediction(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAtMs < result[j].CreatedAtMs
	})

	return result, nil
}

// GetByModel retrieves predictions for one model created within [start, end] (inclusive).
func (s *PredictionStore) GetByModel(_ context.Context, modelID string, start, end int64) ([]*domain.PricePrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PricePrediction
	for _, p := range s.data {
		if p.ModelID == modelID && p.CreatedAtMs >= start && p.CreatedAtMs <= end {
			result = append(result, clonePrediction(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAtMs < result[j].CreatedAtMs
	})

	return result, nil
}

// UpdateEvaluation records the resolved outcome for a prediction.
func (s *PredictionStore) UpdateEvaluation(_ context.Context, p *domain.PricePrediction) error {
	if p == nil || p.PredictionID == "" || p.ActualPrice == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data[p.PredictionID]
	if !exists {
		return storage.ErrNotFound
	}
	if existing.Evaluated() {
		return storage.ErrAlreadyEvaluated
	}

	// Copy just the outcome; the prediction-time fields stay as inserted
	updated := clonePrediction(p)
	existing.ActualPrice = updated.ActualPrice
	existing.ActualTrend = updated.ActualTrend
	existing.AbsError = updated.AbsError
	existing.PctError = updated.PctError
	existing.EvaluatedAt = updated.EvaluatedAt
	return nil
}

// DeleteOlderThan removes predictions created before cutoffMs.
func (s *PredictionStore) DeleteOlderThan(_ context.Context, cutoffMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, p := range s.data {
		if p.CreatedAtMs < cutoffMs {
			delete(s.data, id)
			removed++
		}
	}
	return removed, nil
}

// Verify interface compliance at compile time.
var _ storage.PredictionStore = (*PredictionStore)(nil)
