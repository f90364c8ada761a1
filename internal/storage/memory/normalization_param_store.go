package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/storage"
)

// NormalizationParamStore is an in-memory implementation of storage.NormalizationParameterStore.
type NormalizationParamStore struct {
	mu   sync.RWMutex
	data map[string]*domain.NormalizationParameters // keyed by (feature_name, fitted_at_ms)
}

// NewNormalizationParamStore creates a new in-memory normalization parameter store.
func NewNormalizationParamStore() *NormalizationParamStore {
	return &NormalizationParamStore{
		data: make(map[string]*domain.NormalizationParameters),
	}
}

// paramKey generates a unique key for a parameter set.
func paramKey(featureName string, fittedAtMs int64) string {
	return fmt.Sprintf("%s|%d", featureName, fittedAtMs)
}

// Insert adds a new parameter set. Returns ErrDuplicateKey if (feature_name, fitted_at_ms) exists.
func (s *NormalizationParamStore) Insert(_ context.Context, p *domain.NormalizationParameters) error {
	if p == nil || p.FeatureName == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := paramKey(p.FeatureName, p.FittedAtMs)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	paramCopy := *p
	s.data[key] = &paramCopy
	return nil
}

// GetCurrent retrieves the most recently fitted parameters for a feature.
func (s *NormalizationParamStore) GetCurrent(_ context.Context, featureName string) (*domain.NormalizationParameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *domain.NormalizationParameters
	for _, p := range s.data {
		if p.FeatureName != featureName {
			continue
		}
		if current == nil || p.FittedAtMs > current.FittedAtMs {
			current = p
		}
	}

	if current == nil {
		return nil, storage.ErrNotFound
	}

	paramCopy := *current
	return &paramCopy, nil
}

// GetHistory retrieves all parameter sets for a feature, ordered by fitted_at ASC.
func (s *NormalizationParamStore) GetHistory(_ context.Context, featureName string) ([]*domain.NormalizationParameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.NormalizationParameters
	for _, p := range s.data {
		if p.FeatureName == featureName {
			paramCopy := *p
			result = append(result, &paramCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FittedAtMs < result[j].FittedAtMs
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.NormalizationParameterStore = (*NormalizationParamStore)(nil)
