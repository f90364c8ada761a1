package stub

import (
	"context"
	"fmt"
	"sync"

	"btc-feature-lab/internal/domain"
)

// StubPriceSource returns scripted observations for testing.
// Each FetchPrice call returns the next observation in sequence.
// Implements collector.PriceSource interface.
type StubPriceSource struct {
	mu           sync.Mutex
	observations []*domain.PriceObservation
	next         int
	calls        int
}

// NewStubPriceSource creates a new stub price source with the given observations.
func NewStubPriceSource(observations []*domain.PriceObservation) *StubPriceSource {
	return &StubPriceSource{observations: observations}
}

// FetchPrice returns the next scripted observation.
// Returns a copy to prevent mutation. Errors when the script is exhausted.
func (s *StubPriceSource) FetchPrice(_ context.Context) (*domain.PriceObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.next >= len(s.observations) {
		return nil, fmt.Errorf("stub source exhausted after %d observations", len(s.observations))
	}

	copy := *s.observations[s.next]
	s.next++
	return &copy, nil
}

// Calls returns the number of FetchPrice calls so far.
func (s *StubPriceSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
