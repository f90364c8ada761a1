package memory

import (
	"context"
	"sync"

	"btc-feature-lab/internal/storage"
)

// StateSnapshotStore is an in-memory implementation of storage.StateSnapshotStore.
type StateSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*storage.StateSnapshot // keyed by snapshot_id
}

// NewStateSnapshotStore creates a new in-memory state snapshot store.
func NewStateSnapshotStore() *StateSnapshotStore {
	return &StateSnapshotStore{
		data: make(map[string]*storage.StateSnapshot),
	}
}

// cloneSnapshot copies a snapshot including its payload bytes.
func cloneSnapshot(s *storage.StateSnapshot) *storage.StateSnapshot {
	c := *s
	c.Payload = append([]byte(nil), s.Payload...)
	return &c
}

// SaveSnapshot persists a checkpoint. Returns ErrDuplicateKey if snapshot_id exists.
func (s *StateSnapshotStore) SaveSnapshot(_ context.Context, snap *storage.StateSnapshot) error {
	if snap == nil || snap.SnapshotID == "" || len(snap.Payload) == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[snap.SnapshotID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[snap.SnapshotID] = cloneSnapshot(snap)
	return nil
}

// GetLatest returns the checkpoint furthest along the timeline.
func (s *StateSnapshotStore) GetLatest(_ context.Context) (*storage.StateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *storage.StateSnapshot
	for _, snap := range s.data {
		if latest == nil ||
			snap.LastTimestampMs > latest.LastTimestampMs ||
			(snap.LastTimestampMs == latest.LastTimestampMs && snap.ObservationCount > latest.ObservationCount) {
			latest = snap
		}
	}

	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return cloneSnapshot(latest), nil
}

// GetByID returns a checkpoint by its ID. Returns ErrNotFound if not exists.
func (s *StateSnapshotStore) GetByID(_ context.Context, snapshotID string) (*storage.StateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.data[snapshotID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return cloneSnapshot(snap), nil
}

// DeleteOlderThan removes checkpoints created before cutoffMs.
func (s *StateSnapshotStore) DeleteOlderThan(_ context.Context, cutoffMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, snap := range s.data {
		if snap.CreatedAtMs < cutoffMs {
			delete(s.data, id)
			removed++
		}
	}
	return removed, nil
}

// Verify interface compliance at compile time.
var _ storage.StateSnapshotStore = (*StateSnapshotStore)(nil)
