package postgres

import (
	"context"
	"fmt"

	"btc-feature-lab/internal/storage"
)

// StateSnapshotStore implements storage.StateSnapshotStore using PostgreSQL.
type StateSnapshotStore struct {
	pool *Pool
}

// NewStateSnapshotStore creates a new StateSnapshotStore.
func NewStateSnapshotStore(pool *Pool) *StateSnapshotStore {
	return &StateSnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StateSnapshotStore = (*StateSnapshotStore)(nil)

// SaveSnapshot persists a checkpoint. Returns ErrDuplicateKey if snapshot_id exists.
func (s *StateSnapshotStore) SaveSnapshot(ctx context.Context, snap *storage.StateSnapshot) error {
	if snap == nil || snap.SnapshotID == "" || len(snap.Payload) == 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO state_snapshots (
			snapshot_id, created_at_ms, last_timestamp_ms, observation_count, version, payload
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		snap.SnapshotID,
		snap.CreatedAtMs,
		snap.LastTimestampMs,
		snap.ObservationCount,
		snap.Version,
		snap.Payload,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("save state snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the checkpoint furthest along the timeline.
func (s *StateSnapshotStore) GetLatest(ctx context.Context) (*storage.StateSnapshot, error) {
	query := `
		SELECT snapshot_id, created_at_ms, last_timestamp_ms, observation_count, version, payload
		FROM state_snapshots
		ORDER BY last_timestamp_ms DESC, observation_count DESC
		LIMIT 1
	`

	var snap storage.StateSnapshot
	err := s.pool.QueryRow(ctx, query).Scan(
		&snap.SnapshotID,
		&snap.CreatedAtMs,
		&snap.LastTimestampMs,
		&snap.ObservationCount,
		&snap.Version,
		&snap.Payload,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest state snapshot: %w", err)
	}
	return &snap, nil
}

// GetByID returns a checkpoint by its ID. Returns ErrNotFound if not exists.
func (s *StateSnapshotStore) GetByID(ctx context.Context, snapshotID string) (*storage.StateSnapshot, error) {
	query := `
		SELECT snapshot_id, created_at_ms, last_timestamp_ms, observation_count, version, payload
		FROM state_snapshots
		WHERE snapshot_id = $1
	`

	var snap storage.StateSnapshot
	err := s.pool.QueryRow(ctx, query, snapshotID).Scan(
		&snap.SnapshotID,
		&snap.CreatedAtMs,
		&snap.LastTimestampMs,
		&snap.ObservationCount,
		&snap.Version,
		&snap.Payload,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get state snapshot by id: %w", err)
	}
	return &snap, nil
}

// DeleteOlderThan removes checkpoints created before cutoffMs.
func (s *StateSnapshotStore) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM state_snapshots WHERE created_at_ms < $1`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("delete old state snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
