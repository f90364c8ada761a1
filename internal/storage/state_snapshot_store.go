package storage

import "context"

// StateSnapshot is a persisted checkpoint of the enrichment pipeline.
// Payload carries the serialized pipeline state; the surrounding fields
// are denormalized so callers can pick a checkpoint without decoding it.
type StateSnapshot struct {
	SnapshotID       string
	CreatedAtMs      int64
	LastTimestampMs  int64 // timestamp of the last enriched observation
	ObservationCount int64 // observations consumed so far
	Version          int   // payload schema version
	Payload          []byte
}

// StateSnapshotStore provides persistence for enrichment checkpoints.
// This enables resumption after restarts without recomputing features
// from the start of history.
type StateSnapshotStore interface {
	// SaveSnapshot persists a checkpoint. Returns ErrDuplicateKey if snapshot_id exists.
	SaveSnapshot(ctx context.Context, s *StateSnapshot) error

	// GetLatest returns the checkpoint furthest along the timeline,
	// ordered by last_timestamp_ms then observation_count. Wall-clock
	// save time is not used: checkpoints written in the same millisecond
	// must still resolve to the most advanced pipeline position.
	// Returns ErrNotFound if no checkpoint has been saved yet.
	GetLatest(ctx context.Context) (*StateSnapshot, error)

	// GetByID returns a checkpoint by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, snapshotID string) (*StateSnapshot, error)

	// DeleteOlderThan removes checkpoints created before cutoffMs.
	// Returns the number of checkpoints removed.
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}
