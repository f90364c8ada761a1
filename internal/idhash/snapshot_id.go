package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeStateSnapshotID computes a deterministic snapshot_id for an
// enrichment checkpoint.
// Formula: base58(SHA256(state|last_timestamp_ms|observation_count))
// Saving the same logical checkpoint twice produces the same ID, so the
// runner can treat a duplicate-key result as already-saved.
func ComputeStateSnapshotID(lastTimestampMs, observationCount int64) string {
	data := fmt.Sprintf("state|%d|%d", lastTimestampMs, observationCount)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeDatasetID computes a deterministic dataset snapshot ID.
// Formula: base58(SHA256(dataset|content_sha256|created_at_ms))
// The content hash ties the ID to the exported bytes; created_at
// distinguishes re-exports of identical content.
func ComputeDatasetID(contentSHA256 string, createdAtMs int64) string {
	data := fmt.Sprintf("dataset|%s|%d", contentSHA256, createdAtMs)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
