package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputePredictionID computes a deterministic prediction_id.
// Formula: base58(SHA256(model_id|created_at_ms))
// One prediction per model per creation instant; re-deriving the ID for a
// duplicate submission collides on the store's primary key.
func ComputePredictionID(modelID string, createdAtMs int64) string {
	data := fmt.Sprintf("%s|%d", modelID, createdAtMs)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
