// Package timeseries provides the ordered observation buffer and lookup
// helpers shared by the enrichment pipeline and the serving layer.
package timeseries

import (
	"errors"

	"btc-feature-lab/internal/domain"
)

// Ordering errors.
var (
	// ErrOutOfOrder is returned when an observation's timestamp precedes the
	// last buffered timestamp. Ordering violations are fatal to the caller;
	// the buffer is left unchanged.
	ErrOutOfOrder = errors.New("observation out of order: timestamp precedes prior observation")

	// ErrDuplicateTimestamp is returned when an observation carries a
	// timestamp already present in the buffer. Callers that re-deliver
	// observations treat this as an idempotent skip, not a failure.
	ErrDuplicateTimestamp = errors.New("observation duplicates an existing timestamp")
)

// Buffer is an ordered, timestamp-indexed window over price observations.
// Timestamps are strictly increasing. A non-zero maxSize bounds the buffer
// to the most recent observations; retention beyond that bound belongs to
// the persistence layer, not here.
//
// Buffer is not safe for concurrent use; the pipeline that owns it is
// sequential by construction.
type Buffer struct {
	points  []*domain.PriceObservation
	maxSize int
}

// NewBuffer creates an unbounded buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// NewBoundedBuffer creates a buffer keeping only the most recent maxSize
// observations.
func NewBoundedBuffer(maxSize int) *Buffer {
	return &Buffer{maxSize: maxSize}
}

// FromObservations builds a buffer from already-ordered observations.
// Returns ErrOutOfOrder or ErrDuplicateTimestamp if the input violates
// strict timestamp ordering.
func FromObservations(obs []*domain.PriceObservation, maxSize int) (*Buffer, error) {
	if err := ValidateOrdering(obs); err != nil {
		return nil, err
	}
	b := &Buffer{maxSize: maxSize}
	for _, o := range obs {
		b.points = append(b.points, o)
	}
	b.trim()
	return b, nil
}

// Append adds an observation. Fails with ErrOutOfOrder if its timestamp
// precedes the last buffered timestamp, ErrDuplicateTimestamp if equal.
func (b *Buffer) Append(obs *domain.PriceObservation) error {
	if n := len(b.points); n > 0 {
		last := b.points[n-1].TimestampMs
		if obs.TimestampMs < last {
			return ErrOutOfOrder
		}
		if obs.TimestampMs == last {
			return ErrDuplicateTimestamp
		}
	}
	b.points = append(b.points, obs)
	b.trim()
	return nil
}

// trim drops the oldest observations beyond maxSize.
func (b *Buffer) trim() {
	if b.maxSize <= 0 || len(b.points) <= b.maxSize {
		return
	}
	// Reallocate so the dropped prefix can be reclaimed.
	kept := make([]*domain.PriceObservation, b.maxSize)
	copy(kept, b.points[len(b.points)-b.maxSize:])
	b.points = kept
}

// Window returns observations with timestamp in [endMs-durationMs, endMs],
// oldest first. Returns an empty slice if none exist.
func (b *Buffer) Window(endMs, durationMs int64) []*domain.PriceObservation {
	startMs := endMs - durationMs
	var out []*domain.PriceObservation
	for _, p := range b.points {
		if p.TimestampMs < startMs {
			continue
		}
		if p.TimestampMs > endMs {
			break
		}
		out = append(out, p)
	}
	return out
}

// Latest returns the most recent n observations, oldest first. Fewer are
// returned when history is short; Latest never errors.
func (b *Buffer) Latest(n int) []*domain.PriceObservation {
	if n <= 0 || len(b.points) == 0 {
		return nil
	}
	if n > len(b.points) {
		n = len(b.points)
	}
	out := make([]*domain.PriceObservation, n)
	copy(out, b.points[len(b.points)-n:])
	return out
}

// Last returns the most recent observation, or nil when empty.
func (b *Buffer) Last() *domain.PriceObservation {
	if len(b.points) == 0 {
		return nil
	}
	return b.points[len(b.points)-1]
}

// Len returns the number of buffered observations.
func (b *Buffer) Len() int {
	return len(b.points)
}

// All returns a copy of the buffered observations, oldest first.
func (b *Buffer) All() []*domain.PriceObservation {
	out := make([]*domain.PriceObservation, len(b.points))
	copy(out, b.points)
	return out
}
