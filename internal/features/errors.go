package features

import "errors"

// Pipeline errors. Ordering violations reuse the sentinels from the
// timeseries package so callers handle one taxonomy end to end.
var (
	// ErrInsufficientHistory is returned in strict mode when enrichment
	// cannot produce a single complete row. Outside strict mode short
	// history is represented as null fields, never an error.
	ErrInsufficientHistory = errors.New("insufficient history for complete feature row")

	// ErrEmptyFitCorpus is returned when fitting normalization parameters
	// over zero observations.
	ErrEmptyFitCorpus = errors.New("empty normalization fit corpus")

	// ErrInvalidConfig is returned for unusable pipeline configuration.
	ErrInvalidConfig = errors.New("invalid pipeline config")

	// ErrStateVersion is returned when restoring a state snapshot whose
	// schema version this build does not understand.
	ErrStateVersion = errors.New("unsupported pipeline state version")

	// ErrCorruptState is returned when a state snapshot fails validation.
	ErrCorruptState = errors.New("corrupt pipeline state")
)
