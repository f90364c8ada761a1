package features

import (
	"fmt"
	"time"
)

// Feature horizons and indicator periods. These are fixed by the feature
// contract in FEATURE_CATALOG.md: trained models depend on these exact
// windows, so they are constants rather than configuration.
const (
	RSIPeriod        = 14
	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
	BollingerPeriod  = 20
	BollingerStdDevs = 2.0
	ATRPeriod        = 14
	StochKPeriod     = 14
	StochDPeriod     = 3

	// WarmupObservations is the number of observations required before a
	// row carries every derived feature. The binding constraint is the
	// MACD signal line: EMA(26) seeds at row 25, the signal's EMA(9) of
	// the MACD line seeds 9 rows later at row 33.
	WarmupObservations = 34

	// FirstCompleteRow is the 0-based index of the first row with no
	// null indicator fields (assuming nominal 1-minute cadence).
	FirstCompleteRow = WarmupObservations - 1
)

// LagHorizonsMin lists the lag feature horizons in minutes.
var LagHorizonsMin = []int64{1, 5, 15, 30, 60}

// RollingWindows lists the rolling statistic window sizes in observations.
// At the nominal 1-minute cadence these correspond to 5/15/30/60 minutes.
var RollingWindows = []int{5, 15, 30, 60}

const (
	// DefaultLagToleranceMs is how far an observation may sit from the
	// exact lag target and still be accepted as the lagged value.
	DefaultLagToleranceMs = 30_000

	// DefaultContextSize is how many trailing observations the pipeline
	// state retains. MinContextSize covers the longest lookback: the
	// observation 60 minutes back for price_lag_60min.
	DefaultContextSize = 100
	MinContextSize     = 61
)

// Config controls pipeline behavior that is not part of the feature
// contract itself.
type Config struct {
	// LagToleranceMs bounds the timestamp distance for lag lookups.
	LagToleranceMs int64

	// ContextSize bounds the trailing observations carried in state.
	ContextSize int

	// Timezone is the reference location for temporal features. Temporal
	// features must never use system-local time; the collector and any
	// consumer may run in different zones.
	Timezone *time.Location

	// Strict rejects enrichment calls that cannot produce at least one
	// complete row instead of emitting warm-up rows with nulls.
	Strict bool
}

// DefaultConfig returns the production configuration: 30s lag tolerance,
// 100-observation context, UTC temporal reference, lenient warm-up.
func DefaultConfig() Config {
	return Config{
		LagToleranceMs: DefaultLagToleranceMs,
		ContextSize:    DefaultContextSize,
		Timezone:       time.UTC,
	}
}

// validate normalizes zero values to defaults and rejects unusable settings.
func (c *Config) validate() error {
	if c.LagToleranceMs == 0 {
		c.LagToleranceMs = DefaultLagToleranceMs
	}
	if c.LagToleranceMs < 0 {
		return fmt.Errorf("%w: lag tolerance must be positive, got %d", ErrInvalidConfig, c.LagToleranceMs)
	}
	// Tolerance at or above the shortest lag horizon would let a row
	// resolve its own observation as the 1-minute lag.
	if c.LagToleranceMs >= 60_000 {
		return fmt.Errorf("%w: lag tolerance %dms must be below the shortest lag horizon (60s)", ErrInvalidConfig, c.LagToleranceMs)
	}
	if c.ContextSize == 0 {
		c.ContextSize = DefaultContextSize
	}
	if c.ContextSize < MinContextSize {
		return fmt.Errorf("%w: context size %d below minimum %d", ErrInvalidConfig, c.ContextSize, MinContextSize)
	}
	if c.Timezone == nil {
		c.Timezone = time.UTC
	}
	return nil
}
