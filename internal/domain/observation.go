package domain

// PriceObservation represents a single raw price sample.
// Corresponds to price_observations table in PostgreSQL.
// Observations are append-only and immutable once recorded.
type PriceObservation struct {
	TimestampMs int64   // Unix timestamp in milliseconds
	Price       float64 // price in quote currency (USD)
	Source      string  // collector source, e.g. "binance"
}

// Default collector source identifiers.
const (
	SourceBinance = "binance"
	SourceManual  = "manual"
	SourceReplay  = "replay"
)
