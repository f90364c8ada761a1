package collector

import (
	"context"

	"btc-feature-lab/internal/domain"
)

// PriceSource produces the current price observation on demand.
// Implemented by exchange.TickerClient and by stub sources in tests.
type PriceSource interface {
	FetchPrice(ctx context.Context) (*domain.PriceObservation, error)
}
