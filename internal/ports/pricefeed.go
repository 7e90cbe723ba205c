package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceFeed supplies the current price for a symbol.
// The ledger assumes the feed is truthful; an error means the price is unavailable right now.
type PriceFeed interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// VenueConnection is a live connection that can be torn down during an emergency stop.
type VenueConnection interface {
	// Name identifies the venue in logs and snapshots.
	Name() string
	// Disconnect closes streams and idle connections. It must be safe to call more than once.
	Disconnect(ctx context.Context) error
}
