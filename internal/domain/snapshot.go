package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is a point-in-time valuation of an account.
type PortfolioSnapshot struct {
	Timestamp      time.Time
	TotalValue     decimal.Decimal
	CashBalance    decimal.Decimal
	PositionsValue decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	Positions      map[string]Position // Copy, keyed by symbol
}
