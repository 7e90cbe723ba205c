package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents an open holding in one symbol.
type Position struct {
	Symbol        string          // Trading symbol
	Quantity      decimal.Decimal // Held quantity, always > 0 while the position exists
	AvgPrice      decimal.Decimal // Volume-weighted average entry price
	CurrentPrice  decimal.Decimal // Latest mark price
	UnrealizedPnL decimal.Decimal // (CurrentPrice - AvgPrice) * Quantity
	RealizedPnL   decimal.Decimal // P&L accumulated by partial sells of this position
	EntryTime     time.Time       // When the position was first opened
	UpdatedAt     time.Time       // Last mark or fill time
}

// MarketValue returns quantity multiplied by the current mark price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// Mark updates the current price and recomputes unrealized P&L.
func (p *Position) Mark(price decimal.Decimal, at time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = price.Sub(p.AvgPrice).Mul(p.Quantity)
	p.UpdatedAt = at
}

// Add applies a buy fill, moving the average price to the volume-weighted mean.
func (p *Position) Add(qty, price decimal.Decimal, at time.Time) {
	total := p.Quantity.Add(qty)
	if p.Quantity.IsZero() {
		p.AvgPrice = price
	} else {
		p.AvgPrice = p.Quantity.Mul(p.AvgPrice).Add(qty.Mul(price)).Div(total)
	}
	p.Quantity = total
	p.Mark(price, at)
}

// Reduce applies a sell fill and returns the realized P&L. AvgPrice is unchanged.
func (p *Position) Reduce(qty, price decimal.Decimal, at time.Time) decimal.Decimal {
	realized := price.Sub(p.AvgPrice).Mul(qty)
	p.Quantity = p.Quantity.Sub(qty)
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.Mark(price, at)
	return realized
}

// Closed reports whether the position no longer holds any quantity.
func (p *Position) Closed() bool {
	return !p.Quantity.IsPositive()
}

// Clone returns a copy that shares no mutable state with p.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}
