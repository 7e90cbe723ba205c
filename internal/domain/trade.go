package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is the immutable record of one execution.
type TradeRecord struct {
	ID          string          // Unique identifier (uuid)
	OrderID     string          // Order that produced the fill
	Symbol      string          // Trading symbol
	Side        OrderSide       // BUY or SELL
	Quantity    decimal.Decimal // Executed quantity
	Price       decimal.Decimal // Execution price
	Commission  decimal.Decimal // Commission charged
	RealizedPnL decimal.Decimal // Realized P&L, zero for buys
	Timestamp   time.Time       // Execution time
}

// IsWin reports whether the trade closed exposure at a profit.
func (t TradeRecord) IsWin() bool {
	return t.Side == Sell && t.RealizedPnL.IsPositive()
}
