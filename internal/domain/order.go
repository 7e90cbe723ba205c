package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a request to buy or sell, tracked from placement to a terminal state.
type Order struct {
	ID             string          // Unique identifier (uuid)
	Symbol         string          // Trading symbol, upper-case (e.g., "BTC")
	Type           OrderType       // market, limit, stop_loss, take_profit
	Side           OrderSide       // BUY or SELL
	Quantity       decimal.Decimal // Requested quantity
	Price          decimal.Decimal // Limit price (zero unless Type is limit)
	StopPrice      decimal.Decimal // Trigger price (zero unless Type is a stop type)
	Status         OrderStatus     // Current lifecycle state
	FilledQuantity decimal.Decimal // Quantity executed so far
	FilledPrice    decimal.Decimal // Execution price (zero until filled)
	Commission     decimal.Decimal // Commission charged on the fill
	RejectReason   string          // Human-readable reason when rejected
	CreatedAt      time.Time       // Placement time
	FilledAt       time.Time       // Execution time (zero until filled)
}

// Transition moves the order to the given status. Terminal orders never re-open.
func (o *Order) Transition(to OrderStatus) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %s is %s and cannot become %s", o.ID, o.Status, to)
	}
	o.Status = to
	return nil
}

// Reject marks a non-terminal order as rejected with a reason.
func (o *Order) Reject(reason string) {
	if o.Status.Terminal() {
		return
	}
	o.Status = OrderStatusRejected
	o.RejectReason = reason
}

// Notional returns quantity multiplied by the given reference price.
func (o *Order) Notional(price decimal.Decimal) decimal.Decimal {
	return o.Quantity.Mul(price)
}
