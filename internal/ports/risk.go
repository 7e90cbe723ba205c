package ports

import (
	"context"

	"paperTrader/internal/domain"
)

// RiskGate is the pre-trade check the ledger consults before accepting an order.
type RiskGate interface {
	ValidateOrder(ctx context.Context, check domain.OrderCheck, portfolioValue float64) domain.RiskDecision
	// RecordTradePnL feeds realized P&L into daily loss accounting.
	RecordTradePnL(pnl float64)
}
