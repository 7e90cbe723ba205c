package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"paperTrader/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// PositionSummary is the per-symbol breakdown inside an AccountSummary.
type PositionSummary struct {
	Quantity         decimal.Decimal `json:"quantity" yaml:"quantity"`
	AvgPrice         decimal.Decimal `json:"avg_price" yaml:"avg_price"`
	CurrentPrice     decimal.Decimal `json:"current_price" yaml:"current_price"`
	MarketValue      decimal.Decimal `json:"market_value" yaml:"market_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl" yaml:"unrealized_pnl"`
	UnrealizedPnLPct float64         `json:"unrealized_pnl_pct" yaml:"unrealized_pnl_pct"`
}

// OrderSummary is a compact view of an order for reports.
type OrderSummary struct {
	ID           string             `json:"id" yaml:"id"`
	Symbol       string             `json:"symbol" yaml:"symbol"`
	Type         domain.OrderType   `json:"type" yaml:"type"`
	Side         domain.OrderSide   `json:"side" yaml:"side"`
	Quantity     decimal.Decimal    `json:"quantity" yaml:"quantity"`
	Status       domain.OrderStatus `json:"status" yaml:"status"`
	FilledPrice  decimal.Decimal    `json:"filled_price" yaml:"filled_price"`
	RejectReason string             `json:"reject_reason,omitempty" yaml:"reject_reason,omitempty"`
	CreatedAt    time.Time          `json:"created_at" yaml:"created_at"`
}

// AccountSummary is a consistent point-in-time view of the account.
// TotalValue always equals CashBalance plus PositionsValue.
type AccountSummary struct {
	AccountID       string                     `json:"account_id" yaml:"account_id"`
	InitialBalance  decimal.Decimal            `json:"initial_balance" yaml:"initial_balance"`
	CashBalance     decimal.Decimal            `json:"cash_balance" yaml:"cash_balance"`
	PositionsValue  decimal.Decimal            `json:"positions_value" yaml:"positions_value"`
	TotalValue      decimal.Decimal            `json:"total_value" yaml:"total_value"`
	UnrealizedPnL   decimal.Decimal            `json:"unrealized_pnl" yaml:"unrealized_pnl"`
	RealizedPnL     decimal.Decimal            `json:"realized_pnl" yaml:"realized_pnl"`
	TotalPnL        decimal.Decimal            `json:"total_pnl" yaml:"total_pnl"`
	TotalReturnPct  float64                    `json:"total_return_pct" yaml:"total_return_pct"`
	TotalTrades     int                        `json:"total_trades" yaml:"total_trades"`
	WinningTrades   int                        `json:"winning_trades" yaml:"winning_trades"`
	WinRatePct      float64                    `json:"win_rate_pct" yaml:"win_rate_pct"`
	TotalCommission decimal.Decimal            `json:"total_commission" yaml:"total_commission"`
	MaxDrawdownPct  float64                    `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	Positions       map[string]PositionSummary `json:"positions" yaml:"positions"`
	RecentOrders    []OrderSummary             `json:"recent_orders" yaml:"recent_orders"`
	Timestamp       time.Time                  `json:"timestamp" yaml:"timestamp"`
}

// GetAccountSummary reads the account without touching the feed.
// Call UpdateMarketPrices first for fresh marks.
func (a *Account) GetAccountSummary() AccountSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := AccountSummary{
		AccountID:       a.id,
		InitialBalance:  a.initialBalance,
		CashBalance:     a.cash,
		PositionsValue:  decimal.Zero,
		UnrealizedPnL:   decimal.Zero,
		RealizedPnL:     decimal.Zero,
		TotalTrades:     a.totalTrades,
		WinningTrades:   a.winningTrades,
		TotalCommission: a.totalCommission,
		MaxDrawdownPct:  a.maxDrawdown.Mul(hundred).InexactFloat64(),
		Positions:       make(map[string]PositionSummary, len(a.positions)),
		Timestamp:       a.now(),
	}

	for symbol, p := range a.positions {
		mv := p.MarketValue()
		s.PositionsValue = s.PositionsValue.Add(mv)
		s.UnrealizedPnL = s.UnrealizedPnL.Add(p.UnrealizedPnL)
		ps := PositionSummary{
			Quantity:      p.Quantity,
			AvgPrice:      p.AvgPrice,
			CurrentPrice:  p.CurrentPrice,
			MarketValue:   mv,
			UnrealizedPnL: p.UnrealizedPnL,
		}
		if cost := p.AvgPrice.Mul(p.Quantity); cost.IsPositive() {
			ps.UnrealizedPnLPct = p.UnrealizedPnL.Div(cost).Mul(hundred).InexactFloat64()
		}
		s.Positions[symbol] = ps
	}
	for _, t := range a.trades {
		s.RealizedPnL = s.RealizedPnL.Add(t.RealizedPnL)
	}

	s.TotalValue = s.CashBalance.Add(s.PositionsValue)
	s.TotalPnL = s.RealizedPnL.Add(s.UnrealizedPnL)
	s.TotalReturnPct = s.TotalValue.Sub(a.initialBalance).Div(a.initialBalance).Mul(hundred).InexactFloat64()
	total := a.totalTrades
	if total < 1 {
		total = 1
	}
	s.WinRatePct = float64(a.winningTrades) / float64(total) * 100

	start := len(a.orderSeq) - recentOrdersInSummary
	if start < 0 {
		start = 0
	}
	for _, id := range a.orderSeq[start:] {
		o := a.orders[id]
		s.RecentOrders = append(s.RecentOrders, OrderSummary{
			ID:           o.ID,
			Symbol:       o.Symbol,
			Type:         o.Type,
			Side:         o.Side,
			Quantity:     o.Quantity,
			Status:       o.Status,
			FilledPrice:  o.FilledPrice,
			RejectReason: o.RejectReason,
			CreatedAt:    o.CreatedAt,
		})
	}
	return s
}

// SaveSnapshot records the current valuation, drops snapshots older than the
// retention window and persists the new one when a journal is configured.
func (a *Account) SaveSnapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	a.mu.Lock()
	now := a.now()
	snap := domain.PortfolioSnapshot{
		Timestamp:      now,
		CashBalance:    a.cash,
		PositionsValue: a.positionsValueLocked(),
		UnrealizedPnL:  decimal.Zero,
		RealizedPnL:    decimal.Zero,
		Positions:      a.positionsCopyLocked(),
	}
	for _, p := range a.positions {
		snap.UnrealizedPnL = snap.UnrealizedPnL.Add(p.UnrealizedPnL)
	}
	for _, t := range a.trades {
		snap.RealizedPnL = snap.RealizedPnL.Add(t.RealizedPnL)
	}
	snap.TotalValue = snap.CashBalance.Add(snap.PositionsValue)

	cutoff := now.Add(-a.retention)
	kept := a.snapshots[:0]
	for _, s := range a.snapshots {
		if !s.Timestamp.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	a.snapshots = append(kept, snap)
	journal := a.journal
	a.mu.Unlock()

	if journal == nil {
		return snap, nil
	}
	if err := journal.SaveSnapshot(ctx, &snap); err != nil {
		return snap, fmt.Errorf("persist portfolio snapshot: %w", err)
	}
	if _, err := journal.PruneSnapshots(ctx, cutoff); err != nil {
		a.logger.Warn(ctx, "Failed to prune old snapshots", map[string]interface{}{"error": err.Error()})
	}
	return snap, nil
}

// History returns the retained portfolio snapshots, oldest first.
func (a *Account) History() []domain.PortfolioSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.PortfolioSnapshot, len(a.snapshots))
	copy(out, a.snapshots)
	return out
}

// SummarizeSnapshot rebuilds an account summary from a persisted snapshot and
// its trade history, for reports produced without a live account. Max
// drawdown is taken from the realized equity path, so it can understate the
// live figure that also saw unrealized marks.
func SummarizeSnapshot(accountID string, initialBalance decimal.Decimal, snap domain.PortfolioSnapshot, trades []domain.TradeRecord) AccountSummary {
	s := AccountSummary{
		AccountID:       accountID,
		InitialBalance:  initialBalance,
		CashBalance:     snap.CashBalance,
		PositionsValue:  snap.PositionsValue,
		TotalValue:      snap.CashBalance.Add(snap.PositionsValue),
		UnrealizedPnL:   snap.UnrealizedPnL,
		RealizedPnL:     decimal.Zero,
		TotalCommission: decimal.Zero,
		Positions:       make(map[string]PositionSummary, len(snap.Positions)),
		Timestamp:       snap.Timestamp,
	}

	equity, peak, maxDD := initialBalance, initialBalance, decimal.Zero
	for _, t := range trades {
		s.TotalTrades++
		if t.IsWin() {
			s.WinningTrades++
		}
		s.RealizedPnL = s.RealizedPnL.Add(t.RealizedPnL)
		s.TotalCommission = s.TotalCommission.Add(t.Commission)

		equity = equity.Add(t.RealizedPnL).Sub(t.Commission)
		if equity.GreaterThan(peak) {
			peak = equity
		} else if peak.IsPositive() {
			if dd := peak.Sub(equity).Div(peak); dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	s.MaxDrawdownPct = maxDD.Mul(hundred).InexactFloat64()

	for symbol, p := range snap.Positions {
		mv := p.MarketValue()
		ps := PositionSummary{
			Quantity:      p.Quantity,
			AvgPrice:      p.AvgPrice,
			CurrentPrice:  p.CurrentPrice,
			MarketValue:   mv,
			UnrealizedPnL: p.UnrealizedPnL,
		}
		if cost := p.AvgPrice.Mul(p.Quantity); cost.IsPositive() {
			ps.UnrealizedPnLPct = p.UnrealizedPnL.Div(cost).Mul(hundred).InexactFloat64()
		}
		s.Positions[symbol] = ps
	}

	s.TotalPnL = s.RealizedPnL.Add(s.UnrealizedPnL)
	if initialBalance.IsPositive() {
		s.TotalReturnPct = s.TotalValue.Sub(initialBalance).Div(initialBalance).Mul(hundred).InexactFloat64()
	}
	total := s.TotalTrades
	if total < 1 {
		total = 1
	}
	s.WinRatePct = float64(s.WinningTrades) / float64(total) * 100
	return s
}
