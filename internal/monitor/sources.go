package monitor

import (
	"context"
	"runtime"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ledger"
	"paperTrader/internal/risk"
)

const (
	metricMemoryAlloc = "memory_alloc_mb"
	metricMemorySys   = "memory_sys_mb"
	metricGoroutines  = "goroutines"
	metricGCCycles    = "gc_cycles"
	metricTickMs      = "monitor_tick_ms"

	metricPortfolioValue = "portfolio_value"
	metricCashBalance    = "cash_balance"
	metricCashPct        = "cash_balance_pct"
	metricTotalPnL       = "total_pnl"
	metricUnrealizedPnL  = "unrealized_pnl"
	metricRealizedPnL    = "realized_pnl"
	metricTotalReturn    = "total_return_pct"
	metricWinRate        = "win_rate_pct"
	metricTotalTrades    = "total_trades"
	metricOpenPositions  = "open_positions"
	metricMaxDrawdown    = "max_drawdown_pct"

	metricRiskDrawdown  = "risk_drawdown_pct"
	metricRiskLevel     = "risk_level"
	metricDailyPnL      = "daily_pnl"
	metricDailyTrades   = "daily_trades"
	metricTradingHalted = "trading_halted"
	metricEmergencyStop = "emergency_stop_active"
)

// MetricSource produces a batch of metrics on every tick. A failing source is
// logged and skipped; the others are still collected.
type MetricSource interface {
	Name() string
	Collect(ctx context.Context) ([]domain.Metric, error)
}

// Ledger is the read side of a paper trading account the monitor needs.
type Ledger interface {
	UpdateMarketPrices(ctx context.Context) error
	GetAccountSummary() ledger.AccountSummary
}

// RiskManager is the part of the risk manager the monitor drives on each tick.
type RiskManager interface {
	UpdatePortfolioValue(value float64)
	Evaluate(ctx context.Context, m risk.PortfolioMetrics) []domain.Alert
	CheckEmergencyConditions(currentValue float64) risk.EmergencyStatus
	EmergencyStop(ctx context.Context, reason string) error
	IsEmergencyStopped() bool
	GetStats() risk.RiskStats
}

func metric(name string, value float64, unit string, at time.Time, tags ...string) domain.Metric {
	m := domain.Metric{Name: name, Value: value, Unit: unit, Timestamp: at}
	if len(tags) > 0 {
		m.Tags = make(map[string]string, len(tags))
		for _, t := range tags {
			m.Tags[t] = "true"
		}
	}
	return m
}

// runtimeSource reports Go runtime memory and scheduler figures.
type runtimeSource struct {
	now func() time.Time
}

func (s runtimeSource) Name() string { return "system" }

func (s runtimeSource) Collect(ctx context.Context) ([]domain.Metric, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	at := s.now()
	const mb = 1024 * 1024
	return []domain.Metric{
		metric(metricMemoryAlloc, float64(ms.Alloc)/mb, "MB", at),
		metric(metricMemorySys, float64(ms.Sys)/mb, "MB", at),
		metric(metricGoroutines, float64(runtime.NumGoroutine()), "count", at),
		metric(metricGCCycles, float64(ms.NumGC), "count", at),
	}, nil
}

// ledgerSource turns an account summary into portfolio metrics.
type ledgerSource struct {
	ledger Ledger
	now    func() time.Time
}

func (s ledgerSource) Name() string { return "paper_trading" }

func (s ledgerSource) Collect(ctx context.Context) ([]domain.Metric, error) {
	sum := s.ledger.GetAccountSummary()
	at := s.now()
	total := sum.TotalValue.InexactFloat64()
	cash := sum.CashBalance.InexactFloat64()

	out := []domain.Metric{
		metric(metricPortfolioValue, total, "USD", at, domain.TagNonNegative),
		metric(metricCashBalance, cash, "USD", at, domain.TagNonNegative),
		metric(metricTotalPnL, sum.TotalPnL.InexactFloat64(), "USD", at),
		metric(metricUnrealizedPnL, sum.UnrealizedPnL.InexactFloat64(), "USD", at),
		metric(metricRealizedPnL, sum.RealizedPnL.InexactFloat64(), "USD", at),
		metric(metricTotalReturn, sum.TotalReturnPct, "%", at),
		metric(metricWinRate, sum.WinRatePct, "%", at),
		metric(metricTotalTrades, float64(sum.TotalTrades), "count", at),
		metric(metricOpenPositions, float64(len(sum.Positions)), "count", at),
		metric(metricMaxDrawdown, sum.MaxDrawdownPct, "%", at),
	}
	if total > 0 {
		out = append(out, metric(metricCashPct, cash/total*100, "%", at))
	}
	return out, nil
}

// riskSource reports the risk manager's state.
type riskSource struct {
	risk RiskManager
	now  func() time.Time
}

func (s riskSource) Name() string { return "risk_management" }

func (s riskSource) Collect(ctx context.Context) ([]domain.Metric, error) {
	st := s.risk.GetStats()
	at := s.now()
	return []domain.Metric{
		metric(metricRiskDrawdown, st.Drawdown*100, "%", at),
		metric(metricRiskLevel, float64(st.Level.Rank()), "level", at),
		metric(metricDailyPnL, st.DailyPnL, "USD", at),
		metric(metricDailyTrades, float64(st.DailyTrades), "count", at),
		metric(metricTradingHalted, boolMetric(st.Halted), "flag", at),
		metric(metricEmergencyStop, boolMetric(st.EmergencyStop), "flag", at),
	}, nil
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// portfolioMetrics converts an account summary into risk evaluation input.
func portfolioMetrics(sum ledger.AccountSummary) risk.PortfolioMetrics {
	positions := make(map[string]float64, len(sum.Positions))
	for symbol, p := range sum.Positions {
		positions[symbol] = p.MarketValue.InexactFloat64()
	}
	return risk.PortfolioMetrics{
		TotalValue: sum.TotalValue.InexactFloat64(),
		Cash:       sum.CashBalance.InexactFloat64(),
		Positions:  positions,
	}
}
