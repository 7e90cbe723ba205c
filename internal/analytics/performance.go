package analytics

import (
	"math"
	"sort"
	"time"

	"paperTrader/internal/domain"
)

// PerformanceMetrics holds realized performance figures derived from a trade history.
// Only sells close exposure, so win/loss statistics count sells; every trade's
// commission is charged against the realized equity curve.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int     `json:"total_trades" yaml:"total_trades"`
	ClosingTrades      int     `json:"closing_trades" yaml:"closing_trades"`
	WinningTrades      int     `json:"winning_trades" yaml:"winning_trades"`
	LosingTrades       int     `json:"losing_trades" yaml:"losing_trades"`
	WinRate            float64 `json:"win_rate" yaml:"win_rate"`
	GrossProfit        float64 `json:"gross_profit" yaml:"gross_profit"`
	GrossLoss          float64 `json:"gross_loss" yaml:"gross_loss"`
	TotalCommission    float64 `json:"total_commission" yaml:"total_commission"`
	NetProfit          float64 `json:"net_profit" yaml:"net_profit"`
	MaxDrawdown        float64 `json:"max_drawdown" yaml:"max_drawdown"`
	ProfitFactor       float64 `json:"profit_factor" yaml:"profit_factor"`
	AverageWin         float64 `json:"average_win" yaml:"average_win"`
	AverageLoss        float64 `json:"average_loss" yaml:"average_loss"`
	FinalBalance       float64 `json:"final_balance" yaml:"final_balance"`
	ReturnOnInvestment float64 `json:"return_on_investment" yaml:"return_on_investment"`

	// Advanced Metrics
	MaxConsecutiveWins   int                `json:"max_consecutive_wins" yaml:"max_consecutive_wins"`
	MaxConsecutiveLosses int                `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	RecoveryFactor       float64            `json:"recovery_factor" yaml:"recovery_factor"`
	Expectancy           float64            `json:"expectancy" yaml:"expectancy"`
	RiskRewardRatio      float64            `json:"risk_reward_ratio" yaml:"risk_reward_ratio"`
	CommissionDragPct    float64            `json:"commission_drag_pct" yaml:"commission_drag_pct"`
	MonthlyReturns       map[string]float64 `json:"monthly_returns" yaml:"monthly_returns"`
	Drawdowns            []Drawdown         `json:"-" yaml:"-"`
	EquityCurve          []EquityPoint      `json:"-" yaml:"-"`
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the realized equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates performance metrics from an execution history.
// The input slice is not modified.
func AnalyzePerformance(trades []domain.TradeRecord, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		MonthlyReturns: make(map[string]float64),
		Drawdowns:      make([]Drawdown, 0),
		EquityCurve:    make([]EquityPoint, 0),
	}

	if len(trades) == 0 {
		return metrics
	}

	sorted := append([]domain.TradeRecord(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var currentBalance = initialBalance
	var peakBalance = initialBalance
	var currentDrawdown *Drawdown
	var consecutiveWins, consecutiveLosses int
	var maxConsecutiveWins, maxConsecutiveLosses int

	for _, trade := range sorted {
		metrics.TotalTrades++
		pnl := trade.RealizedPnL.InexactFloat64()
		commission := trade.Commission.InexactFloat64()
		metrics.TotalCommission += commission

		if trade.Side == domain.Sell {
			metrics.ClosingTrades++
			if pnl > 0 {
				metrics.WinningTrades++
				metrics.GrossProfit += pnl
				consecutiveWins++
				consecutiveLosses = 0
			} else {
				metrics.LosingTrades++
				metrics.GrossLoss += -pnl
				consecutiveLosses++
				consecutiveWins = 0
			}
			if consecutiveWins > maxConsecutiveWins {
				maxConsecutiveWins = consecutiveWins
			}
			if consecutiveLosses > maxConsecutiveLosses {
				maxConsecutiveLosses = consecutiveLosses
			}
		}

		net := pnl - commission
		currentBalance += net
		metrics.NetProfit += net
		metrics.FinalBalance = currentBalance
		metrics.MonthlyReturns[trade.Timestamp.Format("2006-01")] += net

		// Update drawdown tracking
		if currentBalance >= peakBalance {
			peakBalance = currentBalance
			if currentDrawdown != nil {
				currentDrawdown.EndTime = trade.Timestamp
				currentDrawdown.EndValue = currentBalance
				currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
				metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
				currentDrawdown = nil
			}
		} else {
			drawdown := (peakBalance - currentBalance) / peakBalance
			if currentDrawdown == nil {
				currentDrawdown = &Drawdown{
					StartTime:  trade.Timestamp,
					StartValue: peakBalance,
					Depth:      drawdown,
				}
			} else {
				currentDrawdown.Depth = math.Max(currentDrawdown.Depth, drawdown)
			}
			if drawdown > metrics.MaxDrawdown {
				metrics.MaxDrawdown = drawdown
			}
		}

		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     trade.Timestamp,
			Value:    currentBalance,
			Drawdown: (peakBalance - currentBalance) / peakBalance,
		})
	}

	// Close any open drawdown
	if currentDrawdown != nil {
		currentDrawdown.EndTime = sorted[len(sorted)-1].Timestamp
		currentDrawdown.EndValue = currentBalance
		currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
		metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
	}

	metrics.MaxConsecutiveWins = maxConsecutiveWins
	metrics.MaxConsecutiveLosses = maxConsecutiveLosses
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = (metrics.FinalBalance - initialBalance) / initialBalance
	}
	if metrics.ClosingTrades == 0 {
		return metrics
	}

	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.ClosingTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = -metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	if metrics.GrossLoss > 0 {
		metrics.ProfitFactor = metrics.GrossProfit / metrics.GrossLoss
	}
	if metrics.AverageLoss != 0 {
		metrics.RiskRewardRatio = metrics.AverageWin / -metrics.AverageLoss
	}
	metrics.Expectancy = (metrics.WinRate * metrics.AverageWin) + ((1 - metrics.WinRate) * metrics.AverageLoss)

	if metrics.MaxDrawdown > 0 && initialBalance > 0 {
		metrics.RecoveryFactor = metrics.NetProfit / (initialBalance * metrics.MaxDrawdown)
	}
	if gross := metrics.GrossProfit - metrics.GrossLoss; gross != 0 {
		metrics.CommissionDragPct = metrics.TotalCommission / math.Abs(gross) * 100
	}

	return metrics
}

// GetMonthlyReturns returns the monthly net returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
