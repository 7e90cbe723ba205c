package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

const component = "risk_management"

// RiskStats is a snapshot of the manager's mutable state.
type RiskStats struct {
	Level           domain.RiskLevel `json:"risk_level" yaml:"risk_level"`
	Halted          bool             `json:"trading_halted" yaml:"trading_halted"`
	HaltReason      string           `json:"halt_reason,omitempty" yaml:"halt_reason,omitempty"`
	EmergencyStop   bool             `json:"emergency_stop" yaml:"emergency_stop"`
	EmergencyReason string           `json:"emergency_reason,omitempty" yaml:"emergency_reason,omitempty"`
	InitialValue    float64          `json:"initial_value" yaml:"initial_value"`
	CurrentValue    float64          `json:"portfolio_value" yaml:"portfolio_value"`
	PeakValue       float64          `json:"peak_value" yaml:"peak_value"`
	Drawdown        float64          `json:"drawdown" yaml:"drawdown"`
	DailyPnL        float64          `json:"daily_pnl" yaml:"daily_pnl"`
	DailyTrades     int              `json:"daily_trades" yaml:"daily_trades"`
	LastResetTime   time.Time        `json:"last_reset_time" yaml:"last_reset_time"`
}

// EmergencyStatus is the result of CheckEmergencyConditions.
type EmergencyStatus struct {
	EmergencyStop bool
	Reason        string
	Drawdown      float64
	Warnings      []string
}

// RiskManager enforces limits, tracks the risk level and owns the emergency stop.
// It never holds its lock while calling collaborators.
type RiskManager struct {
	config RiskConfig
	logger ports.Logger
	now    func() time.Time

	emergency atomic.Bool

	mu              sync.RWMutex
	level           domain.RiskLevel
	halted          bool
	haltReason      string
	emergencyReason string
	initialValue    float64
	currentValue    float64
	peakValue       float64
	values          []float64
	anchors         map[period]anchor
	dailyPnL        float64
	dailyTrades     int
	lastReset       time.Time
	alerts          []domain.Alert
	cascadeRuns     int

	strategies []ports.StrategyHalter
	venues     []ports.VenueConnection
	orders     ports.OrderCanceller
	positions  ports.PositionCloser
	snapshots  ports.SnapshotWriter
	sink       ports.AlertSink
}

// NewRiskManager creates a new risk manager instance.
func NewRiskManager(cfg RiskConfig) (*RiskManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.WarnFraction <= 0 || cfg.WarnFraction >= 1 {
		cfg.WarnFraction = 0.75
	}
	if cfg.HistoryLength <= 1 {
		cfg.HistoryLength = 100
	}
	if cfg.AlertHistory <= 0 {
		cfg.AlertHistory = 1000
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RiskManager{
		config:    cfg,
		logger:    cfg.Logger,
		now:       clock,
		level:     domain.RiskLow,
		anchors:   make(map[period]anchor),
		lastReset: clock(),
	}, nil
}

// Limits returns a copy of the configured limits.
func (r *RiskManager) Limits() domain.RiskLimits {
	return r.config.Limits
}

// RegisterStrategy adds a strategy to halt during an emergency stop.
func (r *RiskManager) RegisterStrategy(h ports.StrategyHalter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, h)
}

// RegisterVenue adds a venue connection to tear down during an emergency stop.
func (r *RiskManager) RegisterVenue(v ports.VenueConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues = append(r.venues, v)
}

// SetOrderCanceller sets the collaborator that cancels pending orders.
func (r *RiskManager) SetOrderCanceller(c ports.OrderCanceller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = c
}

// SetPositionCloser sets the collaborator that liquidates positions.
func (r *RiskManager) SetPositionCloser(c ports.PositionCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = c
}

// SetSnapshotWriter sets where emergency snapshots are written.
func (r *RiskManager) SetSnapshotWriter(w ports.SnapshotWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = w
}

// SetAlertSink sets where risk alerts are published, usually the monitor.
func (r *RiskManager) SetAlertSink(s ports.AlertSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = s
}

// CalculatePositionSize returns the maximum notional to commit to one trade:
// the smallest of the per-trade risk budget, the position ceiling and the
// remaining daily loss budget.
func (r *RiskManager) CalculatePositionSize(accountValue, riskPerTrade float64) float64 {
	if accountValue <= 0 || riskPerTrade <= 0 {
		return 0
	}
	r.mu.RLock()
	daily := r.dailyPnL
	r.mu.RUnlock()

	limits := r.config.Limits
	byRisk := accountValue * riskPerTrade
	byCeiling := accountValue * limits.MaxPositionSize
	remaining := math.Max(accountValue*limits.MaxDailyLoss+math.Min(daily, 0), 0)
	return math.Min(byRisk, math.Min(byCeiling, remaining))
}

// ValidateOrder approves or rejects an order. Halted trading and an active
// emergency stop reject every order; buys are also capped by the position
// ceiling, which shrinks as the risk level rises.
func (r *RiskManager) ValidateOrder(ctx context.Context, check domain.OrderCheck, portfolioValue float64) domain.RiskDecision {
	if r.emergency.Load() {
		return domain.RiskDecision{Approved: false, Reason: "emergency stop is active - no trading allowed", RiskLevel: domain.RiskEmergency}
	}

	r.mu.RLock()
	level, halted, haltReason := r.level, r.halted, r.haltReason
	r.mu.RUnlock()

	if halted {
		return domain.RiskDecision{Approved: false, Reason: "trading is halted: " + haltReason, RiskLevel: level}
	}
	if check.Side == domain.Sell {
		return domain.RiskDecision{Approved: true, RiskLevel: level}
	}

	ceiling := r.positionCeiling(portfolioValue, level)
	if check.Notional > ceiling {
		reason := fmt.Sprintf("order value %.2f exceeds position limit %.2f (%.0f%% of %.2f at %s risk)",
			check.Notional, ceiling, r.config.Limits.MaxPositionSize*100, portfolioValue, level)
		r.logger.Warn(ctx, "Order rejected by risk check", map[string]interface{}{
			"symbol": check.Symbol, "notional": check.Notional, "ceiling": ceiling, "riskLevel": level,
		})
		return domain.RiskDecision{Approved: false, Reason: reason, RiskLevel: level}
	}
	return domain.RiskDecision{Approved: true, RiskLevel: level}
}

func (r *RiskManager) positionCeiling(portfolioValue float64, level domain.RiskLevel) float64 {
	return portfolioValue * r.config.Limits.MaxPositionSize * r.scaleFor(level)
}

func (r *RiskManager) scaleFor(level domain.RiskLevel) float64 {
	switch level {
	case domain.RiskLow:
		return r.config.Scale.Low
	case domain.RiskMedium:
		return r.config.Scale.Medium
	case domain.RiskHigh:
		return r.config.Scale.High
	default:
		return 0
	}
}

// RecordTradePnL adds realized P&L to the daily tally, rolling over at midnight.
func (r *RiskManager) RecordTradePnL(pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if !sameDay(now, r.lastReset) {
		r.dailyPnL, r.dailyTrades, r.lastReset = 0, 0, now
	}
	r.dailyPnL += pnl
	r.dailyTrades++
}

// ResetDailyStats resets daily statistics.
func (r *RiskManager) ResetDailyStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dailyPnL = 0
	r.dailyTrades = 0
	r.lastReset = r.now()
}

// UpdatePortfolioValue records a valuation and recomputes the risk level from
// drawdown against the first recorded value. It raises an alert when the level
// rises but never triggers the emergency stop on its own; only an active stop
// puts the level at emergency.
func (r *RiskManager) UpdatePortfolioValue(value float64) {
	r.mu.Lock()
	if r.initialValue == 0 && value > 0 {
		r.initialValue = value
		r.peakValue = value
	}
	r.currentValue = value
	if value > r.peakValue {
		r.peakValue = value
	}
	r.values = append(r.values, value)
	if len(r.values) > r.config.HistoryLength {
		r.values = r.values[len(r.values)-r.config.HistoryLength:]
	}

	previous := r.level
	dd := r.drawdownLocked(value)
	next := r.levelFor(dd)
	if r.emergency.Load() {
		next = domain.RiskEmergency
	}
	r.level = next
	r.mu.Unlock()

	if next == previous {
		return
	}
	r.logger.Warn(context.Background(), "Risk level changed", map[string]interface{}{
		"from": previous, "to": next, "drawdown": dd, "portfolioValue": value,
	})
	if next.Rank() > previous.Rank() {
		level := domain.AlertWarning
		switch next {
		case domain.RiskHigh:
			level = domain.AlertCritical
		case domain.RiskEmergency:
			level = domain.AlertEmergency
		}
		r.raise(context.Background(), level, fmt.Sprintf("risk level raised to %s (drawdown %.2f%%)", next, dd*100), dd, r.bandFor(next), map[string]interface{}{
			"previous_level": string(previous),
		})
	}
}

func (r *RiskManager) drawdownLocked(value float64) float64 {
	if r.initialValue <= 0 {
		return 0
	}
	return math.Max((r.initialValue-value)/r.initialValue, 0)
}

func (r *RiskManager) levelFor(dd float64) domain.RiskLevel {
	b := r.config.Drawdown
	switch {
	case dd >= b.High:
		return domain.RiskHigh
	case dd >= b.Medium:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func (r *RiskManager) bandFor(level domain.RiskLevel) float64 {
	switch level {
	case domain.RiskMedium:
		return r.config.Drawdown.Medium
	case domain.RiskHigh:
		return r.config.Drawdown.High
	case domain.RiskEmergency:
		return r.config.Drawdown.Emergency
	default:
		return 0
	}
}

// CheckEmergencyConditions reports whether currentValue has drawn down past the
// emergency band. It has no side effects.
func (r *RiskManager) CheckEmergencyConditions(currentValue float64) EmergencyStatus {
	r.mu.RLock()
	dd := r.drawdownLocked(currentValue)
	r.mu.RUnlock()

	b := r.config.Drawdown
	status := EmergencyStatus{Drawdown: dd}
	if dd >= b.Emergency {
		status.EmergencyStop = true
		status.Reason = fmt.Sprintf("portfolio drawdown %.2f%% exceeds emergency threshold %.2f%%", dd*100, b.Emergency*100)
	}
	if dd >= b.High {
		status.Warnings = append(status.Warnings, fmt.Sprintf("drawdown %.2f%% above high band %.2f%%", dd*100, b.High*100))
	}
	if dd >= b.Medium {
		status.Warnings = append(status.Warnings, fmt.Sprintf("drawdown %.2f%% above medium band %.2f%%", dd*100, b.Medium*100))
	}
	return status
}

// Halt stops all new trading until Resume is called.
func (r *RiskManager) Halt(ctx context.Context, reason string) {
	r.mu.Lock()
	already := r.halted
	r.halted = true
	r.haltReason = reason
	r.mu.Unlock()
	if !already {
		r.logger.Warn(ctx, "Trading halted", map[string]interface{}{"reason": reason})
	}
}

// Resume lifts a halt. It refuses while the emergency stop is active.
func (r *RiskManager) Resume(ctx context.Context) error {
	if r.emergency.Load() {
		return fmt.Errorf("resume trading: %w", ports.ErrEmergencyStop)
	}
	r.mu.Lock()
	r.halted = false
	r.haltReason = ""
	r.mu.Unlock()
	r.logger.Info(ctx, "Trading resumed")
	return nil
}

// IsEmergencyStopped reports whether the emergency stop is active.
func (r *RiskManager) IsEmergencyStopped() bool {
	return r.emergency.Load()
}

// Level returns the current risk level.
func (r *RiskManager) Level() domain.RiskLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.level
}

// GetStats returns the current risk statistics.
func (r *RiskManager) GetStats() RiskStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RiskStats{
		Level:           r.level,
		Halted:          r.halted,
		HaltReason:      r.haltReason,
		EmergencyStop:   r.emergency.Load(),
		EmergencyReason: r.emergencyReason,
		InitialValue:    r.initialValue,
		CurrentValue:    r.currentValue,
		PeakValue:       r.peakValue,
		Drawdown:        r.drawdownLocked(r.currentValue),
		DailyPnL:        r.dailyPnL,
		DailyTrades:     r.dailyTrades,
		LastResetTime:   r.lastReset,
	}
}

// Alerts returns a copy of the retained risk alerts, oldest first.
func (r *RiskManager) Alerts() []domain.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// RiskSummary is the risk section of a report.
type RiskSummary struct {
	Stats        RiskStats         `json:"stats" yaml:"stats"`
	Limits       domain.RiskLimits `json:"limits" yaml:"limits"`
	AlertsCount  int               `json:"alerts_count" yaml:"alerts_count"`
	RecentAlerts []domain.Alert    `json:"recent_alerts" yaml:"recent_alerts"`
}

// GetRiskSummary returns stats, limits and the five most recent alerts.
func (r *RiskManager) GetRiskSummary() RiskSummary {
	alerts := r.Alerts()
	recent := alerts
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	return RiskSummary{
		Stats:        r.GetStats(),
		Limits:       r.config.Limits,
		AlertsCount:  len(alerts),
		RecentAlerts: recent,
	}
}

// raise records an alert and publishes it to the sink. Must not be called with r.mu held.
func (r *RiskManager) raise(ctx context.Context, level domain.AlertLevel, msg string, value, threshold float64, details map[string]interface{}) domain.Alert {
	alert := domain.Alert{
		ID:          uuid.NewString(),
		Level:       level,
		Component:   component,
		Message:     msg,
		MetricValue: value,
		Threshold:   threshold,
		Details:     details,
		Timestamp:   r.now(),
	}
	r.mu.Lock()
	r.alerts = append(r.alerts, alert)
	if len(r.alerts) > r.config.AlertHistory {
		r.alerts = r.alerts[len(r.alerts)-r.config.AlertHistory:]
	}
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink.Publish(alert)
	}
	return alert
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
