package ports

import (
	"context"
	"time"

	"paperTrader/internal/domain"
)

// StrategyHalter stops an automated strategy from submitting further orders.
type StrategyHalter interface {
	Name() string
	Halt(ctx context.Context, reason string) error
}

// OrderCanceller cancels every pending order and returns how many were cancelled.
type OrderCanceller interface {
	CancelAllPending(ctx context.Context) (int, error)
}

// PositionCloser liquidates every open position at market and returns how many were closed.
type PositionCloser interface {
	CloseAllPositions(ctx context.Context) (int, error)
}

// EmergencySnapshot is the forensic record written once per emergency stop.
type EmergencySnapshot struct {
	Timestamp       time.Time      `json:"timestamp"`
	PortfolioValue  float64        `json:"portfolio_value"`
	EmergencyReason string         `json:"emergency_trigger"`
	RiskLevel       string         `json:"risk_level"`
	Alerts          []domain.Alert `json:"alerts"`
}

// SnapshotWriter persists an emergency snapshot and returns its location.
type SnapshotWriter interface {
	WriteEmergencySnapshot(ctx context.Context, snap EmergencySnapshot) (string, error)
}
