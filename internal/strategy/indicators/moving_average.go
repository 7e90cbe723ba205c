package indicators

import (
	"context"
	"fmt"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return string(m.config.Type)
}

// Calculate computes the moving average value based on the configured type
func (m *MovingAverage) Calculate(ctx context.Context, prices []float64) (float64, error) {
	if err := validatePeriod(m.Config.Period); err != nil {
		return 0, err
	}
	switch m.config.Type {
	case SimpleMovingAverage:
		return SMA(prices, m.Config.Period)
	case ExponentialMovingAverage:
		return EMA(prices, m.Config.Period)
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

// SMA computes the simple moving average of the last period prices.
func SMA(prices []float64, period int) (float64, error) {
	if len(prices) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(prices), period)
	}

	total := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		total += prices[i]
	}
	return total / float64(period), nil
}

// EMA computes the exponential moving average seeded with the SMA of the
// first period prices.
func EMA(prices []float64, period int) (float64, error) {
	if len(prices) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(prices), period)
	}

	multiplier := 2.0 / float64(period+1)

	ema, err := SMA(prices[:period], period)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate initial SMA for EMA: %w", err)
	}

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}

	return ema, nil
}
