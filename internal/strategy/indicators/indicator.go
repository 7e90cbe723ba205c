// Package indicators computes technical indicators over a series of sampled
// prices, oldest first.
package indicators

import (
	"context"
	"fmt"
)

// Indicator represents a technical indicator that can be calculated from price data
type Indicator interface {
	// Calculate computes the indicator value for the given prices
	Calculate(ctx context.Context, prices []float64) (float64, error)

	// RequiredDataPoints returns the minimum number of prices needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of prices needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}

func validatePeriod(period int) error {
	if period <= 0 {
		return fmt.Errorf("indicator period must be positive, got %d", period)
	}
	return nil
}
