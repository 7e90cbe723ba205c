package risk

import (
	"errors"
	"fmt"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// DrawdownBands are drawdown fractions measured from the initial portfolio
// value. Medium and High step the risk level up; Emergency is the threshold
// CheckEmergencyConditions reports against. They must be strictly increasing.
type DrawdownBands struct {
	Medium    float64 `yaml:"medium"`
	High      float64 `yaml:"high"`
	Emergency float64 `yaml:"emergency"`
}

// LevelScale shrinks the position ceiling as risk rises. Values must not
// increase from Low to High; emergency always scales to zero.
type LevelScale struct {
	Low    float64 `yaml:"low"`
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// Band is a three-step threshold used for leverage and volatility.
type Band struct {
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Emergency float64 `yaml:"emergency"`
}

// RiskConfig holds configuration for risk management.
type RiskConfig struct {
	Limits        domain.RiskLimits
	Drawdown      DrawdownBands
	Scale         LevelScale
	Leverage      Band
	Volatility    Band
	WarnFraction  float64 // fraction of a period loss limit that raises a warning
	TOTPSecret    string  // when set, resetting an emergency stop needs a one-time code
	HistoryLength int     // portfolio values kept for volatility
	AlertHistory  int     // risk alerts kept in memory
	Logger        ports.Logger
	Clock         func() time.Time
}

// DefaultRiskConfig returns the default thresholds with the given logger.
func DefaultRiskConfig(logger ports.Logger) RiskConfig {
	limits := domain.DefaultRiskLimits()
	return RiskConfig{
		Limits:        limits,
		Drawdown:      DrawdownBands{Medium: 0.03, High: 0.06, Emergency: 0.08},
		Scale:         LevelScale{Low: 1.0, Medium: 0.5, High: 0.25},
		Leverage:      Band{Warning: 1.5, Critical: limits.MaxLeverage, Emergency: 2.5},
		Volatility:    Band{Warning: 0.25, Critical: limits.MaxVolatility, Emergency: 0.60},
		WarnFraction:  0.75,
		HistoryLength: 100,
		AlertHistory:  1000,
		Logger:        logger,
	}
}

func (c RiskConfig) validate() error {
	var errs []error
	if c.Logger == nil {
		errs = append(errs, errors.New("logger is required"))
	}
	d := c.Drawdown
	if !(d.Medium > 0 && d.Medium < d.High && d.High < d.Emergency && d.Emergency < 1) {
		errs = append(errs, fmt.Errorf("drawdown bands must satisfy 0 < medium < high < emergency < 1, got %+v", d))
	}
	s := c.Scale
	if !(s.Low <= 1 && s.Low >= s.Medium && s.Medium >= s.High && s.High >= 0) {
		errs = append(errs, fmt.Errorf("level scale must satisfy 1 >= low >= medium >= high >= 0, got %+v", s))
	}
	if c.Limits.MaxPositionSize <= 0 || c.Limits.MaxPositionSize > 1 {
		errs = append(errs, fmt.Errorf("max position size must be in (0, 1], got %v", c.Limits.MaxPositionSize))
	}
	if c.Limits.MaxDailyLoss <= 0 {
		errs = append(errs, fmt.Errorf("max daily loss must be positive, got %v", c.Limits.MaxDailyLoss))
	}
	for name, b := range map[string]Band{"leverage": c.Leverage, "volatility": c.Volatility} {
		if !(b.Warning > 0 && b.Warning <= b.Critical && b.Critical <= b.Emergency) {
			errs = append(errs, fmt.Errorf("%s band must satisfy 0 < warning <= critical <= emergency, got %+v", name, b))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ports.ErrConfigurationError, errors.Join(errs...))
	}
	return nil
}
