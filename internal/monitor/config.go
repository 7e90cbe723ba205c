package monitor

import (
	"fmt"
	"time"

	"paperTrader/internal/ports"
)

// Bound is an optional low/high limit for one metric.
type Bound struct {
	Low  *float64 `yaml:"low,omitempty"`
	High *float64 `yaml:"high,omitempty"`
}

// Thresholds are the named monitoring limits. Percentages are in percent units.
type Thresholds struct {
	MaxDrawdownPct         float64          `yaml:"max_drawdown_pct"`
	MinAvailableBalancePct float64          `yaml:"min_available_balance_pct"`
	MaxMemoryUsageMB       float64          `yaml:"max_memory_usage_mb"`
	MaxGoroutines          float64          `yaml:"max_goroutines"`
	MaxTickDurationMs      float64          `yaml:"max_response_time_ms"`
	Metrics                map[string]Bound `yaml:"metrics,omitempty"` // per-metric overrides
}

// DefaultThresholds returns the stock monitoring limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDrawdownPct:         5.0,
		MinAvailableBalancePct: 10.0,
		MaxMemoryUsageMB:       512,
		MaxGoroutines:          10000,
		MaxTickDurationMs:      5000,
	}
}

// bounds maps metric names to the limits they are checked against.
func (t Thresholds) bounds() map[string]Bound {
	out := map[string]Bound{
		metricMemoryAlloc: {High: positive(t.MaxMemoryUsageMB)},
		metricGoroutines:  {High: positive(t.MaxGoroutines)},
		metricCashPct:     {Low: positive(t.MinAvailableBalancePct)},
		metricTickMs:      {High: positive(t.MaxTickDurationMs)},
	}
	for name, b := range t.Metrics {
		out[name] = b
	}
	return out
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// Config configures a Monitor.
type Config struct {
	Interval        time.Duration // collection period, 5s by default
	MetricRetention time.Duration // 24h by default
	AlertRetention  time.Duration // 7 days by default
	QueueSize       int           // alert queue capacity, 1000 by default
	StopTimeout     time.Duration // bounded join on Stop, 10s by default
	Thresholds      Thresholds
	Logger          ports.Logger
	Sink            ports.MetricsSink // optional export of metrics and alerts
	Clock           func() time.Time
}

// DefaultConfig returns a Config with the stock intervals and thresholds.
func DefaultConfig(logger ports.Logger) Config {
	return Config{
		Interval:        5 * time.Second,
		MetricRetention: 24 * time.Hour,
		AlertRetention:  7 * 24 * time.Hour,
		QueueSize:       1000,
		StopTimeout:     10 * time.Second,
		Thresholds:      DefaultThresholds(),
		Logger:          logger,
	}
}

func (c *Config) normalize() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required for monitor: %w", ports.ErrConfigurationError)
	}
	def := DefaultConfig(c.Logger)
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MetricRetention <= 0 {
		c.MetricRetention = def.MetricRetention
	}
	if c.AlertRetention <= 0 {
		c.AlertRetention = def.AlertRetention
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}
