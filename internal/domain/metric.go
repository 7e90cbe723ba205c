package domain

import "time"

// Metric tags understood by threshold evaluation.
const (
	TagCritical    = "critical"     // breaches are raised as critical alerts
	TagNonNegative = "non_negative" // a negative reading is nonsensical and raised as emergency
)

// Metric is one timestamped measurement.
type Metric struct {
	Name          string            `json:"name" yaml:"name"`
	Value         float64           `json:"value" yaml:"value"`
	Unit          string            `json:"unit" yaml:"unit"`
	ThresholdLow  *float64          `json:"threshold_low,omitempty" yaml:"threshold_low,omitempty"`
	ThresholdHigh *float64          `json:"threshold_high,omitempty" yaml:"threshold_high,omitempty"`
	Tags          map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Timestamp     time.Time         `json:"timestamp" yaml:"timestamp"`
}

// HasTag reports whether the metric carries the given tag.
func (m Metric) HasTag(tag string) bool {
	_, ok := m.Tags[tag]
	return ok
}

// HealthStatus is the overall system health classification.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthError    HealthStatus = "error"
	HealthCritical HealthStatus = "critical"
)

// SystemHealth summarises the monitor's view of the system.
type SystemHealth struct {
	Status        HealthStatus       `json:"status" yaml:"status"`
	Components    map[string]bool    `json:"components" yaml:"components"`
	Metrics       map[string]float64 `json:"metrics" yaml:"metrics"`
	AlertsCount   map[AlertLevel]int `json:"alerts_count" yaml:"alerts_count"`
	UptimeSeconds float64            `json:"uptime_seconds" yaml:"uptime_seconds"`
	LastCheck     time.Time          `json:"last_check" yaml:"last_check"`
}
