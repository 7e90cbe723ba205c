package domain

import "time"

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo      AlertLevel = "info"
	AlertWarning   AlertLevel = "warning"
	AlertError     AlertLevel = "error"
	AlertCritical  AlertLevel = "critical"
	AlertEmergency AlertLevel = "emergency"
)

// Rank orders alert levels from least to most severe.
func (l AlertLevel) Rank() int {
	switch l {
	case AlertInfo:
		return 0
	case AlertWarning:
		return 1
	case AlertError:
		return 2
	case AlertCritical:
		return 3
	case AlertEmergency:
		return 4
	default:
		return -1
	}
}

// AtLeast reports whether l is as severe as other or more.
func (l AlertLevel) AtLeast(other AlertLevel) bool {
	return l.Rank() >= other.Rank()
}

// Alert is a notification raised by the monitor or the risk manager.
type Alert struct {
	ID           string                 `json:"id" yaml:"id"`
	Level        AlertLevel             `json:"level" yaml:"level"`
	Component    string                 `json:"component" yaml:"component"`
	Message      string                 `json:"message" yaml:"message"`
	MetricValue  float64                `json:"metric_value" yaml:"metric_value"`
	Threshold    float64                `json:"threshold" yaml:"threshold"`
	Details      map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp" yaml:"timestamp"`
	Acknowledged bool                   `json:"acknowledged" yaml:"acknowledged"`
}
