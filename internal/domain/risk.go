package domain

// RiskLevel is the ordered risk axis used by the risk manager.
type RiskLevel string

const (
	RiskLow       RiskLevel = "low"
	RiskMedium    RiskLevel = "medium"
	RiskHigh      RiskLevel = "high"
	RiskEmergency RiskLevel = "emergency"
)

// Rank orders levels from least to most severe.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskEmergency:
		return 3
	default:
		return -1
	}
}

// CorrelationGroup names a set of symbols that tend to move together.
type CorrelationGroup struct {
	Name    string   `json:"name" yaml:"name"`
	Symbols []string `json:"symbols" yaml:"symbols"`
}

// RiskLimits are the fractional limits a risk manager enforces.
// All loss and size limits are fractions of portfolio value (0.02 = 2%).
type RiskLimits struct {
	MaxPositionSize       float64            `json:"max_position_size" yaml:"max_position_size"`
	MaxDailyLoss          float64            `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxWeeklyLoss         float64            `json:"max_weekly_loss" yaml:"max_weekly_loss"`
	MaxMonthlyLoss        float64            `json:"max_monthly_loss" yaml:"max_monthly_loss"`
	MaxAnnualLoss         float64            `json:"max_annual_loss" yaml:"max_annual_loss"`
	MaxSectorExposure     float64            `json:"max_sector_exposure" yaml:"max_sector_exposure"`
	MaxCorrelatedExposure float64            `json:"max_correlated_exposure" yaml:"max_correlated_exposure"`
	MaxLeverage           float64            `json:"max_leverage" yaml:"max_leverage"`
	MaxVolatility         float64            `json:"max_volatility" yaml:"max_volatility"`
	CorrelationGroups     []CorrelationGroup `json:"correlation_groups" yaml:"correlation_groups"`
}

// DefaultRiskLimits returns the conservative default limit set.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:       0.10,
		MaxDailyLoss:          0.02,
		MaxWeeklyLoss:         0.05,
		MaxMonthlyLoss:        0.10,
		MaxAnnualLoss:         0.20,
		MaxSectorExposure:     0.25,
		MaxCorrelatedExposure: 0.15,
		MaxLeverage:           2.0,
		MaxVolatility:         0.40,
		CorrelationGroups: []CorrelationGroup{
			{Name: "large_cap", Symbols: []string{"BTC", "ETH"}},
			{Name: "alt_l1", Symbols: []string{"SOL", "ADA", "DOT"}},
		},
	}
}

// OrderCheck describes an order for pre-trade risk approval.
type OrderCheck struct {
	Symbol   string
	Side     OrderSide
	Quantity float64
	Price    float64
	Notional float64 // Quantity * Price
}

// RiskDecision is the outcome of a pre-trade risk check.
type RiskDecision struct {
	Approved  bool
	Reason    string
	RiskLevel RiskLevel
}
