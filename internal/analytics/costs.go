package analytics

// CostAnalysis weighs trading results against fixed operating costs.
type CostAnalysis struct {
	MonthlyCosts       float64 `json:"monthly_costs" yaml:"monthly_costs"`
	AnnualCosts        float64 `json:"annual_costs" yaml:"annual_costs"`
	BreakEvenReturnPct float64 `json:"break_even_return_pct" yaml:"break_even_return_pct"`
	GrossReturn        float64 `json:"gross_return" yaml:"gross_return"`
	NetReturn          float64 `json:"net_return" yaml:"net_return"`
	NetReturnPct       float64 `json:"net_return_pct" yaml:"net_return_pct"`
	CostPerTrade       float64 `json:"cost_per_trade" yaml:"cost_per_trade"`
	CostRatioPct       float64 `json:"cost_ratio_pct" yaml:"cost_ratio_pct"`
	IsProfitable       bool    `json:"is_profitable" yaml:"is_profitable"`
}

// AnalyzeCosts charges a year of operating costs against the realized result.
// Break-even is the annual return on capital that covers those costs.
// Percentages stay zero when capital is not positive.
func AnalyzeCosts(perf *PerformanceMetrics, capital, monthlyCosts float64) CostAnalysis {
	annual := monthlyCosts * 12
	ca := CostAnalysis{
		MonthlyCosts: monthlyCosts,
		AnnualCosts:  annual,
	}
	if perf != nil {
		ca.GrossReturn = perf.NetProfit
		if perf.TotalTrades > 0 {
			ca.CostPerTrade = annual / float64(perf.TotalTrades)
		}
	}
	ca.NetReturn = ca.GrossReturn - annual
	ca.IsProfitable = ca.NetReturn > 0

	if capital > 0 {
		ca.BreakEvenReturnPct = annual / capital * 100
		ca.NetReturnPct = ca.NetReturn / capital * 100
		ca.CostRatioPct = annual / capital * 100
	}
	return ca
}
