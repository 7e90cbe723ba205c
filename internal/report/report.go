package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"paperTrader/internal/analytics"
	"paperTrader/internal/domain"
	"paperTrader/internal/ledger"
	"paperTrader/internal/monitor"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
)

// Format selects the report encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q: %w", s, ports.ErrInvalidRequest)
	}
}

// Summary is the account and performance section of a report.
type Summary struct {
	Account     ledger.AccountSummary         `json:"account" yaml:"account"`
	Performance *analytics.PerformanceMetrics `json:"performance" yaml:"performance"`
	Costs       analytics.CostAnalysis        `json:"costs" yaml:"costs"`
	Risk        *risk.RiskSummary             `json:"risk,omitempty" yaml:"risk,omitempty"`
}

// Report is the exported snapshot of a paper trading session.
type Report struct {
	GeneratedAt  time.Time            `json:"generated_at" yaml:"generated_at"`
	Summary      Summary              `json:"summary" yaml:"summary"`
	Metrics      map[string]float64   `json:"metrics" yaml:"metrics"`
	Alerts       []domain.Alert       `json:"alerts" yaml:"alerts"`
	SystemHealth *domain.SystemHealth `json:"system_health,omitempty" yaml:"system_health,omitempty"`
}

// Inputs gathers what Build needs. Only Account is required.
type Inputs struct {
	Account      ledger.AccountSummary
	Trades       []domain.TradeRecord
	Risk         *risk.RiskSummary
	Dashboard    *monitor.DashboardData
	MonthlyCosts float64
	Now          time.Time
}

// Build assembles a report. Without a dashboard the metrics section falls
// back to headline account figures and the alerts come from the risk summary.
func Build(in Inputs) Report {
	initial := in.Account.InitialBalance.InexactFloat64()
	perf := analytics.AnalyzePerformance(in.Trades, initial)

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	r := Report{
		GeneratedAt: now,
		Summary: Summary{
			Account:     in.Account,
			Performance: perf,
			Costs:       analytics.AnalyzeCosts(perf, initial, in.MonthlyCosts),
			Risk:        in.Risk,
		},
		Alerts: []domain.Alert{},
	}

	if in.Dashboard != nil {
		health := in.Dashboard.SystemHealth
		r.SystemHealth = &health
		r.Metrics = in.Dashboard.CurrentMetrics
		r.Alerts = append(r.Alerts, in.Dashboard.RecentAlerts...)
	} else {
		r.Metrics = accountMetrics(in.Account)
		if in.Risk != nil {
			r.Alerts = append(r.Alerts, in.Risk.RecentAlerts...)
		}
	}
	if r.Metrics == nil {
		r.Metrics = map[string]float64{}
	}
	return r
}

func accountMetrics(s ledger.AccountSummary) map[string]float64 {
	return map[string]float64{
		"portfolio_value":  s.TotalValue.InexactFloat64(),
		"cash_balance":     s.CashBalance.InexactFloat64(),
		"total_pnl":        s.TotalPnL.InexactFloat64(),
		"total_return_pct": s.TotalReturnPct,
		"win_rate_pct":     s.WinRatePct,
		"total_trades":     float64(s.TotalTrades),
		"max_drawdown_pct": s.MaxDrawdownPct,
		"open_positions":   float64(len(s.Positions)),
	}
}

// Encode writes the report in the requested format.
func (r Report) Encode(w io.Writer, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q: %w", f, ports.ErrInvalidRequest)
	}
}
