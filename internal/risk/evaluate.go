package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"paperTrader/internal/domain"
)

type period string

const (
	periodDay   period = "daily"
	periodWeek  period = "weekly"
	periodMonth period = "monthly"
	periodYear  period = "annual"
)

type anchor struct {
	start time.Time
	value float64
}

// PortfolioMetrics is the input to Evaluate.
type PortfolioMetrics struct {
	TotalValue float64
	Cash       float64
	Positions  map[string]float64 // market value by symbol
	// Volatility overrides the value computed from recorded portfolio values when positive.
	Volatility float64
}

// Leverage is gross exposure divided by equity.
func (m PortfolioMetrics) Leverage() float64 {
	if m.TotalValue <= 0 {
		return 0
	}
	gross := 0.0
	for _, v := range m.Positions {
		gross += math.Abs(v)
	}
	return gross / m.TotalValue
}

// Evaluate checks period losses, concentration, correlated exposure, leverage
// and volatility. Critical breaches halt trading; emergency breaches trigger
// the emergency stop. The raised alerts are returned.
func (r *RiskManager) Evaluate(ctx context.Context, m PortfolioMetrics) []domain.Alert {
	var raised []domain.Alert
	var emergencyReason string
	var haltReason string

	add := func(level domain.AlertLevel, msg string, value, threshold float64, details map[string]interface{}) {
		raised = append(raised, r.raise(ctx, level, msg, value, threshold, details))
		switch level {
		case domain.AlertEmergency:
			if emergencyReason == "" {
				emergencyReason = msg
			}
		case domain.AlertCritical:
			if haltReason == "" {
				haltReason = msg
			}
		}
	}

	limits := r.config.Limits
	for _, pl := range []struct {
		p     period
		limit float64
	}{
		{periodDay, limits.MaxDailyLoss},
		{periodWeek, limits.MaxWeeklyLoss},
		{periodMonth, limits.MaxMonthlyLoss},
		{periodYear, limits.MaxAnnualLoss},
	} {
		if pl.limit <= 0 {
			continue
		}
		loss := r.periodLoss(pl.p, m.TotalValue)
		details := map[string]interface{}{"period": string(pl.p), "loss_pct": loss * 100}
		switch {
		case loss >= pl.limit && pl.p == periodDay:
			add(domain.AlertEmergency, fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", loss*100, pl.limit*100), loss, pl.limit, details)
		case loss >= pl.limit:
			add(domain.AlertCritical, fmt.Sprintf("%s loss %.2f%% reached limit %.2f%%", pl.p, loss*100, pl.limit*100), loss, pl.limit, details)
		case loss >= pl.limit*r.config.WarnFraction:
			add(domain.AlertWarning, fmt.Sprintf("%s loss %.2f%% approaching limit %.2f%%", pl.p, loss*100, pl.limit*100), loss, pl.limit, details)
		}
	}

	if m.TotalValue > 0 {
		symbols := make([]string, 0, len(m.Positions))
		for s := range m.Positions {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			share := m.Positions[s] / m.TotalValue
			if share > limits.MaxPositionSize {
				add(domain.AlertCritical, fmt.Sprintf("position %s is %.2f%% of portfolio, limit %.2f%%", s, share*100, limits.MaxPositionSize*100),
					share, limits.MaxPositionSize, map[string]interface{}{"symbol": s})
			}
		}

		for _, g := range limits.CorrelationGroups {
			exposure := 0.0
			for _, s := range g.Symbols {
				exposure += m.Positions[s]
			}
			share := exposure / m.TotalValue
			details := map[string]interface{}{"group": g.Name}
			switch {
			case limits.MaxSectorExposure > 0 && share > limits.MaxSectorExposure:
				add(domain.AlertCritical, fmt.Sprintf("group %s exposure %.2f%% exceeds sector limit %.2f%%", g.Name, share*100, limits.MaxSectorExposure*100),
					share, limits.MaxSectorExposure, details)
			case limits.MaxCorrelatedExposure > 0 && share > limits.MaxCorrelatedExposure:
				add(domain.AlertWarning, fmt.Sprintf("correlated exposure in %s is %.2f%%, limit %.2f%%", g.Name, share*100, limits.MaxCorrelatedExposure*100),
					share, limits.MaxCorrelatedExposure, details)
			}
		}
	}

	if lev := m.Leverage(); lev > 0 {
		if level, threshold, ok := classify(lev, r.config.Leverage); ok {
			add(level, fmt.Sprintf("leverage %.2fx above %.2fx", lev, threshold), lev, threshold, nil)
		}
	}

	vol := m.Volatility
	if vol <= 0 {
		vol = r.realizedVolatility()
	}
	if vol > 0 {
		if level, threshold, ok := classify(vol, r.config.Volatility); ok {
			add(level, fmt.Sprintf("portfolio volatility %.2f%% above %.2f%%", vol*100, threshold*100), vol, threshold, nil)
		}
	}

	if emergencyReason != "" {
		if err := r.EmergencyStop(ctx, emergencyReason); err != nil {
			r.logger.Error(ctx, err, "Emergency stop completed with errors")
		}
	} else if haltReason != "" {
		r.Halt(ctx, haltReason)
	}
	return raised
}

// classify maps a reading onto a warning/critical/emergency band.
func classify(v float64, b Band) (domain.AlertLevel, float64, bool) {
	switch {
	case v >= b.Emergency:
		return domain.AlertEmergency, b.Emergency, true
	case v >= b.Critical:
		return domain.AlertCritical, b.Critical, true
	case v >= b.Warning:
		return domain.AlertWarning, b.Warning, true
	default:
		return "", 0, false
	}
}

// periodLoss returns the fractional loss since the start of the period,
// re-anchoring when a new period begins.
func (r *RiskManager) periodLoss(p period, value float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	a, ok := r.anchors[p]
	if !ok || !samePeriod(p, a.start, now) {
		a = anchor{start: now, value: value}
		r.anchors[p] = a
	}
	if a.value <= 0 {
		return 0
	}
	return math.Max((a.value-value)/a.value, 0)
}

func samePeriod(p period, a, b time.Time) bool {
	switch p {
	case periodDay:
		return sameDay(a, b)
	case periodWeek:
		ay, aw := a.ISOWeek()
		by, bw := b.ISOWeek()
		return ay == by && aw == bw
	case periodMonth:
		return a.Year() == b.Year() && a.Month() == b.Month()
	default:
		return a.Year() == b.Year()
	}
}

// realizedVolatility is the standard deviation of returns between recorded values.
func (r *RiskManager) realizedVolatility() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.values) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(r.values)-1)
	for i := 1; i < len(r.values); i++ {
		if r.values[i-1] > 0 {
			returns = append(returns, r.values[i]/r.values[i-1]-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range returns {
		mean += x
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, x := range returns {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(returns)-1))
}
