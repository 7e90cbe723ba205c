package monitor

import (
	"sort"
	"time"

	"paperTrader/internal/domain"
)

const (
	healthWindow       = time.Hour
	warningsForStatus  = 2 // more than this many warnings in the window
	chartPoints        = 100
	dashboardAlerts    = 20
	minPointsForCharts = 2
)

// ChartPoint is one sample in the dashboard chart series.
type ChartPoint struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Value     float64   `json:"value" yaml:"value"`
	Unit      string    `json:"unit" yaml:"unit"`
}

// DashboardData is everything a dashboard needs in one read.
type DashboardData struct {
	SystemHealth   domain.SystemHealth     `json:"system_health" yaml:"system_health"`
	CurrentMetrics map[string]float64      `json:"current_metrics" yaml:"current_metrics"`
	ChartData      map[string][]ChartPoint `json:"chart_data" yaml:"chart_data"`
	RecentAlerts   []domain.Alert          `json:"recent_alerts" yaml:"recent_alerts"`
}

// GetSystemHealth classifies the last hour of alerts and reports component state.
func (m *Monitor) GetSystemHealth() domain.SystemHealth {
	now := m.now()
	cutoff := now.Add(-healthWindow)

	m.mu.RLock()
	counts := map[domain.AlertLevel]int{
		domain.AlertInfo:      0,
		domain.AlertWarning:   0,
		domain.AlertError:     0,
		domain.AlertCritical:  0,
		domain.AlertEmergency: 0,
	}
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			counts[a.Level]++
		}
	}
	latest := make(map[string]float64, len(m.history))
	for name, list := range m.history {
		if len(list) > 0 {
			latest[name] = list[len(list)-1].Value
		}
	}
	led, rm := m.ledger, m.risk
	lastCheck := m.lastCheck
	m.mu.RUnlock()

	if lastCheck.IsZero() {
		lastCheck = now
	}

	status := domain.HealthHealthy
	switch {
	case counts[domain.AlertCritical]+counts[domain.AlertEmergency] > 0:
		status = domain.HealthCritical
	case counts[domain.AlertError] > 0:
		status = domain.HealthError
	case counts[domain.AlertWarning] > warningsForStatus:
		status = domain.HealthWarning
	}

	return domain.SystemHealth{
		Status: status,
		Components: map[string]bool{
			"monitoring":           m.running.Load(),
			"alert_dispatch":       m.dispatching.Load(),
			"paper_trading":        led != nil,
			"risk_management":      rm != nil,
			"emergency_stop_clear": rm == nil || !rm.IsEmergencyStopped(),
		},
		Metrics:       latest,
		AlertsCount:   counts,
		UptimeSeconds: now.Sub(m.startTime).Seconds(),
		LastCheck:     lastCheck,
	}
}

// GetDashboardData returns health, current metric values, chart series for
// metrics with history and the most recent alerts, newest first.
func (m *Monitor) GetDashboardData() DashboardData {
	health := m.GetSystemHealth()

	m.mu.RLock()
	charts := make(map[string][]ChartPoint)
	for name, list := range m.history {
		if len(list) < minPointsForCharts {
			continue
		}
		if len(list) > chartPoints {
			list = list[len(list)-chartPoints:]
		}
		points := make([]ChartPoint, len(list))
		for i, mt := range list {
			points[i] = ChartPoint{Timestamp: mt.Timestamp, Value: mt.Value, Unit: mt.Unit}
		}
		charts[name] = points
	}
	recent := m.alerts
	if len(recent) > dashboardAlerts {
		recent = recent[len(recent)-dashboardAlerts:]
	}
	recent = append([]domain.Alert(nil), recent...)
	m.mu.RUnlock()

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})

	return DashboardData{
		SystemHealth:   health,
		CurrentMetrics: health.Metrics,
		ChartData:      charts,
		RecentAlerts:   recent,
	}
}
