package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"paperTrader/internal/domain"
)

const namespace = "paper_trader"

// Metrics mirrors monitor metrics and alerts into Prometheus. It implements
// ports.MetricsSink.
type Metrics struct {
	registry *prometheus.Registry

	Values        *prometheus.GaugeVec   // labels: metric, unit
	Alerts        *prometheus.CounterVec // labels: level, component
	DroppedAlerts prometheus.Counter
	Observations  prometheus.Counter
	LastTick      prometheus.Gauge // unix seconds of the newest observation
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_value",
			Help:      "Latest value of each monitored metric.",
		}, []string{"metric", "unit"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised, by level and component.",
		}, []string{"level", "component"}),
		DroppedAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Alerts dropped because the dispatch queue was full.",
		}),
		Observations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_observations_total",
			Help:      "Metric samples mirrored from the monitor.",
		}),
		LastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_observation_timestamp_seconds",
			Help:      "Timestamp of the newest metric sample.",
		}),
	}

	m.registry.MustRegister(
		m.Values,
		m.Alerts,
		m.DroppedAlerts,
		m.Observations,
		m.LastTick,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the registry for the HTTP server and tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveMetric implements ports.MetricsSink.
func (m *Metrics) ObserveMetric(mt domain.Metric) {
	m.Values.WithLabelValues(mt.Name, mt.Unit).Set(mt.Value)
	m.Observations.Inc()
	if !mt.Timestamp.IsZero() {
		m.LastTick.Set(float64(mt.Timestamp.UnixNano()) / 1e9)
	}
}

// ObserveAlert implements ports.MetricsSink.
func (m *Metrics) ObserveAlert(a domain.Alert) {
	m.Alerts.WithLabelValues(string(a.Level), a.Component).Inc()
}

// ObserveDroppedAlert implements ports.MetricsSink.
func (m *Metrics) ObserveDroppedAlert() {
	m.DroppedAlerts.Inc()
}
