package ports

import (
	"context"

	"paperTrader/internal/domain"
)

// AlertHandler receives alerts from the monitor's dispatch loop.
// Handlers are invoked in registration order; an error is logged and does not stop the fan-out.
type AlertHandler interface {
	Name() string
	Handle(ctx context.Context, alert domain.Alert) error
}

// AlertHandlerFunc adapts a plain function to an AlertHandler.
type AlertHandlerFunc func(ctx context.Context, alert domain.Alert) error

// Name returns a generic name for function handlers.
func (f AlertHandlerFunc) Name() string { return "func" }

// Handle calls f.
func (f AlertHandlerFunc) Handle(ctx context.Context, alert domain.Alert) error {
	return f(ctx, alert)
}

// AlertSink accepts alerts raised outside the monitor (e.g. by the risk manager).
type AlertSink interface {
	Publish(alert domain.Alert)
}

// MetricsSink mirrors collected metrics and raised alerts into an external system.
type MetricsSink interface {
	ObserveMetric(m domain.Metric)
	ObserveAlert(a domain.Alert)
	ObserveDroppedAlert()
}
