package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// Monitor runs the metric collection loop and the alert dispatch loop.
// The two loops talk through a buffered alert queue.
type Monitor struct {
	cfg    Config
	logger ports.Logger
	now    func() time.Time
	bounds map[string]Bound

	running     atomic.Bool
	dispatching atomic.Bool
	dropped     atomic.Int64
	queue       chan domain.Alert
	stopCh      chan struct{}
	wg          sync.WaitGroup
	startTime   time.Time

	handlersMu sync.Mutex
	handlers   []ports.AlertHandler

	mu        sync.RWMutex
	sources   []MetricSource
	ledger    Ledger
	risk      RiskManager
	history   map[string][]domain.Metric
	alerts    []domain.Alert
	lastCheck time.Time
}

// New creates a monitor with the built-in runtime metric source registered.
func New(cfg Config) (*Monitor, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:       cfg,
		logger:    cfg.Logger,
		now:       cfg.Clock,
		bounds:    cfg.Thresholds.bounds(),
		queue:     make(chan domain.Alert, cfg.QueueSize),
		startTime: cfg.Clock(),
		history:   make(map[string][]domain.Metric),
	}
	m.sources = append(m.sources, runtimeSource{now: m.now})
	return m, nil
}

// AddAlertHandler appends a handler. Handlers run in registration order.
func (m *Monitor) AddAlertHandler(h ports.AlertHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, h)
	m.logger.Info(context.Background(), "Alert handler added", map[string]interface{}{"handler": h.Name()})
}

// AddMetricSource registers an extra source collected on every tick.
func (m *Monitor) AddMetricSource(s MetricSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, s)
}

// RegisterLedger makes the monitor refresh prices and collect portfolio metrics.
func (m *Monitor) RegisterLedger(l Ledger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = l
	m.sources = append(m.sources, ledgerSource{ledger: l, now: m.now})
	m.logger.Info(context.Background(), "Paper trading account registered for monitoring")
}

// RegisterRiskManager makes the monitor feed portfolio values to the risk
// manager and evaluate emergency conditions on every tick.
func (m *Monitor) RegisterRiskManager(r RiskManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.risk = r
	m.sources = append(m.sources, riskSource{risk: r, now: m.now})
	m.logger.Info(context.Background(), "Risk manager registered for monitoring")
}

// Start launches both loops. The first collection runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("monitor already running: %w", ports.ErrInvalidRequest)
	}
	m.stopCh = make(chan struct{})
	m.wg.Add(2)
	go m.collectLoop(ctx, m.stopCh)
	go m.dispatchLoop(ctx, m.stopCh)
	m.logger.Info(ctx, "Live monitoring started", map[string]interface{}{"interval": m.cfg.Interval.String()})
	return nil
}

// Stop signals both loops and waits for them up to the configured timeout.
// An alert dispatch in progress is allowed to finish.
func (m *Monitor) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	close(m.stopCh)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info(context.Background(), "Live monitoring stopped")
		return nil
	case <-time.After(m.cfg.StopTimeout):
		return fmt.Errorf("monitor loops did not stop within %s: %w", m.cfg.StopTimeout, ports.ErrTimeout)
	}
}

// IsRunning reports whether the loops have been started and not stopped.
func (m *Monitor) IsRunning() bool { return m.running.Load() }

func (m *Monitor) collectLoop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.Tick(ctx)
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) dispatchLoop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()
	m.dispatching.Store(true)
	defer m.dispatching.Store(false)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case alert := <-m.queue:
			m.dispatch(ctx, alert)
		}
	}
}

// dispatch fans an alert out to every handler. A failing or panicking handler
// is logged and does not prevent delivery to the rest.
func (m *Monitor) dispatch(ctx context.Context, alert domain.Alert) {
	m.handlersMu.Lock()
	handlers := append([]ports.AlertHandler(nil), m.handlers...)
	m.handlersMu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Alert handler panicked", map[string]interface{}{
						"handler": h.Name(), "alertID": alert.ID,
					})
				}
			}()
			if err := h.Handle(ctx, alert); err != nil {
				m.logger.Error(ctx, err, "Alert handler failed", map[string]interface{}{
					"handler": h.Name(), "alertID": alert.ID,
				})
			}
		}()
	}
}

// Tick runs one collection pass: drive the ledger and risk manager, collect
// metrics, check thresholds, evict old data and queue the resulting alerts.
func (m *Monitor) Tick(ctx context.Context) {
	start := m.now()

	m.mu.RLock()
	led, rm := m.ledger, m.risk
	sources := append([]MetricSource(nil), m.sources...)
	m.mu.RUnlock()

	// 1. Refresh marks and let the risk manager see the new valuation.
	if led != nil {
		if err := led.UpdateMarketPrices(ctx); err != nil {
			m.logger.Error(ctx, err, "Failed to update market prices")
		}
		if rm != nil && !rm.IsEmergencyStopped() {
			sum := led.GetAccountSummary()
			value := sum.TotalValue.InexactFloat64()
			rm.UpdatePortfolioValue(value)
			rm.Evaluate(ctx, portfolioMetrics(sum))
			if status := rm.CheckEmergencyConditions(value); status.EmergencyStop && !rm.IsEmergencyStopped() {
				m.triggerEmergency(ctx, rm, status.Reason)
			}
		}
	}

	// 2. Collect from every source; one failing source does not stop the others.
	type sourced struct {
		source string
		metric domain.Metric
	}
	var fresh []sourced
	for _, s := range sources {
		metrics, err := s.Collect(ctx)
		if err != nil {
			m.logger.Error(ctx, err, "Failed to collect metrics", map[string]interface{}{"source": s.Name()})
			continue
		}
		for _, mt := range metrics {
			fresh = append(fresh, sourced{source: s.Name(), metric: m.applyBounds(mt)})
		}
	}
	tickMs := float64(m.now().Sub(start)) / float64(time.Millisecond)
	fresh = append(fresh, sourced{source: "monitoring", metric: m.applyBounds(metric(metricTickMs, tickMs, "ms", m.now()))})

	// 3. Record and check thresholds.
	var raised []domain.Alert
	var emergencyReason string
	m.mu.Lock()
	for _, f := range fresh {
		m.history[f.metric.Name] = append(m.history[f.metric.Name], f.metric)
		alert, ok := m.checkMetric(f.source, f.metric)
		if !ok {
			continue
		}
		raised = append(raised, alert)
		if alert.Level == domain.AlertEmergency && emergencyReason == "" {
			emergencyReason = alert.Message
		}
	}
	for _, f := range fresh {
		if f.metric.Name != metricTotalReturn {
			continue
		}
		if limit := m.cfg.Thresholds.MaxDrawdownPct; limit > 0 && f.metric.Value < -limit {
			raised = append(raised, m.newAlert(domain.AlertWarning, f.source,
				fmt.Sprintf("Portfolio drawdown exceeded threshold: %.2f%%", f.metric.Value),
				f.metric.Value, -limit, map[string]interface{}{"return_pct": f.metric.Value}))
		}
	}
	m.lastCheck = m.now()
	m.evictLocked()
	m.mu.Unlock()

	if sink := m.cfg.Sink; sink != nil {
		for _, f := range fresh {
			sink.ObserveMetric(f.metric)
		}
	}

	// 4. Queue alerts for the dispatch loop.
	for _, a := range raised {
		m.enqueue(ctx, a)
	}

	if emergencyReason != "" && rm != nil && !rm.IsEmergencyStopped() {
		m.triggerEmergency(ctx, rm, emergencyReason)
	}
}

func (m *Monitor) triggerEmergency(ctx context.Context, rm RiskManager, reason string) {
	m.logger.Warn(ctx, "Monitor triggering emergency stop", map[string]interface{}{"reason": reason})
	if err := rm.EmergencyStop(ctx, reason); err != nil {
		m.logger.Error(ctx, err, "Emergency stop completed with errors")
	}
}

// applyBounds fills in the timestamp and configured thresholds the source
// did not set. An unstamped metric is taken as observed now, otherwise
// retention would evict it in the tick that recorded it.
func (m *Monitor) applyBounds(mt domain.Metric) domain.Metric {
	if mt.Timestamp.IsZero() {
		mt.Timestamp = m.now()
	}
	b, ok := m.bounds[mt.Name]
	if !ok {
		return mt
	}
	if mt.ThresholdLow == nil {
		mt.ThresholdLow = b.Low
	}
	if mt.ThresholdHigh == nil {
		mt.ThresholdHigh = b.High
	}
	return mt
}

// checkMetric builds an alert when the metric is outside its bounds.
// A non-negative metric is implicitly bounded below by zero.
func (m *Monitor) checkMetric(source string, mt domain.Metric) (domain.Alert, bool) {
	var msg string
	var threshold float64
	switch {
	case mt.HasTag(domain.TagNonNegative) && mt.Value < 0:
		msg = fmt.Sprintf("%s is negative: %.2f %s", mt.Name, mt.Value, mt.Unit)
	case mt.ThresholdHigh != nil && mt.Value > *mt.ThresholdHigh:
		threshold = *mt.ThresholdHigh
		msg = fmt.Sprintf("%s exceeded high threshold: %.2f %s > %.2f %s", mt.Name, mt.Value, mt.Unit, threshold, mt.Unit)
	case mt.ThresholdLow != nil && mt.Value < *mt.ThresholdLow:
		threshold = *mt.ThresholdLow
		msg = fmt.Sprintf("%s below low threshold: %.2f %s < %.2f %s", mt.Name, mt.Value, mt.Unit, threshold, mt.Unit)
	default:
		return domain.Alert{}, false
	}
	return m.newAlert(Severity(mt), source, msg, mt.Value, threshold, map[string]interface{}{
		"metric": mt.Name,
		"unit":   mt.Unit,
	}), true
}

// Severity classifies a metric that breached its bounds.
func Severity(mt domain.Metric) domain.AlertLevel {
	name := strings.ToLower(mt.Name)
	switch {
	case mt.Value < 0 && mt.HasTag(domain.TagNonNegative):
		return domain.AlertEmergency
	case strings.Contains(name, "critical"), mt.HasTag(domain.TagCritical), mt.Value < 0:
		return domain.AlertCritical
	case strings.Contains(name, "error"):
		return domain.AlertError
	default:
		return domain.AlertWarning
	}
}

func (m *Monitor) newAlert(level domain.AlertLevel, component, msg string, value, threshold float64, details map[string]interface{}) domain.Alert {
	return domain.Alert{
		ID:          uuid.NewString(),
		Level:       level,
		Component:   component,
		Message:     msg,
		MetricValue: value,
		Threshold:   threshold,
		Details:     details,
		Timestamp:   m.now(),
	}
}

// Publish records an alert raised elsewhere and queues it for dispatch.
// It implements ports.AlertSink for the risk manager.
func (m *Monitor) Publish(alert domain.Alert) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.now()
	}
	m.enqueue(context.Background(), alert)
}

// enqueue appends the alert to the log and hands it to the dispatch loop
// without blocking. Alerts that do not fit are counted as dropped.
func (m *Monitor) enqueue(ctx context.Context, alert domain.Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()

	if sink := m.cfg.Sink; sink != nil {
		sink.ObserveAlert(alert)
	}

	select {
	case m.queue <- alert:
	default:
		m.dropped.Add(1)
		if sink := m.cfg.Sink; sink != nil {
			sink.ObserveDroppedAlert()
		}
		m.logger.Warn(ctx, "Alert queue full, alert not dispatched", map[string]interface{}{
			"alertID": alert.ID, "level": alert.Level,
		})
	}
}

// Dropped returns how many alerts could not be queued.
func (m *Monitor) Dropped() int64 { return m.dropped.Load() }

func (m *Monitor) evictLocked() {
	now := m.now()
	metricCutoff := now.Add(-m.cfg.MetricRetention)
	for name, list := range m.history {
		i := 0
		for i < len(list) && list[i].Timestamp.Before(metricCutoff) {
			i++
		}
		if i == len(list) {
			delete(m.history, name)
			continue
		}
		m.history[name] = list[i:]
	}

	alertCutoff := now.Add(-m.cfg.AlertRetention)
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Timestamp.After(alertCutoff) {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
}

// AcknowledgeAlert marks an alert as acknowledged.
func (m *Monitor) AcknowledgeAlert(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			return nil
		}
	}
	return fmt.Errorf("alert %s: %w", id, ports.ErrNotFound)
}

// Alerts returns a copy of the retained alert log, oldest first.
func (m *Monitor) Alerts() []domain.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Alert(nil), m.alerts...)
}

// MetricHistory returns the retained values of one metric, oldest first.
func (m *Monitor) MetricHistory(name string) []domain.Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Metric(nil), m.history[name]...)
}
