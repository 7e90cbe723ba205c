package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperTrader/internal/domain"
	"paperTrader/internal/ledger"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type priceFeed struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (f *priceFeed) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = decimal.RequireFromString(price)
}

func (f *priceFeed) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, ports.ErrPriceUnavailable
	}
	return p, nil
}

type staticSource struct {
	name    string
	metrics []domain.Metric
	err     error
}

func (s *staticSource) Name() string { return s.name }
func (s *staticSource) Collect(ctx context.Context) ([]domain.Metric, error) {
	return s.metrics, s.err
}

// spyHandler records the alerts it receives and the order handlers were called in.
type spyHandler struct {
	name   string
	calls  *[]string
	callMu *sync.Mutex
	err    error
	panics bool

	mu  sync.Mutex
	got []domain.Alert
}

func (h *spyHandler) Name() string { return h.name }
func (h *spyHandler) Handle(ctx context.Context, a domain.Alert) error {
	h.callMu.Lock()
	*h.calls = append(*h.calls, h.name)
	h.callMu.Unlock()
	if h.panics {
		panic("handler exploded")
	}
	h.mu.Lock()
	h.got = append(h.got, a)
	h.mu.Unlock()
	return h.err
}

func (h *spyHandler) received() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func floatPtr(v float64) *float64 { return &v }

func newTestMonitor(t *testing.T, clock *fakeClock, mutate ...func(*Config)) *Monitor {
	t.Helper()
	cfg := DefaultConfig(&mockLogger{})
	if clock != nil {
		cfg.Clock = clock.now
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func newTestLedger(t *testing.T, feed *priceFeed) *ledger.Account {
	t.Helper()
	acc, err := ledger.New(ledger.Config{
		AccountID:      "monitor-test",
		InitialBalance: decimal.NewFromInt(10000),
		Feed:           feed,
		Logger:         &mockLogger{},
	})
	require.NoError(t, err)
	return acc
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestDashboardContainsPortfolioMetricsAfterOneTick(t *testing.T) {
	ctx := context.Background()
	feed := &priceFeed{prices: map[string]decimal.Decimal{}}
	feed.set("BTC", "45000")
	acc := newTestLedger(t, feed)
	_, err := acc.PlaceOrder(ctx, ledger.OrderRequest{
		Symbol: "BTC", Type: domain.OrderTypeMarket, Side: domain.Buy, Quantity: decimal.RequireFromString("0.1"),
	})
	require.NoError(t, err)

	mon := newTestMonitor(t, newFakeClock())
	mon.RegisterLedger(acc)
	mon.Tick(ctx)

	data := mon.GetDashboardData()
	for _, name := range []string{"portfolio_value", "total_pnl", "total_return_pct"} {
		assert.Contains(t, data.CurrentMetrics, name)
	}
	assert.InDelta(t, 9995.5, data.CurrentMetrics["portfolio_value"], 1e-6)
	assert.InDelta(t, 0, data.CurrentMetrics["total_pnl"], 1e-9, "commission is not part of position P&L")
	assert.InDelta(t, -0.045, data.CurrentMetrics["total_return_pct"], 1e-9)
	assert.Empty(t, data.ChartData, "one sample is not a chart")
	assert.True(t, data.SystemHealth.Components["paper_trading"])

	mon.Tick(ctx)
	data = mon.GetDashboardData()
	assert.Len(t, data.ChartData["portfolio_value"], 2)
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		name string
		m    domain.Metric
		want domain.AlertLevel
	}{
		{"plain breach", domain.Metric{Name: "memory_alloc_mb", Value: 900}, domain.AlertWarning},
		{"error in name", domain.Metric{Name: "api_error_rate", Value: 3}, domain.AlertError},
		{"critical in name", domain.Metric{Name: "critical_latency", Value: 3}, domain.AlertCritical},
		{"critical tag", domain.Metric{Name: "feed_lag", Value: 3, Tags: map[string]string{domain.TagCritical: "true"}}, domain.AlertCritical},
		{"negative value", domain.Metric{Name: "spread", Value: -1}, domain.AlertCritical},
		{"negative non-negative metric", domain.Metric{Name: "cash_balance", Value: -1, Tags: map[string]string{domain.TagNonNegative: "true"}}, domain.AlertEmergency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Severity(tt.m))
		})
	}
}

func TestTick_ThresholdBreachRaisesAlert(t *testing.T) {
	mon := newTestMonitor(t, newFakeClock())
	mon.AddMetricSource(&staticSource{name: "gateway", metrics: []domain.Metric{
		{Name: "api_error_rate", Value: 5, Unit: "%", ThresholdHigh: floatPtr(1)},
		{Name: "latency_ms", Value: 10, Unit: "ms", ThresholdHigh: floatPtr(100)},
	}})

	mon.Tick(context.Background())

	alerts := mon.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertError, alerts[0].Level)
	assert.Equal(t, "gateway", alerts[0].Component)
	assert.Contains(t, alerts[0].Message, "exceeded high threshold")
	assert.Equal(t, 1.0, alerts[0].Threshold)
}

func TestTick_ConfiguredBoundsApplyByName(t *testing.T) {
	mon := newTestMonitor(t, newFakeClock(), func(c *Config) {
		c.Thresholds.Metrics = map[string]Bound{"queue_depth": {High: floatPtr(10)}}
	})
	mon.AddMetricSource(&staticSource{name: "broker", metrics: []domain.Metric{{Name: "queue_depth", Value: 50}}})
	mon.Tick(context.Background())

	alerts := mon.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertWarning, alerts[0].Level)
}

func TestTick_NegativeNonNegativeMetricTriggersEmergencyStop(t *testing.T) {
	rm, err := risk.NewRiskManager(risk.DefaultRiskConfig(&mockLogger{}))
	require.NoError(t, err)

	mon := newTestMonitor(t, newFakeClock())
	mon.RegisterRiskManager(rm)
	mon.AddMetricSource(&staticSource{name: "paper_trading", metrics: []domain.Metric{
		{Name: "cash_balance", Value: -5, Unit: "USD", Tags: map[string]string{domain.TagNonNegative: "true"}},
	}})

	mon.Tick(context.Background())

	alerts := mon.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertEmergency, alerts[0].Level)
	assert.True(t, rm.IsEmergencyStopped())

	health := mon.GetSystemHealth()
	assert.Equal(t, domain.HealthCritical, health.Status)
	assert.False(t, health.Components["emergency_stop_clear"])
}

func TestTick_FailingSourceIsSkipped(t *testing.T) {
	mon := newTestMonitor(t, newFakeClock())
	mon.AddMetricSource(&staticSource{name: "broken", err: errors.New("source down")})
	mon.AddMetricSource(&staticSource{name: "ok", metrics: []domain.Metric{{Name: "heartbeat", Value: 1}}})

	mon.Tick(context.Background())

	assert.Len(t, mon.MetricHistory("heartbeat"), 1)
	assert.NotEmpty(t, mon.MetricHistory("goroutines"), "runtime source still collected")
}

func TestTick_UnstampedMetricIsTimestampedAndRetained(t *testing.T) {
	clock := newFakeClock()
	mon := newTestMonitor(t, clock)
	mon.AddMetricSource(&staticSource{name: "ok", metrics: []domain.Metric{{Name: "heartbeat", Value: 1}}})

	mon.Tick(context.Background())
	history := mon.MetricHistory("heartbeat")
	require.Len(t, history, 1)
	assert.True(t, clock.now().Equal(history[0].Timestamp))

	clock.advance(time.Minute)
	mon.Tick(context.Background())
	assert.Len(t, mon.MetricHistory("heartbeat"), 2, "both samples are inside the retention window")
}

func TestTick_ReturnBelowDrawdownLimitWarns(t *testing.T) {
	mon := newTestMonitor(t, newFakeClock())
	mon.AddMetricSource(&staticSource{name: "paper_trading", metrics: []domain.Metric{{Name: "total_return_pct", Value: -7, Unit: "%"}}})

	mon.Tick(context.Background())
	alerts := mon.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertWarning, alerts[0].Level)
	assert.Contains(t, alerts[0].Message, "drawdown")
	assert.Equal(t, domain.HealthHealthy, mon.GetSystemHealth().Status, "a single warning is tolerated")

	mon.Tick(context.Background())
	mon.Tick(context.Background())
	assert.Equal(t, domain.HealthWarning, mon.GetSystemHealth().Status)
}

func TestTick_DrivesRiskManagerFromLedger(t *testing.T) {
	ctx := context.Background()
	feed := &priceFeed{prices: map[string]decimal.Decimal{}}
	feed.set("BTC", "45000")
	acc := newTestLedger(t, feed)
	_, err := acc.PlaceOrder(ctx, ledger.OrderRequest{
		Symbol: "BTC", Type: domain.OrderTypeMarket, Side: domain.Buy, Quantity: decimal.RequireFromString("0.1"),
	})
	require.NoError(t, err)

	rm, err := risk.NewRiskManager(risk.DefaultRiskConfig(&mockLogger{}))
	require.NoError(t, err)

	mon := newTestMonitor(t, nil)
	rm.SetAlertSink(mon)
	mon.RegisterLedger(acc)
	mon.RegisterRiskManager(rm)

	mon.Tick(ctx)
	assert.InDelta(t, 9995.5, rm.GetStats().InitialValue, 1e-6)
	assert.False(t, rm.IsEmergencyStopped())

	feed.set("BTC", "10000")
	mon.Tick(ctx)
	assert.True(t, rm.IsEmergencyStopped())

	var fromRisk bool
	for _, a := range mon.Alerts() {
		if a.Component == "risk_management" {
			fromRisk = true
		}
	}
	assert.True(t, fromRisk, "risk alerts are published into the monitor")
	assert.Equal(t, 1.0, mon.GetSystemHealth().Metrics["emergency_stop_active"])
}

func TestGetSystemHealth_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		levels []domain.AlertLevel
		want   domain.HealthStatus
	}{
		{"no alerts", nil, domain.HealthHealthy},
		{"two warnings", []domain.AlertLevel{domain.AlertWarning, domain.AlertWarning}, domain.HealthHealthy},
		{"three warnings", []domain.AlertLevel{domain.AlertWarning, domain.AlertWarning, domain.AlertWarning}, domain.HealthWarning},
		{"error beats warnings", []domain.AlertLevel{domain.AlertWarning, domain.AlertWarning, domain.AlertWarning, domain.AlertError}, domain.HealthError},
		{"critical beats error", []domain.AlertLevel{domain.AlertError, domain.AlertCritical}, domain.HealthCritical},
		{"emergency counts as critical", []domain.AlertLevel{domain.AlertEmergency}, domain.HealthCritical},
		{"info is ignored", []domain.AlertLevel{domain.AlertInfo, domain.AlertInfo, domain.AlertInfo}, domain.HealthHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := newTestMonitor(t, newFakeClock())
			for _, l := range tt.levels {
				mon.Publish(domain.Alert{Level: l, Component: "test", Message: "x"})
			}
			health := mon.GetSystemHealth()
			assert.Equal(t, tt.want, health.Status)
			assert.Len(t, health.AlertsCount, 5)
		})
	}

	t.Run("alerts older than an hour are not counted", func(t *testing.T) {
		clock := newFakeClock()
		mon := newTestMonitor(t, clock)
		mon.Publish(domain.Alert{Level: domain.AlertCritical, Timestamp: clock.now().Add(-2 * time.Hour)})
		assert.Equal(t, domain.HealthHealthy, mon.GetSystemHealth().Status)
	})
}

func TestRetentionEvictsOldData(t *testing.T) {
	clock := newFakeClock()
	mon := newTestMonitor(t, clock)

	mon.Publish(domain.Alert{Level: domain.AlertInfo, Message: "old"})
	mon.Tick(context.Background())
	require.Len(t, mon.MetricHistory("goroutines"), 1)

	clock.advance(25 * time.Hour)
	mon.Tick(context.Background())
	assert.Len(t, mon.MetricHistory("goroutines"), 1, "samples older than 24h are evicted")
	assert.Len(t, mon.Alerts(), 1, "alerts are kept for seven days")

	clock.advance(7 * 24 * time.Hour)
	mon.Tick(context.Background())
	assert.Empty(t, mon.Alerts())
}

func TestDispatch_FansOutInOrderDespiteFailures(t *testing.T) {
	var calls []string
	var callMu sync.Mutex
	failing := &spyHandler{name: "failing", calls: &calls, callMu: &callMu, err: errors.New("smtp down")}
	panicking := &spyHandler{name: "panicking", calls: &calls, callMu: &callMu, panics: true}
	spy := &spyHandler{name: "spy", calls: &calls, callMu: &callMu}

	mon := newTestMonitor(t, nil, func(c *Config) { c.Interval = time.Hour })
	mon.AddAlertHandler(failing)
	mon.AddAlertHandler(panicking)
	mon.AddAlertHandler(spy)

	require.NoError(t, mon.Start(context.Background()))
	mon.Publish(domain.Alert{ID: "a-1", Level: domain.AlertWarning, Component: "test", Message: "hello"})

	require.Eventually(t, func() bool { return spy.received() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, mon.Stop())

	callMu.Lock()
	defer callMu.Unlock()
	assert.Equal(t, []string{"failing", "panicking", "spy"}, calls)
	assert.Equal(t, 1, failing.received())
}

func TestStartStop(t *testing.T) {
	mon := newTestMonitor(t, nil, func(c *Config) { c.Interval = time.Hour })
	ctx := context.Background()

	require.NoError(t, mon.Start(ctx))
	assert.True(t, mon.IsRunning())
	assert.ErrorIs(t, mon.Start(ctx), ports.ErrInvalidRequest)
	assert.Eventually(t, func() bool { return mon.GetSystemHealth().Components["alert_dispatch"] }, time.Second, 5*time.Millisecond)

	require.NoError(t, mon.Stop())
	assert.False(t, mon.IsRunning())
	assert.NoError(t, mon.Stop(), "stopping twice is a no-op")
	assert.False(t, mon.GetSystemHealth().Components["monitoring"])
}

func TestPublish_QueueFullCountsDrops(t *testing.T) {
	mon := newTestMonitor(t, newFakeClock(), func(c *Config) { c.QueueSize = 2 })
	for i := 0; i < 5; i++ {
		mon.Publish(domain.Alert{Level: domain.AlertInfo})
	}
	assert.Equal(t, int64(3), mon.Dropped())
	assert.Len(t, mon.Alerts(), 5, "dropped alerts stay in the log")
}

func TestAcknowledgeAlert(t *testing.T) {
	mon := newTestMonitor(t, newFakeClock())
	mon.Publish(domain.Alert{ID: "a1", Level: domain.AlertWarning})

	require.NoError(t, mon.AcknowledgeAlert("a1"))
	assert.True(t, mon.Alerts()[0].Acknowledged)
	assert.ErrorIs(t, mon.AcknowledgeAlert("missing"), ports.ErrNotFound)
}

func TestDashboard_RecentAlertsNewestFirst(t *testing.T) {
	clock := newFakeClock()
	mon := newTestMonitor(t, clock, func(c *Config) { c.QueueSize = 100 })
	for i := 0; i < 25; i++ {
		mon.Publish(domain.Alert{Level: domain.AlertInfo, Message: "tick"})
		clock.advance(time.Second)
	}
	recent := mon.GetDashboardData().RecentAlerts
	require.Len(t, recent, 20)
	assert.True(t, recent[0].Timestamp.After(recent[19].Timestamp))
}
