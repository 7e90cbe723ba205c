package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// recorder captures cascade calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type mockHalter struct {
	rec *recorder
	err error
}

func (m *mockHalter) Name() string { return "mock_strategy" }
func (m *mockHalter) Halt(ctx context.Context, reason string) error {
	m.rec.add("halt")
	return m.err
}

type mockLedger struct {
	rec       *recorder
	cancelErr error
}

func (m *mockLedger) CancelAllPending(ctx context.Context) (int, error) {
	m.rec.add("cancel")
	return 2, m.cancelErr
}

func (m *mockLedger) CloseAllPositions(ctx context.Context) (int, error) {
	m.rec.add("close")
	return 1, nil
}

type mockVenue struct{ rec *recorder }

func (m *mockVenue) Name() string { return "mock_venue" }
func (m *mockVenue) Disconnect(ctx context.Context) error {
	m.rec.add("disconnect")
	return nil
}

type mockSnapshots struct {
	rec   *recorder
	snaps []ports.EmergencySnapshot
}

func (m *mockSnapshots) WriteEmergencySnapshot(ctx context.Context, snap ports.EmergencySnapshot) (string, error) {
	m.rec.add("snapshot")
	m.snaps = append(m.snaps, snap)
	return "emergency_snapshot.json", nil
}

type mockSink struct {
	rec    *recorder
	mu     sync.Mutex
	alerts []domain.Alert
}

func (m *mockSink) Publish(a domain.Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	m.mu.Unlock()
	if a.Level == domain.AlertEmergency && m.rec != nil {
		m.rec.add("notify")
	}
}

func newTestManager(t *testing.T, mutate ...func(*RiskConfig)) *RiskManager {
	t.Helper()
	cfg := DefaultRiskConfig(&mockLogger{})
	for _, m := range mutate {
		m(&cfg)
	}
	rm, err := NewRiskManager(cfg)
	require.NoError(t, err)
	return rm
}

func TestNewRiskManager_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RiskConfig)
	}{
		{"missing logger", func(c *RiskConfig) { c.Logger = nil }},
		{"bands not increasing", func(c *RiskConfig) { c.Drawdown = DrawdownBands{Medium: 0.05, High: 0.04, Emergency: 0.08} }},
		{"scale increases with risk", func(c *RiskConfig) { c.Scale = LevelScale{Low: 0.5, Medium: 1, High: 0.25} }},
		{"zero position size", func(c *RiskConfig) { c.Limits.MaxPositionSize = 0 }},
		{"leverage band inverted", func(c *RiskConfig) { c.Leverage = Band{Warning: 3, Critical: 2, Emergency: 1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRiskConfig(&mockLogger{})
			tt.mutate(&cfg)
			_, err := NewRiskManager(cfg)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}

func TestUpdatePortfolioValue_RiskLevels(t *testing.T) {
	rm := newTestManager(t)
	assert.Equal(t, domain.RiskLow, rm.Level())

	steps := []struct {
		value float64
		want  domain.RiskLevel
	}{
		{100000, domain.RiskLow},
		{98000, domain.RiskLow},
		{95000, domain.RiskMedium},
		{85000, domain.RiskHigh},
		{99000, domain.RiskLow},
	}
	for _, s := range steps {
		rm.UpdatePortfolioValue(s.value)
		assert.Equal(t, s.want, rm.Level(), "value %v", s.value)
	}
	assert.False(t, rm.IsEmergencyStopped(), "updating the value never triggers the cascade")
}

func TestCheckEmergencyConditions_Drawdown(t *testing.T) {
	rm := newTestManager(t)
	rm.UpdatePortfolioValue(100000)
	rm.UpdatePortfolioValue(70000)

	status := rm.CheckEmergencyConditions(70000)
	assert.True(t, status.EmergencyStop)
	assert.Contains(t, status.Reason, "drawdown")
	assert.InDelta(t, 0.30, status.Drawdown, 1e-9)
	assert.NotEmpty(t, status.Warnings)
	assert.False(t, rm.IsEmergencyStopped(), "checking has no side effects")

	calm := rm.CheckEmergencyConditions(97000)
	assert.False(t, calm.EmergencyStop)
	assert.Empty(t, calm.Reason)
}

func TestValidateOrder_PositionLimit(t *testing.T) {
	rm := newTestManager(t)
	rm.UpdatePortfolioValue(100000)

	decision := rm.ValidateOrder(context.Background(), domain.OrderCheck{
		Symbol: "BTC", Side: domain.Buy, Quantity: 10, Price: 50000, Notional: 500000,
	}, 100000)
	assert.False(t, decision.Approved)
	assert.Contains(t, decision.Reason, "position limit")

	ok := rm.ValidateOrder(context.Background(), domain.OrderCheck{
		Symbol: "BTC", Side: domain.Buy, Quantity: 0.1, Price: 50000, Notional: 5000,
	}, 100000)
	assert.True(t, ok.Approved)

	sell := rm.ValidateOrder(context.Background(), domain.OrderCheck{
		Symbol: "BTC", Side: domain.Sell, Notional: 500000,
	}, 100000)
	assert.True(t, sell.Approved, "sells reduce exposure and skip the ceiling")
}

func TestValidateOrder_MonotonicInRiskLevel(t *testing.T) {
	notionals := []float64{1000, 2000, 3000, 5000, 8000, 10000, 12000}
	values := []float64{100000, 97500, 96000, 93000, 90000, 80000}

	rm := newTestManager(t)
	rm.UpdatePortfolioValue(values[0])
	const portfolioValue = 100000.0

	rejected := make(map[float64]bool)
	for _, v := range values {
		rm.UpdatePortfolioValue(v)
		for _, n := range notionals {
			d := rm.ValidateOrder(context.Background(), domain.OrderCheck{Symbol: "ETH", Side: domain.Buy, Notional: n}, portfolioValue)
			if rejected[n] {
				assert.False(t, d.Approved, "notional %v approved again at level %s", n, rm.Level())
			}
			if !d.Approved {
				rejected[n] = true
			}
		}
	}
	assert.True(t, rejected[5000], "ceiling shrinks as drawdown grows")
}

func TestValidateOrder_HaltAndEmergency(t *testing.T) {
	rm := newTestManager(t)
	ctx := context.Background()
	check := domain.OrderCheck{Symbol: "ETH", Side: domain.Sell, Notional: 10}

	rm.Halt(ctx, "manual pause")
	d := rm.ValidateOrder(ctx, check, 100000)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "halted")

	require.NoError(t, rm.Resume(ctx))
	assert.True(t, rm.ValidateOrder(ctx, check, 100000).Approved)

	require.NoError(t, rm.EmergencyStop(ctx, "test"))
	d = rm.ValidateOrder(ctx, check, 100000)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "emergency stop is active")
	assert.ErrorIs(t, rm.Resume(ctx), ports.ErrEmergencyStop)
}

func TestCalculatePositionSize(t *testing.T) {
	rm := newTestManager(t)

	// min(100000*0.05, 100000*0.10, 100000*0.02)
	assert.InDelta(t, 2000, rm.CalculatePositionSize(100000, 0.05), 1e-9)
	assert.InDelta(t, 500, rm.CalculatePositionSize(100000, 0.005), 1e-9)

	rm.RecordTradePnL(-1500)
	assert.InDelta(t, 500, rm.CalculatePositionSize(100000, 0.05), 1e-9)

	rm.RecordTradePnL(-1000)
	assert.Zero(t, rm.CalculatePositionSize(100000, 0.05))

	rm.ResetDailyStats()
	assert.InDelta(t, 2000, rm.CalculatePositionSize(100000, 0.05), 1e-9)
	assert.Zero(t, rm.CalculatePositionSize(0, 0.05))
}

func TestEmergencyStop_CascadeOrderAndIdempotence(t *testing.T) {
	rec := &recorder{}
	snaps := &mockSnapshots{rec: rec}
	sink := &mockSink{rec: rec}
	rm := newTestManager(t)
	rm.RegisterStrategy(&mockHalter{rec: rec})
	rm.RegisterVenue(&mockVenue{rec: rec})
	led := &mockLedger{rec: rec}
	rm.SetOrderCanceller(led)
	rm.SetPositionCloser(led)
	rm.SetSnapshotWriter(snaps)
	rm.SetAlertSink(sink)
	rm.UpdatePortfolioValue(100000)

	ctx := context.Background()
	require.NoError(t, rm.EmergencyStop(ctx, "drawdown breach"))
	require.NoError(t, rm.EmergencyStop(ctx, "second trigger"))

	assert.Equal(t, []string{"halt", "cancel", "close", "disconnect", "snapshot", "notify"}, rec.list())
	assert.Equal(t, 1, rm.CascadeRuns())
	require.Len(t, snaps.snaps, 1)
	assert.Equal(t, "drawdown breach", snaps.snaps[0].EmergencyReason)
	assert.Equal(t, 100000.0, snaps.snaps[0].PortfolioValue)
	assert.True(t, rm.IsEmergencyStopped())
	assert.Equal(t, domain.RiskEmergency, rm.Level())
}

func TestEmergencyStop_ContinuesAfterStepFailure(t *testing.T) {
	rec := &recorder{}
	rm := newTestManager(t)
	rm.RegisterStrategy(&mockHalter{rec: rec, err: errors.New("strategy stuck")})
	led := &mockLedger{rec: rec, cancelErr: errors.New("cancel failed")}
	rm.SetOrderCanceller(led)
	rm.SetPositionCloser(led)
	rm.RegisterVenue(&mockVenue{rec: rec})
	rm.SetSnapshotWriter(&mockSnapshots{rec: rec})

	err := rm.EmergencyStop(context.Background(), "volatility")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy stuck")
	assert.Contains(t, err.Error(), "cancel failed")
	assert.Equal(t, []string{"halt", "cancel", "close", "disconnect", "snapshot"}, rec.list())
	assert.True(t, rm.IsEmergencyStopped(), "the stop stays active even when steps fail")
}

func TestEmergencyStop_ConcurrentTriggersRunOnce(t *testing.T) {
	rec := &recorder{}
	snaps := &mockSnapshots{rec: rec}
	rm := newTestManager(t)
	rm.SetSnapshotWriter(snaps)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rm.EmergencyStop(context.Background(), "race")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, rm.CascadeRuns())
	assert.Len(t, rec.list(), 1)
}

func TestResetEmergencyStop(t *testing.T) {
	ctx := context.Background()

	t.Run("requires confirmation", func(t *testing.T) {
		rm := newTestManager(t)
		require.NoError(t, rm.EmergencyStop(ctx, "test"))
		assert.ErrorIs(t, rm.ResetEmergencyStop(ctx, Override{}), ports.ErrOverrideRejected)
		assert.True(t, rm.IsEmergencyStopped())

		require.NoError(t, rm.ResetEmergencyStop(ctx, Override{Confirm: true}))
		assert.False(t, rm.IsEmergencyStopped())
		assert.True(t, rm.ValidateOrder(ctx, domain.OrderCheck{Side: domain.Buy, Notional: 1}, 100000).Approved)
	})

	t.Run("requires valid totp code when configured", func(t *testing.T) {
		const secret = "JBSWY3DPEHPK3PXP"
		rm := newTestManager(t, func(c *RiskConfig) { c.TOTPSecret = secret })
		require.NoError(t, rm.EmergencyStop(ctx, "test"))

		assert.ErrorIs(t, rm.ResetEmergencyStop(ctx, Override{Confirm: true, Code: "000000x"}), ports.ErrOverrideRejected)
		assert.True(t, rm.IsEmergencyStopped())

		code, err := totp.GenerateCode(secret, time.Now())
		require.NoError(t, err)
		require.NoError(t, rm.ResetEmergencyStop(ctx, Override{Confirm: true, Code: code}))
		assert.False(t, rm.IsEmergencyStopped())
	})

	t.Run("clears a halt raised without an emergency stop", func(t *testing.T) {
		rm := newTestManager(t)
		rm.Evaluate(ctx, PortfolioMetrics{
			TotalValue: 100000,
			Cash:       70000,
			Positions:  map[string]float64{"BTC": 30000},
		})
		require.True(t, rm.GetStats().Halted)
		require.False(t, rm.IsEmergencyStopped())
		check := domain.OrderCheck{Side: domain.Buy, Notional: 1}
		assert.False(t, rm.ValidateOrder(ctx, check, 100000).Approved)

		assert.ErrorIs(t, rm.ResetEmergencyStop(ctx, Override{}), ports.ErrOverrideRejected)
		assert.True(t, rm.GetStats().Halted, "an unconfirmed reset keeps the halt")

		require.NoError(t, rm.ResetEmergencyStop(ctx, Override{Confirm: true}))
		stats := rm.GetStats()
		assert.False(t, stats.Halted)
		assert.Empty(t, stats.HaltReason)
		assert.True(t, rm.ValidateOrder(ctx, check, 100000).Approved)
	})
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("concentration halts trading", func(t *testing.T) {
		rm := newTestManager(t)
		alerts := rm.Evaluate(ctx, PortfolioMetrics{
			TotalValue: 100000,
			Cash:       80000,
			Positions:  map[string]float64{"DOT": 20000},
		})
		require.NotEmpty(t, alerts)
		assert.Equal(t, domain.AlertCritical, alerts[0].Level)
		assert.Contains(t, alerts[0].Message, "DOT")
		assert.True(t, rm.GetStats().Halted)
		assert.False(t, rm.IsEmergencyStopped())
	})

	t.Run("daily loss triggers emergency stop", func(t *testing.T) {
		rm := newTestManager(t)
		rm.Evaluate(ctx, PortfolioMetrics{TotalValue: 100000, Cash: 100000})
		alerts := rm.Evaluate(ctx, PortfolioMetrics{TotalValue: 97000, Cash: 97000})

		var sawEmergency bool
		for _, a := range alerts {
			if a.Level == domain.AlertEmergency {
				sawEmergency = true
				assert.Contains(t, a.Message, "daily loss")
			}
		}
		assert.True(t, sawEmergency)
		assert.True(t, rm.IsEmergencyStopped())
	})

	t.Run("correlated exposure warns", func(t *testing.T) {
		rm := newTestManager(t)
		alerts := rm.Evaluate(ctx, PortfolioMetrics{
			TotalValue: 100000,
			Cash:       82000,
			Positions:  map[string]float64{"BTC": 9000, "ETH": 9000},
		})
		require.Len(t, alerts, 1)
		assert.Equal(t, domain.AlertWarning, alerts[0].Level)
		assert.Equal(t, "large_cap", alerts[0].Details["group"])
		assert.False(t, rm.GetStats().Halted)
	})

	t.Run("calm portfolio raises nothing", func(t *testing.T) {
		rm := newTestManager(t)
		alerts := rm.Evaluate(ctx, PortfolioMetrics{TotalValue: 100000, Cash: 95000, Positions: map[string]float64{"SOL": 5000}})
		assert.Empty(t, alerts)
	})
}

func TestLevelChangePublishesAlert(t *testing.T) {
	sink := &mockSink{}
	rm := newTestManager(t)
	rm.SetAlertSink(sink)

	rm.UpdatePortfolioValue(100000)
	rm.UpdatePortfolioValue(90000)

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, domain.AlertCritical, sink.alerts[0].Level)
	assert.Equal(t, "risk_management", sink.alerts[0].Component)
	assert.Len(t, rm.Alerts(), 1)
	assert.Equal(t, 1, rm.GetRiskSummary().AlertsCount)
}
