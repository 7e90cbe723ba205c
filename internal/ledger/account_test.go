package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
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

type stubFeed struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func newStubFeed(prices map[string]string) *stubFeed {
	f := &stubFeed{prices: make(map[string]decimal.Decimal), errs: make(map[string]error)}
	for s, p := range prices {
		f.prices[s] = decimal.RequireFromString(p)
	}
	return f
}

func (f *stubFeed) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = decimal.RequireFromString(price)
}

func (f *stubFeed) fail(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[symbol] = err
}

func (f *stubFeed) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return decimal.Zero, err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ports.ErrPriceUnavailable)
	}
	return p, nil
}

type stubGate struct {
	decision domain.RiskDecision
	checks   []domain.OrderCheck
	pnl      []float64
}

func (g *stubGate) ValidateOrder(ctx context.Context, check domain.OrderCheck, portfolioValue float64) domain.RiskDecision {
	g.checks = append(g.checks, check)
	return g.decision
}

func (g *stubGate) RecordTradePnL(pnl float64) { g.pnl = append(g.pnl, pnl) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestAccount(t *testing.T, balance string, feed *stubFeed) *Account {
	t.Helper()
	acc, err := New(Config{
		AccountID:      "test",
		InitialBalance: dec(balance),
		CommissionRate: dec("0.001"),
		Feed:           feed,
		Logger:         &mockLogger{},
	})
	require.NoError(t, err)
	return acc
}

func marketOrder(symbol string, side domain.OrderSide, qty string) OrderRequest {
	return OrderRequest{Symbol: symbol, Type: domain.OrderTypeMarket, Side: side, Quantity: dec(qty)}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{InitialBalance: dec("100"), Feed: newStubFeed(nil)})
	assert.Error(t, err)

	_, err = New(Config{InitialBalance: dec("100"), Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = New(Config{InitialBalance: dec("0"), Feed: newStubFeed(nil), Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestPlaceOrder_MarketBuyDeductsGrossPlusCommission(t *testing.T) {
	feed := newStubFeed(map[string]string{"BTC": "45000"})
	acc := newTestAccount(t, "10000", feed)

	id, err := acc.PlaceOrder(context.Background(), marketOrder("btc", domain.Buy, "0.1"))
	require.NoError(t, err)

	order, ok := acc.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledPrice.Equal(dec("45000")))
	assert.True(t, order.Commission.Equal(dec("4.5")))

	// 10000 - 0.1*45000*(1+0.001)
	assert.True(t, acc.Cash().Equal(dec("5495.5")), "cash = %s", acc.Cash())

	positions := acc.Positions()
	require.Len(t, positions, 1)
	pos := positions["BTC"]
	assert.True(t, pos.Quantity.Equal(dec("0.1")))
	assert.True(t, pos.AvgPrice.Equal(dec("45000")))
}

func TestPlaceOrder_ValidationErrorsRecordNothing(t *testing.T) {
	tests := []struct {
		name  string
		req   OrderRequest
		field string
	}{
		{"symbol too short", marketOrder("B", domain.Buy, "1"), "symbol"},
		{"symbol with digits", marketOrder("BTC1", domain.Buy, "1"), "symbol"},
		{"empty symbol", marketOrder("  ", domain.Buy, "1"), "symbol"},
		{"zero quantity", marketOrder("BTC", domain.Buy, "0"), "quantity"},
		{"negative quantity", marketOrder("BTC", domain.Buy, "-1"), "quantity"},
		{"quantity over max", marketOrder("BTC", domain.Buy, "1000000001"), "quantity"},
		{"unknown side", OrderRequest{Symbol: "BTC", Type: domain.OrderTypeMarket, Side: "HOLD", Quantity: dec("1")}, "side"},
		{"limit without price", OrderRequest{Symbol: "BTC", Type: domain.OrderTypeLimit, Side: domain.Buy, Quantity: dec("1")}, "price"},
		{"limit price too high", OrderRequest{Symbol: "BTC", Type: domain.OrderTypeLimit, Side: domain.Buy, Quantity: dec("1"), Price: dec("20000000")}, "price"},
		{"stop loss without stop", OrderRequest{Symbol: "BTC", Type: domain.OrderTypeStopLoss, Side: domain.Sell, Quantity: dec("1")}, "stop_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := newTestAccount(t, "10000", newStubFeed(map[string]string{"BTC": "100"}))
			id, err := acc.PlaceOrder(context.Background(), tt.req)
			require.Error(t, err)
			assert.Empty(t, id)
			assert.ErrorIs(t, err, ports.ErrInvalidRequest)

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
			assert.Empty(t, acc.GetAccountSummary().RecentOrders)
		})
	}
}

func TestPlaceOrder_RejectionsKeepStateUnchanged(t *testing.T) {
	t.Run("insufficient funds", func(t *testing.T) {
		acc := newTestAccount(t, "1000", newStubFeed(map[string]string{"ETH": "3000"}))
		id, err := acc.PlaceOrder(context.Background(), marketOrder("ETH", domain.Buy, "1"))
		require.NoError(t, err)

		order, _ := acc.GetOrder(id)
		assert.Equal(t, domain.OrderStatusRejected, order.Status)
		assert.Contains(t, order.RejectReason, "insufficient funds")
		assert.True(t, acc.Cash().Equal(dec("1000")))
		assert.Empty(t, acc.Positions())
	})

	t.Run("sell without position", func(t *testing.T) {
		acc := newTestAccount(t, "1000", newStubFeed(map[string]string{"ETH": "3000"}))
		id, err := acc.PlaceOrder(context.Background(), marketOrder("ETH", domain.Sell, "1"))
		require.NoError(t, err)

		order, _ := acc.GetOrder(id)
		assert.Equal(t, domain.OrderStatusRejected, order.Status)
		assert.Contains(t, order.RejectReason, "insufficient position")
	})

	t.Run("price unavailable", func(t *testing.T) {
		feed := newStubFeed(nil)
		acc := newTestAccount(t, "1000", feed)
		id, err := acc.PlaceOrder(context.Background(), marketOrder("SOL", domain.Buy, "1"))
		require.NoError(t, err)

		order, _ := acc.GetOrder(id)
		assert.Equal(t, domain.OrderStatusRejected, order.Status)
		assert.Contains(t, order.RejectReason, "price unavailable")
	})

	t.Run("risk gate rejects", func(t *testing.T) {
		acc := newTestAccount(t, "100000", newStubFeed(map[string]string{"BTC": "50000"}))
		gate := &stubGate{decision: domain.RiskDecision{Approved: false, Reason: "order value exceeds position limit"}}
		acc.SetRiskGate(gate)

		id, err := acc.PlaceOrder(context.Background(), marketOrder("BTC", domain.Buy, "10"))
		require.NoError(t, err)

		order, _ := acc.GetOrder(id)
		assert.Equal(t, domain.OrderStatusRejected, order.Status)
		assert.Contains(t, order.RejectReason, "position limit")
		require.Len(t, gate.checks, 1)
		assert.InDelta(t, 500000.0, gate.checks[0].Notional, 1e-9)
		assert.True(t, acc.Cash().Equal(dec("100000")))
	})
}

func TestAveragePriceAndRealizedPnL(t *testing.T) {
	feed := newStubFeed(map[string]string{"ETH": "2000"})
	acc := newTestAccount(t, "100000", feed)
	ctx := context.Background()

	buys := []struct{ qty, price string }{
		{"1", "2000"},
		{"3", "2400"},
		{"0.5", "1800"},
	}
	var sumQty, sumNotional float64
	for _, b := range buys {
		feed.set("ETH", b.price)
		_, err := acc.PlaceOrder(ctx, marketOrder("ETH", domain.Buy, b.qty))
		require.NoError(t, err)
		q, p := dec(b.qty).InexactFloat64(), dec(b.price).InexactFloat64()
		sumQty += q
		sumNotional += q * p
	}

	pos, ok := acc.GetPosition("ETH")
	require.True(t, ok)
	assert.InDelta(t, sumNotional/sumQty, pos.AvgPrice.InexactFloat64(), 1e-9)
	avg := pos.AvgPrice

	feed.set("ETH", "2500")
	_, err := acc.PlaceOrder(ctx, marketOrder("ETH", domain.Sell, "2"))
	require.NoError(t, err)

	trades := acc.Trades()
	last := trades[len(trades)-1]
	expected := dec("2500").Sub(avg).Mul(dec("2"))
	assert.True(t, last.RealizedPnL.Equal(expected), "realized %s, expected %s", last.RealizedPnL, expected)

	pos, _ = acc.GetPosition("ETH")
	assert.True(t, pos.AvgPrice.Equal(avg), "average price is unchanged by sells")
	assert.True(t, pos.Quantity.Equal(dec("2.5")))

	// Overselling is rejected and quantity never goes negative.
	id, err := acc.PlaceOrder(ctx, marketOrder("ETH", domain.Sell, "3"))
	require.NoError(t, err)
	order, _ := acc.GetOrder(id)
	assert.Equal(t, domain.OrderStatusRejected, order.Status)
	pos, _ = acc.GetPosition("ETH")
	assert.True(t, pos.Quantity.Equal(dec("2.5")))

	// Selling the rest removes the position.
	_, err = acc.PlaceOrder(ctx, marketOrder("ETH", domain.Sell, "2.5"))
	require.NoError(t, err)
	_, ok = acc.GetPosition("ETH")
	assert.False(t, ok)
}

func TestConcurrentBuysKeepVolumeWeightedAverage(t *testing.T) {
	feed := newStubFeed(map[string]string{"ETH": "2000"})
	acc := newTestAccount(t, "1000000", feed)
	ctx := context.Background()

	const buyers, perBuyer = 8, 5
	stop := make(chan struct{})
	repricer := make(chan struct{})
	go func() {
		defer close(repricer)
		prices := []string{"1800", "1950", "2000", "2100", "2250"}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				feed.set("ETH", prices[i%len(prices)])
			}
		}
	}()

	var wg sync.WaitGroup
	for b := 0; b < buyers; b++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perBuyer; i++ {
				_, err := acc.PlaceOrder(ctx, marketOrder("ETH", domain.Buy, "0.25"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-repricer

	trades := acc.Trades()
	require.Len(t, trades, buyers*perBuyer)
	sumQty, sumNotional := decimal.Zero, decimal.Zero
	for _, tr := range trades {
		assert.Equal(t, domain.Buy, tr.Side)
		sumQty = sumQty.Add(tr.Quantity)
		sumNotional = sumNotional.Add(tr.Quantity.Mul(tr.Price))
	}

	pos, ok := acc.GetPosition("ETH")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("10")), "quantity %s", pos.Quantity)
	assert.True(t, pos.Quantity.Equal(sumQty))
	assert.InDelta(t, sumNotional.Div(sumQty).InexactFloat64(), pos.AvgPrice.InexactFloat64(), 1e-9)

	commission := sumNotional.Mul(dec("0.001"))
	assert.True(t, acc.Cash().Equal(dec("1000000").Sub(sumNotional).Sub(commission)), "cash %s", acc.Cash())
}

func TestBuyFillsAreRecordedWithoutRealizedPnL(t *testing.T) {
	feed := newStubFeed(map[string]string{"SOL": "100"})
	acc := newTestAccount(t, "10000", feed)
	gate := &stubGate{decision: domain.RiskDecision{Approved: true}}
	acc.SetRiskGate(gate)
	ctx := context.Background()

	_, err := acc.PlaceOrder(ctx, marketOrder("SOL", domain.Buy, "10"))
	require.NoError(t, err)
	feed.set("SOL", "120")
	_, err = acc.PlaceOrder(ctx, marketOrder("SOL", domain.Sell, "4"))
	require.NoError(t, err)

	trades := acc.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, domain.Buy, trades[0].Side)
	assert.True(t, trades[0].RealizedPnL.IsZero())
	assert.True(t, trades[0].Commission.Equal(dec("1")))
	assert.False(t, trades[0].IsWin())
	assert.True(t, trades[1].RealizedPnL.Equal(dec("80")))
	assert.Equal(t, []float64{80}, gate.pnl, "only sells report realized P&L to the risk gate")

	s := acc.GetAccountSummary()
	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, 1, s.WinningTrades)
}

func TestSummary_WinRateAndTotals(t *testing.T) {
	feed := newStubFeed(map[string]string{"SOL": "100"})
	acc := newTestAccount(t, "10000", feed)
	ctx := context.Background()

	_, err := acc.PlaceOrder(ctx, marketOrder("SOL", domain.Buy, "10"))
	require.NoError(t, err)
	feed.set("SOL", "110")
	_, err = acc.PlaceOrder(ctx, marketOrder("SOL", domain.Sell, "5"))
	require.NoError(t, err)
	feed.set("SOL", "90")
	_, err = acc.PlaceOrder(ctx, marketOrder("SOL", domain.Sell, "5"))
	require.NoError(t, err)

	s := acc.GetAccountSummary()
	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 1, s.WinningTrades)
	assert.InDelta(t, 100.0/3.0, s.WinRatePct, 1e-9)
	assert.True(t, s.RealizedPnL.Equal(dec("0")), "realized %s", s.RealizedPnL)
	// 1000*0.001 + 550*0.001 + 450*0.001
	assert.True(t, s.TotalCommission.Equal(dec("2")), "commission %s", s.TotalCommission)
	assert.True(t, s.CashBalance.Equal(dec("9998")))
	assert.Empty(t, s.Positions)
	assert.Len(t, s.RecentOrders, 3)
}

func TestUpdateMarketPrices_TotalEqualsCashPlusPositions(t *testing.T) {
	feed := newStubFeed(map[string]string{"BTC": "45000", "ETH": "3000", "ADA": "0.5"})
	acc := newTestAccount(t, "100000", feed)
	ctx := context.Background()

	for _, r := range []OrderRequest{
		marketOrder("BTC", domain.Buy, "0.3"),
		marketOrder("ETH", domain.Buy, "2.7"),
		marketOrder("ADA", domain.Buy, "1234.567"),
	} {
		_, err := acc.PlaceOrder(ctx, r)
		require.NoError(t, err)
	}

	feed.set("BTC", "44123.37")
	feed.set("ETH", "3011.01")
	feed.set("ADA", "0.49777")
	require.NoError(t, acc.UpdateMarketPrices(ctx))

	s := acc.GetAccountSummary()
	sum := s.CashBalance
	for _, p := range s.Positions {
		sum = sum.Add(p.MarketValue)
	}
	assert.True(t, s.TotalValue.Equal(sum), "total %s != cash+positions %s", s.TotalValue, sum)
	assert.True(t, s.Positions["BTC"].CurrentPrice.Equal(dec("44123.37")))
	assert.Greater(t, s.MaxDrawdownPct, 0.0)
}

func TestUpdateMarketPrices_SkipsFailingSymbol(t *testing.T) {
	feed := newStubFeed(map[string]string{"BTC": "100", "ETH": "10"})
	acc := newTestAccount(t, "10000", feed)
	ctx := context.Background()
	_, _ = acc.PlaceOrder(ctx, marketOrder("BTC", domain.Buy, "1"))
	_, _ = acc.PlaceOrder(ctx, marketOrder("ETH", domain.Buy, "1"))

	feed.fail("BTC", errors.New("feed down"))
	feed.set("ETH", "12")
	require.NoError(t, acc.UpdateMarketPrices(ctx))

	btc, _ := acc.GetPosition("BTC")
	eth, _ := acc.GetPosition("ETH")
	assert.True(t, btc.CurrentPrice.Equal(dec("100")), "BTC keeps last mark")
	assert.True(t, eth.CurrentPrice.Equal(dec("12")))
	assert.True(t, eth.UnrealizedPnL.Equal(dec("2")))
}

func TestPendingOrdersTriggerOnPriceCross(t *testing.T) {
	feed := newStubFeed(map[string]string{"DOT": "25"})
	acc := newTestAccount(t, "10000", feed)
	ctx := context.Background()

	limitID, err := acc.PlaceOrder(ctx, OrderRequest{Symbol: "DOT", Type: domain.OrderTypeLimit, Side: domain.Buy, Quantity: dec("10"), Price: dec("24")})
	require.NoError(t, err)
	order, _ := acc.GetOrder(limitID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)

	feed.set("DOT", "24.5")
	require.NoError(t, acc.UpdateMarketPrices(ctx))
	order, _ = acc.GetOrder(limitID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)

	feed.set("DOT", "23.9")
	require.NoError(t, acc.UpdateMarketPrices(ctx))
	order, _ = acc.GetOrder(limitID)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledPrice.Equal(dec("24")), "limit orders fill at the limit price")

	stopID, err := acc.PlaceOrder(ctx, OrderRequest{Symbol: "DOT", Type: domain.OrderTypeStopLoss, Side: domain.Sell, Quantity: dec("10"), StopPrice: dec("22")})
	require.NoError(t, err)
	feed.set("DOT", "21.5")
	require.NoError(t, acc.UpdateMarketPrices(ctx))
	order, _ = acc.GetOrder(stopID)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledPrice.Equal(dec("21.5")))
	_, held := acc.GetPosition("DOT")
	assert.False(t, held)
}

func TestExecuteAndCancel(t *testing.T) {
	feed := newStubFeed(map[string]string{"ETH": "3000"})
	acc := newTestAccount(t, "10000", feed)
	ctx := context.Background()

	id, err := acc.PlaceOrder(ctx, OrderRequest{Symbol: "ETH", Type: domain.OrderTypeLimit, Side: domain.Buy, Quantity: dec("1"), Price: dec("2900")})
	require.NoError(t, err)
	require.NoError(t, acc.Execute(ctx, id))

	order, _ := acc.GetOrder(id)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.ErrorIs(t, acc.Execute(ctx, id), ports.ErrOrderNotPending)
	assert.ErrorIs(t, acc.Execute(ctx, "missing"), ports.ErrOrderNotFound)
	assert.False(t, acc.CancelOrder(id), "filled orders cannot be cancelled")

	id2, err := acc.PlaceOrder(ctx, OrderRequest{Symbol: "ETH", Type: domain.OrderTypeLimit, Side: domain.Sell, Quantity: dec("1"), Price: dec("5000")})
	require.NoError(t, err)
	assert.True(t, acc.CancelOrder(id2))
	assert.False(t, acc.CancelOrder(id2))
	order, _ = acc.GetOrder(id2)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
}

func TestEmergencyCollaborators(t *testing.T) {
	feed := newStubFeed(map[string]string{"BTC": "100", "ETH": "10"})
	acc := newTestAccount(t, "10000", feed)
	gate := &stubGate{decision: domain.RiskDecision{Approved: true}}
	acc.SetRiskGate(gate)
	ctx := context.Background()

	_, _ = acc.PlaceOrder(ctx, marketOrder("BTC", domain.Buy, "2"))
	_, _ = acc.PlaceOrder(ctx, marketOrder("ETH", domain.Buy, "5"))
	_, _ = acc.PlaceOrder(ctx, OrderRequest{Symbol: "BTC", Type: domain.OrderTypeLimit, Side: domain.Buy, Quantity: dec("1"), Price: dec("50")})

	cancelled, err := acc.CancelAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	gate.decision = domain.RiskDecision{Approved: false, Reason: "emergency stop is active"}
	feed.fail("ETH", errors.New("feed down"))
	closed, err := acc.CloseAllPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, closed)
	assert.Empty(t, acc.Positions())
	assert.Len(t, gate.pnl, 2, "realized P&L reported for each liquidation")
}

func TestSaveSnapshot_RetainsWindow(t *testing.T) {
	feed := newStubFeed(map[string]string{"BTC": "100"})
	acc := newTestAccount(t, "1000", feed)
	ctx := context.Background()

	_, err := acc.PlaceOrder(ctx, marketOrder("BTC", domain.Buy, "1"))
	require.NoError(t, err)

	snap, err := acc.SaveSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.TotalValue.Equal(snap.CashBalance.Add(snap.PositionsValue)))
	assert.Contains(t, snap.Positions, "BTC")
	assert.Len(t, acc.History(), 1)
}
