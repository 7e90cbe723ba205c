package binanceclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperTrader/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{Logger: &mockLogger{}, UseTestnet: true})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "logger is required")

	c := newTestClient(t)
	assert.Equal(t, baseURLTestnet, c.futuresClient.BaseURL)
	assert.Equal(t, "USDT", c.quoteAsset)
	assert.Equal(t, 10*time.Second, c.maxPriceAge)
	assert.Equal(t, "binance_futures", c.Name())
}

func TestExchangeSymbol(t *testing.T) {
	c := newTestClient(t)
	assert.Equal(t, "BTCUSDT", c.exchangeSymbol("BTC"))
	assert.Equal(t, "ETHUSDT", c.exchangeSymbol(" eth "))
	assert.Equal(t, "BTCUSDT", c.exchangeSymbol("BTCUSDT"))
	assert.Equal(t, "USDTUSDT", c.exchangeSymbol("USDT"))
}

func TestHandleError(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limit", &common.APIError{Code: -1003, Message: "too many requests"}, ports.ErrRateLimited},
		{"bad signature", &common.APIError{Code: -1022, Message: "signature"}, ports.ErrAuthenticationFailed},
		{"invalid symbol", &common.APIError{Code: -1121, Message: "invalid symbol"}, ports.ErrPriceUnavailable},
		{"bad param", &common.APIError{Code: -1102, Message: "mandatory param"}, ports.ErrInvalidRequest},
		{"bad key", &common.APIError{Code: -2015, Message: "invalid api-key"}, ports.ErrInvalidAPIKeys},
		{"backend down", &common.APIError{Code: -1001, Message: "disconnected"}, ports.ErrExchangeUnavailable},
		{"other api", &common.APIError{Code: -9999, Message: "?"}, ports.ErrUnknown},
		{"deadline", context.DeadlineExceeded, ports.ErrTimeout},
		{"canceled", context.Canceled, ports.ErrContextCanceled},
		{"refused", errors.New("dial tcp: connection refused"), ports.ErrConnectionFailed},
		{"other", errors.New("boom"), ports.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.handleError(ctx, tt.err, "op")
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, c.handleError(ctx, nil, "op"))
}

func TestGetCurrentPrice_UsesFreshStreamedMark(t *testing.T) {
	c := newTestClient(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.recordMark("BTCUSDT", "45123.5", now.Add(-2*time.Second)))
	price, err := c.GetCurrentPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "45123.5", price.String())

	assert.Error(t, c.recordMark("BTCUSDT", "not-a-number", now))
}

func TestDisconnect(t *testing.T) {
	c := newTestClient(t)
	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.recordMark("BTCUSDT", "45000", now))

	require.NoError(t, c.Disconnect(context.Background()))
	require.NoError(t, c.Disconnect(context.Background()), "second disconnect is a no-op")

	_, err := c.GetCurrentPrice(context.Background(), "BTC")
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)

	err = c.StreamMarkPrices(context.Background(), []string{"BTC"})
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
}
