package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"paperTrader/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	venueName = "binance_futures"
)

// Client is a read-only Binance futures market data adapter. It implements
// ports.PriceFeed for the ledger and ports.VenueConnection for the emergency
// cascade. It never places orders.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	quoteAsset           string
	maxPriceAge          time.Duration
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	now                  func() time.Time

	mu           sync.RWMutex
	marks        map[string]markPrice // keyed by exchange symbol
	streams      []context.CancelFunc
	streamDone   []chan struct{}
	disconnected bool
}

type markPrice struct {
	price decimal.Decimal
	at    time.Time
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	QuoteAsset           string        // appended to ledger symbols, "USDT" by default
	MaxPriceAge          time.Duration // streamed marks older than this fall back to REST, 10s by default
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Market data endpoints are public; keys only raise rate limits.
		cfg.Logger.Info(context.Background(), "Binance client running without API keys (public market data only)")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL})

	quote := strings.ToUpper(strings.TrimSpace(cfg.QuoteAsset))
	if quote == "" {
		quote = "USDT"
	}
	maxAge := cfg.MaxPriceAge
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		quoteAsset:           quote,
		maxPriceAge:          maxAge,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		now:                  time.Now,
		marks:                make(map[string]markPrice),
	}, nil
}

// Name identifies the venue.
func (c *Client) Name() string { return venueName }

// exchangeSymbol maps a ledger symbol ("BTC") to a futures pair ("BTCUSDT").
func (c *Client) exchangeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, c.quoteAsset) && len(s) > len(c.quoteAsset) {
		return s
	}
	return s + c.quoteAsset
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrPriceUnavailable
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -1001, -1007: // Disconnected / backend timeout
			mappedErr = ports.ErrExchangeUnavailable
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetCurrentPrice returns a streamed mark price when one is fresh enough and
// falls back to the REST last price otherwise.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair := c.exchangeSymbol(symbol)

	c.mu.RLock()
	disconnected := c.disconnected
	mark, ok := c.marks[pair]
	c.mu.RUnlock()

	if disconnected {
		return decimal.Zero, fmt.Errorf("GetCurrentPrice %s: venue disconnected: %w", pair, ports.ErrExchangeUnavailable)
	}
	if ok && c.now().Sub(mark.at) <= c.maxPriceAge {
		return mark.price, nil
	}
	return c.GetTickerPrice(ctx, pair)
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetMarkPrice"
	pair := c.exchangeSymbol(symbol)
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(pair).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return decimal.Zero, fmt.Errorf("%s: no price data returned for symbol %s: %w", op, pair, ports.ErrPriceUnavailable)
	}
	return c.parsePrice(ctx, op, tickers[0].MarkPrice)
}

// GetTickerPrice retrieves the last traded price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetTickerPrice"
	pair := c.exchangeSymbol(symbol)
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(pair).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return decimal.Zero, fmt.Errorf("%s: no ticker data returned for symbol %s: %w", op, pair, ports.ErrPriceUnavailable)
	}
	return c.parsePrice(ctx, op, tickers[0].LastPrice)
}

func (c *Client) parsePrice(ctx context.Context, op, raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", raw, err), op)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: non-positive price %s: %w", op, raw, ports.ErrPriceUnavailable)
	}
	return price, nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// recordMark stores a streamed mark price.
func (c *Client) recordMark(pair, raw string, at time.Time) error {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("could not parse mark price '%s' for %s: %w", raw, pair, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[pair] = markPrice{price: price, at: at}
	return nil
}

// StreamMarkPrices keeps one mark price stream per symbol open, reconnecting
// with exponential backoff, until ctx is cancelled or Disconnect is called.
func (c *Client) StreamMarkPrices(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return fmt.Errorf("StreamMarkPrices: venue disconnected: %w", ports.ErrExchangeUnavailable)
	}
	c.mu.Unlock()

	for _, s := range symbols {
		pair := c.exchangeSymbol(s)
		wsCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		c.mu.Lock()
		c.streams = append(c.streams, cancel)
		c.streamDone = append(c.streamDone, done)
		c.mu.Unlock()

		go c.streamSymbol(wsCtx, pair, done)
	}
	return nil
}

func (c *Client) streamSymbol(wsCtx context.Context, pair string, done chan struct{}) {
	op := "StreamMarkPrices"
	defer close(done)
	fields := map[string]interface{}{"symbol": pair}

	handler := func(event *futures.WsMarkPriceEvent) {
		if err := c.recordMark(event.Symbol, event.MarkPrice, time.UnixMilli(event.Time)); err != nil {
			c.logger.Error(wsCtx, err, op+": Failed to translate mark price event", fields)
		}
	}
	errHandler := func(err error) {
		c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"symbol": pair, "error": err.Error()})
	}

	attempt := 0
	for {
		select {
		case <-wsCtx.Done():
			return
		default:
		}

		innerDone, innerStop, err := futures.WsMarkPriceServe(pair, handler, errHandler)
		if err != nil {
			c.handleError(wsCtx, err, op+" connection attempt")
			attempt++
			if attempt >= c.maxReconnectAttempts {
				c.logger.Error(wsCtx, err, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"symbol": pair, "maxAttempts": c.maxReconnectAttempts})
				return
			}
			delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
				continue
			case <-wsCtx.Done():
				return
			}
		}

		c.logger.Info(wsCtx, op+": WebSocket connection established.", fields)
		attempt = 0

		select {
		case <-innerDone:
			c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", fields)
		case <-wsCtx.Done():
			select {
			case innerStop <- struct{}{}:
			default:
			}
			return
		}
	}
}

// Disconnect stops every mark price stream and refuses further price requests.
// It is safe to call more than once.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	cancels := c.streams
	dones := c.streamDone
	c.streams, c.streamDone = nil, nil
	c.marks = make(map[string]markPrice)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("disconnect %s: %w: %w", venueName, ports.ErrTimeout, ctx.Err())
		}
	}
	c.futuresClient.HTTPClient.CloseIdleConnections()
	c.logger.Info(ctx, "Binance venue disconnected", map[string]interface{}{"streams": len(cancels)})
	return nil
}
