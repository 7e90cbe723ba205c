// Package strategy runs an automated moving-average crossover strategy
// against the paper trading account.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paperTrader/internal/domain"
	"paperTrader/internal/ledger"
	"paperTrader/internal/ports"
	"paperTrader/internal/strategy/indicators"
)

// Name is the name the strategy registers under with the risk manager.
const Name = "ma_crossover"

// Trader is the account surface the strategy trades through.
type Trader interface {
	PlaceOrder(ctx context.Context, req ledger.OrderRequest) (string, error)
	GetOrder(orderID string) (domain.Order, bool)
	GetPosition(symbol string) (domain.Position, bool)
	TotalValue() decimal.Decimal
}

// Sizer returns the notional to commit to one trade.
type Sizer interface {
	CalculatePositionSize(accountValue, riskPerTrade float64) float64
}

// Config holds parameters for the crossover strategy.
type Config struct {
	Symbols           []string
	ShortTermMAPeriod int           // e.g., 5
	LongTermMAPeriod  int           // e.g., 20
	RSIPeriod         int           // e.g., 14
	RSIOverbought     float64       // e.g., 70.0
	RiskPerTrade      float64       // fraction of account value, e.g., 0.02
	Interval          time.Duration // sampling interval for Run
	Logger            ports.Logger
}

// DefaultConfig returns the parameters used by the service.
func DefaultConfig(symbols []string, logger ports.Logger) Config {
	return Config{
		Symbols:           symbols,
		ShortTermMAPeriod: 5,
		LongTermMAPeriod:  20,
		RSIPeriod:         14,
		RSIOverbought:     70,
		RiskPerTrade:      0.02,
		Interval:          10 * time.Second,
		Logger:            logger,
	}
}

// MACrossover buys when the short SMA crosses above the long SMA and the RSI
// is not overbought, and sells the whole position on the opposite cross.
type MACrossover struct {
	cfg    Config
	feed   ports.PriceFeed
	trader Trader
	sizer  Sizer
	logger ports.Logger

	shortMA *indicators.MovingAverage
	longMA  *indicators.MovingAverage
	rsi     *indicators.RSI

	mu         sync.Mutex
	prices     map[string][]float64
	lastAbove  map[string]bool
	seen       map[string]bool
	halted     bool
	haltReason string
}

// New creates a crossover strategy instance.
func New(cfg Config, feed ports.PriceFeed, trader Trader, sizer Sizer) (*MACrossover, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if feed == nil || trader == nil || sizer == nil {
		return nil, fmt.Errorf("%w: feed, trader and sizer are required", ports.ErrInvalidRequest)
	}
	if cfg.ShortTermMAPeriod <= 0 || cfg.LongTermMAPeriod <= 0 || cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("%w: strategy periods must be positive", ports.ErrInvalidRequest)
	}
	if cfg.ShortTermMAPeriod >= cfg.LongTermMAPeriod {
		return nil, fmt.Errorf("%w: short term MA period must be less than long term MA period", ports.ErrInvalidRequest)
	}
	if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade > 1 {
		return nil, fmt.Errorf("%w: risk per trade must be in (0, 1]", ports.ErrInvalidRequest)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	for _, raw := range cfg.Symbols {
		s, err := ledger.NormalizeSymbol(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
		}
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", ports.ErrInvalidRequest)
	}
	cfg.Symbols = symbols

	return &MACrossover{
		cfg:    cfg,
		feed:   feed,
		trader: trader,
		sizer:  sizer,
		logger: cfg.Logger,
		shortMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ShortTermMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		longMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.LongTermMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.RSIOverbought,
		}),
		prices:    make(map[string][]float64),
		lastAbove: make(map[string]bool),
		seen:      make(map[string]bool),
	}, nil
}

// Name implements ports.StrategyHalter.
func (s *MACrossover) Name() string { return Name }

// Halt stops the strategy from placing further orders. It is idempotent.
func (s *MACrossover) Halt(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return nil
	}
	s.halted = true
	s.haltReason = reason
	s.logger.Warn(ctx, "Strategy halted", map[string]interface{}{"strategy": Name, "reason": reason})
	return nil
}

// Resume clears a halt so Step places orders again.
func (s *MACrossover) Resume(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.halted {
		return
	}
	s.halted = false
	s.haltReason = ""
	s.logger.Info(ctx, "Strategy resumed", map[string]interface{}{"strategy": Name})
}

// IsHalted reports whether the strategy has been halted and why.
func (s *MACrossover) IsHalted() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted, s.haltReason
}

// RequiredDataPoints returns the number of samples needed before the first signal.
func (s *MACrossover) RequiredDataPoints() int {
	n := s.longMA.RequiredDataPoints()
	if r := s.rsi.RequiredDataPoints(); r > n {
		n = r
	}
	return n
}

// Run samples prices every interval until ctx is cancelled.
func (s *MACrossover) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Strategy started", map[string]interface{}{
		"strategy": Name,
		"symbols":  s.cfg.Symbols,
		"interval": s.cfg.Interval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Strategy stopped", map[string]interface{}{"strategy": Name})
			return nil
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, ports.ErrContextCanceled) {
					return nil
				}
				s.logger.Error(ctx, err, "Strategy step failed", map[string]interface{}{"strategy": Name})
			}
		}
	}
}

// Step samples one price per symbol and acts on any crossover. Prices are
// still sampled while halted so indicators stay warm, but no orders are placed.
func (s *MACrossover) Step(ctx context.Context) error {
	var errs []error
	for _, symbol := range s.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.stepSymbol(ctx, symbol); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}
	return errors.Join(errs...)
}

func (s *MACrossover) stepSymbol(ctx context.Context, symbol string) error {
	price, err := s.feed.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return err
	}
	p, _ := price.Float64()

	s.mu.Lock()
	series := append(s.prices[symbol], p)
	if keep := s.RequiredDataPoints() * 2; len(series) > keep {
		series = series[len(series)-keep:]
	}
	s.prices[symbol] = series
	series = append([]float64(nil), series...)
	halted := s.halted
	s.mu.Unlock()

	if len(series) < s.RequiredDataPoints() {
		return nil
	}

	short, err := s.shortMA.Calculate(ctx, series)
	if err != nil {
		return err
	}
	long, err := s.longMA.Calculate(ctx, series)
	if err != nil {
		return err
	}
	above := short > long

	s.mu.Lock()
	prevAbove, seen := s.lastAbove[symbol], s.seen[symbol]
	s.lastAbove[symbol] = above
	s.seen[symbol] = true
	s.mu.Unlock()

	// The first full window only establishes which side the short MA is on.
	if !seen || halted || above == prevAbove {
		return nil
	}

	fields := map[string]interface{}{
		"strategy": Name,
		"symbol":   symbol,
		"price":    p,
		"short_ma": short,
		"long_ma":  long,
	}
	if above {
		rsi, err := s.rsi.Calculate(ctx, series)
		if err != nil {
			return err
		}
		fields["rsi"] = rsi
		if s.rsi.IsOverbought(rsi) {
			s.logger.Debug(ctx, "Bullish crossover skipped, RSI overbought", fields)
			return nil
		}
		return s.enter(ctx, symbol, price, fields)
	}
	return s.exit(ctx, symbol, fields)
}

func (s *MACrossover) enter(ctx context.Context, symbol string, price decimal.Decimal, fields map[string]interface{}) error {
	if _, held := s.trader.GetPosition(symbol); held {
		return nil
	}
	total, _ := s.trader.TotalValue().Float64()
	notional := s.sizer.CalculatePositionSize(total, s.cfg.RiskPerTrade)
	if notional <= 0 || !price.IsPositive() {
		s.logger.Debug(ctx, "Bullish crossover skipped, no risk budget", fields)
		return nil
	}
	qty := decimal.NewFromFloat(notional).Div(price).RoundDown(6)
	if !qty.IsPositive() {
		return nil
	}
	fields["quantity"] = qty.String()
	return s.place(ctx, ledger.OrderRequest{Symbol: symbol, Type: domain.OrderTypeMarket, Side: domain.Buy, Quantity: qty}, fields)
}

func (s *MACrossover) exit(ctx context.Context, symbol string, fields map[string]interface{}) error {
	pos, held := s.trader.GetPosition(symbol)
	if !held {
		return nil
	}
	fields["quantity"] = pos.Quantity.String()
	return s.place(ctx, ledger.OrderRequest{Symbol: symbol, Type: domain.OrderTypeMarket, Side: domain.Sell, Quantity: pos.Quantity}, fields)
}

func (s *MACrossover) place(ctx context.Context, req ledger.OrderRequest, fields map[string]interface{}) error {
	id, err := s.trader.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to place %s order: %w", req.Side, err)
	}
	fields["order_id"] = id
	fields["side"] = string(req.Side)
	if order, ok := s.trader.GetOrder(id); ok && order.Status == domain.OrderStatusRejected {
		fields["reason"] = order.RejectReason
		s.logger.Warn(ctx, "Strategy order rejected", fields)
		return nil
	}
	s.logger.Info(ctx, "Strategy order placed", fields)
	return nil
}
