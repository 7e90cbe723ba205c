package simfeed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paperTrader/internal/ports"
)

const (
	defaultVolatility = 0.005
	maxHistoryPoints  = 1000
)

// defaultBasePrices seed symbols the first time they are quoted.
var defaultBasePrices = map[string]decimal.Decimal{
	"BTC": decimal.NewFromInt(45000),
	"ETH": decimal.NewFromInt(3000),
	"ADA": decimal.RequireFromString("0.50"),
	"SOL": decimal.NewFromInt(100),
	"DOT": decimal.NewFromInt(25),
}

var fallbackBasePrice = decimal.NewFromInt(100)

// PricePoint is one simulated quote.
type PricePoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    int64
}

// Config holds configuration for the market simulator.
type Config struct {
	Logger     ports.Logger
	Seed       int64                      // 0 seeds from the clock
	Volatility float64                    // Max fractional move per quote, defaults to 0.005
	BasePrices map[string]decimal.Decimal // Overrides merged over the defaults
	Clock      func() time.Time
}

// Simulator is a random-walk price feed. Every quote moves the symbol's price
// by a uniform fraction in [-Volatility, +Volatility].
type Simulator struct {
	logger     ports.Logger
	volatility float64
	base       map[string]decimal.Decimal
	now        func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	prices  map[string]decimal.Decimal
	history map[string][]PricePoint
}

// New creates a market simulator.
func New(cfg Config) (*Simulator, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for market simulator")
	}
	if cfg.Volatility < 0 || cfg.Volatility >= 1 {
		return nil, fmt.Errorf("volatility must be in [0, 1), got %v: %w", cfg.Volatility, ports.ErrConfigurationError)
	}
	vol := cfg.Volatility
	if vol == 0 {
		vol = defaultVolatility
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	base := make(map[string]decimal.Decimal, len(defaultBasePrices)+len(cfg.BasePrices))
	for s, p := range defaultBasePrices {
		base[s] = p
	}
	for s, p := range cfg.BasePrices {
		if !p.IsPositive() {
			return nil, fmt.Errorf("base price for %s must be positive: %w", s, ports.ErrConfigurationError)
		}
		base[strings.ToUpper(s)] = p
	}

	return &Simulator{
		logger:     cfg.Logger,
		volatility: vol,
		base:       base,
		now:        clock,
		rng:        rand.New(rand.NewSource(seed)),
		prices:     make(map[string]decimal.Decimal),
		history:    make(map[string][]PricePoint),
	}, nil
}

// GetCurrentPrice advances the symbol's random walk by one step and returns the new price.
func (s *Simulator) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("simulated quote for %s: %w: %w", symbol, ports.ErrContextCanceled, err)
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return decimal.Zero, fmt.Errorf("empty symbol: %w", ports.ErrPriceUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.prices[sym]
	if !ok {
		current = s.basePriceLocked(sym)
		s.logger.Debug(ctx, "Simulator seeded symbol", map[string]interface{}{"symbol": sym, "price": current.String()})
	}
	change := decimal.NewFromFloat((s.rng.Float64()*2 - 1) * s.volatility)
	next := current.Mul(decimal.NewFromInt(1).Add(change))

	s.prices[sym] = next
	s.recordLocked(sym, next)
	return next, nil
}

// SetPrice pins a symbol to price; the next quote walks from there.
func (s *Simulator) SetPrice(symbol string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s: %w", price, ports.ErrInvalidRequest)
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[sym] = price
	s.recordLocked(sym, price)
	return nil
}

// History returns a copy of the recorded quotes for symbol, oldest first.
func (s *Simulator) History(symbol string) []PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[strings.ToUpper(symbol)]
	return append([]PricePoint(nil), h...)
}

func (s *Simulator) basePriceLocked(sym string) decimal.Decimal {
	if p, ok := s.base[sym]; ok {
		return p
	}
	return fallbackBasePrice
}

func (s *Simulator) recordLocked(sym string, price decimal.Decimal) {
	h := append(s.history[sym], PricePoint{
		Timestamp: s.now(),
		Price:     price,
		Volume:    100 + s.rng.Int63n(9901),
	})
	if len(h) > maxHistoryPoints {
		h = h[len(h)-maxHistoryPoints:]
	}
	s.history[sym] = h
}
