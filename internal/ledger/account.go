package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

const (
	defaultCommissionRate    = "0.001"
	defaultSnapshotRetention = 30 * 24 * time.Hour
	recentOrdersInSummary    = 10
)

// Config holds the dependencies and parameters of a paper trading account.
type Config struct {
	AccountID         string          // Generated when empty
	InitialBalance    decimal.Decimal // Starting cash, must be positive
	CommissionRate    decimal.Decimal // Fraction of gross value, defaults to 0.001
	SnapshotRetention time.Duration   // Defaults to 30 days
	Feed              ports.PriceFeed
	Risk              ports.RiskGate // Optional pre-trade check
	Journal           ports.Journal  // Optional persistence
	Logger            ports.Logger
	Clock             func() time.Time // Defaults to time.Now
}

// Account is a simulated trading account. All execution and position updates
// happen under one mutex, so fills on the same symbol never interleave.
type Account struct {
	id             string
	initialBalance decimal.Decimal
	commissionRate decimal.Decimal
	retention      time.Duration
	feed           ports.PriceFeed
	risk           ports.RiskGate
	journal        ports.Journal
	logger         ports.Logger
	now            func() time.Time

	mu              sync.Mutex
	cash            decimal.Decimal
	positions       map[string]*domain.Position
	orders          map[string]*domain.Order
	orderSeq        []string // placement order
	trades          []domain.TradeRecord
	snapshots       []domain.PortfolioSnapshot
	totalTrades     int
	winningTrades   int
	totalCommission decimal.Decimal
	peakValue       decimal.Decimal
	maxDrawdown     decimal.Decimal
}

// New creates a paper trading account.
func New(cfg Config) (*Account, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger account")
	}
	if cfg.Feed == nil {
		return nil, fmt.Errorf("price feed is required for ledger account: %w", ports.ErrConfigurationError)
	}
	if !cfg.InitialBalance.IsPositive() {
		return nil, fmt.Errorf("initial balance must be positive, got %s: %w", cfg.InitialBalance, ports.ErrConfigurationError)
	}
	rate := cfg.CommissionRate
	if rate.IsZero() {
		rate = decimal.RequireFromString(defaultCommissionRate)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission rate must be in [0, 1), got %s: %w", rate, ports.ErrConfigurationError)
	}
	id := cfg.AccountID
	if id == "" {
		id = uuid.NewString()
	}
	retention := cfg.SnapshotRetention
	if retention <= 0 {
		retention = defaultSnapshotRetention
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	a := &Account{
		id:             id,
		initialBalance: cfg.InitialBalance,
		commissionRate: rate,
		retention:      retention,
		feed:           cfg.Feed,
		risk:           cfg.Risk,
		journal:        cfg.Journal,
		logger:         cfg.Logger,
		now:            clock,
		cash:           cfg.InitialBalance,
		positions:      make(map[string]*domain.Position),
		orders:         make(map[string]*domain.Order),
		peakValue:      cfg.InitialBalance,
	}
	cfg.Logger.Info(context.Background(), "Paper trading account created", map[string]interface{}{
		"accountID":      id,
		"initialBalance": cfg.InitialBalance.String(),
		"commissionRate": rate.String(),
	})
	return a, nil
}

// ID returns the account identifier.
func (a *Account) ID() string { return a.id }

// InitialBalance returns the starting cash balance.
func (a *Account) InitialBalance() decimal.Decimal { return a.initialBalance }

// SetRiskGate attaches the pre-trade check after construction. The risk manager
// and the account reference each other, so one side has to be wired late.
func (a *Account) SetRiskGate(gate ports.RiskGate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.risk = gate
}

// PlaceOrder validates and records an order. Market orders execute immediately.
// Malformed requests return a *ValidationError and record nothing. Business
// failures (risk, funds, price) record the order as rejected and return its ID.
func (a *Account) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	req, err := validateRequest(req)
	if err != nil {
		a.logger.Warn(ctx, "Order request failed validation", map[string]interface{}{"error": err.Error()})
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	order := &domain.Order{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Type:      req.Type,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Status:    domain.OrderStatusPending,
		CreatedAt: a.now(),
	}
	a.orders[order.ID] = order
	a.orderSeq = append(a.orderSeq, order.ID)
	defer a.persistOrder(ctx, order)

	fields := map[string]interface{}{
		"orderID":  order.ID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"type":     order.Type,
		"quantity": order.Quantity.String(),
	}

	refPrice, err := a.referencePrice(ctx, order)
	if err != nil {
		order.Reject(fmt.Sprintf("price unavailable for %s: %v", order.Symbol, err))
		a.logger.Warn(ctx, "Order rejected", mergeFields(fields, "reason", order.RejectReason))
		return order.ID, nil
	}

	if a.risk != nil {
		notional := order.Notional(refPrice)
		decision := a.risk.ValidateOrder(ctx, domain.OrderCheck{
			Symbol:   order.Symbol,
			Side:     order.Side,
			Quantity: order.Quantity.InexactFloat64(),
			Price:    refPrice.InexactFloat64(),
			Notional: notional.InexactFloat64(),
		}, a.totalValueLocked().InexactFloat64())
		if !decision.Approved {
			order.Reject("risk check failed: " + decision.Reason)
			a.logger.Warn(ctx, "Order rejected", mergeFields(fields, "reason", order.RejectReason))
			return order.ID, nil
		}
	}

	if reason := a.affordabilityLocked(order, refPrice); reason != "" {
		order.Reject(reason)
		a.logger.Warn(ctx, "Order rejected", mergeFields(fields, "reason", reason))
		return order.ID, nil
	}

	if order.Type == domain.OrderTypeMarket {
		// Same price for the estimate and the fill.
		if err := a.fillLocked(ctx, order, refPrice); err != nil {
			a.logger.Warn(ctx, "Market order failed to fill", mergeFields(fields, "error", err.Error()))
		}
		return order.ID, nil
	}

	a.logger.Info(ctx, "Order accepted and pending", fields)
	return order.ID, nil
}

// Execute fills a pending order at its execution price.
func (a *Account) Execute(ctx context.Context, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	order, ok := a.orders[orderID]
	if !ok {
		return fmt.Errorf("execute %s: %w", orderID, ports.ErrOrderNotFound)
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("execute %s (status %s): %w", orderID, order.Status, ports.ErrOrderNotPending)
	}
	defer a.persistOrder(ctx, order)

	var price decimal.Decimal
	if order.Type == domain.OrderTypeLimit {
		price = order.Price
	} else {
		p, err := a.feed.GetCurrentPrice(ctx, order.Symbol)
		if err != nil {
			return fmt.Errorf("execute %s: %w: %w", orderID, ports.ErrPriceUnavailable, err)
		}
		price = p
	}
	return a.fillLocked(ctx, order, price)
}

// CancelOrder cancels a pending order. It returns false if the order is unknown or not pending.
func (a *Account) CancelOrder(orderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	order, ok := a.orders[orderID]
	if !ok || order.Status != domain.OrderStatusPending {
		return false
	}
	_ = order.Transition(domain.OrderStatusCancelled)
	a.persistOrder(context.Background(), order)
	a.logger.Info(context.Background(), "Order cancelled", map[string]interface{}{"orderID": orderID})
	return true
}

// CancelAllPending cancels every pending order. Used by the emergency stop cascade.
func (a *Account) CancelAllPending(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, id := range a.orderSeq {
		order := a.orders[id]
		if order.Status != domain.OrderStatusPending {
			continue
		}
		_ = order.Transition(domain.OrderStatusCancelled)
		a.persistOrder(ctx, order)
		n++
	}
	a.logger.Warn(ctx, "Cancelled all pending orders", map[string]interface{}{"count": n})
	return n, nil
}

// CloseAllPositions sells every open position at market without a risk check.
// When the feed fails for a symbol the last mark price is used.
func (a *Account) CloseAllPositions(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	symbols := a.sortedSymbolsLocked()
	var errs []error
	closed := 0
	for _, symbol := range symbols {
		pos := a.positions[symbol]
		price, err := a.feed.GetCurrentPrice(ctx, symbol)
		if err != nil {
			a.logger.Warn(ctx, "Feed unavailable during liquidation, using last mark", map[string]interface{}{
				"symbol": symbol, "markPrice": pos.CurrentPrice.String(), "error": err.Error(),
			})
			price = pos.CurrentPrice
		}
		order := &domain.Order{
			ID:        uuid.NewString(),
			Symbol:    symbol,
			Type:      domain.OrderTypeMarket,
			Side:      domain.Sell,
			Quantity:  pos.Quantity,
			Status:    domain.OrderStatusPending,
			CreatedAt: a.now(),
		}
		a.orders[order.ID] = order
		a.orderSeq = append(a.orderSeq, order.ID)
		if err := a.fillLocked(ctx, order, price); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", symbol, err))
		} else {
			closed++
		}
		a.persistOrder(ctx, order)
	}
	return closed, errors.Join(errs...)
}

// UpdateMarketPrices marks every position to the feed, triggers pending orders
// whose conditions are met and updates drawdown tracking. A failing symbol is
// logged and skipped.
func (a *Account) UpdateMarketPrices(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	prices := make(map[string]decimal.Decimal)
	for _, symbol := range a.watchedSymbolsLocked() {
		p, err := a.feed.GetCurrentPrice(ctx, symbol)
		if err != nil {
			a.logger.Warn(ctx, "Price update failed, keeping last mark", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		prices[symbol] = p
		if pos, ok := a.positions[symbol]; ok {
			pos.Mark(p, now)
		}
	}

	a.triggerPendingLocked(ctx, prices)
	a.trackDrawdownLocked()
	return nil
}

// GetOrder returns a copy of the order.
func (a *Account) GetOrder(orderID string) (domain.Order, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// GetPosition returns a copy of the open position for symbol.
func (a *Account) GetPosition(symbol string) (domain.Position, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions keyed by symbol.
func (a *Account) Positions() map[string]domain.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positionsCopyLocked()
}

// Trades returns a copy of the trade history, oldest first.
func (a *Account) Trades() []domain.TradeRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.TradeRecord, len(a.trades))
	copy(out, a.trades)
	return out
}

// Cash returns the current cash balance.
func (a *Account) Cash() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// TotalValue returns cash plus the market value of all positions at their last marks.
func (a *Account) TotalValue() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalValueLocked()
}

// --- internals, a.mu held ---

func (a *Account) referencePrice(ctx context.Context, order *domain.Order) (decimal.Decimal, error) {
	switch {
	case order.Type == domain.OrderTypeLimit:
		return order.Price, nil
	case order.Type.IsStop():
		return order.StopPrice, nil
	default:
		return a.feed.GetCurrentPrice(ctx, order.Symbol)
	}
}

// affordabilityLocked returns a rejection reason, or "" when the order can be covered.
func (a *Account) affordabilityLocked(order *domain.Order, price decimal.Decimal) string {
	if order.Side == domain.Buy {
		cost := order.Notional(price).Mul(decimal.NewFromInt(1).Add(a.commissionRate))
		if cost.GreaterThan(a.cash) {
			return fmt.Sprintf("insufficient funds: need %s, available %s", cost.StringFixed(2), a.cash.StringFixed(2))
		}
		return ""
	}
	held := decimal.Zero
	if pos, ok := a.positions[order.Symbol]; ok {
		held = pos.Quantity
	}
	if order.Quantity.GreaterThan(held) {
		return fmt.Sprintf("insufficient position: selling %s %s, holding %s", order.Quantity, order.Symbol, held)
	}
	return ""
}

// fillLocked executes order at price. Funds and holdings are re-checked here
// because pending orders can trigger long after placement.
func (a *Account) fillLocked(ctx context.Context, order *domain.Order, price decimal.Decimal) error {
	if reason := a.affordabilityLocked(order, price); reason != "" {
		order.Reject(reason)
		if order.Side == domain.Buy {
			return fmt.Errorf("fill %s: %w: %s", order.ID, ports.ErrInsufficientFunds, reason)
		}
		return fmt.Errorf("fill %s: %w: %s", order.ID, ports.ErrInsufficientHolding, reason)
	}

	now := a.now()
	gross := order.Notional(price)
	commission := gross.Mul(a.commissionRate)
	realized := decimal.Zero

	switch order.Side {
	case domain.Buy:
		a.cash = a.cash.Sub(gross.Add(commission))
		pos, ok := a.positions[order.Symbol]
		if !ok {
			pos = &domain.Position{Symbol: order.Symbol, EntryTime: now}
			a.positions[order.Symbol] = pos
		}
		pos.Add(order.Quantity, price, now)
	case domain.Sell:
		pos := a.positions[order.Symbol]
		realized = pos.Reduce(order.Quantity, price, now)
		a.cash = a.cash.Add(gross.Sub(commission))
		if pos.Closed() {
			delete(a.positions, order.Symbol)
		}
	}

	if err := order.Transition(domain.OrderStatusFilled); err != nil {
		return err
	}
	order.FilledQuantity = order.Quantity
	order.FilledPrice = price
	order.Commission = commission
	order.FilledAt = now

	trade := domain.TradeRecord{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Price:       price,
		Commission:  commission,
		RealizedPnL: realized,
		Timestamp:   now,
	}
	a.trades = append(a.trades, trade)
	a.totalTrades++
	if trade.IsWin() {
		a.winningTrades++
	}
	a.totalCommission = a.totalCommission.Add(commission)

	if a.journal != nil {
		if err := a.journal.CreateTrade(ctx, &trade); err != nil {
			a.logger.Error(ctx, err, "Failed to journal trade", map[string]interface{}{"tradeID": trade.ID})
		}
	}
	if order.Side == domain.Sell && a.risk != nil {
		a.risk.RecordTradePnL(realized.InexactFloat64())
	}

	a.logger.Info(ctx, "Order filled", map[string]interface{}{
		"orderID":     order.ID,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"quantity":    order.Quantity.String(),
		"price":       price.String(),
		"commission":  commission.String(),
		"realizedPnL": realized.String(),
		"cash":        a.cash.String(),
	})
	return nil
}

func (a *Account) triggerPendingLocked(ctx context.Context, prices map[string]decimal.Decimal) {
	for _, id := range a.orderSeq {
		order := a.orders[id]
		if order.Status != domain.OrderStatusPending {
			continue
		}
		p, ok := prices[order.Symbol]
		if !ok {
			continue
		}
		fillPrice, triggered := triggerPrice(order, p)
		if !triggered {
			continue
		}
		if err := a.fillLocked(ctx, order, fillPrice); err != nil {
			a.logger.Warn(ctx, "Triggered order rejected at execution", map[string]interface{}{"orderID": order.ID, "error": err.Error()})
		}
		a.persistOrder(ctx, order)
	}
}

// triggerPrice decides whether a pending order fires at market price p and at what price it fills.
func triggerPrice(order *domain.Order, p decimal.Decimal) (decimal.Decimal, bool) {
	buy := order.Side == domain.Buy
	switch order.Type {
	case domain.OrderTypeLimit:
		if (buy && p.LessThanOrEqual(order.Price)) || (!buy && p.GreaterThanOrEqual(order.Price)) {
			return order.Price, true
		}
	case domain.OrderTypeStopLoss:
		if (!buy && p.LessThanOrEqual(order.StopPrice)) || (buy && p.GreaterThanOrEqual(order.StopPrice)) {
			return p, true
		}
	case domain.OrderTypeTakeProfit:
		if (!buy && p.GreaterThanOrEqual(order.StopPrice)) || (buy && p.LessThanOrEqual(order.StopPrice)) {
			return p, true
		}
	case domain.OrderTypeMarket:
		return p, true
	}
	return decimal.Zero, false
}

func (a *Account) trackDrawdownLocked() {
	total := a.totalValueLocked()
	if total.GreaterThan(a.peakValue) {
		a.peakValue = total
		return
	}
	if a.peakValue.IsPositive() {
		dd := a.peakValue.Sub(total).Div(a.peakValue)
		if dd.GreaterThan(a.maxDrawdown) {
			a.maxDrawdown = dd
		}
	}
}

func (a *Account) positionsValueLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range a.positions {
		sum = sum.Add(p.MarketValue())
	}
	return sum
}

func (a *Account) totalValueLocked() decimal.Decimal {
	return a.cash.Add(a.positionsValueLocked())
}

func (a *Account) positionsCopyLocked() map[string]domain.Position {
	out := make(map[string]domain.Position, len(a.positions))
	for s, p := range a.positions {
		out[s] = *p
	}
	return out
}

func (a *Account) sortedSymbolsLocked() []string {
	symbols := make([]string, 0, len(a.positions))
	for s := range a.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// watchedSymbolsLocked returns symbols with an open position or a pending order.
func (a *Account) watchedSymbolsLocked() []string {
	set := make(map[string]struct{}, len(a.positions))
	for s := range a.positions {
		set[s] = struct{}{}
	}
	for _, o := range a.orders {
		if o.Status == domain.OrderStatusPending {
			set[o.Symbol] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(set))
	for s := range set {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func (a *Account) persistOrder(ctx context.Context, order *domain.Order) {
	if a.journal == nil {
		return
	}
	if err := a.journal.SaveOrder(ctx, order); err != nil {
		a.logger.Error(ctx, err, "Failed to journal order", map[string]interface{}{"orderID": order.ID})
	}
}

func mergeFields(base map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
