package ports

import (
	"context"
	"time"

	"paperTrader/internal/domain"
)

// OrderRepository persists orders as they move through their lifecycle.
type OrderRepository interface {
	// SaveOrder inserts or replaces the order keyed by its ID.
	SaveOrder(ctx context.Context, order *domain.Order) error
	// FindOrderByID retrieves an order. Returns nil, nil if not found.
	FindOrderByID(ctx context.Context, id string) (*domain.Order, error)
	// FindRecentOrders retrieves the most recent orders, newest first.
	FindRecentOrders(ctx context.Context, limit int) ([]*domain.Order, error)
}

// TradeRepository persists the append-only execution journal.
type TradeRepository interface {
	// CreateTrade appends a trade record.
	CreateTrade(ctx context.Context, trade *domain.TradeRecord) error
	// FindTrades retrieves trades for a symbol (all symbols when empty), oldest first, up to limit.
	FindTrades(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error)
	// CountTradesSince counts the trades executed at or after the given time.
	CountTradesSince(ctx context.Context, since time.Time) (int, error)
}

// SnapshotRepository persists portfolio snapshots.
type SnapshotRepository interface {
	// SaveSnapshot appends a snapshot.
	SaveSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error
	// LatestSnapshot retrieves the newest snapshot. Returns nil, nil if none exist.
	LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error)
	// PruneSnapshots deletes snapshots older than the cutoff and returns the number removed.
	PruneSnapshots(ctx context.Context, before time.Time) (int64, error)
}

// Journal groups the repositories the ledger writes to.
type Journal interface {
	OrderRepository
	TradeRepository
	SnapshotRepository
}
