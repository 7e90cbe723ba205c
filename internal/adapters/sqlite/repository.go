package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.Journal (orders, trades and portfolio snapshots) using SQLite.
// Money columns are TEXT holding decimal strings so no precision is lost.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/paper_trading.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}

	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		type TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		stop_price TEXT NOT NULL,
		status TEXT NOT NULL,
		filled_quantity TEXT NOT NULL,
		filled_price TEXT NOT NULL,
		commission TEXT NOT NULL,
		reject_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		filled_at TIMESTAMP NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		commission TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at TIMESTAMP NOT NULL,
		total_value TEXT NOT NULL,
		cash_balance TEXT NOT NULL,
		positions_value TEXT NOT NULL,
		unrealized_pnl TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		positions TEXT NOT NULL -- JSON map keyed by symbol
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_time ON trade_history (symbol, executed_at);
	CREATE INDEX IF NOT EXISTS idx_portfolio_snapshots_taken_at ON portfolio_snapshots (taken_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- OrderRepository Implementation ---

// SaveOrder inserts the order or replaces the stored row with the same ID.
func (r *Repository) SaveOrder(ctx context.Context, o *domain.Order) error {
	const query = `
	INSERT INTO orders (id, symbol, type, side, quantity, price, stop_price, status,
	                    filled_quantity, filled_price, commission, reject_reason, created_at, filled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		filled_quantity = excluded.filled_quantity,
		filled_price = excluded.filled_price,
		commission = excluded.commission,
		reject_reason = excluded.reject_reason,
		filled_at = excluded.filled_at`

	var filledAt sql.NullTime
	if !o.FilledAt.IsZero() {
		filledAt = sql.NullTime{Time: o.FilledAt.UTC(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.Symbol, string(o.Type), string(o.Side), o.Quantity, o.Price, o.StopPrice, string(o.Status),
		o.FilledQuantity, o.FilledPrice, o.Commission, o.RejectReason, o.CreatedAt.UTC(), filledAt)
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w: %w", o.ID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Order saved", map[string]interface{}{"orderID": o.ID, "symbol": o.Symbol, "status": o.Status})
	return nil
}

// FindOrderByID retrieves an order by its ID. Returns nil, nil when it does not exist.
func (r *Repository) FindOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	const query = `
	SELECT id, symbol, type, side, quantity, price, stop_price, status,
	       filled_quantity, filled_price, commission, reject_reason, created_at, filled_at
	FROM orders
	WHERE id = ?`

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Order not found by ID", map[string]interface{}{"orderID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query order %s: %w: %w", id, ports.ErrQueryFailed, err)
	}
	return o, nil
}

// FindRecentOrders retrieves the most recent orders, newest first.
func (r *Repository) FindRecentOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	const query = `
	SELECT id, symbol, type, side, quantity, price, stop_price, status,
	       filled_quantity, filled_price, commission, reject_reason, created_at, filled_at
	FROM orders
	ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent orders: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order during FindRecentOrders: %w", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// --- TradeRepository Implementation ---

// CreateTrade appends a trade record. Trade IDs are unique; a repeated ID is rejected.
func (r *Repository) CreateTrade(ctx context.Context, t *domain.TradeRecord) error {
	const query = `
	INSERT INTO trade_history (id, order_id, symbol, side, quantity, price, commission, realized_pnl, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.OrderID, t.Symbol, string(t.Side), t.Quantity, t.Price, t.Commission, t.RealizedPnL, t.Timestamp.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("trade %s already recorded: %w", t.ID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert trade for symbol %s: %w: %w", t.Symbol, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "pnl": t.RealizedPnL.String()})
	return nil
}

// FindTrades retrieves trades oldest first. An empty symbol matches every symbol.
// A non-positive limit returns all rows.
func (r *Repository) FindTrades(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error) {
	query := `
	SELECT id, order_id, symbol, side, quantity, price, commission, realized_pnl, executed_at
	FROM trade_history`
	var args []interface{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY executed_at ASC, rowid ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for symbol %q: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.TradeRecord, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindTrades: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// CountTradesSince counts the trades executed at or after since.
func (r *Repository) CountTradesSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM trade_history WHERE executed_at >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades since %s: %w: %w", since.Format(time.RFC3339), ports.ErrQueryFailed, err)
	}
	return count, nil
}

// --- SnapshotRepository Implementation ---

// SaveSnapshot appends a portfolio snapshot. The position map is stored as JSON.
func (r *Repository) SaveSnapshot(ctx context.Context, s *domain.PortfolioSnapshot) error {
	const query = `
	INSERT INTO portfolio_snapshots (taken_at, total_value, cash_balance, positions_value,
	                                 unrealized_pnl, realized_pnl, positions)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	positions, err := json.Marshal(s.Positions)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot positions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query,
		s.Timestamp.UTC(), s.TotalValue, s.CashBalance, s.PositionsValue, s.UnrealizedPnL, s.RealizedPnL, string(positions))
	if err != nil {
		return fmt.Errorf("failed to insert portfolio snapshot: %w: %w", ports.ErrUpdateFailed, err)
	}
	return nil
}

// LatestSnapshot retrieves the newest snapshot. Returns nil, nil when there is none.
func (r *Repository) LatestSnapshot(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	const query = `
	SELECT taken_at, total_value, cash_balance, positions_value, unrealized_pnl, realized_pnl, positions
	FROM portfolio_snapshots
	ORDER BY taken_at DESC, id DESC LIMIT 1`

	s, err := scanSnapshot(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query latest snapshot: %w: %w", ports.ErrQueryFailed, err)
	}
	return s, nil
}

// PruneSnapshots deletes snapshots taken before the cutoff.
func (r *Repository) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM portfolio_snapshots WHERE taken_at < ?`
	result, err := r.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w: %w", ports.ErrUpdateFailed, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for snapshot prune: %w", err)
	}
	if n > 0 {
		r.logger.Debug(ctx, "Old portfolio snapshots pruned", map[string]interface{}{"count": n})
	}
	return n, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var typ, side, status string
	var filledAt sql.NullTime
	err := s.Scan(
		&o.ID, &o.Symbol, &typ, &side, &o.Quantity, &o.Price, &o.StopPrice, &status,
		&o.FilledQuantity, &o.FilledPrice, &o.Commission, &o.RejectReason, &o.CreatedAt, &filledAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	o.Type = domain.OrderType(typ)
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	if filledAt.Valid {
		o.FilledAt = filledAt.Time
	}
	return o, nil
}

func scanTrade(s scanner) (*domain.TradeRecord, error) {
	t := &domain.TradeRecord{}
	var side string
	err := s.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &t.Quantity, &t.Price, &t.Commission, &t.RealizedPnL, &t.Timestamp)
	if err != nil {
		return nil, err
	}
	t.Side = domain.OrderSide(side)
	return t, nil
}

func scanSnapshot(s scanner) (*domain.PortfolioSnapshot, error) {
	snap := &domain.PortfolioSnapshot{}
	var positions string
	err := s.Scan(&snap.Timestamp, &snap.TotalValue, &snap.CashBalance, &snap.PositionsValue,
		&snap.UnrealizedPnL, &snap.RealizedPnL, &positions)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot positions: %w", err)
	}
	return snap, nil
}
