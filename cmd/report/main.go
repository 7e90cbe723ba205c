// Command report prints a report built from the sqlite journal: every
// recorded trade plus the latest portfolio snapshot.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"paperTrader/config"
	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/adapters/sqlite"
	"paperTrader/internal/domain"
	"paperTrader/internal/ledger"
	"paperTrader/internal/report"
	"paperTrader/internal/utils"
)

var (
	dbPath  = flag.String("db", "", "journal database (defaults to DB_PATH)")
	format  = flag.String("format", "json", "report format (json or yaml)")
	csvPath = flag.String("csv", "", "also export the trades to this CSV file")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	f, err := report.ParseFormat(*format)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	ctx := context.Background()
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open journal: %v", err)
	}
	defer repo.Close()

	stored, err := repo.FindTrades(ctx, "", 0)
	if err != nil {
		log.Fatalf("FATAL: Failed to read trades: %v", err)
	}
	trades := make([]domain.TradeRecord, 0, len(stored))
	for _, t := range stored {
		trades = append(trades, *t)
	}

	snap, err := repo.LatestSnapshot(ctx)
	if err != nil {
		log.Fatalf("FATAL: Failed to read latest snapshot: %v", err)
	}
	if snap == nil {
		// Nothing snapshotted yet: report the untouched starting balance.
		snap = &domain.PortfolioSnapshot{
			Timestamp:   time.Now(),
			TotalValue:  cfg.InitialBalance,
			CashBalance: cfg.InitialBalance,
			Positions:   map[string]domain.Position{},
		}
	}

	summary := ledger.SummarizeSnapshot("journal", cfg.InitialBalance, *snap, trades)
	r := report.Build(report.Inputs{Account: summary, Trades: trades, MonthlyCosts: cfg.MonthlyCosts})
	if err := r.Encode(os.Stdout, f); err != nil {
		log.Fatalf("FATAL: Failed to encode report: %v", err)
	}

	if *csvPath != "" {
		if err := utils.WriteTradesToCSV(trades, *csvPath); err != nil {
			log.Fatalf("FATAL: Failed to export trades: %v", err)
		}
		appLogger.Info(ctx, "Trades exported", map[string]interface{}{"path": *csvPath, "count": len(trades)})
	}
}
