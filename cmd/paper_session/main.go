// Command paper_session runs a scripted paper trading session against the
// market simulator and prints the resulting report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/adapters/simfeed"
	"paperTrader/internal/domain"
	"paperTrader/internal/ledger"
	"paperTrader/internal/monitor"
	"paperTrader/internal/ports"
	"paperTrader/internal/report"
	"paperTrader/internal/risk"
	"paperTrader/internal/strategy"
)

var (
	seed         = flag.Int64("seed", 42, "simulator seed")
	steps        = flag.Int("steps", 120, "number of simulated ticks")
	balance      = flag.String("balance", "10000", "initial balance")
	format       = flag.String("format", "yaml", "report format (json or yaml)")
	withStrategy = flag.Bool("strategy", true, "run the moving-average crossover strategy on every tick")
	monthlyCosts = flag.Float64("monthly-costs", 0, "operating costs per month for the cost analysis")
	logLevel     = flag.String("log", "warn", "log level")
)

func main() {
	flag.Parse()

	f, err := report.ParseFormat(*format)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	initial, err := decimal.NewFromString(*balance)
	if err != nil {
		log.Fatalf("FATAL: invalid balance %q: %v", *balance, err)
	}

	appLogger := logger.NewWithWriter(os.Stderr, logger.ParseLevel(*logLevel))
	r, err := run(context.Background(), appLogger, initial)
	if err != nil {
		log.Fatalf("FATAL: paper session failed: %v", err)
	}
	if err := r.Encode(os.Stdout, f); err != nil {
		log.Fatalf("FATAL: failed to encode report: %v", err)
	}
}

func run(ctx context.Context, appLogger ports.Logger, initial decimal.Decimal) (report.Report, error) {
	feed, err := simfeed.New(simfeed.Config{Logger: appLogger, Seed: *seed})
	if err != nil {
		return report.Report{}, err
	}
	rm, err := risk.NewRiskManager(risk.DefaultRiskConfig(appLogger))
	if err != nil {
		return report.Report{}, err
	}
	account, err := ledger.New(ledger.Config{
		AccountID:      "paper-session",
		InitialBalance: initial,
		Feed:           feed,
		Risk:           rm,
		Logger:         appLogger,
	})
	if err != nil {
		return report.Report{}, err
	}
	mon, err := monitor.New(monitor.DefaultConfig(appLogger))
	if err != nil {
		return report.Report{}, err
	}
	rm.SetOrderCanceller(account)
	rm.SetPositionCloser(account)
	rm.SetAlertSink(mon)
	mon.RegisterLedger(account)
	mon.RegisterRiskManager(rm)

	var strat *strategy.MACrossover
	if *withStrategy {
		strat, err = strategy.New(strategy.DefaultConfig([]string{"SOL", "DOT"}, appLogger), feed, account, rm)
		if err != nil {
			return report.Report{}, err
		}
		rm.RegisterStrategy(strat)
	}

	// Opening trades, one resting limit order and a protective stop.
	script := []ledger.OrderRequest{
		{Symbol: "BTC", Type: domain.OrderTypeMarket, Side: domain.Buy, Quantity: decimal.RequireFromString("0.01")},
		{Symbol: "ETH", Type: domain.OrderTypeMarket, Side: domain.Buy, Quantity: decimal.RequireFromString("0.2")},
		{Symbol: "ADA", Type: domain.OrderTypeLimit, Side: domain.Buy, Quantity: decimal.NewFromInt(500), Price: decimal.RequireFromString("0.495")},
		{Symbol: "ETH", Type: domain.OrderTypeStopLoss, Side: domain.Sell, Quantity: decimal.RequireFromString("0.2"), StopPrice: decimal.NewFromInt(2950)},
	}
	for _, req := range script {
		if _, err := account.PlaceOrder(ctx, req); err != nil {
			return report.Report{}, fmt.Errorf("scripted %s %s order: %w", req.Side, req.Symbol, err)
		}
	}

	for i := 0; i < *steps; i++ {
		if strat != nil {
			if err := strat.Step(ctx); err != nil {
				appLogger.Warn(ctx, "Strategy step failed", map[string]interface{}{"step": i, "error": err.Error()})
			}
		}
		// The monitor tick marks the account to market, which also triggers resting orders.
		mon.Tick(ctx)
		if i%10 == 9 {
			if _, err := account.SaveSnapshot(ctx); err != nil {
				return report.Report{}, err
			}
		}
	}

	if pos, ok := account.GetPosition("BTC"); ok {
		if _, err := account.PlaceOrder(ctx, ledger.OrderRequest{Symbol: "BTC", Type: domain.OrderTypeMarket, Side: domain.Sell, Quantity: pos.Quantity}); err != nil {
			return report.Report{}, err
		}
	}
	if _, err := account.SaveSnapshot(ctx); err != nil {
		return report.Report{}, err
	}

	summary := rm.GetRiskSummary()
	dashboard := mon.GetDashboardData()
	return report.Build(report.Inputs{
		Account:      account.GetAccountSummary(),
		Trades:       account.Trades(),
		Risk:         &summary,
		Dashboard:    &dashboard,
		MonthlyCosts: *monthlyCosts,
	}), nil
}
