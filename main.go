package main

import (
	"context"
	"log" // Use standard log only for fatal errors before the logger is set up

	"paperTrader/config"
	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/app"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Wire the account, risk manager, monitor and adapters
	svc, err := app.NewService(context.Background(), cfg, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize paper trading service")
		log.Fatalf("FATAL: Failed to initialize paper trading service: %v", err)
	}

	// 4. Run until SIGINT/SIGTERM
	if err := svc.Run(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Paper trading service exited with error")
		log.Fatalf("FATAL: Paper trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
