// Package app wires the paper trading account, the risk manager and the live
// monitor into one long-running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"paperTrader/config"
	"paperTrader/internal/adapters/binanceclient"
	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/adapters/metrics"
	"paperTrader/internal/adapters/notify"
	"paperTrader/internal/adapters/simfeed"
	"paperTrader/internal/adapters/snapshotfile"
	"paperTrader/internal/adapters/sqlite"
	"paperTrader/internal/domain"
	"paperTrader/internal/ledger"
	"paperTrader/internal/monitor"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
	"paperTrader/internal/strategy"
)

const (
	shutdownTimeout = 10 * time.Second
	webhookTimeout  = 10 * time.Second
)

// Service owns every long-lived component of the paper trader.
type Service struct {
	cfg    *config.Config
	logger ports.Logger

	repo     *sqlite.Repository
	feed     ports.PriceFeed
	binance  *binanceclient.Client // nil when the simulator feeds prices
	account  *ledger.Account
	risk     *risk.RiskManager
	monitor  *monitor.Monitor
	metrics  *metrics.Metrics
	server   *metrics.Server // nil when METRICS_ADDR is empty
	hub      *notify.Hub     // nil when websocket alerts are disabled
	strategy *strategy.MACrossover

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// NewService builds and wires every component from the loaded configuration.
// On error anything already opened is closed again.
func NewService(ctx context.Context, cfg *config.Config, log ports.Logger) (svc *Service, err error) {
	if cfg == nil || log == nil {
		return nil, fmt.Errorf("config and logger are required for service: %w", ports.ErrConfigurationError)
	}
	s := &Service{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			_ = s.closeResources()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	s.repo, err = sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database repository: %w", err)
	}
	s.closers = append(s.closers, s.repo.Close)

	if err := s.initFeed(); err != nil {
		return nil, err
	}

	s.risk, err = risk.NewRiskManager(cfg.RiskConfig(log))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize risk manager: %w", err)
	}

	s.account, err = ledger.New(ledger.Config{
		InitialBalance: cfg.InitialBalance,
		CommissionRate: cfg.CommissionRate,
		Feed:           s.feed,
		Risk:           s.risk,
		Journal:        s.repo,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize paper account: %w", err)
	}

	snapshots, err := snapshotfile.New(cfg.SnapshotDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot writer: %w", err)
	}

	s.metrics = metrics.NewMetrics()
	s.monitor, err = monitor.New(cfg.MonitorConfig(log, s.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize monitor: %w", err)
	}

	// Emergency cascade collaborators.
	s.risk.SetOrderCanceller(s.account)
	s.risk.SetPositionCloser(s.account)
	s.risk.SetSnapshotWriter(snapshots)
	s.risk.SetAlertSink(s.monitor)
	if s.binance != nil {
		s.risk.RegisterVenue(s.binance)
	}

	s.monitor.RegisterLedger(s.account)
	s.monitor.RegisterRiskManager(s.risk)

	if err := s.initAlertHandlers(); err != nil {
		return nil, err
	}

	if cfg.StrategyEnabled {
		stratCfg := strategy.DefaultConfig(cfg.Symbols, log)
		stratCfg.Interval = cfg.StrategyInterval
		s.strategy, err = strategy.New(stratCfg, s.feed, s.account, s.risk)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize strategy: %w", err)
		}
		s.risk.RegisterStrategy(s.strategy)
	}

	if cfg.MetricsAddr != "" {
		s.server = metrics.NewServer(cfg.MetricsAddr, s.metrics, log)
		s.mountRoutes(s.server)
	}

	log.Info(ctx, "Paper trading service initialized", map[string]interface{}{
		"accountID":   s.account.ID(),
		"feed":        cfg.FeedSource,
		"symbols":     cfg.Symbols,
		"strategy":    cfg.StrategyEnabled,
		"metricsAddr": cfg.MetricsAddr,
	})
	return s, nil
}

func (s *Service) initFeed() error {
	switch s.cfg.FeedSource {
	case config.FeedBinance:
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:               s.cfg.APIKey,
			SecretKey:            s.cfg.SecretKey,
			UseTestnet:           s.cfg.IsTestnet,
			Logger:               s.logger,
			ReconnectDelay:       s.cfg.ReconnectDelay,
			MaxReconnectAttempts: s.cfg.MaxReconnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Binance client: %w", err)
		}
		s.binance = client
		s.feed = client
		s.closers = append(s.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return client.Disconnect(ctx)
		})
	default:
		sim, err := simfeed.New(simfeed.Config{Logger: s.logger, Seed: s.cfg.SimulatorSeed})
		if err != nil {
			return fmt.Errorf("failed to initialize market simulator: %w", err)
		}
		s.feed = sim
	}
	return nil
}

func (s *Service) initAlertHandlers() error {
	alerts := s.cfg.Alerts

	if alerts.EnableConsole {
		s.monitor.AddAlertHandler(notify.NewConsoleHandler(os.Stdout, true))
	}
	if alerts.EnableFile && s.cfg.AlertLogPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.cfg.AlertLogPath), 0o755); err != nil {
			return fmt.Errorf("failed to create alert log directory: %w", err)
		}
		f, err := os.OpenFile(s.cfg.AlertLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open alert log: %w", err)
		}
		s.closers = append(s.closers, f.Close)
		s.monitor.AddAlertHandler(notify.NewLogHandler(logger.NewWithWriter(f, logger.LevelInfo)))
	}
	if alerts.EnableEmail {
		h, err := notify.NewEmailHandler(notify.SMTPConfig{
			Server:     alerts.SMTP.Server,
			Port:       alerts.SMTP.Port,
			Username:   alerts.SMTP.Username,
			Password:   alerts.SMTP.Password,
			Recipients: alerts.EmailRecipients,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize email alerts: %w", err)
		}
		s.monitor.AddAlertHandler(h)
	}
	if alerts.WebhookURL != "" {
		minLevel := domain.AlertLevel(alerts.WebhookMinLevel)
		if minLevel == "" {
			minLevel = domain.AlertWarning
		}
		h, err := notify.NewWebhookHandler(alerts.WebhookURL, minLevel, webhookTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize webhook alerts: %w", err)
		}
		s.monitor.AddAlertHandler(h)
	}
	if alerts.Redis.Addr != "" {
		// Redis fan-out is best effort: a missing server must not keep the trader down.
		h, err := notify.NewRedisHandler(notify.RedisConfig{
			Addr:     alerts.Redis.Addr,
			Password: alerts.Redis.Password,
			DB:       alerts.Redis.DB,
			Channel:  alerts.Redis.Channel,
		})
		if err != nil {
			s.logger.Warn(context.Background(), "Redis alert channel disabled", map[string]interface{}{"addr": alerts.Redis.Addr, "error": err.Error()})
		} else {
			s.closers = append(s.closers, h.Close)
			s.monitor.AddAlertHandler(h)
		}
	}
	if alerts.EnableWebsocket {
		s.hub = notify.NewHub(s.logger)
		s.closers = append(s.closers, func() error { s.hub.Close(); return nil })
		s.monitor.AddAlertHandler(s.hub)
	}
	return nil
}

// Account returns the paper trading account.
func (s *Service) Account() *ledger.Account { return s.account }

// Risk returns the risk manager.
func (s *Service) Risk() *risk.RiskManager { return s.risk }

// Monitor returns the live monitor.
func (s *Service) Monitor() *monitor.Monitor { return s.monitor }

// Strategy returns the automated strategy, or nil when it is disabled.
func (s *Service) Strategy() *strategy.MACrossover { return s.strategy }

// Run starts the background loops and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM, then shuts everything down.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Starting paper trading service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.binance != nil {
		if err := s.binance.Ping(ctx); err != nil {
			return errors.Join(fmt.Errorf("binance connectivity check failed: %w", err), s.Close())
		}
		if err := s.binance.StreamMarkPrices(ctx, s.cfg.Symbols); err != nil {
			return errors.Join(fmt.Errorf("failed to start mark price streams: %w", err), s.Close())
		}
	}

	if err := s.monitor.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("failed to start monitor: %w", err), s.Close())
	}
	if s.server != nil {
		if err := s.server.Start(); err != nil {
			return errors.Join(fmt.Errorf("failed to start metrics server: %w", err), s.monitor.Stop(), s.Close())
		}
	}

	var wg sync.WaitGroup
	if s.strategy != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.strategy.Run(ctx); err != nil {
				s.logger.Error(ctx, err, "Strategy exited with error")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.snapshotLoop(ctx)
	}()

	<-ctx.Done()
	s.logger.Info(context.Background(), "Main context cancelled, initiating shutdown...")
	wg.Wait()

	return s.shutdown()
}

// snapshotLoop persists a portfolio snapshot every SnapshotInterval.
func (s *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.account.SaveSnapshot(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error(ctx, err, "Failed to save portfolio snapshot")
			}
		}
	}
}

// shutdown stops the loops, takes a final snapshot and releases resources.
func (s *Service) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.monitor.Stop(); err != nil {
		errs = append(errs, err)
	}
	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if _, err := s.account.SaveSnapshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final snapshot: %w", err))
	}
	if err := s.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error(ctx, err, "Paper trading service stopped with errors")
		return err
	}
	s.logger.Info(ctx, "Paper trading service stopped.")
	return nil
}

// Close releases the database, feed connections, alert log and hub. It is
// idempotent and safe to call without Run.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.closeResources()
	})
	return s.closeErr
}

func (s *Service) closeResources() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
