package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"paperTrader/internal/adapters/logger" // Import the logger package for LogLevel
	"paperTrader/internal/domain"
	"paperTrader/internal/monitor"
	"paperTrader/internal/ports"
	"paperTrader/internal/risk"
)

// Feed sources.
const (
	FeedSimulator = "simulator"
	FeedBinance   = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Price feed
	FeedSource           string
	APIKey               string
	SecretKey            string
	IsTestnet            bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	SimulatorSeed        int64

	// Paper account
	InitialBalance decimal.Decimal
	CommissionRate decimal.Decimal
	Symbols        []string

	// Persistence
	DBPath      string
	SnapshotDir string

	// Logging
	LogLevel     logger.LogLevel
	AlertLogPath string

	// Exposure
	MetricsAddr  string  // empty disables the /metrics server
	MonthlyCosts float64 // operating costs charged in reports

	// Automation
	StrategyEnabled  bool
	StrategyInterval time.Duration
	SnapshotInterval time.Duration

	// Loaded from the YAML file named by MONITOR_CONFIG_PATH, then env overrides.
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Risk       RiskFileConfig   `yaml:"risk"`
}

// MonitoringConfig tunes the live monitor.
type MonitoringConfig struct {
	Interval        time.Duration      `yaml:"interval"`
	MetricRetention time.Duration      `yaml:"metric_retention"`
	AlertRetention  time.Duration      `yaml:"alert_retention"`
	QueueSize       int                `yaml:"queue_size"`
	Thresholds      monitor.Thresholds `yaml:"thresholds"`
}

// SMTPSettings is the mail relay used for email alerts.
type SMTPSettings struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RedisSettings enables the Redis alert publisher when Addr is set.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// AlertsConfig selects the alert channels.
type AlertsConfig struct {
	EnableConsole   bool          `yaml:"enable_console"`
	EnableFile      bool          `yaml:"enable_file"`
	EnableEmail     bool          `yaml:"enable_email"`
	EnableWebsocket bool          `yaml:"enable_websocket"`
	EmailRecipients []string      `yaml:"email_recipients"`
	SMTP            SMTPSettings  `yaml:"smtp_settings"`
	WebhookURL      string        `yaml:"webhook_url"`
	WebhookMinLevel string        `yaml:"webhook_min_level"`
	Redis           RedisSettings `yaml:"redis"`
}

// RiskFileConfig overrides risk limits and bands.
type RiskFileConfig struct {
	Limits     domain.RiskLimits  `yaml:"limits"`
	Drawdown   risk.DrawdownBands `yaml:"drawdown"`
	TOTPSecret string             `yaml:"totp_secret"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		FeedSource:           FeedSimulator,
		IsTestnet:            true,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 10,
		InitialBalance:       decimal.NewFromInt(10000),
		CommissionRate:       decimal.RequireFromString("0.001"),
		Symbols:              []string{"BTC", "ETH"},
		DBPath:               "./data/paper_trading.db",
		SnapshotDir:          "./data/snapshots",
		LogLevel:             logger.LevelInfo,
		AlertLogPath:         "./logs/alerts.log",
		MetricsAddr:          ":9102",
		StrategyInterval:     10 * time.Second,
		SnapshotInterval:     time.Minute,
		Monitoring: MonitoringConfig{
			Interval:        5 * time.Second,
			MetricRetention: 24 * time.Hour,
			AlertRetention:  7 * 24 * time.Hour,
			QueueSize:       1000,
			Thresholds:      monitor.DefaultThresholds(),
		},
		Alerts: AlertsConfig{
			EnableConsole: true,
			EnableFile:    true,
			SMTP:          SMTPSettings{Server: "smtp.gmail.com", Port: 587},
		},
		Risk: RiskFileConfig{
			Limits:   domain.DefaultRiskLimits(),
			Drawdown: risk.DrawdownBands{Medium: 0.03, High: 0.06, Emergency: 0.08},
		},
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file named
// by MONITOR_CONFIG_PATH and environment variables (.env file), in that order.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := Default()
	if path := getEnv("MONITOR_CONFIG_PATH", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if errs := cfg.applyEnv(); len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w: %w", ports.ErrConfigurationError, errors.Join(errs...))
	}
	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w: %w", ports.ErrConfigurationError, errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w: %w", path, ports.ErrConfigurationError, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w: %w", path, ports.ErrConfigurationError, err)
	}
	return nil
}

func (c *Config) applyEnv() []error {
	var errs []error
	var err error

	c.FeedSource = strings.ToLower(getEnv("FEED_SOURCE", c.FeedSource))
	c.APIKey = getEnv("BINANCE_API_KEY", c.APIKey)
	c.SecretKey = getEnv("BINANCE_API_SECRET", c.SecretKey)
	c.IsTestnet = getEnvAsBool("IS_TESTNET", c.IsTestnet)

	if v := getEnv("SYMBOLS", ""); v != "" {
		c.Symbols = splitList(v)
	}

	if c.InitialBalance, err = getEnvAsDecimal("INITIAL_BALANCE", c.InitialBalance); err != nil {
		errs = append(errs, err)
	}
	if c.CommissionRate, err = getEnvAsDecimal("COMMISSION_RATE", c.CommissionRate); err != nil {
		errs = append(errs, err)
	}
	if c.MonthlyCosts, err = getEnvAsFloatRequired("MONTHLY_COSTS", c.MonthlyCosts); err != nil {
		errs = append(errs, err)
	}
	seed, err := getEnvAsIntRequired("SIMULATOR_SEED", int(c.SimulatorSeed))
	if err != nil {
		errs = append(errs, err)
	}
	c.SimulatorSeed = int64(seed)

	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.SnapshotDir = getEnv("SNAPSHOT_DIR", c.SnapshotDir)
	c.AlertLogPath = getEnv("ALERT_LOG_PATH", c.AlertLogPath)
	c.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", c.LogLevel.String()))
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}

	// Connection Settings
	if v := os.Getenv("RECONNECT_DELAY_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			errs = append(errs, fmt.Errorf("RECONNECT_DELAY_SECONDS must be a positive integer, got %q", v))
		} else {
			c.ReconnectDelay = time.Duration(secs) * time.Second
		}
	}
	c.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", c.MaxReconnectAttempts)

	c.StrategyEnabled = getEnvAsBool("STRATEGY_ENABLED", c.StrategyEnabled)
	for key, target := range map[string]*time.Duration{
		"STRATEGY_INTERVAL": &c.StrategyInterval,
		"SNAPSHOT_INTERVAL": &c.SnapshotInterval,
	} {
		if v := getEnv(key, ""); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				errs = append(errs, fmt.Errorf("%s must be a positive duration, got %q", key, v))
				continue
			}
			*target = d
		}
	}

	if v := getEnv("MONITOR_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid MONITOR_INTERVAL %q: %w", v, err))
		} else {
			c.Monitoring.Interval = d
		}
	}

	// Alert channels
	c.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", c.Alerts.WebhookURL)
	c.Alerts.SMTP.Username = getEnv("SMTP_USERNAME", c.Alerts.SMTP.Username)
	c.Alerts.SMTP.Password = getEnv("SMTP_PASSWORD", c.Alerts.SMTP.Password)
	if v := getEnv("ALERT_EMAIL_RECIPIENTS", ""); v != "" {
		c.Alerts.EmailRecipients = splitList(v)
	}
	c.Alerts.Redis.Addr = getEnv("REDIS_ADDR", c.Alerts.Redis.Addr)
	c.Alerts.Redis.Password = getEnv("REDIS_PASSWORD", c.Alerts.Redis.Password)
	c.Alerts.Redis.Channel = getEnv("REDIS_ALERT_CHANNEL", c.Alerts.Redis.Channel)

	c.Risk.TOTPSecret = getEnv("EMERGENCY_TOTP_SECRET", c.Risk.TOTPSecret)
	return errs
}

func (c *Config) validate() []error {
	var errs []error

	switch c.FeedSource {
	case FeedSimulator:
	case FeedBinance:
		if c.MaxReconnectAttempts < 0 {
			errs = append(errs, errors.New("MAX_RECONNECT_ATTEMPTS cannot be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("FEED_SOURCE must be %q or %q, got %q", FeedSimulator, FeedBinance, c.FeedSource))
	}

	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("SYMBOLS must list at least one symbol"))
	}
	if !c.InitialBalance.IsPositive() {
		errs = append(errs, errors.New("INITIAL_BALANCE must be positive"))
	}
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("COMMISSION_RATE must be in [0, 1)"))
	}
	if c.MonthlyCosts < 0 {
		errs = append(errs, errors.New("MONTHLY_COSTS cannot be negative"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH must be set"))
	}
	if c.StrategyInterval <= 0 || c.SnapshotInterval <= 0 {
		errs = append(errs, errors.New("strategy and snapshot intervals must be positive"))
	}
	if c.Monitoring.Interval <= 0 {
		errs = append(errs, errors.New("monitoring interval must be positive"))
	}
	if c.Monitoring.Thresholds.MaxDrawdownPct <= 0 {
		errs = append(errs, errors.New("max_drawdown_pct must be positive"))
	}

	if c.Alerts.EnableEmail {
		if len(c.Alerts.EmailRecipients) == 0 {
			errs = append(errs, errors.New("email alerts enabled without recipients"))
		}
		if c.Alerts.SMTP.Server == "" || c.Alerts.SMTP.Username == "" || c.Alerts.SMTP.Password == "" {
			errs = append(errs, errors.New("email alerts enabled with incomplete SMTP settings"))
		}
	}
	if lvl := c.Alerts.WebhookMinLevel; lvl != "" && domain.AlertLevel(lvl).Rank() < 0 {
		errs = append(errs, fmt.Errorf("unknown webhook_min_level %q", lvl))
	}

	d := c.Risk.Drawdown
	if !(d.Medium > 0 && d.Medium < d.High && d.High < d.Emergency && d.Emergency < 1) {
		errs = append(errs, fmt.Errorf("risk drawdown bands must satisfy 0 < medium < high < emergency < 1, got %+v", d))
	}
	return errs
}

// RiskConfig builds the risk manager configuration from the loaded settings.
func (c *Config) RiskConfig(log ports.Logger) risk.RiskConfig {
	rc := risk.DefaultRiskConfig(log)
	rc.Limits = c.Risk.Limits
	rc.Drawdown = c.Risk.Drawdown
	rc.TOTPSecret = c.Risk.TOTPSecret
	rc.Leverage.Critical = c.Risk.Limits.MaxLeverage
	rc.Volatility.Critical = c.Risk.Limits.MaxVolatility
	return rc
}

// MonitorConfig builds the monitor configuration from the loaded settings.
func (c *Config) MonitorConfig(log ports.Logger, sink ports.MetricsSink) monitor.Config {
	mc := monitor.DefaultConfig(log)
	mc.Interval = c.Monitoring.Interval
	mc.MetricRetention = c.Monitoring.MetricRetention
	mc.AlertRetention = c.Monitoring.AlertRetention
	mc.QueueSize = c.Monitoring.QueueSize
	mc.Thresholds = c.Monitoring.Thresholds
	mc.Sink = sink
	return mc
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
