package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

const defaultAlertChannel = "paper_trader:alerts"

// RedisConfig configures the Redis alert publisher.
type RedisConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Channel  string // PubSub channel, "paper_trader:alerts" by default
}

// RedisHandler publishes alerts as JSON on a Redis PubSub channel so other
// processes can follow them.
type RedisHandler struct {
	client  *goredis.Client
	channel string
}

// NewRedisHandler connects and pings the server.
func NewRedisHandler(cfg RedisConfig) (*RedisHandler, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w: %w", cfg.Addr, ports.ErrConnectionFailed, err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = defaultAlertChannel
	}
	return &RedisHandler{client: client, channel: channel}, nil
}

// Name implements ports.AlertHandler.
func (h *RedisHandler) Name() string { return "redis" }

// Channel returns the PubSub channel alerts are published on.
func (h *RedisHandler) Channel() string { return h.channel }

// Handle implements ports.AlertHandler.
func (h *RedisHandler) Handle(ctx context.Context, alert domain.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}
	if err := h.client.Publish(ctx, h.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w: %w", alert.ID, ports.ErrDeliveryFailed, err)
	}
	return nil
}

// Close releases the connection pool.
func (h *RedisHandler) Close() error {
	return h.client.Close()
}
