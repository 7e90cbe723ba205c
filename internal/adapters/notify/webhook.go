package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// WebhookHandler POSTs each alert as JSON to a URL.
type WebhookHandler struct {
	url      string
	client   *http.Client
	minLevel domain.AlertLevel
}

// NewWebhookHandler creates a webhook channel; minLevel "" means every alert.
func NewWebhookHandler(url string, minLevel domain.AlertLevel, timeout time.Duration) (*WebhookHandler, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is empty: %w", ports.ErrConfigurationError)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if minLevel == "" {
		minLevel = domain.AlertInfo
	}
	return &WebhookHandler{url: url, client: &http.Client{Timeout: timeout}, minLevel: minLevel}, nil
}

// Name implements ports.AlertHandler.
func (h *WebhookHandler) Name() string { return "webhook" }

// Handle implements ports.AlertHandler.
func (h *WebhookHandler) Handle(ctx context.Context, alert domain.Alert) error {
	if !alert.Level.AtLeast(h.minLevel) {
		return nil
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w: %w", ports.ErrConfigurationError, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook alert %s: %w: %w", alert.ID, ports.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook alert %s: status %d: %w", alert.ID, resp.StatusCode, ports.ErrDeliveryFailed)
	}
	return nil
}
