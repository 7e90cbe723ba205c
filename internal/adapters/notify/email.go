package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// SMTPConfig holds the mail relay settings for email alerts.
type SMTPConfig struct {
	Server     string
	Port       int // 587 by default
	Username   string
	Password   string
	Recipients []string
	MinLevel   domain.AlertLevel // warning by default
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailHandler mails alerts at or above its minimum level.
type EmailHandler struct {
	cfg      SMTPConfig
	logger   ports.Logger
	sendMail sendMailFunc
}

// NewEmailHandler validates the relay settings.
func NewEmailHandler(cfg SMTPConfig, logger ports.Logger) (*EmailHandler, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for email alerts")
	}
	if cfg.Server == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("incomplete SMTP configuration: %w", ports.ErrConfigurationError)
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("no email recipients: %w", ports.ErrConfigurationError)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.MinLevel == "" {
		cfg.MinLevel = domain.AlertWarning
	}
	return &EmailHandler{cfg: cfg, logger: logger, sendMail: smtp.SendMail}, nil
}

// Name implements ports.AlertHandler.
func (h *EmailHandler) Name() string { return "email" }

// Handle implements ports.AlertHandler. Alerts below the minimum level are skipped.
func (h *EmailHandler) Handle(ctx context.Context, alert domain.Alert) error {
	if !alert.Level.AtLeast(h.cfg.MinLevel) {
		return nil
	}
	addr := net.JoinHostPort(h.cfg.Server, strconv.Itoa(h.cfg.Port))
	auth := smtp.PlainAuth("", h.cfg.Username, h.cfg.Password, h.cfg.Server)
	if err := h.sendMail(addr, auth, h.cfg.Username, h.cfg.Recipients, h.message(alert)); err != nil {
		return fmt.Errorf("email alert %s: %w: %w", alert.ID, ports.ErrDeliveryFailed, err)
	}
	h.logger.Info(ctx, "Email alert sent", map[string]interface{}{"alertID": alert.ID})
	return nil
}

func (h *EmailHandler) message(alert domain.Alert) []byte {
	details, err := json.MarshalIndent(alert.Details, "", "  ")
	if err != nil {
		details = []byte(fmt.Sprintf("%v", alert.Details))
	}
	level := strings.ToUpper(string(alert.Level))

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", h.cfg.Username)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(h.cfg.Recipients, ", "))
	fmt.Fprintf(&sb, "Subject: Paper Trader Alert: %s - %s\r\n", level, alert.Component)
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&sb, "Level: %s\r\nComponent: %s\r\nTime: %s\r\n\r\n", level, alert.Component, alert.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Message: %s\r\n\r\nDetails:\r\n%s\r\n\r\nAlert ID: %s\r\n", alert.Message, details, alert.ID)
	return []byte(sb.String())
}
