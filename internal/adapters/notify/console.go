// Package notify holds the alert delivery channels the monitor fans out to.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

const colorReset = "\033[0m"

var levelColors = map[domain.AlertLevel]string{
	domain.AlertInfo:      "\033[94m", // blue
	domain.AlertWarning:   "\033[93m", // yellow
	domain.AlertError:     "\033[91m", // red
	domain.AlertCritical:  "\033[95m", // magenta
	domain.AlertEmergency: "\033[1;95m",
}

// ConsoleHandler prints one coloured line per alert.
type ConsoleHandler struct {
	mu       sync.Mutex
	w        io.Writer
	colorize bool
}

// NewConsoleHandler writes to w, or to stdout when w is nil.
func NewConsoleHandler(w io.Writer, colorize bool) *ConsoleHandler {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleHandler{w: w, colorize: colorize}
}

// Name implements ports.AlertHandler.
func (h *ConsoleHandler) Name() string { return "console" }

// Handle implements ports.AlertHandler.
func (h *ConsoleHandler) Handle(ctx context.Context, alert domain.Alert) error {
	line := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(alert.Level)), alert.Component, alert.Message)
	if h.colorize {
		line = levelColors[alert.Level] + line + colorReset
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := fmt.Fprintln(h.w, line); err != nil {
		return fmt.Errorf("console alert %s: %w: %w", alert.ID, ports.ErrDeliveryFailed, err)
	}
	return nil
}

// LogHandler records alerts through a ports.Logger, typically one writing to
// the alert log file.
type LogHandler struct {
	logger ports.Logger
}

// NewLogHandler creates a handler that logs every alert.
func NewLogHandler(logger ports.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

// Name implements ports.AlertHandler.
func (h *LogHandler) Name() string { return "file" }

// Handle implements ports.AlertHandler.
func (h *LogHandler) Handle(ctx context.Context, alert domain.Alert) error {
	msg := fmt.Sprintf("ALERT [%s] %s: %s", strings.ToUpper(string(alert.Level)), alert.Component, alert.Message)
	fields := map[string]interface{}{
		"alertID":     alert.ID,
		"metricValue": alert.MetricValue,
		"threshold":   alert.Threshold,
	}
	switch alert.Level {
	case domain.AlertInfo:
		h.logger.Info(ctx, msg, fields)
	case domain.AlertWarning:
		h.logger.Warn(ctx, msg, fields)
	default:
		h.logger.Error(ctx, nil, msg, fields)
	}
	return nil
}
