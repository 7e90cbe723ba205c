package ports

import "context"

// Logger is the structured logger injected into every component.
// Fields are passed as an optional map; only the first map is used.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err alongside the message.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
