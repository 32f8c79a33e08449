// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// GlobalLogger is the logger used by background workers and the realtime
// gateway. Request handlers log through middleware.Logger instead.
var GlobalLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// SetLogger replaces GlobalLogger, typically with the request-aware logger.
func SetLogger(l *slog.Logger) {
	if l != nil {
		GlobalLogger = l
	}
}

// WSLogEnabled toggles per-frame gateway logging.
var WSLogEnabled = true

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	component string
}

// NewWSLogger creates a new WSLogger for the given component.
func NewWSLogger(component string) *WSLogger {
	return &WSLogger{component: component}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID uint, sessionID string) {
	if !WSLogEnabled {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket connected",
		slog.String("component", l.component),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("session_id", sessionID),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID uint, sessionID string, reason string) {
	if !WSLogEnabled {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket disconnected",
		slog.String("component", l.component),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID uint, destination string, err error, command string) {
	GlobalLogger.ErrorContext(ctx, "websocket error",
		slog.String("component", l.component),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("destination", destination),
		slog.String("command", command),
		slog.String("error", err.Error()),
	)
}

// LogFrame logs an incoming client frame.
func (l *WSLogger) LogFrame(ctx context.Context, userID uint, destination string, command string) {
	if !WSLogEnabled {
		return
	}
	GlobalLogger.DebugContext(ctx, "websocket frame",
		slog.String("component", l.component),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("destination", destination),
		slog.String("command", command),
	)
}

// LogAsyncOperationStart logs the start of an asynchronous operation.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_start"),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "async operation started", attrs...)
}

// LogAsyncOperationEnd logs the completion of an asynchronous operation.
func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_end"),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "async operation completed", attrs...)
}

// LogAsyncOperationError logs an error in an asynchronous operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.ErrorContext(ctx, "async operation failed", attrs...)
}
