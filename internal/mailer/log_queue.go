package mailer

import (
	"context"
	"log/slog"
	"sync"

	"chatterbox/internal/observability"
)

// LogQueue stands in for RabbitMQ in development. Jobs are logged and kept
// in memory.
type LogQueue struct {
	mu   sync.Mutex
	sent []OTPEmail
}

// NewLogQueue returns an empty LogQueue.
func NewLogQueue() *LogQueue {
	return &LogQueue{}
}

func (q *LogQueue) PublishOTP(ctx context.Context, msg OTPEmail) error {
	q.mu.Lock()
	q.sent = append(q.sent, msg)
	q.mu.Unlock()
	observability.GlobalLogger.InfoContext(ctx, "otp email (not delivered, no AMQP_URL)",
		slog.String("to", msg.To),
		slog.String("purpose", msg.Purpose),
		slog.String("code", msg.Code),
	)
	return nil
}

// Sent returns a copy of the published jobs.
func (q *LogQueue) Sent() []OTPEmail {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]OTPEmail(nil), q.sent...)
}

func (q *LogQueue) Close() error { return nil }
