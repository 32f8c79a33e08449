package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"chatterbox/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer renders and sends OTP emails. It never retries: a failed send is
// dead-lettered and a malformed job is rejected.
type Consumer struct {
	sender Sender
}

// NewConsumer returns a Consumer sending through sender.
func NewConsumer(sender Sender) *Consumer {
	return &Consumer{sender: sender}
}

// Run handles deliveries until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	observability.LogAsyncOperationStart(ctx, "mail_consumer", nil)
	defer observability.LogAsyncOperationEnd(ctx, "mail_consumer", nil)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery processes a single job and settles it.
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	var msg OTPEmail
	if err := json.Unmarshal(d.Body, &msg); err != nil || !validJob(msg) {
		if err == nil {
			err = errors.New("missing recipient or code")
		}
		observability.MailDeliveries.WithLabelValues("malformed").Inc()
		observability.LogAsyncOperationError(ctx, "mail_consumer", err, map[string]interface{}{"message_id": d.MessageId})
		_ = d.Reject(false)
		return
	}

	subject, body, err := Render(msg)
	if err == nil {
		err = c.sender.Send(ctx, msg.To, subject, body)
	}
	if err != nil {
		observability.MailDeliveries.WithLabelValues("failed").Inc()
		observability.LogAsyncOperationError(ctx, "mail_consumer", err, map[string]interface{}{
			"message_id": d.MessageId,
			"purpose":    msg.Purpose,
		})
		_ = d.Nack(false, false)
		return
	}

	observability.MailDeliveries.WithLabelValues("sent").Inc()
	observability.GlobalLogger.DebugContext(ctx, "otp email sent",
		slog.String("message_id", d.MessageId), slog.String("purpose", msg.Purpose))
	_ = d.Ack(false)
}

func validJob(msg OTPEmail) bool {
	return strings.Contains(msg.To, "@") && msg.Code != ""
}
