package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatterbox/internal/observability"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareTopology sets up the mail exchange, the work queue and its dead
// letter queue. Declarations are idempotent.
func declareTopology(ch topologyChannel, queue string) error {
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DeadExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}

	dead := queue + deadLetterSufx
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := ch.QueueBind(dead, queue, DeadExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DeadExchange,
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue, queue, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// RabbitQueue publishes OTP jobs to RabbitMQ.
type RabbitQueue struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch *amqp.Channel
}

// DialRabbit connects and declares the topology.
func DialRabbit(url, queue string) (*RabbitQueue, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &RabbitQueue{conn: conn, ch: ch, queue: queue}, nil
}

func encodeJob(msg OTPEmail) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         msg.Purpose,
		Body:         body,
	}, nil
}

// PublishOTP publishes a persistent job routed to the OTP queue.
func (q *RabbitQueue) PublishOTP(ctx context.Context, msg OTPEmail) error {
	pub, err := encodeJob(msg)
	if err != nil {
		return fmt.Errorf("encode otp job: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.PublishWithContext(ctx, Exchange, q.queue, false, false, pub); err != nil {
		observability.MailDeliveries.WithLabelValues("publish_failed").Inc()
		return fmt.Errorf("publish otp job: %w", err)
	}
	observability.MailDeliveries.WithLabelValues("queued").Inc()
	return nil
}

// StartConsumer consumes the OTP queue on a dedicated channel until ctx ends.
func (q *RabbitQueue) StartConsumer(ctx context.Context, c *Consumer) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "chatterbox-mailer", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume: %w", err)
	}
	go func() {
		defer func() { _ = ch.Close() }()
		c.Run(ctx, deliveries)
	}()
	return nil
}

// Close closes the channel and connection.
func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
