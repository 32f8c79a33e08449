// Package notifications implements the real-time gateway: a Redis backed
// publisher and the WebSocket hub that delivers STOMP-style frames.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"

	"chatterbox/internal/observability"
	"chatterbox/internal/service"

	"github.com/redis/go-redis/v9"
)

const (
	chatChannelPrefix = "topic:chat:"
	userChannelPrefix = "topic:users:"
)

// Envelope is what travels over Redis between nodes.
type Envelope struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// Notifier publishes service events to Redis channels. Every node's hub
// pattern-subscribes to them. Without Redis events go straight to the local
// handler.
type Notifier struct {
	rdb *redis.Client

	mu    sync.RWMutex
	local func(channel, payload string)
}

var _ service.Publisher = (*Notifier)(nil)

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishChat sends an event to /topic/chat.{id}.{topic}.
func (n *Notifier) PublishChat(ctx context.Context, chatID uint, topic string, event service.Event) error {
	return n.publish(ctx, ChatChannel(chatID), ChatDestination(chatID, topic), event)
}

// PublishUser sends an event to /topic/users.{id}.{topic}.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, topic string, event service.Event) error {
	return n.publish(ctx, UserChannel(userID), UserDestination(userID, topic), event)
}

func (n *Notifier) publish(ctx context.Context, channel, dest string, event service.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	payload, err := json.Marshal(Envelope{Destination: dest, Body: body})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if n.rdb == nil {
		n.mu.RLock()
		local := n.local
		n.mu.RUnlock()
		if local != nil {
			local(channel, string(payload))
		}
		return nil
	}
	return n.rdb.Publish(ctx, channel, payload).Err()
}

// StartSubscriber subscribes to every chat and user channel and calls
// onMessage for each incoming message. Without Redis onMessage receives
// local publishes instead.
func (n *Notifier) StartSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	if n.rdb == nil {
		n.mu.Lock()
		n.local = onMessage
		n.mu.Unlock()
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, chatChannelPrefix+"*", userChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.GlobalLogger.Error("panic in gateway subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// ChatChannel derives the Redis channel name for a chat.
func ChatChannel(chatID uint) string {
	return chatChannelPrefix + strconv.FormatUint(uint64(chatID), 10)
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}
