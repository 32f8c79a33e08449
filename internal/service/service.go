// Package service provides the chat application's business logic: guards,
// persistence through repositories, cache invalidation and real-time events.
package service

import (
	"context"
	"log/slog"

	"chatterbox/internal/cache"
	"chatterbox/internal/models"
	"chatterbox/internal/observability"
	"chatterbox/internal/repository"
)

// Topic suffixes published under /topic/chat.{id}.* and /topic/users.{id}.*.
const (
	TopicMessages = "messages"
	TopicReads    = "reads"
	TopicTyping   = "typing"
	TopicEvents   = "events"
	TopicPresence = "presence"
	TopicSignal   = "signal"
)

// Event types carried in Event.Type.
const (
	EventMessageCreated = "message_created"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventMessagePinned  = "message_pinned"
	EventReactUpdated   = "react_updated"
	EventPollUpdated    = "poll_updated"
	EventMessagesRead   = "messages_read"
	EventTyping         = "typing"
	EventChatCreated    = "chat_created"
	EventChatUpdated    = "chat_updated"
	EventChatDeleted    = "chat_deleted"
	EventMemberAdded    = "member_added"
	EventMemberRemoved  = "member_removed"
	EventRoleChanged    = "role_changed"
	EventPresence       = "presence"
	EventStoryCreated   = "story_created"
	EventCallSignal     = "call_signal"
	EventDropped        = "messages_dropped"
)

// Event is the body of every real-time frame.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Publisher fans events out to WebSocket subscribers.
type Publisher interface {
	PublishChat(ctx context.Context, chatID uint, topic string, event Event) error
	PublishUser(ctx context.Context, userID uint, topic string, event Event) error
}

type noopPublisher struct{}

func (noopPublisher) PublishChat(context.Context, uint, string, Event) error { return nil }
func (noopPublisher) PublishUser(context.Context, uint, string, Event) error { return nil }

func publisherOrNoop(p Publisher) Publisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

// publishChat is fire-and-forget; delivery failures are only logged.
func publishChat(ctx context.Context, p Publisher, chatID uint, topic, eventType string, data interface{}) {
	if err := p.PublishChat(ctx, chatID, topic, Event{Type: eventType, Data: data}); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "publish chat event failed",
			slog.Uint64("chat_id", uint64(chatID)),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

func publishUsers(ctx context.Context, p Publisher, userIDs []uint, topic, eventType string, data interface{}) {
	for _, id := range userIDs {
		if err := p.PublishUser(ctx, id, topic, Event{Type: eventType, Data: data}); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "publish user event failed",
				slog.Uint64("user_id", uint64(id)),
				slog.String("event", eventType),
				slog.String("error", err.Error()),
			)
		}
	}
}

// evict applies invalidation after commit. Failures are already counted and
// logged by Apply.
func evict(ctx context.Context, inv *cache.Invalidation) {
	_ = inv.Apply(ctx)
}

// requireMember loads the chat and the caller's membership. Missing chats
// are 404, non-members 403.
func requireMember(ctx context.Context, chats repository.ChatRepository, members repository.MemberRepository, chatID, userID uint) (*models.Chat, *models.Member, error) {
	chat, err := chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	member, err := members.Get(ctx, chatID, userID)
	if err != nil {
		return nil, nil, err
	}
	if member == nil {
		return nil, nil, models.NewForbiddenError("You are not a member of this chat")
	}
	return chat, member, nil
}

func requireGroup(chat *models.Chat) error {
	if !chat.IsGroup() {
		return models.NewFieldError("chat_id", "Operation is only allowed on group chats")
	}
	return nil
}

func requireAdmin(member *models.Member) error {
	if !member.IsAdmin() {
		return models.NewForbiddenError("Only admins can perform this action")
	}
	return nil
}

func requireOwner(member *models.Member) error {
	if !member.IsOwner() {
		return models.NewForbiddenError("Only the owner can perform this action")
	}
	return nil
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []uint, skip uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || id == skip {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func boolValue(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}
