package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"chatterbox/internal/models"
	"chatterbox/internal/observability"
	"chatterbox/internal/repository"

	"github.com/redis/go-redis/v9"
)

const (
	presenceSessionsKey = "presence:sessions:%d"
	presenceOnlineKey   = "presence:online"
	typingKey           = "typing:chat:%d"

	DefaultSessionTTL = 90 * time.Second
	TypingTTL         = 10 * time.Second
)

// PresenceStatus is the visible presence of one user.
type PresenceStatus struct {
	UserID     uint       `json:"user_id"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// TypingState is published on /topic/chat.{id}.typing.
type TypingState struct {
	ChatID  uint   `json:"chat_id"`
	UserIDs []uint `json:"user_ids"`
}

// PresenceService tracks WebSocket sessions and typing indicators in Redis.
type PresenceService struct {
	rdb        *redis.Client
	users      repository.UserRepository
	chats      repository.ChatRepository
	members    repository.MemberRepository
	pub        Publisher
	sessionTTL time.Duration
	now        func() time.Time
}

// NewPresenceService returns a PresenceService. Without Redis every user
// reads as offline and typing is not tracked.
func NewPresenceService(
	rdb *redis.Client,
	users repository.UserRepository,
	chats repository.ChatRepository,
	members repository.MemberRepository,
	pub Publisher,
) *PresenceService {
	return &PresenceService{
		rdb:        rdb,
		users:      users,
		chats:      chats,
		members:    members,
		pub:        publisherOrNoop(pub),
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
}

// SessionTTL is how long a session survives without a heartbeat.
func (s *PresenceService) SessionTTL() time.Duration {
	return s.sessionTTL
}

// Connect registers a session. The first session marks the user online.
func (s *PresenceService) Connect(ctx context.Context, userID uint, sessionID string) error {
	if s.rdb == nil {
		return nil
	}
	key := fmt.Sprintf(presenceSessionsKey, userID)
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, key, sessionID)
	pipe.Expire(ctx, key, s.sessionTTL)
	count := pipe.SCard(ctx, key)
	pipe.SAdd(ctx, presenceOnlineKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence connect: %w", err)
	}
	if count.Val() == 1 {
		s.announce(ctx, userID, true, nil)
	}
	return nil
}

// Heartbeat extends the session set's lifetime.
func (s *PresenceService) Heartbeat(ctx context.Context, userID uint) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Expire(ctx, fmt.Sprintf(presenceSessionsKey, userID), s.sessionTTL).Err()
}

// Disconnect removes a session. The last session marks the user offline and
// persists last_seen_at.
func (s *PresenceService) Disconnect(ctx context.Context, userID uint, sessionID string) error {
	if s.rdb == nil {
		return nil
	}
	key := fmt.Sprintf(presenceSessionsKey, userID)
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, key, sessionID)
	count := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence disconnect: %w", err)
	}
	if count.Val() > 0 {
		return nil
	}

	if err := s.rdb.SRem(ctx, presenceOnlineKey, userID).Err(); err != nil {
		return fmt.Errorf("presence disconnect: %w", err)
	}
	seen := s.now().UTC()
	if err := s.users.SetLastSeen(ctx, userID, seen); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "persist last seen failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
	}
	s.announce(ctx, userID, false, &seen)
	return nil
}

func (s *PresenceService) announce(ctx context.Context, userID uint, online bool, lastSeen *time.Time) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || !user.ShowOnlineStatus {
		return
	}
	status := PresenceStatus{UserID: userID, Online: online}
	if user.ShowLastSeen {
		status.LastSeenAt = lastSeen
	}
	if err := s.pub.PublishUser(ctx, userID, TopicPresence, Event{Type: EventPresence, Data: status}); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "publish presence failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()),
		)
	}
}

// IsOnline reports whether the user holds a live session.
func (s *PresenceService) IsOnline(ctx context.Context, userID uint) bool {
	if s.rdb == nil {
		return false
	}
	n, err := s.rdb.Exists(ctx, fmt.Sprintf(presenceSessionsKey, userID)).Result()
	return err == nil && n > 0
}

// OnlineAmong returns the subset of ids with a live session.
func (s *PresenceService) OnlineAmong(ctx context.Context, ids []uint) map[uint]bool {
	out := make(map[uint]bool, len(ids))
	if s.rdb == nil || len(ids) == 0 {
		return out
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, fmt.Sprintf(presenceSessionsKey, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return out
	}
	for i, id := range ids {
		if cmds[i].Val() > 0 {
			out[id] = true
		}
	}
	return out
}

// Statuses returns the presence of ids as the viewer may see it.
func (s *PresenceService) Statuses(ctx context.Context, viewerID uint, ids []uint) ([]PresenceStatus, error) {
	ids = uniqueIDs(ids, 0)
	if len(ids) > 100 {
		return nil, models.NewFieldError("ids", "At most 100 ids per request")
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	online := s.OnlineAmong(ctx, ids)
	out := make([]PresenceStatus, 0, len(users))
	for _, u := range users {
		u.Online = online[u.ID]
		view := u.PublicView(viewerID)
		out = append(out, PresenceStatus{UserID: u.ID, Online: view.Online, LastSeenAt: view.LastSeenAt})
	}
	return out, nil
}

// StartTyping adds the user to the chat's typing set.
func (s *PresenceService) StartTyping(ctx context.Context, userID, chatID uint) error {
	return s.setTyping(ctx, userID, chatID, true)
}

// StopTyping removes the user from the chat's typing set.
func (s *PresenceService) StopTyping(ctx context.Context, userID, chatID uint) error {
	return s.setTyping(ctx, userID, chatID, false)
}

func (s *PresenceService) setTyping(ctx context.Context, userID, chatID uint, typing bool) error {
	if _, _, err := requireMember(ctx, s.chats, s.members, chatID, userID); err != nil {
		return err
	}
	if s.rdb == nil {
		return nil
	}
	key := fmt.Sprintf(typingKey, chatID)
	pipe := s.rdb.TxPipeline()
	if typing {
		pipe.SAdd(ctx, key, userID)
		pipe.Expire(ctx, key, TypingTTL)
	} else {
		pipe.SRem(ctx, key, userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return models.NewInternalError(err)
	}

	ids, err := s.TypingUsers(ctx, chatID)
	if err != nil {
		return err
	}
	publishChat(ctx, s.pub, chatID, TopicTyping, EventTyping, TypingState{ChatID: chatID, UserIDs: ids})
	return nil
}

// TypingUsers lists who is typing in the chat.
func (s *PresenceService) TypingUsers(ctx context.Context, chatID uint) ([]uint, error) {
	ids := []uint{}
	if s.rdb == nil {
		return ids, nil
	}
	members, err := s.rdb.SMembers(ctx, fmt.Sprintf(typingKey, chatID)).Result()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, m := range members {
		if id, err := strconv.ParseUint(m, 10, 64); err == nil {
			ids = append(ids, uint(id))
		}
	}
	return ids, nil
}
