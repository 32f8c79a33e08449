package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatterbox/internal/cache"
	"chatterbox/internal/mailer"
	"chatterbox/internal/middleware"
	"chatterbox/internal/models"
	"chatterbox/internal/repository"
	"chatterbox/internal/storage"
	"chatterbox/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type published struct {
	ChatID uint
	UserID uint
	Topic  string
	Event  Event
}

// recordingPublisher keeps every event for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishChat(_ context.Context, chatID uint, topic string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{ChatID: chatID, Topic: topic, Event: event})
	return nil
}

func (p *recordingPublisher) PublishUser(_ context.Context, userID uint, topic string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{UserID: userID, Topic: topic, Event: event})
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.Event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// env wires every service against SQLite, miniredis and a memory blob store.
type env struct {
	db    *gorm.DB
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	store *storage.MemoryStore
	pub   *recordingPublisher
	mail  *mailer.LogQueue

	users    repository.UserRepository
	chats    repository.ChatRepository
	members  repository.MemberRepository
	messages repository.MessageRepository

	media    *MediaService
	presence *PresenceService
	auth     *AuthService
	userSvc  *UserService
	chatSvc  *ChatService
	memberSv *MemberService
	msgSvc   *MessageService
	stories  *StoryService
	invites  *InviteService
	blocks   *BlockService
	gifs     *GifService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache.SetClient(rdb)
	t.Cleanup(func() {
		cache.SetClient(nil)
		_ = rdb.Close()
	})

	e := &env{
		db:    db,
		mr:    mr,
		rdb:   rdb,
		store: storage.NewMemoryStore(),
		pub:   &recordingPublisher{},
		mail:  mailer.NewLogQueue(),
	}
	e.users = repository.NewUserRepository(db)
	e.chats = repository.NewChatRepository(db)
	e.members = repository.NewMemberRepository(db)
	e.messages = repository.NewMessageRepository(db)
	blocks := repository.NewBlockRepository(db)
	polls := repository.NewPollRepository(db)
	stories := repository.NewStoryRepository(db)
	invites := repository.NewInviteRepository(db)

	e.media = NewMediaService(e.store, 0)
	e.presence = NewPresenceService(rdb, e.users, e.chats, e.members, e.pub)
	tokens := middleware.NewTokenManager("test-secret-test-secret-test-secret", 15*time.Minute)
	e.auth = NewAuthService(e.users, repository.NewRefreshTokenRepository(db), tokens, rdb, e.mail, 0)
	e.userSvc = NewUserService(e.users, e.members, blocks, e.media, e.presence, e.pub)
	e.chatSvc = NewChatService(e.chats, e.members, e.users, blocks, e.media, e.presence, e.pub)
	e.memberSv = NewMemberService(e.chats, e.members, e.users, blocks, e.pub)
	e.msgSvc = NewMessageService(e.messages, e.chats, e.members, e.users, blocks, polls, stories, invites, e.media, e.pub)
	e.stories = NewStoryService(stories, e.chats, blocks, e.media, e.chatSvc, e.msgSvc, e.pub, 0)
	e.invites = NewInviteService(invites, e.chats, e.members, e.chatSvc, e.msgSvc, e.pub)
	e.blocks = NewBlockService(blocks, e.users)
	e.gifs = NewGifService(repository.NewGifRepository(db))
	return e
}

func (e *env) user(t *testing.T, name string) *models.User {
	t.Helper()
	return testutil.CreateUser(t, e.db, name)
}

func (e *env) text(t *testing.T, userID, chatID uint, content string) *models.Message {
	t.Helper()
	msg, err := e.msgSvc.Send(context.Background(), userID, chatID, MessageInput{Type: models.MessageTypeText, Content: content})
	require.NoError(t, err)
	return msg
}

func assertStatus(t *testing.T, want int, err error) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, want, models.StatusFor(err), "error: %v", err)
}

func assertField(t *testing.T, field string, err error) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Contains(t, appErr.Fields, field, "error: %v", err)
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }
