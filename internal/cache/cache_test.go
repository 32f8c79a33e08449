package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = Close() })
	return mr
}

type cachedUser struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "user::7", UserKey(7))
	assert.Equal(t, "chat::3", ChatKey(3))
	assert.Equal(t, "chats::user:9", UserChatsKey(9))
	assert.Equal(t, "messages::chat:3:first:30", MessagesKey(3, 30))
	assert.Equal(t, "messages::chat:3:*", MessagesPattern(3))
}

func TestAside_PopulatesThenHits(t *testing.T) {
	mr := setupRedis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *cachedUser) func() error {
		return func() error {
			calls++
			*dest = cachedUser{ID: 1, Name: "ada"}
			return nil
		}
	}

	var first cachedUser
	require.NoError(t, Aside(ctx, UserKey(1), &first, UserTTL, fetch(&first)))
	assert.Equal(t, "ada", first.Name)
	assert.True(t, mr.Exists("user::1"))
	assert.Equal(t, UserTTL, mr.TTL("user::1"))

	var second cachedUser
	require.NoError(t, Aside(ctx, UserKey(1), &second, UserTTL, fetch(&second)))
	assert.Equal(t, "ada", second.Name)
	assert.Equal(t, 1, calls)
}

func TestAside_FetchErrorIsNotCached(t *testing.T) {
	mr := setupRedis(t)
	boom := errors.New("not found")

	var u cachedUser
	err := Aside(context.Background(), UserKey(2), &u, UserTTL, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("user::2"))
}

func TestAside_WithoutClientCallsFetch(t *testing.T) {
	SetClient(nil)
	called := false
	var u cachedUser
	require.NoError(t, Aside(context.Background(), "k", &u, time.Minute, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)

	hit, err := GetJSON(context.Background(), "k", &u)
	assert.NoError(t, err)
	assert.False(t, hit)
}

func TestEvictPattern_RemovesOnlyMatches(t *testing.T) {
	mr := setupRedis(t)
	for i := 0; i < 450; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("messages::chat:5:first:%d", i), "x"))
	}
	require.NoError(t, mr.Set("messages::chat:6:first:30", "x"))

	n, err := EvictPattern(context.Background(), MessagesPattern(5))
	require.NoError(t, err)
	assert.Equal(t, 450, n)
	assert.True(t, mr.Exists("messages::chat:6:first:30"))
	assert.Len(t, mr.Keys(), 1)
}

func TestInvalidation_ApplyAfterCommit(t *testing.T) {
	mr := setupRedis(t)
	ctx := context.Background()
	for _, k := range []string{"chat::1", "chats::user:1", "chats::user:2", "user::1", "messages::chat:1:first:30", "chat::2"} {
		require.NoError(t, mr.Set(k, "x"))
	}

	inv := NewInvalidation().Chat(1).ChatLists(1, 2, 2).User(1)
	assert.False(t, inv.Empty())
	require.NoError(t, inv.Apply(ctx))

	assert.Equal(t, []string{"chat::2"}, mr.Keys())
}

func TestInvalidation_ApplyReportsFailure(t *testing.T) {
	mr := setupRedis(t)
	mr.SetError("LOADING")

	err := NewInvalidation().Key("chat::1").Apply(context.Background())
	assert.Error(t, err)
}

func TestInvalidation_EmptyIsNoop(t *testing.T) {
	setupRedis(t)
	assert.True(t, NewInvalidation().Empty())
	assert.NoError(t, NewInvalidation().Apply(context.Background()))
	var nilInv *Invalidation
	assert.NoError(t, nilInv.Apply(context.Background()))
}
