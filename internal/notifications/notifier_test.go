package notifications

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"chatterbox/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotifier_LocalDeliveryWithoutRedis(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishUser(context.Background(), 1, service.TopicEvents, service.Event{Type: "x"}))

	got := make(chan Envelope, 1)
	require.NoError(t, n.StartSubscriber(context.Background(), func(channel, payload string) {
		assert.Equal(t, "topic:chat:5", channel)
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(payload), &env))
		got <- env
	}))

	require.NoError(t, n.PublishChat(context.Background(), 5, service.TopicMessages, service.Event{
		Type: service.EventMessageCreated,
		Data: map[string]uint{"id": 1},
	}))
	env := <-got
	assert.Equal(t, "/topic/chat.5.messages", env.Destination)
	assert.JSONEq(t, `{"type":"message_created","data":{"id":1}}`, string(env.Body))
}

func TestNotifier_PublishesThroughRedis(t *testing.T) {
	rdb := newRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channels := make(chan string, 2)
	require.NoError(t, n.StartSubscriber(ctx, func(channel, _ string) {
		channels <- channel
	}))

	require.NoError(t, n.PublishUser(ctx, 8, service.TopicPresence, service.Event{Type: service.EventPresence}))
	require.NoError(t, n.PublishChat(ctx, 3, service.TopicTyping, service.Event{Type: service.EventTyping}))

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case ch := <-channels:
			got = append(got, ch)
		case <-time.After(testEventuallyTimeout):
			t.Fatal("timed out waiting for pub/sub message")
		}
	}
	assert.ElementsMatch(t, []string{"topic:users:8", "topic:chat:3"}, got)
}

func TestNotifier_StartSubscriber_StopsOnCancel(t *testing.T) {
	rdb := newRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received int32
	payloads := make(chan string, 2)
	require.NoError(t, n.StartSubscriber(ctx, func(_ string, payload string) {
		atomic.AddInt32(&received, 1)
		payloads <- payload
	}))

	require.NoError(t, n.PublishChat(context.Background(), 1, service.TopicEvents, service.Event{Type: "before-cancel"}))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) >= 1
	}, testEventuallyTimeout, testPollInterval)

	cancel()
	time.Sleep(20 * time.Millisecond)

	// Drain the pre-cancel message to avoid false positives.
	select {
	case <-payloads:
	default:
	}

	require.NoError(t, n.PublishChat(context.Background(), 1, service.TopicEvents, service.Event{Type: "after-cancel"}))
	assert.Never(t, func() bool {
		select {
		case <-payloads:
			return true
		default:
			return false
		}
	}, 200*time.Millisecond, testPollInterval)
}

func TestNotifier_SubscriberSurvivesPanics(t *testing.T) {
	rdb := newRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	require.NoError(t, n.StartSubscriber(ctx, func(string, string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
	}))

	require.NoError(t, n.PublishUser(ctx, 1, service.TopicEvents, service.Event{Type: "a"}))
	require.NoError(t, n.PublishUser(ctx, 1, service.TopicEvents, service.Event{Type: "b"}))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, testEventuallyTimeout, testPollInterval)
}
