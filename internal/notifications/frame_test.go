package notifications

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		ok    bool
		scope string
		id    uint
		topic string
	}{
		{"/topic/chat.12.messages", true, scopeChat, 12, "messages"},
		{"/topic/users.7.presence", true, scopeUser, 7, "presence"},
		{"/topic/chat.0.messages", false, "", 0, ""},
		{"/topic/chat.x.messages", false, "", 0, ""},
		{"/topic/chat.12", false, "", 0, ""},
		{"/topic/chat.12.messages.extra", false, "", 0, ""},
		{"/app/chat.12.typing", false, "", 0, ""},
		{"/topic/rooms.1.messages", false, "", 0, ""},
	}
	for _, tt := range tests {
		d, ok := parseTopic(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.scope, d.scope, tt.raw)
		assert.Equal(t, tt.id, d.id, tt.raw)
		assert.Equal(t, tt.topic, d.topic, tt.raw)
	}
}

func TestParseApp(t *testing.T) {
	t.Parallel()
	d, ok := parseApp("/app/call.9.signal")
	require.True(t, ok)
	assert.Equal(t, destination{scope: scopeCall, id: 9, topic: "signal"}, d)

	_, ok = parseApp("/app/users.9.signal")
	assert.False(t, ok)
}

func TestDestinations(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/topic/chat.3.typing", ChatDestination(3, "typing"))
	assert.Equal(t, "/topic/users.4.events", UserDestination(4, "events"))
	assert.Equal(t, "/topic/chat.3.", ChatPrefix(3))
	assert.Equal(t, "topic:chat:3", ChatChannel(3))
	assert.Equal(t, "topic:users:4", UserChannel(4))
}

func TestDropNoticeIsAMessageFrame(t *testing.T) {
	t.Parallel()
	var f Frame
	require.NoError(t, json.Unmarshal(dropNotice, &f))
	assert.Equal(t, CommandMessage, f.Command)
	assert.JSONEq(t, `{"type":"messages_dropped","data":{"reason":"buffer_full"}}`, string(f.Body))
}
