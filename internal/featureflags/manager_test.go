package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled_Switches(t *testing.T) {
	m := NewManager("stories=on,polls=off,oauth=true,gifs=0,calls=1,search=false")

	assert.True(t, m.Enabled(Stories, 1))
	assert.True(t, m.Enabled(OAuth, 1))
	assert.True(t, m.Enabled("calls", 1))
	assert.False(t, m.Enabled(Polls, 1))
	assert.False(t, m.Enabled("gifs", 1))
	assert.False(t, m.Enabled("search", 1))
	assert.False(t, m.Enabled("unlisted", 1))
	assert.True(t, m.Enabled(" STORIES ", 1), "names are case-insensitive")
}

func TestEnabled_Rollout(t *testing.T) {
	m := NewManager("stories=100%,polls=0%,oauth=25%,bad=x%")

	assert.True(t, m.Enabled(Stories, 7))
	assert.False(t, m.Enabled(Polls, 7))
	assert.False(t, m.Enabled("bad", 7))
	assert.False(t, m.Enabled(OAuth, 0), "partial rollout needs a user")

	first := m.Enabled(OAuth, 42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled(OAuth, 42))
	}

	on := 0
	for id := uint(1); id <= 1000; id++ {
		if m.Enabled(OAuth, id) {
			on++
		}
	}
	assert.InDelta(t, 250, on, 80)
}

func TestNewManager_SkipsMalformedPairs(t *testing.T) {
	m := NewManager(" bad ,stories=on, polls = 20% ,=on,oauth=,stories=off ")

	assert.Equal(t, map[string]string{"stories": "off", "polls": "20%"}, m.Raw())
	assert.Equal(t, []string{"polls", "stories"}, m.Names())
	assert.Len(t, m.Snapshot(123), 2)
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled(Stories, 1))
	assert.Empty(t, m.Raw())
	assert.Empty(t, m.Snapshot(1))
}
