package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockService_BlockAndUnblock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")

	block, err := e.blocks.Block(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, block.BlockedID)

	_, err = e.blocks.Block(ctx, alice.ID, bob.ID)
	assertField(t, "user_id", err)

	blocked, err := e.blocks.IsBlocked(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, blocked)

	list, err := e.blocks.ListBlocked(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Blocked)
	assert.Equal(t, "bob", list[0].Blocked.Username)
	assert.Empty(t, list[0].Blocked.Email)

	require.NoError(t, e.blocks.Unblock(ctx, alice.ID, bob.ID))
	assertStatus(t, http.StatusNotFound, e.blocks.Unblock(ctx, alice.ID, bob.ID))

	blocked, err = e.blocks.IsBlocked(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlockService_Rejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")

	_, err := e.blocks.Block(ctx, alice.ID, alice.ID)
	assertField(t, "user_id", err)

	_, err = e.blocks.Block(ctx, alice.ID, 31337)
	assertStatus(t, http.StatusNotFound, err)
}
