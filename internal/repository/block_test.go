package repository

import (
	"context"
	"net/http"
	"testing"
	"time"

	"chatterbox/internal/models"
	"chatterbox/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateUser(t, db, "alpha")
	b := testutil.CreateUser(t, db, "beta")
	c := testutil.CreateUser(t, db, "gamma")
	repo := NewBlockRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, a.ID, b.ID)
	require.NoError(t, err)
	_, err = repo.Create(ctx, a.ID, b.ID)
	assert.Equal(t, http.StatusBadRequest, models.StatusFor(err))

	between, err := repo.Between(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, between)
	blocks, err := repo.Blocks(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, blocks)

	blockers, err := repo.BlockersOf(ctx, b.ID, []uint{a.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID}, blockers)

	related, err := repo.BlockedAmong(ctx, b.ID, []uint{a.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID}, related)
	related, err = repo.BlockedAmong(ctx, a.ID, []uint{b.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID}, related)

	list, err := repo.List(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "beta", list[0].Blocked.Username)

	removed, err := repo.Delete(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestGifRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateUser(t, db, "alpha")
	repo := NewGifRepository(db)
	ctx := context.Background()

	gif := &models.FavoriteGif{UserID: a.ID, URL: "https://media.example/cat.gif"}
	require.NoError(t, repo.Create(ctx, gif))
	err := repo.Create(ctx, &models.FavoriteGif{UserID: a.ID, URL: "https://media.example/cat.gif"})
	assert.Equal(t, http.StatusBadRequest, models.StatusFor(err))

	removed, err := repo.Delete(ctx, 9999, gif.ID)
	require.NoError(t, err)
	assert.False(t, removed)
	removed, err = repo.Delete(ctx, a.ID, gif.ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestInviteRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	owner := testutil.CreateUser(t, db, "owner")
	chat := testutil.CreateGroup(t, db, "crew", owner)
	repo := NewInviteRepository(db)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour)
	inv := &models.Invite{ChatID: chat.ID, Code: "abc", CreatedBy: owner.ID, ExpiresAt: &exp, CanUseLink: false}
	require.NoError(t, repo.Create(ctx, inv))

	got, err := repo.GetByCode(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, got.CanUseLink)
	assert.Equal(t, "crew", got.Chat.Name)
	assert.False(t, got.Usable(time.Now()))

	_, err = repo.GetByCode(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, models.StatusFor(err))

	require.NoError(t, repo.Delete(ctx, inv.ID))
	list, err := repo.ListByChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
