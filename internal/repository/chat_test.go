package repository

import (
	"context"
	"testing"
	"time"

	"chatterbox/internal/models"
	"chatterbox/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRepository_CreateAndGet(t *testing.T) {
	db := testutil.NewTestDB(t)
	owner := testutil.CreateUser(t, db, "owner")
	member := testutil.CreateUser(t, db, "member")
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat := &models.Chat{Type: models.ChatTypeGroup, Name: "crew", CreatedBy: owner.ID}
	require.NoError(t, repo.Create(ctx, chat, []models.Member{
		{UserID: owner.ID, Role: models.RoleOwner},
		{UserID: member.ID, Role: models.RoleMember},
	}))
	require.NotZero(t, chat.ID)

	got, err := repo.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "crew", got.Name)
	assert.False(t, got.OnlyAdminsCanEditInfo)
	require.Len(t, got.Members, 2)
	assert.Equal(t, "owner", got.Members[0].User.Username)

	_, err = repo.GetByID(ctx, 9999)
	assert.Error(t, err)
}

func TestChatRepository_FindIndividual(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateUser(t, db, "alpha")
	b := testutil.CreateUser(t, db, "beta")
	c := testutil.CreateUser(t, db, "gamma")
	chat := testutil.CreateIndividual(t, db, a, b)
	testutil.CreateGroup(t, db, "group", a, c)
	repo := NewChatRepository(db)

	found, err := repo.FindIndividual(context.Background(), b.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, chat.ID, found.ID)

	none, err := repo.FindIndividual(context.Background(), a.ID, c.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestChatRepository_ListForUser(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateUser(t, db, "alpha")
	b := testutil.CreateUser(t, db, "beta")
	c := testutil.CreateUser(t, db, "gamma")
	older := testutil.CreateIndividual(t, db, a, b)
	newer := testutil.CreateGroup(t, db, "group", c, a)

	db.Model(&models.Chat{}).Where("id = ?", older.ID).Update("last_message_at", time.Now().Add(-time.Hour))
	db.Model(&models.Chat{}).Where("id = ?", newer.ID).Update("last_message_at", time.Now())

	testutil.CreateText(t, db, older.ID, b.ID, "hi")
	last := testutil.CreateText(t, db, older.ID, b.ID, "there")
	testutil.CreateText(t, db, older.ID, a.ID, "mine")
	testutil.CreateText(t, db, newer.ID, c.ID, "welcome")

	chats, err := NewChatRepository(db).ListForUser(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, newer.ID, chats[0].ID)
	assert.Equal(t, int64(1), chats[0].UnreadCount)
	assert.Equal(t, older.ID, chats[1].ID)
	assert.Equal(t, int64(2), chats[1].UnreadCount)
	require.NotNil(t, chats[1].LastMessage)
	assert.NotEqual(t, last.ID, chats[1].LastMessage.ID)
	assert.Equal(t, "mine", chats[1].LastMessage.Content)
}

func TestChatRepository_PartnerIDs(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateUser(t, db, "alpha")
	b := testutil.CreateUser(t, db, "beta")
	c := testutil.CreateUser(t, db, "gamma")
	testutil.CreateUser(t, db, "delta")
	testutil.CreateIndividual(t, db, a, b)
	testutil.CreateGroup(t, db, "group", a, b, c)

	ids, err := NewChatRepository(db).PartnerIDs(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID, c.ID}, ids)
}

func TestChatRepository_ImageKey(t *testing.T) {
	db := testutil.NewTestDB(t)
	owner := testutil.CreateUser(t, db, "owner")
	chat := testutil.CreateGroup(t, db, "crew", owner)
	repo := NewChatRepository(db)
	ctx := context.Background()

	key, err := repo.ImageKey(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, repo.UpdateFields(ctx, chat.ID, map[string]interface{}{"image_key": "image/k.webp"}))
	key, err = repo.ImageKey(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "image/k.webp", key)
}
