package repository

import (
	"context"
	"net/http"
	"testing"

	"chatterbox/internal/models"
	"chatterbox/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createPoll(t *testing.T, repo MessageRepository, chatID, userID uint) *models.Message {
	t.Helper()
	uid := userID
	msg := &models.Message{
		ChatID: chatID,
		UserID: &uid,
		Type:   models.MessageTypePoll,
		Poll: &models.Poll{
			Question:        "Where?",
			MultipleAnswers: true,
			Options:         []models.PollOption{{Text: "Here", Position: 0}, {Text: "There", Position: 1}},
		},
	}
	require.NoError(t, repo.Create(context.Background(), msg))
	return msg
}

func TestPollRepository_ReplaceVotes(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateUser(t, db, "alpha")
	b := testutil.CreateUser(t, db, "beta")
	chat := testutil.CreateGroup(t, db, "crew", a, b)
	msg := createPoll(t, NewMessageRepository(db), chat.ID, a.ID)
	repo := NewPollRepository(db)
	ctx := context.Background()

	poll, err := repo.GetByMessageID(ctx, msg.ID)
	require.NoError(t, err)
	here, there := poll.Options[0].ID, poll.Options[1].ID

	require.NoError(t, repo.ReplaceVotes(ctx, poll.ID, a.ID, []uint{here, there}))
	require.NoError(t, repo.ReplaceVotes(ctx, poll.ID, b.ID, []uint{here}))
	require.NoError(t, repo.ReplaceVotes(ctx, poll.ID, a.ID, []uint{there}))

	poll, err = repo.GetByMessageID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), poll.Options[0].VoteCount)
	assert.Equal(t, []uint{b.ID}, poll.Options[0].Voters)
	assert.Equal(t, int64(1), poll.Options[1].VoteCount)

	n, err := repo.DeleteVotes(ctx, poll.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPollRepository_UnknownOption(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateUser(t, db, "alpha")
	chat := testutil.CreateGroup(t, db, "crew", a)
	msg := createPoll(t, NewMessageRepository(db), chat.ID, a.ID)
	repo := NewPollRepository(db)

	poll, err := repo.GetByMessageID(context.Background(), msg.ID)
	require.NoError(t, err)
	err = repo.ReplaceVotes(context.Background(), poll.ID, a.ID, []uint{9999})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, models.StatusFor(err))

	_, err = repo.GetByMessageID(context.Background(), 424242)
	assert.Equal(t, http.StatusNotFound, models.StatusFor(err))
}
