package service

import (
	"context"
	"net/http"
	"testing"

	"chatterbox/internal/models"
	"chatterbox/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendPoll(t *testing.T, e *env, userID, chatID uint, multiple bool, options ...string) *models.Message {
	t.Helper()
	msg, err := e.msgSvc.Send(context.Background(), userID, chatID, MessageInput{
		Type:            models.MessageTypePoll,
		Question:        "Where to?",
		Options:         options,
		MultipleAnswers: multiple,
	})
	require.NoError(t, err)
	require.NotNil(t, msg.Poll)
	return msg
}

func TestPoll_Create_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateGroup(t, e.db, "crew", alice, bob)

	tests := []struct {
		name  string
		input MessageInput
		field string
	}{
		{"missing question", MessageInput{Type: models.MessageTypePoll, Options: []string{"a", "b"}}, "question"},
		{"one option", MessageInput{Type: models.MessageTypePoll, Question: "q", Options: []string{"a"}}, "options"},
		{"duplicate options", MessageInput{Type: models.MessageTypePoll, Question: "q", Options: []string{"Beach", "beach"}}, "options"},
		{"blank option", MessageInput{Type: models.MessageTypePoll, Question: "q", Options: []string{"a", " "}}, "options"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.msgSvc.Send(ctx, alice.ID, chat.ID, tt.input)
			assertField(t, tt.field, err)
		})
	}
}

func TestPoll_SingleAnswer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateGroup(t, e.db, "crew", alice, bob)
	msg := sendPoll(t, e, alice.ID, chat.ID, false, "beach", "mountains", "city")
	opts := msg.Poll.Options
	require.Len(t, opts, 3)
	assert.Equal(t, "beach", opts[0].Text)

	poll, err := e.msgSvc.Vote(ctx, bob.ID, msg.ID, VoteInput{OptionIDs: []uint{opts[0].ID}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), poll.Options[0].VoteCount)

	poll, err = e.msgSvc.Vote(ctx, bob.ID, msg.ID, VoteInput{OptionIDs: []uint{opts[1].ID}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), poll.Options[0].VoteCount)
	assert.Equal(t, int64(1), poll.Options[1].VoteCount)
	assert.Equal(t, []uint{bob.ID}, poll.Options[1].Voters)

	_, err = e.msgSvc.Vote(ctx, bob.ID, msg.ID, VoteInput{OptionIDs: []uint{opts[0].ID, opts[1].ID}})
	assertField(t, "option_ids", err)

	_, err = e.msgSvc.Vote(ctx, bob.ID, msg.ID, VoteInput{OptionIDs: []uint{opts[0].ID, opts[0].ID}})
	assertField(t, "option_ids", err)

	assert.Len(t, e.pub.ofType(EventPollUpdated), 2)
}

func TestPoll_MultipleAnswersAndUnvote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateGroup(t, e.db, "crew", alice, bob)
	msg := sendPoll(t, e, alice.ID, chat.ID, true, "tea", "coffee")
	opts := msg.Poll.Options

	_, err := e.msgSvc.Vote(ctx, bob.ID, msg.ID, VoteInput{OptionIDs: []uint{opts[0].ID, opts[1].ID}})
	require.NoError(t, err)
	poll, err := e.msgSvc.Vote(ctx, alice.ID, msg.ID, VoteInput{OptionIDs: []uint{opts[1].ID}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), poll.Options[0].VoteCount)
	assert.Equal(t, int64(2), poll.Options[1].VoteCount)

	poll, err = e.msgSvc.Unvote(ctx, bob.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), poll.Options[0].VoteCount)
	assert.Equal(t, int64(1), poll.Options[1].VoteCount)

	results, err := e.msgSvc.Results(ctx, bob.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), results.Options[1].VoteCount)
}

func TestPoll_Guards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, stranger := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "stranger")
	chat := testutil.CreateGroup(t, e.db, "crew", alice, bob)
	msg := sendPoll(t, e, alice.ID, chat.ID, false, "yes", "no")
	plain := e.text(t, alice.ID, chat.ID, "not a poll")

	_, err := e.msgSvc.Vote(ctx, stranger.ID, msg.ID, VoteInput{OptionIDs: []uint{msg.Poll.Options[0].ID}})
	assertStatus(t, http.StatusForbidden, err)

	_, err = e.msgSvc.Vote(ctx, bob.ID, plain.ID, VoteInput{OptionIDs: []uint{1}})
	assertField(t, "type", err)

	_, err = e.msgSvc.Vote(ctx, bob.ID, msg.ID, VoteInput{})
	assertField(t, "option_ids", err)

	other := sendPoll(t, e, alice.ID, chat.ID, false, "red", "blue")
	_, err = e.msgSvc.Vote(ctx, bob.ID, msg.ID, VoteInput{OptionIDs: []uint{other.Poll.Options[0].ID}})
	assertField(t, "option_ids", err)
}
