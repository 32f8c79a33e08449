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

func pngUpload(name string) Upload {
	return Upload{Filename: name, ContentType: "image/png", Content: testutil.PNGBytes(16, 12)}
}

func mp3Upload() Upload {
	content := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x0a"), make([]byte, 64)...)
	return Upload{Filename: "voice.mp3", ContentType: "audio/mpeg", Content: content}
}

func TestMessageService_SendText(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateGroup(t, e.db, "crew", alice, bob)

	msg, err := e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{
		Type:    "text",
		Content: "hey @bob and @alice and @nobody",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	require.Len(t, msg.Mentions, 1)
	assert.Equal(t, bob.ID, msg.Mentions[0].UserID)

	created := e.pub.ofType(EventMessageCreated)
	require.Len(t, created, 1)
	assert.Equal(t, chat.ID, created[0].ChatID)
	assert.Equal(t, TopicMessages, created[0].Topic)
}

func TestMessageService_Send_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, stranger := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "stranger")
	chat := testutil.CreateGroup(t, e.db, "crew", alice, bob)
	other := testutil.CreateIndividual(t, e.db, alice, stranger)
	foreign := testutil.CreateText(t, e.db, other.ID, stranger.ID, "elsewhere")

	_, err := e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: models.MessageTypeText, Content: "   "})
	assertField(t, "content", err)

	_, err = e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: "STICKER"})
	assertField(t, "type", err)

	_, err = e.msgSvc.Send(ctx, stranger.ID, chat.ID, MessageInput{Type: models.MessageTypeText, Content: "hi"})
	assertStatus(t, http.StatusForbidden, err)

	_, err = e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: models.MessageTypeText, Content: "re", ReplyToID: &foreign.ID})
	assertField(t, "reply_to_id", err)

	_, err = e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: models.MessageTypeText, Content: "x", Metadata: []byte("{broken")})
	assertField(t, "metadata", err)
}

func TestMessageService_Send_Reply(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)
	first := e.text(t, bob.ID, chat.ID, "question?")

	reply, err := e.msgSvc.Send(context.Background(), alice.ID, chat.ID, MessageInput{
		Type: models.MessageTypeText, Content: "answer", ReplyToID: &first.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, "question?", reply.ReplyTo.Content)
}

func TestMessageService_Send_OnlyAdminsCanSend(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, member := e.user(t, "owner"), e.user(t, "member")
	chat := testutil.CreateGroup(t, e.db, "news", owner, member)
	_, err := e.chatSvc.UpdateGroup(ctx, owner.ID, chat.ID, UpdateGroupInput{OnlyAdminsCanSend: boolPtr(true)})
	require.NoError(t, err)

	_, err = e.msgSvc.Send(ctx, member.ID, chat.ID, MessageInput{Type: models.MessageTypeText, Content: "hi"})
	assertStatus(t, http.StatusForbidden, err)
	e.text(t, owner.ID, chat.ID, "announcement")
}

func TestMessageService_Send_BlockedIndividual(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)
	_, err := e.blocks.Block(ctx, bob.ID, alice.ID)
	require.NoError(t, err)

	_, err = e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: models.MessageTypeText, Content: "hi"})
	assertStatus(t, http.StatusForbidden, err)
	_, err = e.msgSvc.Send(ctx, bob.ID, chat.ID, MessageInput{Type: models.MessageTypeText, Content: "hi"})
	assertStatus(t, http.StatusForbidden, err)
}

func TestMessageService_SendMedia(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)

	msg, err := e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{
		Type:    models.MessageTypeMedia,
		Content: "holiday",
		Uploads: []Upload{pngUpload("a.png"), pngUpload("b.png")},
	})
	require.NoError(t, err)
	assert.Equal(t, "holiday", msg.Content)
	require.Len(t, msg.Attachments, 2)
	for _, a := range msg.Attachments {
		assert.Equal(t, "image/webp", a.ContentType)
		assert.Equal(t, 16, a.Width)
	}
	assert.Equal(t, 2, e.store.Len())

	_, err = e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: models.MessageTypeMedia})
	assertField(t, "files", err)

	_, err = e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: models.MessageTypeMedia, Uploads: []Upload{mp3Upload()}})
	assertField(t, "files", err)
	assert.Equal(t, 2, e.store.Len())
}

func TestMessageService_SendFileAndAudio(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)

	doc := Upload{Filename: "../notes.txt", ContentType: "text/plain", Content: []byte("plain notes")}
	msg, err := e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: models.MessageTypeFile, Uploads: []Upload{doc}})
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "notes.txt", msg.Attachments[0].Name)

	_, err = e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: models.MessageTypeFile, Uploads: []Upload{doc, doc}})
	assertField(t, "files", err)

	voice, err := e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{
		Type: models.MessageTypeAudio, Duration: 12, Uploads: []Upload{mp3Upload()},
	})
	require.NoError(t, err)
	require.Len(t, voice.Attachments, 1)
	assert.Equal(t, 12, voice.Attachments[0].Duration)
	assert.Equal(t, "audio/mpeg", voice.Attachments[0].ContentType)
}

func TestMessageService_SendCall(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)

	msg, err := e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{
		Type: models.MessageTypeCall, CallType: models.CallTypeVideo, CallStatus: models.CallStatusMissed,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusMissed, msg.CallStatus)

	_, err = e.msgSvc.Send(ctx, alice.ID, chat.ID, MessageInput{Type: models.MessageTypeCall, CallType: "FAX", CallStatus: models.CallStatusEnded})
	assertField(t, "call_type", err)

	_, err = e.msgSvc.Forward(ctx, alice.ID, msg.ID, ForwardInput{ChatIDs: []uint{chat.ID}})
	assertField(t, "type", err)
}

func TestMessageService_List_Paginates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)
	var ids []uint
	for _, c := range []string{"one", "two", "three", "four", "five"} {
		ids = append(ids, e.text(t, alice.ID, chat.ID, c).ID)
	}

	page, err := e.msgSvc.List(ctx, bob.ID, chat.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, ids[4], page.Messages[0].ID)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, ids[3], *page.NextCursor)
	assert.Empty(t, page.Messages[0].User.Email)

	page, err = e.msgSvc.List(ctx, bob.ID, chat.ID, *page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint{ids[2], ids[1]}, []uint{page.Messages[0].ID, page.Messages[1].ID})

	page, err = e.msgSvc.List(ctx, bob.ID, chat.ID, *page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Nil(t, page.NextCursor)

	e.text(t, bob.ID, chat.ID, "six")
	page, err = e.msgSvc.List(ctx, alice.ID, chat.ID, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, "six", page.Messages[0].Content)
}

func TestMessageService_EditAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, admin, member := e.user(t, "owner"), e.user(t, "admin"), e.user(t, "member")
	chat := testutil.CreateGroup(t, e.db, "crew", owner, admin, member)
	testutil.SetRole(t, e.db, chat.ID, admin.ID, models.RoleAdmin)
	msg := e.text(t, member.ID, chat.ID, "typo")

	_, err := e.msgSvc.Edit(ctx, admin.ID, msg.ID, EditInput{Content: "fixed"})
	assertStatus(t, http.StatusForbidden, err)

	edited, err := e.msgSvc.Edit(ctx, member.ID, msg.ID, EditInput{Content: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	assert.True(t, edited.Edited)
	assert.Len(t, e.pub.ofType(EventMessageUpdated), 1)

	adminMsg := e.text(t, admin.ID, chat.ID, "rules")
	assertStatus(t, http.StatusForbidden, e.msgSvc.Delete(ctx, member.ID, adminMsg.ID))

	require.NoError(t, e.msgSvc.Delete(ctx, admin.ID, msg.ID))
	_, err = e.msgSvc.Get(ctx, owner.ID, msg.ID)
	assertStatus(t, http.StatusNotFound, err)
	assert.Len(t, e.pub.ofType(EventMessageDeleted), 1)
}

func TestMessageService_Edit_OnlyText(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)
	msg, err := e.msgSvc.Send(context.Background(), alice.ID, chat.ID, MessageInput{
		Type: models.MessageTypeCall, CallType: models.CallTypeAudio, CallStatus: models.CallStatusEnded, CallDuration: 30,
	})
	require.NoError(t, err)

	_, err = e.msgSvc.Edit(context.Background(), alice.ID, msg.ID, EditInput{Content: "x"})
	assertField(t, "type", err)
}

func TestMessageService_SetPinned(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, member := e.user(t, "owner"), e.user(t, "member")
	chat := testutil.CreateGroup(t, e.db, "crew", owner, member)
	msg := e.text(t, member.ID, chat.ID, "pin me")

	pinned, err := e.msgSvc.SetPinned(ctx, member.ID, msg.ID, true)
	require.NoError(t, err)
	assert.True(t, pinned.Pinned)

	_, err = e.chatSvc.UpdateGroup(ctx, owner.ID, chat.ID, UpdateGroupInput{OnlyAdminsCanPin: boolPtr(true)})
	require.NoError(t, err)
	_, err = e.msgSvc.SetPinned(ctx, member.ID, msg.ID, false)
	assertStatus(t, http.StatusForbidden, err)

	unpinned, err := e.msgSvc.SetPinned(ctx, owner.ID, msg.ID, false)
	require.NoError(t, err)
	assert.False(t, unpinned.Pinned)
	assert.Len(t, e.pub.ofType(EventMessagePinned), 2)
}

func TestMessageService_Forward_SharesBlobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	src := testutil.CreateIndividual(t, e.db, alice, bob)
	dst := testutil.CreateIndividual(t, e.db, alice, carol)

	original, err := e.msgSvc.Send(ctx, bob.ID, src.ID, MessageInput{Type: models.MessageTypeMedia, Uploads: []Upload{pngUpload("p.png")}})
	require.NoError(t, err)

	copies, err := e.msgSvc.Forward(ctx, alice.ID, original.ID, ForwardInput{ChatIDs: []uint{dst.ID, dst.ID}})
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.True(t, copies[0].Forwarded)
	assert.Equal(t, dst.ID, copies[0].ChatID)
	require.Len(t, copies[0].Attachments, 1)
	assert.Equal(t, original.Attachments[0].URL, copies[0].Attachments[0].URL)

	require.NoError(t, e.msgSvc.Delete(ctx, bob.ID, original.ID))
	assert.Equal(t, 1, e.store.Len())

	require.NoError(t, e.msgSvc.Delete(ctx, alice.ID, copies[0].ID))
	assert.Equal(t, 0, e.store.Len())
}

func TestMessageService_Forward_Poll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	group := testutil.CreateGroup(t, e.db, "crew", alice, bob)
	direct := testutil.CreateIndividual(t, e.db, alice, bob)

	poll, err := e.msgSvc.Send(ctx, alice.ID, group.ID, MessageInput{Type: models.MessageTypePoll, Question: "Lunch?", Options: []string{"pizza", "sushi"}})
	require.NoError(t, err)
	copies, err := e.msgSvc.Forward(ctx, bob.ID, poll.ID, ForwardInput{ChatIDs: []uint{direct.ID}})
	require.NoError(t, err)
	require.NotNil(t, copies[0].Poll)
	assert.NotEqual(t, poll.Poll.ID, copies[0].Poll.ID)
	assert.Len(t, copies[0].Poll.Options, 2)

	stranger := e.user(t, "stranger")
	_, err = e.msgSvc.Forward(ctx, stranger.ID, poll.ID, ForwardInput{ChatIDs: []uint{direct.ID}})
	assertStatus(t, http.StatusForbidden, err)
}

func TestMessageService_Forward_AllTargetsCheckedFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, carol, dave := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol"), e.user(t, "dave")
	src := testutil.CreateIndividual(t, e.db, alice, bob)
	dst := testutil.CreateIndividual(t, e.db, alice, carol)
	foreign := testutil.CreateIndividual(t, e.db, carol, dave)
	msg := e.text(t, bob.ID, src.ID, "pass it on")
	e.pub.reset()

	_, err := e.msgSvc.Forward(ctx, alice.ID, msg.ID, ForwardInput{ChatIDs: []uint{dst.ID, foreign.ID}})
	assertStatus(t, http.StatusForbidden, err)

	var copies int64
	require.NoError(t, e.db.Model(&models.Message{}).Where("chat_id = ?", dst.ID).Count(&copies).Error)
	assert.Zero(t, copies)
	assert.Empty(t, e.pub.ofType(EventMessageCreated))
}

func TestMessageService_Reacts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)
	msg := e.text(t, alice.ID, chat.ID, "react to me")

	require.NoError(t, e.msgSvc.React(ctx, bob.ID, msg.ID, ReactInput{Emoji: "👍"}))
	require.NoError(t, e.msgSvc.React(ctx, bob.ID, msg.ID, ReactInput{Emoji: "❤️"}))

	got, err := e.msgSvc.Get(ctx, alice.ID, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.Reacts, 1)
	assert.Equal(t, "❤️", got.Reacts[0].Emoji)

	assertField(t, "emoji", e.msgSvc.React(ctx, bob.ID, msg.ID, ReactInput{Emoji: " "}))

	require.NoError(t, e.msgSvc.Unreact(ctx, bob.ID, msg.ID))
	assertStatus(t, http.StatusNotFound, e.msgSvc.Unreact(ctx, bob.ID, msg.ID))
	assert.Len(t, e.pub.ofType(EventReactUpdated), 3)
}

func TestMessageService_MarkRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)
	m1 := e.text(t, alice.ID, chat.ID, "one")
	e.text(t, bob.ID, chat.ID, "mine")
	m3 := e.text(t, alice.ID, chat.ID, "three")

	receipt, err := e.msgSvc.MarkRead(ctx, bob.ID, chat.ID, m3.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{m1.ID, m3.ID}, receipt.MessageIDs)
	reads := e.pub.ofType(EventMessagesRead)
	require.Len(t, reads, 1)
	assert.Equal(t, TopicReads, reads[0].Topic)

	again, err := e.msgSvc.MarkRead(ctx, bob.ID, chat.ID, m3.ID)
	require.NoError(t, err)
	assert.Empty(t, again.MessageIDs)
	assert.Len(t, e.pub.ofType(EventMessagesRead), 1)

	_, err = e.msgSvc.MarkRead(ctx, bob.ID, chat.ID, 0)
	assertField(t, "message_id", err)
}

func TestMessageService_MarkRead_RejectsForeignMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)
	other := testutil.CreateIndividual(t, e.db, bob, carol)
	first := e.text(t, bob.ID, chat.ID, "hi")
	elsewhere := e.text(t, carol.ID, other.ID, "not here")

	_, err := e.msgSvc.MarkRead(ctx, alice.ID, chat.ID, 1_000_000)
	assertField(t, "message_id", err)
	_, err = e.msgSvc.MarkRead(ctx, alice.ID, chat.ID, elsewhere.ID)
	assertField(t, "message_id", err)

	var member models.Member
	require.NoError(t, e.db.Where("chat_id = ? AND user_id = ?", chat.ID, alice.ID).First(&member).Error)
	assert.Less(t, member.LastReadMessageID, first.ID)

	_, err = e.msgSvc.MarkRead(ctx, alice.ID, chat.ID, first.ID)
	require.NoError(t, err)
	require.NoError(t, e.db.Where("chat_id = ? AND user_id = ?", chat.ID, alice.ID).First(&member).Error)
	assert.Equal(t, first.ID, member.LastReadMessageID)
}

func TestMessageService_MarkRead_HiddenReceipts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)
	msg := e.text(t, alice.ID, chat.ID, "seen?")
	_, err := e.userSvc.UpdateProfile(ctx, bob.ID, UpdateProfileInput{ShowReadReceipts: boolPtr(false)})
	require.NoError(t, err)

	receipt, err := e.msgSvc.MarkRead(ctx, bob.ID, chat.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{msg.ID}, receipt.MessageIDs)
	assert.Empty(t, e.pub.ofType(EventMessagesRead))
}

func TestMessageService_Stars(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	chat := testutil.CreateIndividual(t, e.db, alice, bob)
	first := e.text(t, alice.ID, chat.ID, "keep")
	second := e.text(t, bob.ID, chat.ID, "also keep")

	require.NoError(t, e.msgSvc.Star(ctx, bob.ID, first.ID))
	require.NoError(t, e.msgSvc.Star(ctx, bob.ID, second.ID))
	require.NoError(t, e.msgSvc.Star(ctx, bob.ID, second.ID))

	page, err := e.msgSvc.List(ctx, bob.ID, chat.ID, 0, 10)
	require.NoError(t, err)
	for _, m := range page.Messages {
		assert.True(t, m.Starred)
	}
	page, err = e.msgSvc.List(ctx, alice.ID, chat.ID, 0, 10)
	require.NoError(t, err)
	assert.False(t, page.Messages[0].Starred)

	stars, err := e.msgSvc.ListStarred(ctx, bob.ID, 0, 1)
	require.NoError(t, err)
	require.Len(t, stars.Stars, 1)
	assert.Equal(t, second.ID, stars.Stars[0].MessageID)
	require.NotNil(t, stars.NextCursor)

	require.NoError(t, e.msgSvc.Unstar(ctx, bob.ID, first.ID))
	assertStatus(t, http.StatusNotFound, e.msgSvc.Unstar(ctx, bob.ID, first.ID))

	outsider := e.user(t, "outsider")
	assertStatus(t, http.StatusForbidden, e.msgSvc.Star(ctx, outsider.ID, first.ID))
}

func TestMessageService_Search(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	ab := testutil.CreateIndividual(t, e.db, alice, bob)
	ac := testutil.CreateIndividual(t, e.db, alice, carol)
	bc := testutil.CreateIndividual(t, e.db, bob, carol)
	e.text(t, alice.ID, ab.ID, "Meeting at noon")
	e.text(t, carol.ID, ac.ID, "the meeting moved")
	e.text(t, bob.ID, bc.ID, "secret meeting")
	e.text(t, bob.ID, ab.ID, "lunch")

	all, err := e.msgSvc.Search(ctx, alice.ID, 0, "MEETING", 0, 10)
	require.NoError(t, err)
	assert.Len(t, all.Messages, 2)

	one, err := e.msgSvc.Search(ctx, alice.ID, ab.ID, "meeting", 0, 10)
	require.NoError(t, err)
	require.Len(t, one.Messages, 1)
	assert.Equal(t, "Meeting at noon", one.Messages[0].Content)

	_, err = e.msgSvc.Search(ctx, alice.ID, bc.ID, "meeting", 0, 10)
	assertStatus(t, http.StatusForbidden, err)

	_, err = e.msgSvc.Search(ctx, alice.ID, 0, "  ", 0, 10)
	assertField(t, "q", err)
}
