package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"chatterbox/internal/cache"
	"chatterbox/internal/models"
	"chatterbox/internal/observability"
	"chatterbox/internal/repository"
	"chatterbox/internal/validation"
)

const (
	DefaultPageSize = 30
	MaxPageSize     = 100
	MaxEmojiLength  = 32
)

// MessageService sends, lists and mutates messages and the per-user state
// attached to them.
type MessageService struct {
	messages repository.MessageRepository
	chats    repository.ChatRepository
	members  repository.MemberRepository
	users    repository.UserRepository
	blocks   repository.BlockRepository
	polls    repository.PollRepository
	stories  repository.StoryRepository
	invites  repository.InviteRepository
	media    *MediaService
	pub      Publisher
	now      func() time.Time
}

// ForwardInput is the body of POST /api/messages/:id/forward.
type ForwardInput struct {
	ChatIDs []uint `json:"chat_ids" validate:"required,min=1,max=20"`
}

// ReactInput is the body of POST /api/messages/:id/reacts.
type ReactInput struct {
	Emoji string `json:"emoji" validate:"required"`
}

// EditInput is the body of PUT /api/messages/:id.
type EditInput struct {
	Content string `json:"content" validate:"required"`
}

// VoteInput is the body of POST /api/messages/:id/votes.
type VoteInput struct {
	OptionIDs []uint `json:"option_ids" validate:"required,min=1,max=12"`
}

// ReadReceipt is published on /topic/chat.{id}.reads.
type ReadReceipt struct {
	ChatID     uint   `json:"chat_id"`
	UserID     uint   `json:"user_id"`
	UpTo       uint   `json:"up_to"`
	MessageIDs []uint `json:"message_ids"`
}

// StarredPage is one cursor page of a user's starred messages.
type StarredPage struct {
	Stars      []models.StarredMessage `json:"stars"`
	NextCursor *uint                   `json:"next_cursor"`
}

// NewMessageService returns a new MessageService.
func NewMessageService(
	messages repository.MessageRepository,
	chats repository.ChatRepository,
	members repository.MemberRepository,
	users repository.UserRepository,
	blocks repository.BlockRepository,
	polls repository.PollRepository,
	stories repository.StoryRepository,
	invites repository.InviteRepository,
	media *MediaService,
	pub Publisher,
) *MessageService {
	return &MessageService{
		messages: messages,
		chats:    chats,
		members:  members,
		users:    users,
		blocks:   blocks,
		polls:    polls,
		stories:  stories,
		invites:  invites,
		media:    media,
		pub:      publisherOrNoop(pub),
		now:      time.Now,
	}
}

// Send validates and persists a message of any type, then fans it out.
func (s *MessageService) Send(ctx context.Context, userID, chatID uint, in MessageInput) (*models.Message, error) {
	span, ctx := observability.NewSpan(ctx, "MessageService.Send",
		observability.ChatAttr(chatID),
		observability.UserAttr(userID),
		observability.MessageTypeAttr(string(in.Type)),
	)
	defer span.End()

	msg, err := s.send(ctx, userID, chatID, in, false)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return msg, nil
}

func (s *MessageService) send(ctx context.Context, userID, chatID uint, in MessageInput, forwarded bool) (*models.Message, error) {
	chat, member, err := requireMember(ctx, s.chats, s.members, chatID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.canSend(ctx, chat, member, userID); err != nil {
		return nil, err
	}
	creator, err := creatorFor(in.Type)
	if err != nil {
		return nil, err
	}
	metadata, err := metadataJSON(in.Metadata)
	if err != nil {
		return nil, err
	}

	uid := userID
	msg := &models.Message{
		ChatID:    chatID,
		UserID:    &uid,
		Type:      models.MessageType(strings.ToUpper(string(in.Type))),
		Forwarded: forwarded,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}
	if in.ReplyToID != nil && *in.ReplyToID != 0 {
		target, err := s.messages.GetByID(ctx, *in.ReplyToID)
		if err != nil || target.ChatID != chatID {
			return nil, models.NewFieldError("reply_to_id", "Reply target must be a message of this chat")
		}
		msg.ReplyToID = &target.ID
	}

	b := &messageBuild{svc: s, chat: chat, userID: userID, in: &in, msg: msg}
	if err := creator(ctx, b); err != nil {
		s.media.Remove(ctx, b.stored...)
		return nil, err
	}
	if mentionable(msg.Type) {
		msg.Mentions = extractMentions(chat, userID, msg.Content)
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		s.media.Remove(ctx, b.stored...)
		return nil, err
	}
	observability.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	created, err := s.messages.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, chat, true)
	view := messageView(*created, 0)
	publishChat(ctx, s.pub, chatID, TopicMessages, EventMessageCreated, view)
	return created, nil
}

// canSend enforces only_admins_can_send and blocks in individual chats.
func (s *MessageService) canSend(ctx context.Context, chat *models.Chat, member *models.Member, userID uint) error {
	if chat.IsGroup() {
		if chat.OnlyAdminsCanSend && !member.IsAdmin() {
			return models.NewForbiddenError("Only admins can send messages in this group")
		}
		return nil
	}
	other := otherMember(chat, userID)
	if other == 0 {
		return nil
	}
	blocked, err := s.blocks.Between(ctx, userID, other)
	if err != nil {
		return err
	}
	if blocked {
		return models.NewForbiddenError("You cannot message this user")
	}
	return nil
}

// afterWrite evicts the chat's message pages and, when the chat's last
// message may have changed, every member's chat list.
func (s *MessageService) afterWrite(ctx context.Context, chat *models.Chat, lists bool) {
	inv := cache.NewInvalidation().Messages(chat.ID)
	if lists {
		ids := make([]uint, 0, len(chat.Members))
		for _, m := range chat.Members {
			ids = append(ids, m.UserID)
		}
		if len(ids) == 0 {
			ids, _ = s.members.UserIDs(ctx, chat.ID)
		}
		inv.ChatLists(ids...)
	}
	evict(ctx, inv)
}

// List returns one page of the chat's history, newest first. cursor is the
// last id already seen; 0 starts at the newest message.
func (s *MessageService) List(ctx context.Context, userID, chatID, cursor uint, limit int) (*models.MessagePage, error) {
	if _, _, err := requireMember(ctx, s.chats, s.members, chatID, userID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	var msgs []models.Message
	fetch := func() error {
		var err error
		msgs, err = s.messages.List(ctx, chatID, cursor, limit+1)
		return err
	}
	if cursor == 0 {
		if err := cache.Aside(ctx, cache.MessagesKey(chatID, limit), &msgs, cache.MessagesTTL, fetch); err != nil {
			return nil, err
		}
	} else if err := fetch(); err != nil {
		return nil, err
	}

	page := &models.MessagePage{Messages: []models.Message{}}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		next := msgs[limit-1].ID
		page.NextCursor = &next
	}
	if err := s.markStarred(ctx, userID, msgs); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		page.Messages = append(page.Messages, messageView(m, userID))
	}
	return page, nil
}

// Get returns one message to a member of its chat.
func (s *MessageService) Get(ctx context.Context, userID, messageID uint) (*models.Message, error) {
	msg, _, _, err := s.loadForMember(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	one := []models.Message{*msg}
	if err := s.markStarred(ctx, userID, one); err != nil {
		return nil, err
	}
	view := messageView(one[0], userID)
	return &view, nil
}

// Edit replaces the content of the caller's own TEXT message.
func (s *MessageService) Edit(ctx context.Context, userID, messageID uint, in EditInput) (*models.Message, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	msg, chat, _, err := s.loadForMember(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.SentBy(userID) {
		return nil, models.NewForbiddenError("Only the author can edit this message")
	}
	if msg.Type != models.MessageTypeText {
		return nil, models.NewFieldError("type", "Only text messages can be edited")
	}
	content, err := cleanContent(in.Content)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, models.NewFieldError("content", "content is required")
	}
	if err := s.messages.UpdateContent(ctx, messageID, content); err != nil {
		return nil, err
	}
	updated, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, chat, true)
	publishChat(ctx, s.pub, chat.ID, TopicMessages, EventMessageUpdated, messageView(*updated, 0))
	view := messageView(*updated, userID)
	return &view, nil
}

// Delete removes a message. Authors delete their own; group admins delete
// any.
func (s *MessageService) Delete(ctx context.Context, userID, messageID uint) error {
	msg, chat, member, err := s.loadForMember(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if !msg.SentBy(userID) && !(chat.IsGroup() && member.IsAdmin()) {
		return models.NewForbiddenError("You cannot delete this message")
	}
	keys := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		if a.ObjectKey != "" {
			keys = append(keys, a.ObjectKey)
		}
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return err
	}
	s.removeUnused(ctx, keys)
	s.afterWrite(ctx, chat, true)
	publishChat(ctx, s.pub, chat.ID, TopicMessages, EventMessageDeleted, map[string]interface{}{
		"chat_id": chat.ID, "message_id": messageID,
	})
	return nil
}

func (s *MessageService) removeUnused(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	used, err := s.messages.KeysInUse(ctx, keys)
	if err != nil {
		return
	}
	var free []string
	for _, k := range keys {
		if !containsString(used, k) {
			free = append(free, k)
		}
	}
	s.media.Remove(ctx, free...)
}

// SetPinned pins or unpins a message.
func (s *MessageService) SetPinned(ctx context.Context, userID, messageID uint, pinned bool) (*models.Message, error) {
	msg, chat, member, err := s.loadForMember(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if chat.IsGroup() && chat.OnlyAdminsCanPin {
		if err := requireAdmin(member); err != nil {
			return nil, err
		}
	}
	if msg.Pinned != pinned {
		if err := s.messages.SetPinned(ctx, messageID, pinned); err != nil {
			return nil, err
		}
		msg.Pinned = pinned
		s.afterWrite(ctx, chat, false)
		publishChat(ctx, s.pub, chat.ID, TopicMessages, EventMessagePinned, map[string]interface{}{
			"chat_id": chat.ID, "message_id": messageID, "pinned": pinned, "by": userID,
		})
	}
	view := messageView(*msg, userID)
	return &view, nil
}

// Forward copies a message into each target chat the caller can send to.
func (s *MessageService) Forward(ctx context.Context, userID, messageID uint, in ForwardInput) ([]models.Message, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	src, _, _, err := s.loadForMember(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if src.Type == models.MessageTypeCall {
		return nil, models.NewFieldError("type", "Call messages cannot be forwarded")
	}

	// Every target is checked before the first copy is written.
	targets := make([]*models.Chat, 0, len(in.ChatIDs))
	for _, chatID := range uniqueIDs(in.ChatIDs, 0) {
		chat, member, err := requireMember(ctx, s.chats, s.members, chatID, userID)
		if err != nil {
			return nil, err
		}
		if err := s.canSend(ctx, chat, member, userID); err != nil {
			return nil, err
		}
		targets = append(targets, chat)
	}

	out := make([]models.Message, 0, len(targets))
	for _, chat := range targets {
		msg, err := s.forwardTo(ctx, userID, chat, src)
		if err != nil {
			return nil, err
		}
		out = append(out, messageView(*msg, userID))
	}
	return out, nil
}

func (s *MessageService) forwardTo(ctx context.Context, userID uint, chat *models.Chat, src *models.Message) (*models.Message, error) {
	uid := userID
	msg := &models.Message{
		ChatID:    chat.ID,
		UserID:    &uid,
		Type:      src.Type,
		Content:   src.Content,
		Forwarded: true,
		Metadata:  src.Metadata,
		StoryID:   src.StoryID,
		InviteID:  src.InviteID,
		CreatedAt: s.now().UTC(),
	}
	for _, a := range src.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			URL:         a.URL,
			ObjectKey:   a.ObjectKey,
			ContentType: a.ContentType,
			Size:        a.Size,
			Name:        a.Name,
			Duration:    a.Duration,
			Width:       a.Width,
			Height:      a.Height,
		})
	}
	if src.Poll != nil {
		poll := &models.Poll{Question: src.Poll.Question, MultipleAnswers: src.Poll.MultipleAnswers}
		for _, o := range src.Poll.Options {
			poll.Options = append(poll.Options, models.PollOption{Text: o.Text, Position: o.Position})
		}
		msg.Poll = poll
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	observability.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	created, err := s.messages.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, chat, true)
	publishChat(ctx, s.pub, chat.ID, TopicMessages, EventMessageCreated, messageView(*created, 0))
	return created, nil
}

// React sets the caller's reaction, replacing any previous emoji.
func (s *MessageService) React(ctx context.Context, userID, messageID uint, in ReactInput) error {
	in.Emoji = strings.TrimSpace(in.Emoji)
	if err := validation.Struct(in); err != nil {
		return err
	}
	if utf8.RuneCountInString(in.Emoji) > MaxEmojiLength {
		return models.NewFieldError("emoji", "emoji is too long")
	}
	_, chat, _, err := s.loadForMember(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if err := s.messages.UpsertReact(ctx, messageID, userID, in.Emoji); err != nil {
		return err
	}
	s.afterWrite(ctx, chat, false)
	publishChat(ctx, s.pub, chat.ID, TopicMessages, EventReactUpdated, map[string]interface{}{
		"chat_id": chat.ID, "message_id": messageID, "user_id": userID, "emoji": in.Emoji,
	})
	return nil
}

// Unreact removes the caller's reaction.
func (s *MessageService) Unreact(ctx context.Context, userID, messageID uint) error {
	_, chat, _, err := s.loadForMember(ctx, userID, messageID)
	if err != nil {
		return err
	}
	removed, err := s.messages.DeleteReact(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotFoundFieldError(map[string]string{"emoji": "No reaction to remove"})
	}
	s.afterWrite(ctx, chat, false)
	publishChat(ctx, s.pub, chat.ID, TopicMessages, EventReactUpdated, map[string]interface{}{
		"chat_id": chat.ID, "message_id": messageID, "user_id": userID, "emoji": "",
	})
	return nil
}

// MarkRead records reads up to upTo. The receipt is published unless the
// reader hides read receipts.
func (s *MessageService) MarkRead(ctx context.Context, userID, chatID, upTo uint) (*ReadReceipt, error) {
	if upTo == 0 {
		return nil, models.NewFieldError("message_id", "message_id is required")
	}
	if _, _, err := requireMember(ctx, s.chats, s.members, chatID, userID); err != nil {
		return nil, err
	}
	ok, err := s.messages.InChat(ctx, chatID, upTo)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewFieldError("message_id", "message_id is not a message of this chat")
	}
	ids, err := s.messages.MarkRead(ctx, chatID, userID, upTo)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint{}
	}
	evict(ctx, cache.NewInvalidation().ChatLists(userID))

	receipt := &ReadReceipt{ChatID: chatID, UserID: userID, UpTo: upTo, MessageIDs: ids}
	if len(ids) == 0 {
		return receipt, nil
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.ShowReadReceipts {
		publishChat(ctx, s.pub, chatID, TopicReads, EventMessagesRead, receipt)
	}
	return receipt, nil
}

// Star bookmarks a message for the caller.
func (s *MessageService) Star(ctx context.Context, userID, messageID uint) error {
	if _, _, _, err := s.loadForMember(ctx, userID, messageID); err != nil {
		return err
	}
	return s.messages.Star(ctx, messageID, userID)
}

// Unstar removes the caller's bookmark.
func (s *MessageService) Unstar(ctx context.Context, userID, messageID uint) error {
	removed, err := s.messages.Unstar(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotFoundFieldError(map[string]string{"message_id": "Message is not starred"})
	}
	return nil
}

// ListStarred pages through the caller's bookmarks, newest first.
func (s *MessageService) ListStarred(ctx context.Context, userID, cursor uint, limit int) (*StarredPage, error) {
	limit = clampLimit(limit)
	stars, err := s.messages.ListStarred(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	page := &StarredPage{Stars: []models.StarredMessage{}}
	if len(stars) > limit {
		stars = stars[:limit]
		next := stars[limit-1].ID
		page.NextCursor = &next
	}
	for _, st := range stars {
		if st.Message != nil {
			m := messageView(*st.Message, userID)
			m.Starred = true
			st.Message = &m
		}
		page.Stars = append(page.Stars, st)
	}
	return page, nil
}

// Search matches message content within one chat, or every chat of the
// caller when chatID is 0.
func (s *MessageService) Search(ctx context.Context, userID, chatID uint, query string, cursor uint, limit int) (*models.MessagePage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewFieldError("q", "q is required")
	}
	var chatIDs []uint
	if chatID != 0 {
		if _, _, err := requireMember(ctx, s.chats, s.members, chatID, userID); err != nil {
			return nil, err
		}
		chatIDs = []uint{chatID}
	} else {
		ids, err := s.members.ChatIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		chatIDs = ids
	}

	limit = clampLimit(limit)
	msgs, err := s.messages.Search(ctx, chatIDs, query, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	page := &models.MessagePage{Messages: []models.Message{}}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		next := msgs[limit-1].ID
		page.NextCursor = &next
	}
	if err := s.markStarred(ctx, userID, msgs); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		page.Messages = append(page.Messages, messageView(m, userID))
	}
	return page, nil
}

func (s *MessageService) loadForMember(ctx context.Context, userID, messageID uint) (*models.Message, *models.Chat, *models.Member, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, nil, err
	}
	chat, member, err := requireMember(ctx, s.chats, s.members, msg.ChatID, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	return msg, chat, member, nil
}

func (s *MessageService) markStarred(ctx context.Context, userID uint, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]uint, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	starred, err := s.messages.StarredAmong(ctx, userID, ids)
	if err != nil {
		return err
	}
	for i := range msgs {
		msgs[i].Starred = starred[msgs[i].ID]
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// messageView strips the author's private fields for viewerID.
func messageView(m models.Message, viewerID uint) models.Message {
	if m.User != nil {
		u := m.User.PublicView(viewerID)
		m.User = &u
	}
	return m
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
