package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"chatterbox/internal/models"
	"chatterbox/internal/validation"

	"gorm.io/datatypes"
)

const (
	MaxTextLength       = 4000
	MaxMediaAttachments = 10
	MaxPollOptionLength = 200
)

// MessageInput is the body of POST /api/chats/:id/messages. Only the fields
// of the chosen type are read.
type MessageInput struct {
	Type            models.MessageType `json:"type"`
	Content         string             `json:"content"`
	ReplyToID       *uint              `json:"reply_to_id"`
	Metadata        json.RawMessage    `json:"metadata" swaggertype:"object"`
	Duration        int                `json:"duration"`
	CallType        models.CallType    `json:"call_type"`
	CallStatus      models.CallStatus  `json:"call_status"`
	CallDuration    int                `json:"call_duration"`
	Question        string             `json:"question"`
	Options         []string           `json:"options"`
	MultipleAnswers bool               `json:"multiple_answers"`
	StoryID         *uint              `json:"story_id"`
	InviteID        *uint              `json:"invite_id"`

	Uploads []Upload `json:"-"`
}

// messageBuild carries one Send through its type's creator.
type messageBuild struct {
	svc    *MessageService
	chat   *models.Chat
	userID uint
	in     *MessageInput
	msg    *models.Message
	stored []string
}

// messageCreator validates the type specific fields and fills the message.
type messageCreator func(ctx context.Context, b *messageBuild) error

var messageCreators = map[models.MessageType]messageCreator{
	models.MessageTypeText:   createText,
	models.MessageTypeMedia:  createMedia,
	models.MessageTypeAudio:  createAudio,
	models.MessageTypeFile:   createFile,
	models.MessageTypeCall:   createCall,
	models.MessageTypePoll:   createPoll,
	models.MessageTypeStory:  createStoryReply,
	models.MessageTypeInvite: createInviteMessage,
}

func creatorFor(t models.MessageType) (messageCreator, error) {
	c, ok := messageCreators[models.MessageType(strings.ToUpper(string(t)))]
	if !ok {
		return nil, models.NewFieldError("type", fmt.Sprintf("Unsupported message type %q", t))
	}
	return c, nil
}

func cleanContent(content string) (string, error) {
	content = validation.SanitizeText(content)
	if len(content) > MaxTextLength {
		return "", models.NewFieldError("content", fmt.Sprintf("content must be at most %d characters", MaxTextLength))
	}
	return content, nil
}

func createText(_ context.Context, b *messageBuild) error {
	content, err := cleanContent(b.in.Content)
	if err != nil {
		return err
	}
	if content == "" {
		return models.NewFieldError("content", "content is required")
	}
	b.msg.Content = content
	return nil
}

func createMedia(ctx context.Context, b *messageBuild) error {
	n := len(b.in.Uploads)
	if n == 0 {
		return models.NewFieldError("files", "At least one file is required")
	}
	if n > MaxMediaAttachments {
		return models.NewFieldError("files", fmt.Sprintf("At most %d files per message", MaxMediaAttachments))
	}
	return b.withCaption(b.storeAll(ctx, KindImage, KindVideo))
}

func createFile(ctx context.Context, b *messageBuild) error {
	if len(b.in.Uploads) != 1 {
		return models.NewFieldError("files", "Exactly one file is required")
	}
	return b.withCaption(b.storeAll(ctx, KindFile))
}

func createAudio(ctx context.Context, b *messageBuild) error {
	if len(b.in.Uploads) != 1 {
		return models.NewFieldError("files", "Exactly one audio file is required")
	}
	if b.in.Duration < 0 {
		return models.NewFieldError("duration", "duration must not be negative")
	}
	if err := b.storeAll(ctx, KindAudio); err != nil {
		return err
	}
	b.msg.Attachments[0].Duration = b.in.Duration
	return nil
}

func createCall(_ context.Context, b *messageBuild) error {
	switch b.in.CallType {
	case models.CallTypeAudio, models.CallTypeVideo:
	default:
		return models.NewFieldError("call_type", "call_type must be AUDIO or VIDEO")
	}
	switch b.in.CallStatus {
	case models.CallStatusStarted, models.CallStatusMissed, models.CallStatusEnded, models.CallStatusDeclined:
	default:
		return models.NewFieldError("call_status", "call_status must be STARTED, MISSED, ENDED or DECLINED")
	}
	if b.in.CallDuration < 0 {
		return models.NewFieldError("call_duration", "call_duration must not be negative")
	}
	b.msg.CallType = b.in.CallType
	b.msg.CallStatus = b.in.CallStatus
	b.msg.CallDuration = b.in.CallDuration
	return nil
}

func createPoll(_ context.Context, b *messageBuild) error {
	question := validation.SanitizeText(b.in.Question)
	if question == "" {
		return models.NewFieldError("question", "question is required")
	}
	if len(b.in.Options) < models.MinPollOptions || len(b.in.Options) > models.MaxPollOptions {
		return models.NewFieldError("options", fmt.Sprintf("A poll needs %d to %d options", models.MinPollOptions, models.MaxPollOptions))
	}
	poll := &models.Poll{Question: question, MultipleAnswers: b.in.MultipleAnswers}
	seen := make(map[string]struct{}, len(b.in.Options))
	for i, raw := range b.in.Options {
		text := validation.SanitizeText(raw)
		if text == "" || len(text) > MaxPollOptionLength {
			return models.NewFieldError("options", fmt.Sprintf("Options must be 1 to %d characters", MaxPollOptionLength))
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			return models.NewFieldError("options", "Options must be unique")
		}
		seen[key] = struct{}{}
		poll.Options = append(poll.Options, models.PollOption{Text: text, Position: i})
	}
	b.msg.Content = question
	b.msg.Poll = poll
	return nil
}

// createStoryReply answers a story inside the individual chat with its
// author.
func createStoryReply(ctx context.Context, b *messageBuild) error {
	if b.in.StoryID == nil {
		return models.NewFieldError("story_id", "story_id is required")
	}
	if b.chat.IsGroup() {
		return models.NewFieldError("chat_id", "Story replies go to individual chats")
	}
	content, err := cleanContent(b.in.Content)
	if err != nil {
		return err
	}
	if content == "" {
		return models.NewFieldError("content", "content is required")
	}
	story, err := b.svc.stories.GetByID(ctx, *b.in.StoryID)
	if err != nil {
		return err
	}
	if story.Expired(b.svc.now()) {
		return models.NewFieldError("story_id", "Story has expired")
	}
	if !chatHasMember(b.chat, story.UserID) {
		return models.NewFieldError("story_id", "Story author is not part of this chat")
	}
	excluded, err := b.svc.stories.IsExcluded(ctx, story.ID, b.userID)
	if err != nil {
		return err
	}
	if excluded {
		return models.NewForbiddenError("You cannot reply to this story")
	}
	b.msg.Content = content
	b.msg.StoryID = &story.ID
	return nil
}

// createInviteMessage shares a group invite inside an individual chat.
func createInviteMessage(ctx context.Context, b *messageBuild) error {
	if b.in.InviteID == nil {
		return models.NewFieldError("invite_id", "invite_id is required")
	}
	if b.chat.IsGroup() {
		return models.NewFieldError("chat_id", "Invites are sent to individual chats")
	}
	invite, err := b.svc.invites.GetByID(ctx, *b.in.InviteID)
	if err != nil {
		return err
	}
	if !invite.Usable(b.svc.now()) {
		return models.NewFieldError("invite_id", "Invite is expired or disabled")
	}
	member, err := b.svc.members.Get(ctx, invite.ChatID, b.userID)
	if err != nil {
		return err
	}
	if member == nil {
		return models.NewForbiddenError("You are not a member of the invited group")
	}
	content, err := cleanContent(b.in.Content)
	if err != nil {
		return err
	}
	b.msg.Content = content
	b.msg.InviteID = &invite.ID
	return nil
}

func (b *messageBuild) storeAll(ctx context.Context, allowed ...MediaKind) error {
	for _, up := range b.in.Uploads {
		att, _, err := b.svc.media.Store(ctx, "files", up, allowed...)
		if err != nil {
			return err
		}
		b.stored = append(b.stored, att.ObjectKey)
		b.msg.Attachments = append(b.msg.Attachments, *att)
	}
	return nil
}

func (b *messageBuild) withCaption(err error) error {
	if err != nil {
		return err
	}
	caption, err := cleanContent(b.in.Content)
	if err != nil {
		return err
	}
	b.msg.Content = caption
	return nil
}

func metadataJSON(raw json.RawMessage) (datatypes.JSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, models.NewFieldError("metadata", "metadata must be valid JSON")
	}
	return datatypes.JSON(raw), nil
}

var mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@([a-zA-Z0-9_-]{3,32})`)

// extractMentions resolves @username tokens against the chat's members.
func extractMentions(chat *models.Chat, senderID uint, content string) []models.Mention {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	byName := make(map[string]uint, len(chat.Members))
	for _, m := range chat.Members {
		if m.User != nil && m.UserID != senderID {
			byName[strings.ToLower(m.User.Username)] = m.UserID
		}
	}
	var out []models.Mention
	seen := map[uint]bool{}
	for _, match := range matches {
		id, ok := byName[strings.ToLower(match[1])]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, models.Mention{UserID: id})
	}
	return out
}

func mentionable(t models.MessageType) bool {
	return t == models.MessageTypeText || t == models.MessageTypeMedia || t == models.MessageTypeFile
}

func chatHasMember(chat *models.Chat, userID uint) bool {
	for _, m := range chat.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// otherMember returns the counterpart in an individual chat.
func otherMember(chat *models.Chat, userID uint) uint {
	for _, m := range chat.Members {
		if m.UserID != userID {
			return m.UserID
		}
	}
	return 0
}
