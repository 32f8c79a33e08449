package service

import (
	"context"
	"strings"

	"chatterbox/internal/cache"
	"chatterbox/internal/models"
	"chatterbox/internal/repository"
	"chatterbox/internal/validation"
)

// ChatService creates, lists, edits and deletes chats.
type ChatService struct {
	chats    repository.ChatRepository
	members  repository.MemberRepository
	users    repository.UserRepository
	blocks   repository.BlockRepository
	media    *MediaService
	presence *PresenceService
	pub      Publisher
}

// CreateIndividualInput is the body of POST /api/chats/individual.
type CreateIndividualInput struct {
	UserID uint `json:"user_id" validate:"required"`
}

// CreateGroupInput is the body of POST /api/chats/group.
type CreateGroupInput struct {
	Name                    string `json:"name" validate:"required,max=100"`
	Description             string `json:"description" validate:"max=500"`
	MemberIDs               []uint `json:"member_ids" validate:"max=256"`
	OnlyAdminsCanSend       *bool  `json:"only_admins_can_send"`
	OnlyAdminsCanEditInfo   *bool  `json:"only_admins_can_edit_info"`
	OnlyAdminsCanAddMembers *bool  `json:"only_admins_can_add_members"`
	OnlyAdminsCanPin        *bool  `json:"only_admins_can_pin"`
}

// UpdateGroupInput is the body of PUT /api/chats/:id. Nil fields are left
// unchanged.
type UpdateGroupInput struct {
	Name                    *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description             *string `json:"description" validate:"omitempty,max=500"`
	OnlyAdminsCanSend       *bool   `json:"only_admins_can_send"`
	OnlyAdminsCanEditInfo   *bool   `json:"only_admins_can_edit_info"`
	OnlyAdminsCanAddMembers *bool   `json:"only_admins_can_add_members"`
	OnlyAdminsCanPin        *bool   `json:"only_admins_can_pin"`
}

func (in UpdateGroupInput) changesFlags() bool {
	return in.OnlyAdminsCanSend != nil || in.OnlyAdminsCanEditInfo != nil ||
		in.OnlyAdminsCanAddMembers != nil || in.OnlyAdminsCanPin != nil
}

// NewChatService returns a new ChatService.
func NewChatService(
	chats repository.ChatRepository,
	members repository.MemberRepository,
	users repository.UserRepository,
	blocks repository.BlockRepository,
	media *MediaService,
	presence *PresenceService,
	pub Publisher,
) *ChatService {
	return &ChatService{
		chats:    chats,
		members:  members,
		users:    users,
		blocks:   blocks,
		media:    media,
		presence: presence,
		pub:      publisherOrNoop(pub),
	}
}

// CreateIndividual returns the chat between userID and the other user,
// creating it on first contact.
func (s *ChatService) CreateIndividual(ctx context.Context, userID uint, in CreateIndividualInput) (*models.Chat, bool, error) {
	if err := validation.Struct(in); err != nil {
		return nil, false, err
	}
	if in.UserID == userID {
		return nil, false, models.NewFieldError("user_id", "Cannot start a chat with yourself")
	}
	if _, err := s.users.GetByID(ctx, in.UserID); err != nil {
		return nil, false, err
	}
	blocked, err := s.blocks.Between(ctx, userID, in.UserID)
	if err != nil {
		return nil, false, err
	}
	if blocked {
		return nil, false, models.NewForbiddenError("You cannot chat with this user")
	}

	existing, err := s.chats.FindIndividual(ctx, userID, in.UserID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		chat, err := s.GetChat(ctx, userID, existing.ID)
		return chat, false, err
	}

	chat := &models.Chat{Type: models.ChatTypeIndividual, CreatedBy: userID}
	members := []models.Member{
		{UserID: userID, Role: models.RoleMember},
		{UserID: in.UserID, Role: models.RoleMember},
	}
	if err := s.chats.Create(ctx, chat, members); err != nil {
		return nil, false, err
	}
	evict(ctx, cache.NewInvalidation().ChatLists(userID, in.UserID))

	created, err := s.GetChat(ctx, userID, chat.ID)
	if err != nil {
		return nil, false, err
	}
	publishUsers(ctx, s.pub, []uint{in.UserID}, TopicEvents, EventChatCreated, s.view(created, in.UserID))
	return created, true, nil
}

// CreateGroup creates a group owned by userID. Users who blocked the creator
// are rejected.
func (s *ChatService) CreateGroup(ctx context.Context, userID uint, in CreateGroupInput) (*models.Chat, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	ids := uniqueIDs(in.MemberIDs, userID)
	if len(ids) > 0 {
		found, err := s.users.GetByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(found) != len(ids) {
			return nil, models.NewFieldError("member_ids", "Unknown user in member_ids")
		}
		blockers, err := s.blocks.BlockersOf(ctx, userID, ids)
		if err != nil {
			return nil, err
		}
		if len(blockers) > 0 {
			return nil, models.NewForbiddenError("Some users cannot be added to this group")
		}
	}

	chat := &models.Chat{
		Type:                    models.ChatTypeGroup,
		Name:                    validation.SanitizeText(in.Name),
		Description:             validation.SanitizeText(in.Description),
		CreatedBy:               userID,
		OnlyAdminsCanSend:       boolValue(in.OnlyAdminsCanSend, false),
		OnlyAdminsCanEditInfo:   boolValue(in.OnlyAdminsCanEditInfo, true),
		OnlyAdminsCanAddMembers: boolValue(in.OnlyAdminsCanAddMembers, false),
		OnlyAdminsCanPin:        boolValue(in.OnlyAdminsCanPin, false),
	}
	if chat.Name == "" {
		return nil, models.NewFieldError("name", "name is required")
	}
	members := make([]models.Member, 0, len(ids)+1)
	members = append(members, models.Member{UserID: userID, Role: models.RoleOwner})
	for _, id := range ids {
		members = append(members, models.Member{UserID: id, Role: models.RoleMember})
	}
	if err := s.chats.Create(ctx, chat, members); err != nil {
		return nil, err
	}
	evict(ctx, cache.NewInvalidation().ChatLists(append(ids, userID)...))

	created, err := s.GetChat(ctx, userID, chat.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		publishUsers(ctx, s.pub, []uint{id}, TopicEvents, EventChatCreated, s.view(created, id))
	}
	return created, nil
}

// GetChat returns the chat when userID is a member.
func (s *ChatService) GetChat(ctx context.Context, userID, chatID uint) (*models.Chat, error) {
	chat, _, err := requireMember(ctx, s.chats, s.members, chatID, userID)
	if err != nil {
		return nil, err
	}
	s.fillOnline(ctx, chat)
	return s.view(chat, userID), nil
}

// ListChats returns the user's chats by last activity.
func (s *ChatService) ListChats(ctx context.Context, userID uint) ([]models.Chat, error) {
	var chats []models.Chat
	err := cache.Aside(ctx, cache.UserChatsKey(userID), &chats, cache.UserChatsTTL, func() error {
		var err error
		chats, err = s.chats.ListForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Chat, 0, len(chats))
	for i := range chats {
		s.fillOnline(ctx, &chats[i])
		out = append(out, *s.view(&chats[i], userID))
	}
	return out, nil
}

// UpdateGroup edits group info. Plain members may edit name and description
// only when the group allows it, and never the permission flags.
func (s *ChatService) UpdateGroup(ctx context.Context, userID, chatID uint, in UpdateGroupInput) (*models.Chat, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	chat, member, err := requireMember(ctx, s.chats, s.members, chatID, userID)
	if err != nil {
		return nil, err
	}
	if err := requireGroup(chat); err != nil {
		return nil, err
	}
	if err := canEditInfo(chat, member); err != nil {
		return nil, err
	}
	if in.changesFlags() {
		if err := requireAdmin(member); err != nil {
			return nil, err
		}
	}

	fields := map[string]interface{}{}
	if in.Name != nil {
		name := validation.SanitizeText(*in.Name)
		if name == "" {
			return nil, models.NewFieldError("name", "name is required")
		}
		fields["name"] = name
	}
	if in.Description != nil {
		fields["description"] = validation.SanitizeText(*in.Description)
	}
	if in.OnlyAdminsCanSend != nil {
		fields["only_admins_can_send"] = *in.OnlyAdminsCanSend
	}
	if in.OnlyAdminsCanEditInfo != nil {
		fields["only_admins_can_edit_info"] = *in.OnlyAdminsCanEditInfo
	}
	if in.OnlyAdminsCanAddMembers != nil {
		fields["only_admins_can_add_members"] = *in.OnlyAdminsCanAddMembers
	}
	if in.OnlyAdminsCanPin != nil {
		fields["only_admins_can_pin"] = *in.OnlyAdminsCanPin
	}
	if len(fields) == 0 {
		return s.GetChat(ctx, userID, chatID)
	}
	if err := s.chats.UpdateFields(ctx, chatID, fields); err != nil {
		return nil, err
	}
	return s.afterUpdate(ctx, userID, chatID)
}

// UpdateGroupImage replaces the group picture under the same rule as
// editing info.
func (s *ChatService) UpdateGroupImage(ctx context.Context, userID, chatID uint, up Upload) (*models.Chat, error) {
	chat, member, err := requireMember(ctx, s.chats, s.members, chatID, userID)
	if err != nil {
		return nil, err
	}
	if err := requireGroup(chat); err != nil {
		return nil, err
	}
	if err := canEditInfo(chat, member); err != nil {
		return nil, err
	}
	oldKey, err := s.chats.ImageKey(ctx, chatID)
	if err != nil {
		return nil, err
	}
	att, _, err := s.media.Store(ctx, "image", up, KindImage)
	if err != nil {
		return nil, err
	}
	if err := s.chats.UpdateFields(ctx, chatID, map[string]interface{}{
		"image":     att.URL,
		"image_key": att.ObjectKey,
	}); err != nil {
		s.media.Remove(ctx, att.ObjectKey)
		return nil, err
	}
	s.media.Remove(ctx, oldKey)
	return s.afterUpdate(ctx, userID, chatID)
}

// DeleteChat removes a group (owner only) or an individual chat (either
// member). Messages and memberships cascade and unshared blobs are removed.
func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID uint) error {
	chat, member, err := requireMember(ctx, s.chats, s.members, chatID, userID)
	if err != nil {
		return err
	}
	if chat.IsGroup() {
		if err := requireOwner(member); err != nil {
			return err
		}
	}
	ids, err := s.members.UserIDs(ctx, chatID)
	if err != nil {
		return err
	}
	imageKey, err := s.chats.ImageKey(ctx, chatID)
	if err != nil {
		return err
	}
	orphaned, err := s.chats.Delete(ctx, chatID)
	if err != nil {
		return err
	}
	evict(ctx, cache.NewInvalidation().Chat(chatID).ChatLists(ids...))
	_ = s.media.RemoveAll(ctx, append(orphaned, imageKey))

	data := map[string]interface{}{"chat_id": chatID}
	publishChat(ctx, s.pub, chatID, TopicEvents, EventChatDeleted, data)
	publishUsers(ctx, s.pub, ids, TopicEvents, EventChatDeleted, data)
	return nil
}

// CanCall checks that a call signal from userID may reach calleeID: both
// share an individual chat and neither blocked the other.
func (s *ChatService) CanCall(ctx context.Context, userID, calleeID uint) error {
	if userID == calleeID {
		return models.NewFieldError("user_id", "Cannot call yourself")
	}
	chat, err := s.chats.FindIndividual(ctx, userID, calleeID)
	if err != nil {
		return err
	}
	if chat == nil {
		return models.NewForbiddenError("You do not share a chat with this user")
	}
	blocked, err := s.blocks.Between(ctx, userID, calleeID)
	if err != nil {
		return err
	}
	if blocked {
		return models.NewForbiddenError("You cannot call this user")
	}
	return nil
}

func (s *ChatService) afterUpdate(ctx context.Context, userID, chatID uint) (*models.Chat, error) {
	ids, err := s.members.UserIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	evict(ctx, cache.NewInvalidation().Chat(chatID).ChatLists(ids...))
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	publishChat(ctx, s.pub, chatID, TopicEvents, EventChatUpdated, s.view(chat, 0))
	return chat, nil
}

func (s *ChatService) fillOnline(ctx context.Context, chat *models.Chat) {
	if s.presence == nil || len(chat.Members) == 0 {
		return
	}
	ids := make([]uint, 0, len(chat.Members))
	for _, m := range chat.Members {
		ids = append(ids, m.UserID)
	}
	online := s.presence.OnlineAmong(ctx, ids)
	for i := range chat.Members {
		if chat.Members[i].User != nil {
			chat.Members[i].User.Online = online[chat.Members[i].UserID]
		}
	}
}

// view copies the chat with member profiles reduced to what viewerID may see.
func (s *ChatService) view(chat *models.Chat, viewerID uint) *models.Chat {
	return chatView(chat, viewerID)
}

func chatView(chat *models.Chat, viewerID uint) *models.Chat {
	out := *chat
	out.Members = make([]models.Member, len(chat.Members))
	for i, m := range chat.Members {
		if m.User != nil {
			u := m.User.PublicView(viewerID)
			m.User = &u
		}
		out.Members[i] = m
	}
	if chat.LastMessage != nil {
		last := messageView(*chat.LastMessage, viewerID)
		out.LastMessage = &last
	}
	return &out
}

func canEditInfo(chat *models.Chat, member *models.Member) error {
	if chat.OnlyAdminsCanEditInfo && !member.IsAdmin() {
		return models.NewForbiddenError("Only admins can edit this group")
	}
	return nil
}
