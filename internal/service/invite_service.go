package service

import (
	"context"
	"time"

	"chatterbox/internal/cache"
	"chatterbox/internal/models"
	"chatterbox/internal/repository"

	"github.com/google/uuid"
)

// InviteService manages shareable join codes for groups.
type InviteService struct {
	invites  repository.InviteRepository
	chats    repository.ChatRepository
	members  repository.MemberRepository
	chatSvc  *ChatService
	messages *MessageService
	pub      Publisher
	now      func() time.Time
}

// CreateInviteInput is the body of POST /api/chats/:id/invites.
type CreateInviteInput struct {
	ExpiresAt  *time.Time `json:"expires_at"`
	CanUseLink *bool      `json:"can_use_link"`
}

// SendInviteInput is the body of POST /api/invites/:id/send.
type SendInviteInput struct {
	UserID  uint   `json:"user_id" validate:"required"`
	Content string `json:"content"`
}

// NewInviteService returns a new InviteService.
func NewInviteService(
	invites repository.InviteRepository,
	chats repository.ChatRepository,
	members repository.MemberRepository,
	chatSvc *ChatService,
	messages *MessageService,
	pub Publisher,
) *InviteService {
	return &InviteService{
		invites:  invites,
		chats:    chats,
		members:  members,
		chatSvc:  chatSvc,
		messages: messages,
		pub:      publisherOrNoop(pub),
		now:      time.Now,
	}
}

// Create issues an invite for a group. Admins only.
func (s *InviteService) Create(ctx context.Context, userID, chatID uint, in CreateInviteInput) (*models.Invite, error) {
	if err := s.requireGroupAdmin(ctx, userID, chatID); err != nil {
		return nil, err
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, models.NewFieldError("expires_at", "expires_at must be in the future")
	}
	invite := &models.Invite{
		ChatID:     chatID,
		Code:       uuid.NewString(),
		CreatedBy:  userID,
		ExpiresAt:  in.ExpiresAt,
		CanUseLink: boolValue(in.CanUseLink, true),
	}
	if err := s.invites.Create(ctx, invite); err != nil {
		return nil, err
	}
	return invite, nil
}

// List returns a group's invites. Admins only.
func (s *InviteService) List(ctx context.Context, userID, chatID uint) ([]models.Invite, error) {
	if err := s.requireGroupAdmin(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.invites.ListByChat(ctx, chatID)
}

// Revoke deletes an invite. Admins of its group only.
func (s *InviteService) Revoke(ctx context.Context, userID, inviteID uint) error {
	invite, err := s.invites.GetByID(ctx, inviteID)
	if err != nil {
		return err
	}
	if err := s.requireGroupAdmin(ctx, userID, invite.ChatID); err != nil {
		return err
	}
	return s.invites.Delete(ctx, inviteID)
}

// Resolve previews the group behind a usable code.
func (s *InviteService) Resolve(ctx context.Context, code string) (*models.InvitePreview, error) {
	invite, err := s.usable(ctx, code)
	if err != nil {
		return nil, err
	}
	count, err := s.members.Count(ctx, invite.ChatID)
	if err != nil {
		return nil, err
	}
	preview := &models.InvitePreview{Code: invite.Code, ChatID: invite.ChatID, MemberCount: count}
	if invite.Chat != nil {
		preview.Name = invite.Chat.Name
		preview.Image = invite.Chat.Image
	}
	return preview, nil
}

// Join adds the caller to the invite's group. Joining twice is a no-op.
func (s *InviteService) Join(ctx context.Context, userID uint, code string) (*models.Chat, error) {
	invite, err := s.usable(ctx, code)
	if err != nil {
		return nil, err
	}
	existing, err := s.members.Get(ctx, invite.ChatID, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		added, err := s.members.Add(ctx, invite.ChatID, []uint{userID}, models.RoleMember)
		if err != nil {
			return nil, err
		}
		if len(added) > 0 {
			ids, err := s.members.UserIDs(ctx, invite.ChatID)
			if err != nil {
				return nil, err
			}
			evict(ctx, cache.NewInvalidation().Chat(invite.ChatID).ChatLists(ids...))
			publishChat(ctx, s.pub, invite.ChatID, TopicEvents, EventMemberAdded, map[string]interface{}{
				"chat_id": invite.ChatID, "user_id": userID, "invite_id": invite.ID,
			})
		}
	}
	return s.chatSvc.GetChat(ctx, userID, invite.ChatID)
}

// SendInvite delivers an invite as an INVITE message in the individual chat
// with the target user.
func (s *InviteService) SendInvite(ctx context.Context, userID, inviteID uint, in SendInviteInput) (*models.Message, error) {
	if in.UserID == 0 {
		return nil, models.NewFieldError("user_id", "user_id is required")
	}
	invite, err := s.invites.GetByID(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	if _, _, err := requireMember(ctx, s.chats, s.members, invite.ChatID, userID); err != nil {
		return nil, err
	}
	chat, _, err := s.chatSvc.CreateIndividual(ctx, userID, CreateIndividualInput{UserID: in.UserID})
	if err != nil {
		return nil, err
	}
	id := invite.ID
	return s.messages.Send(ctx, userID, chat.ID, MessageInput{
		Type:     models.MessageTypeInvite,
		Content:  in.Content,
		InviteID: &id,
	})
}

func (s *InviteService) usable(ctx context.Context, code string) (*models.Invite, error) {
	if code == "" {
		return nil, models.NewFieldError("code", "code is required")
	}
	invite, err := s.invites.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !invite.CanUseLink {
		return nil, models.NewFieldError("code", "Invite link is disabled")
	}
	if !invite.Usable(s.now()) {
		return nil, models.NewFieldError("code", "Invite has expired")
	}
	return invite, nil
}

func (s *InviteService) requireGroupAdmin(ctx context.Context, userID, chatID uint) error {
	chat, member, err := requireMember(ctx, s.chats, s.members, chatID, userID)
	if err != nil {
		return err
	}
	if err := requireGroup(chat); err != nil {
		return err
	}
	return requireAdmin(member)
}
