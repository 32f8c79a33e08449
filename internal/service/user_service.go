package service

import (
	"context"

	"chatterbox/internal/cache"
	"chatterbox/internal/models"
	"chatterbox/internal/repository"
	"chatterbox/internal/validation"
)

// UserService manages profiles, avatars, search and account deletion.
type UserService struct {
	users    repository.UserRepository
	members  repository.MemberRepository
	blocks   repository.BlockRepository
	media    *MediaService
	presence *PresenceService
	pub      Publisher
}

// UpdateProfileInput is the body of PUT /api/users/me. Nil fields are left
// unchanged.
type UpdateProfileInput struct {
	Username         *string `json:"username" validate:"omitempty,username"`
	Bio              *string `json:"bio" validate:"omitempty,max=500"`
	Status           *string `json:"status" validate:"omitempty,max=140"`
	ShowOnlineStatus *bool   `json:"show_online_status"`
	ShowLastSeen     *bool   `json:"show_last_seen"`
	ShowReadReceipts *bool   `json:"show_read_receipts"`
}

// NewUserService returns a new UserService.
func NewUserService(
	users repository.UserRepository,
	members repository.MemberRepository,
	blocks repository.BlockRepository,
	media *MediaService,
	presence *PresenceService,
	pub Publisher,
) *UserService {
	return &UserService{
		users:    users,
		members:  members,
		blocks:   blocks,
		media:    media,
		presence: presence,
		pub:      publisherOrNoop(pub),
	}
}

// Me returns the caller's own profile.
func (s *UserService) Me(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.presence != nil {
		user.Online = s.presence.IsOnline(ctx, userID)
	}
	return user, nil
}

// GetProfile returns another user's profile as the viewer may see it.
// Presence is hidden across a block in either direction.
func (s *UserService) GetProfile(ctx context.Context, viewerID, userID uint) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.presence != nil {
		user.Online = s.presence.IsOnline(ctx, userID)
	}
	view := user.PublicView(viewerID)
	if viewerID != userID {
		blocked, err := s.blocks.Between(ctx, viewerID, userID)
		if err != nil {
			return nil, err
		}
		if blocked {
			view.Online = false
			view.LastSeenAt = nil
		}
	}
	return &view, nil
}

// UpdateProfile applies the non-nil fields. Bio and status are sanitized.
func (s *UserService) UpdateProfile(ctx context.Context, userID uint, in UpdateProfileInput) (*models.User, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if in.Username != nil {
		existing, err := s.users.GetByUsername(ctx, *in.Username)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != userID {
			return nil, models.NewFieldError("username", "Username is already taken")
		}
		fields["username"] = *in.Username
	}
	if in.Bio != nil {
		fields["bio"] = validation.SanitizeText(*in.Bio)
	}
	if in.Status != nil {
		fields["status"] = validation.SanitizeText(*in.Status)
	}
	if in.ShowOnlineStatus != nil {
		fields["show_online_status"] = *in.ShowOnlineStatus
	}
	if in.ShowLastSeen != nil {
		fields["show_last_seen"] = *in.ShowLastSeen
	}
	if in.ShowReadReceipts != nil {
		fields["show_read_receipts"] = *in.ShowReadReceipts
	}
	if len(fields) == 0 {
		return s.Me(ctx, userID)
	}

	if err := s.users.UpdateFields(ctx, userID, fields); err != nil {
		return nil, err
	}
	s.evictProfile(ctx, userID)
	return s.Me(ctx, userID)
}

// UpdateImage stores a new avatar and deletes the previous blob.
func (s *UserService) UpdateImage(ctx context.Context, userID uint, up Upload) (*models.User, error) {
	oldKey, err := s.users.ImageKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	att, _, err := s.media.Store(ctx, "image", up, KindImage)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateFields(ctx, userID, map[string]interface{}{
		"image":     att.URL,
		"image_key": att.ObjectKey,
	}); err != nil {
		s.media.Remove(ctx, att.ObjectKey)
		return nil, err
	}
	s.media.Remove(ctx, oldKey)
	s.evictProfile(ctx, userID)
	return s.Me(ctx, userID)
}

// Search finds users by username prefix, hiding users who blocked the viewer.
func (s *UserService) Search(ctx context.Context, viewerID uint, query string, limit int) ([]models.User, error) {
	if len(query) < 1 {
		return nil, models.NewFieldError("q", "q is required")
	}
	users, err := s.users.Search(ctx, viewerID, query, limit)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = users[i].PublicView(viewerID)
	}
	return users, nil
}

// DeleteAccount removes the user. Group ownership moves on and individual
// chats are deleted in the same transaction.
func (s *UserService) DeleteAccount(ctx context.Context, userID uint) error {
	imageKey, err := s.users.ImageKey(ctx, userID)
	if err != nil {
		return err
	}
	removal, err := s.users.DeleteAccount(ctx, userID)
	if err != nil {
		return err
	}

	inv := cache.NewInvalidation().User(userID).ChatLists(removal.AffectedUserIDs...)
	for _, id := range removal.GroupChats {
		inv.Chat(id)
	}
	for _, id := range removal.DeletedChats {
		inv.Chat(id)
	}
	evict(ctx, inv)

	_ = s.media.RemoveAll(ctx, append(removal.OrphanedKeys, imageKey))
	for _, id := range removal.GroupChats {
		publishChat(ctx, s.pub, id, TopicEvents, EventMemberRemoved, map[string]interface{}{"chat_id": id, "user_id": userID})
	}
	for _, id := range removal.DeletedChats {
		publishChat(ctx, s.pub, id, TopicEvents, EventChatDeleted, map[string]interface{}{"chat_id": id})
	}
	return nil
}

// evictProfile drops the user entry and every cached chat embedding the
// user, including the chat lists of everyone sharing those chats.
func (s *UserService) evictProfile(ctx context.Context, userID uint) {
	inv := cache.NewInvalidation().User(userID).ChatLists(userID)
	chatIDs, err := s.members.ChatIDs(ctx, userID)
	if err == nil {
		for _, id := range chatIDs {
			inv.Chat(id)
			if ids, err := s.members.UserIDs(ctx, id); err == nil {
				inv.ChatLists(ids...)
			}
		}
	}
	evict(ctx, inv)
}
