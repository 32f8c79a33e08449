package service

import (
	"context"

	"chatterbox/internal/cache"
	"chatterbox/internal/models"
	"chatterbox/internal/repository"
	"chatterbox/internal/validation"
)

// MemberService manages group membership and roles.
type MemberService struct {
	chats   repository.ChatRepository
	members repository.MemberRepository
	users   repository.UserRepository
	blocks  repository.BlockRepository
	pub     Publisher
}

// AddMembersInput is the body of POST /api/chats/:id/members.
type AddMembersInput struct {
	UserIDs []uint `json:"user_ids" validate:"required,min=1,max=256"`
}

// NewMemberService returns a new MemberService.
func NewMemberService(
	chats repository.ChatRepository,
	members repository.MemberRepository,
	users repository.UserRepository,
	blocks repository.BlockRepository,
	pub Publisher,
) *MemberService {
	return &MemberService{
		chats:   chats,
		members: members,
		users:   users,
		blocks:  blocks,
		pub:     publisherOrNoop(pub),
	}
}

// ListMembers returns the chat's members in join order.
func (s *MemberService) ListMembers(ctx context.Context, userID, chatID uint) ([]models.Member, error) {
	if _, _, err := requireMember(ctx, s.chats, s.members, chatID, userID); err != nil {
		return nil, err
	}
	members, err := s.members.List(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].User != nil {
			u := members[i].User.PublicView(userID)
			members[i].User = &u
		}
	}
	return members, nil
}

// AddMembers adds users as MEMBER and returns the ids that were not members
// yet.
func (s *MemberService) AddMembers(ctx context.Context, actorID, chatID uint, in AddMembersInput) ([]uint, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	chat, member, err := requireMember(ctx, s.chats, s.members, chatID, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireGroup(chat); err != nil {
		return nil, err
	}
	if chat.OnlyAdminsCanAddMembers {
		if err := requireAdmin(member); err != nil {
			return nil, err
		}
	}

	ids := uniqueIDs(in.UserIDs, actorID)
	if len(ids) == 0 {
		return []uint{}, nil
	}
	found, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(found) != len(ids) {
		return nil, models.NewFieldError("user_ids", "Unknown user in user_ids")
	}
	blockers, err := s.blocks.BlockersOf(ctx, actorID, ids)
	if err != nil {
		return nil, err
	}
	if len(blockers) > 0 {
		return nil, models.NewForbiddenError("Some users cannot be added to this group")
	}

	added, err := s.members.Add(ctx, chatID, ids, models.RoleMember)
	if err != nil {
		return nil, err
	}
	if added == nil {
		added = []uint{}
	}
	if len(added) == 0 {
		return added, nil
	}

	all, err := s.members.UserIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	evict(ctx, cache.NewInvalidation().Chat(chatID).ChatLists(all...))
	for _, id := range added {
		publishChat(ctx, s.pub, chatID, TopicEvents, EventMemberAdded, map[string]interface{}{
			"chat_id": chatID, "user_id": id, "added_by": actorID,
		})
	}
	publishUsers(ctx, s.pub, added, TopicEvents, EventChatCreated, map[string]interface{}{"chat_id": chatID})
	return added, nil
}

// RemoveMember kicks a user. Admins remove plain members; the owner removes
// anyone but themselves.
func (s *MemberService) RemoveMember(ctx context.Context, actorID, chatID, targetID uint) error {
	chat, actor, err := requireMember(ctx, s.chats, s.members, chatID, actorID)
	if err != nil {
		return err
	}
	if err := requireGroup(chat); err != nil {
		return err
	}
	if actorID == targetID {
		return models.NewFieldError("user_id", "Use leave to remove yourself")
	}
	if err := requireAdmin(actor); err != nil {
		return err
	}
	target, err := s.members.Get(ctx, chatID, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return models.NewNotFoundFieldError(map[string]string{"user_id": "Member not found"})
	}
	if target.IsOwner() {
		return models.NewForbiddenError("The owner cannot be removed")
	}
	if target.Role == models.RoleAdmin && !actor.IsOwner() {
		return models.NewForbiddenError("Only the owner can remove admins")
	}
	return s.remove(ctx, chatID, targetID, actorID)
}

// LeaveChat removes the caller from a group. An owner's departure hands the
// group to a successor in the same transaction.
func (s *MemberService) LeaveChat(ctx context.Context, userID, chatID uint) error {
	chat, _, err := requireMember(ctx, s.chats, s.members, chatID, userID)
	if err != nil {
		return err
	}
	if err := requireGroup(chat); err != nil {
		return err
	}
	return s.remove(ctx, chatID, userID, userID)
}

func (s *MemberService) remove(ctx context.Context, chatID, userID, actorID uint) error {
	before, err := s.members.UserIDs(ctx, chatID)
	if err != nil {
		return err
	}
	res, err := s.members.Remove(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !res.Removed {
		return models.NewNotFoundFieldError(map[string]string{"user_id": "Member not found"})
	}
	evict(ctx, cache.NewInvalidation().Chat(chatID).ChatLists(before...))

	if res.ChatDeleted {
		publishChat(ctx, s.pub, chatID, TopicEvents, EventChatDeleted, map[string]interface{}{"chat_id": chatID})
		return nil
	}
	publishChat(ctx, s.pub, chatID, TopicEvents, EventMemberRemoved, map[string]interface{}{
		"chat_id": chatID, "user_id": userID, "removed_by": actorID,
	})
	publishUsers(ctx, s.pub, []uint{userID}, TopicEvents, EventMemberRemoved, map[string]interface{}{
		"chat_id": chatID, "user_id": userID,
	})
	if res.NewOwnerID != 0 {
		publishChat(ctx, s.pub, chatID, TopicEvents, EventRoleChanged, map[string]interface{}{
			"chat_id": chatID, "user_id": res.NewOwnerID, "role": models.RoleOwner,
		})
	}
	return nil
}

// PromoteAdmin grants ADMIN. Owner only.
func (s *MemberService) PromoteAdmin(ctx context.Context, ownerID, chatID, targetID uint) error {
	return s.setRole(ctx, ownerID, chatID, targetID, models.RoleAdmin)
}

// DemoteAdmin returns an admin to MEMBER. Owner only.
func (s *MemberService) DemoteAdmin(ctx context.Context, ownerID, chatID, targetID uint) error {
	return s.setRole(ctx, ownerID, chatID, targetID, models.RoleMember)
}

func (s *MemberService) setRole(ctx context.Context, ownerID, chatID, targetID uint, role models.MemberRole) error {
	chat, owner, err := requireMember(ctx, s.chats, s.members, chatID, ownerID)
	if err != nil {
		return err
	}
	if err := requireGroup(chat); err != nil {
		return err
	}
	if err := requireOwner(owner); err != nil {
		return err
	}
	if ownerID == targetID {
		return models.NewFieldError("user_id", "The owner's role changes only through ownership transfer")
	}
	if err := s.members.SetRole(ctx, chatID, targetID, role); err != nil {
		return err
	}
	evict(ctx, cache.NewInvalidation().Chat(chatID))
	publishChat(ctx, s.pub, chatID, TopicEvents, EventRoleChanged, map[string]interface{}{
		"chat_id": chatID, "user_id": targetID, "role": role,
	})
	return nil
}

// TransferOwnership makes newOwnerID the owner; the previous owner becomes
// ADMIN.
func (s *MemberService) TransferOwnership(ctx context.Context, ownerID, chatID, newOwnerID uint) error {
	chat, owner, err := requireMember(ctx, s.chats, s.members, chatID, ownerID)
	if err != nil {
		return err
	}
	if err := requireGroup(chat); err != nil {
		return err
	}
	if err := requireOwner(owner); err != nil {
		return err
	}
	if ownerID == newOwnerID {
		return models.NewFieldError("user_id", "You already own this group")
	}
	if err := s.members.TransferOwnership(ctx, chatID, ownerID, newOwnerID); err != nil {
		return err
	}
	evict(ctx, cache.NewInvalidation().Chat(chatID))
	publishChat(ctx, s.pub, chatID, TopicEvents, EventRoleChanged, map[string]interface{}{
		"chat_id": chatID, "user_id": newOwnerID, "role": models.RoleOwner,
	})
	publishChat(ctx, s.pub, chatID, TopicEvents, EventRoleChanged, map[string]interface{}{
		"chat_id": chatID, "user_id": ownerID, "role": models.RoleAdmin,
	})
	return nil
}
