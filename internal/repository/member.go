package repository

import (
	"context"
	"errors"
	"time"

	"chatterbox/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemberRepository defines persistence operations for chat membership.
type MemberRepository interface {
	Get(ctx context.Context, chatID, userID uint) (*models.Member, error)
	List(ctx context.Context, chatID uint) ([]models.Member, error)
	UserIDs(ctx context.Context, chatID uint) ([]uint, error)
	ChatIDs(ctx context.Context, userID uint) ([]uint, error)
	Count(ctx context.Context, chatID uint) (int64, error)
	Add(ctx context.Context, chatID uint, userIDs []uint, role models.MemberRole) ([]uint, error)
	Remove(ctx context.Context, chatID, userID uint) (*RemovalResult, error)
	SetRole(ctx context.Context, chatID, userID uint, role models.MemberRole) error
	TransferOwnership(ctx context.Context, chatID, fromID, toID uint) error
}

// RemovalResult reports what happened to a group when a member left.
type RemovalResult struct {
	Removed     bool
	NewOwnerID  uint
	ChatDeleted bool
}

type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository returns a new MemberRepository implementation.
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

// Get returns nil, nil when the user is not a member.
func (r *memberRepository) Get(ctx context.Context, chatID, userID uint) (*models.Member, error) {
	var m models.Member
	err := r.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &m, nil
}

func (r *memberRepository) List(ctx context.Context, chatID uint) ([]models.Member, error) {
	var members []models.Member
	if err := readDB(r.db).WithContext(ctx).
		Preload("User").
		Where("chat_id = ?", chatID).
		Order("joined_at ASC, id ASC").
		Find(&members).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return members, nil
}

func (r *memberRepository) UserIDs(ctx context.Context, chatID uint) ([]uint, error) {
	ids, err := memberUserIDs(r.db.WithContext(ctx), chatID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

// ChatIDs lists the chats the user belongs to.
func (r *memberRepository) ChatIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	if err := readDB(r.db).WithContext(ctx).Model(&models.Member{}).
		Where("user_id = ?", userID).Order("chat_id ASC").
		Pluck("chat_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *memberRepository) Count(ctx context.Context, chatID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Member{}).Where("chat_id = ?", chatID).Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

// Add inserts the users that are not members yet and returns their ids.
func (r *memberRepository) Add(ctx context.Context, chatID uint, userIDs []uint, role models.MemberRole) ([]uint, error) {
	var added []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		if err := tx.First(&chat, chatID).Error; err != nil {
			return lookupError(err, "Chat", chatID)
		}
		now := time.Now()
		for _, uid := range userIDs {
			ok, err := insertMember(tx, chatID, uid, role, now)
			if err != nil {
				return err
			}
			if ok {
				added = append(added, uid)
			}
		}
		if !chat.IsGroup() {
			var n int64
			if err := tx.Model(&models.Member{}).Where("chat_id = ?", chatID).Count(&n).Error; err != nil {
				return err
			}
			if n > models.IndividualChatSize {
				return models.NewFieldError("user_ids", "Individual chats have exactly two members")
			}
		}
		return nil
	})
	if err != nil {
		return nil, internal(err)
	}
	return added, nil
}

func (r *memberRepository) Remove(ctx context.Context, chatID, userID uint) (*RemovalResult, error) {
	var out *RemovalResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := removeMemberTx(tx, chatID, userID)
		out = res
		return err
	})
	if err != nil {
		return nil, internal(err)
	}
	return out, nil
}

func (r *memberRepository) SetRole(ctx context.Context, chatID, userID uint, role models.MemberRole) error {
	res := r.db.WithContext(ctx).Model(&models.Member{}).
		Where("chat_id = ? AND user_id = ? AND role <> ?", chatID, userID, models.RoleOwner).
		Update("role", role)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundFieldError(map[string]string{"user_id": "Member not found"})
	}
	return nil
}

// TransferOwnership demotes the current owner to ADMIN before promoting the
// new owner, so a chat never holds two owners.
func (r *memberRepository) TransferOwnership(ctx context.Context, chatID, fromID, toID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Member{}).
			Where("chat_id = ? AND user_id = ? AND role = ?", chatID, fromID, models.RoleOwner).
			Update("role", models.RoleAdmin)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewForbiddenError("Only the owner can transfer ownership")
		}
		res = tx.Model(&models.Member{}).
			Where("chat_id = ? AND user_id = ?", chatID, toID).
			Update("role", models.RoleOwner)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundFieldError(map[string]string{"user_id": "Member not found"})
		}
		return nil
	})
	return internal(err)
}

var successorOrder = "CASE WHEN role = '" + string(models.RoleAdmin) + "' THEN 0 ELSE 1 END, joined_at ASC, id ASC"

func insertMember(tx *gorm.DB, chatID, userID uint, role models.MemberRole, joined time.Time) (bool, error) {
	m := models.Member{ChatID: chatID, UserID: userID, Role: role, JoinedAt: joined}
	res := tx.Omit("User").
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "chat_id"}, {Name: "user_id"}}, DoNothing: true}).
		Create(&m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func memberUserIDs(db *gorm.DB, chatID uint) ([]uint, error) {
	var ids []uint
	err := db.Model(&models.Member{}).Where("chat_id = ?", chatID).Order("user_id ASC").Pluck("user_id", &ids).Error
	return ids, err
}

// removeMemberTx deletes the membership and, when the owner leaves, hands the
// group to the longest-standing admin, else the longest-standing member. A
// group left without members is deleted.
func removeMemberTx(tx *gorm.DB, chatID, userID uint) (*RemovalResult, error) {
	out := &RemovalResult{}

	var leaving models.Member
	err := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&leaving).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Delete(&leaving).Error; err != nil {
		return nil, err
	}
	out.Removed = true

	if !leaving.IsOwner() {
		return out, nil
	}

	var successor models.Member
	err = tx.Where("chat_id = ?", chatID).
		Order(successorOrder).
		First(&successor).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := tx.Delete(&models.Chat{}, chatID).Error; err != nil {
			return nil, err
		}
		out.ChatDeleted = true
		return out, nil
	case err != nil:
		return nil, err
	}

	if err := tx.Model(&successor).Update("role", models.RoleOwner).Error; err != nil {
		return nil, err
	}
	out.NewOwnerID = successor.UserID
	return out, nil
}
