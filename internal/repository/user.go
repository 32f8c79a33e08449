// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatterbox/internal/cache"
	"chatterbox/internal/database"
	"chatterbox/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByProvider(ctx context.Context, provider models.AuthProvider, subject string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	SetLastSeen(ctx context.Context, id uint, at time.Time) error
	ImageKey(ctx context.Context, id uint) (string, error)
	Search(ctx context.Context, viewerID uint, prefix string, limit int) ([]models.User, error)
	DeleteAccount(ctx context.Context, id uint) (*AccountRemoval, error)
}

// AccountRemoval describes the chats touched by an account deletion.
type AccountRemoval struct {
	GroupChats      []uint
	DeletedChats    []uint
	AffectedUserIDs []uint
	// OrphanedKeys are blob keys of deleted attachments and stories.
	OrphanedKeys []string
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	key := cache.UserKey(id)

	err := cache.Aside(ctx, key, &user, cache.UserTTL, func() error {
		if err := readDB(r.db).WithContext(ctx).First(&user, id).Error; err != nil {
			return lookupError(err, "User", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := readDB(r.db).WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, "LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username)))
}

func (r *userRepository) GetByProvider(ctx context.Context, provider models.AuthProvider, subject string) (*models.User, error) {
	return r.findOne(ctx, "provider = ? AND provider_subject = ?", provider, subject)
}

// findOne returns nil, nil when no row matches.
func (r *userRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			if strings.Contains(strings.ToLower(err.Error()), "email") {
				return models.NewFieldError("email", "Email is already registered")
			}
			return models.NewFieldError("username", "Username is already taken")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *userRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		if database.IsUniqueViolation(res.Error) {
			return models.NewFieldError("username", "Username is already taken")
		}
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	_ = cache.Delete(ctx, cache.UserKey(id))
	return nil
}

func (r *userRepository) SetLastSeen(ctx context.Context, id uint, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		UpdateColumn("last_seen_at", at).Error; err != nil {
		return models.NewInternalError(err)
	}
	_ = cache.Delete(ctx, cache.UserKey(id))
	return nil
}

func (r *userRepository) Search(ctx context.Context, viewerID uint, prefix string, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	pattern := escapeLike(strings.ToLower(strings.TrimSpace(prefix))) + "%"

	var users []models.User
	err := readDB(r.db).WithContext(ctx).
		Where("LOWER(username) LIKE ? ESCAPE '\\'", pattern).
		Where("id <> ?", viewerID).
		Where("NOT EXISTS (SELECT 1 FROM blocks b WHERE b.blocker_id = users.id AND b.blocked_id = ?)", viewerID).
		Order("username ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

// DeleteAccount removes the user in one transaction. Group memberships go
// through owner transfer, individual chats are deleted, and authored messages
// keep a NULL author.
func (r *userRepository) DeleteAccount(ctx context.Context, id uint) (*AccountRemoval, error) {
	out := &AccountRemoval{}
	affected := map[uint]struct{}{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var memberships []models.Member
		if err := tx.Joins("JOIN chats ON chats.id = members.chat_id").
			Where("members.user_id = ?", id).
			Select("members.*").
			Find(&memberships).Error; err != nil {
			return err
		}
		chatIDs := make([]uint, len(memberships))
		for i, m := range memberships {
			chatIDs[i] = m.ChatID
		}
		candidates, err := chatAttachmentKeys(tx, chatIDs)
		if err != nil {
			return err
		}
		var storyKeys []string
		if err := tx.Model(&models.Story{}).
			Where("user_id = ? AND media_key <> ''", id).
			Pluck("media_key", &storyKeys).Error; err != nil {
			return err
		}

		for _, m := range memberships {
			var chat models.Chat
			if err := tx.First(&chat, m.ChatID).Error; err != nil {
				return err
			}
			others, err := memberUserIDs(tx, chat.ID)
			if err != nil {
				return err
			}
			for _, uid := range others {
				if uid != id {
					affected[uid] = struct{}{}
				}
			}

			if !chat.IsGroup() {
				if err := tx.Delete(&models.Chat{}, chat.ID).Error; err != nil {
					return err
				}
				out.DeletedChats = append(out.DeletedChats, chat.ID)
				continue
			}
			res, err := removeMemberTx(tx, chat.ID, id)
			if err != nil {
				return err
			}
			if res.ChatDeleted {
				out.DeletedChats = append(out.DeletedChats, chat.ID)
			} else {
				out.GroupChats = append(out.GroupChats, chat.ID)
			}
		}

		if err := tx.Model(&models.Message{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("User", id)
		}

		orphaned, err := unreferencedKeys(tx, candidates)
		if err != nil {
			return err
		}
		out.OrphanedKeys = append(orphaned, storyKeys...)
		return nil
	})
	if err != nil {
		return nil, internal(err)
	}

	for uid := range affected {
		out.AffectedUserIDs = append(out.AffectedUserIDs, uid)
	}
	_ = cache.Delete(ctx, cache.UserKey(id))
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ImageKey reads the stored object key of the image, bypassing the cache
// which never holds it.
func (r *userRepository) ImageKey(ctx context.Context, id uint) (string, error) {
	var keys []string
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Pluck("image_key", &keys).Error; err != nil {
		return "", models.NewInternalError(err)
	}
	if len(keys) == 0 {
		return "", models.NewNotFoundError("User", id)
	}
	return keys[0], nil
}
