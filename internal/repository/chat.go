package repository

import (
	"context"
	"errors"
	"time"

	"chatterbox/internal/cache"
	"chatterbox/internal/models"

	"gorm.io/gorm"
)

// ChatRepository defines persistence operations for chats.
type ChatRepository interface {
	Create(ctx context.Context, chat *models.Chat, members []models.Member) error
	GetByID(ctx context.Context, id uint) (*models.Chat, error)
	FindIndividual(ctx context.Context, a, b uint) (*models.Chat, error)
	ListForUser(ctx context.Context, userID uint) ([]models.Chat, error)
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	Delete(ctx context.Context, id uint) ([]string, error)
	ImageKey(ctx context.Context, id uint) (string, error)
	PartnerIDs(ctx context.Context, userID uint) ([]uint, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository returns a new ChatRepository implementation.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// Create inserts the chat and its initial members atomically.
func (r *chatRepository) Create(ctx context.Context, chat *models.Chat, members []models.Member) error {
	if chat.LastMessageAt.IsZero() {
		chat.LastMessageAt = time.Now()
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(chat).Error; err != nil {
			return err
		}
		// boolean columns with a true default need an explicit write when false
		if !chat.OnlyAdminsCanEditInfo {
			if err := tx.Model(chat).UpdateColumn("only_admins_can_edit_info", false).Error; err != nil {
				return err
			}
		}
		for i := range members {
			members[i].ChatID = chat.ID
			if members[i].JoinedAt.IsZero() {
				members[i].JoinedAt = chat.LastMessageAt
			}
			if err := tx.Omit("User").Create(&members[i]).Error; err != nil {
				return err
			}
		}
		chat.Members = members
		return nil
	})
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *chatRepository) GetByID(ctx context.Context, id uint) (*models.Chat, error) {
	var chat models.Chat
	err := cache.Aside(ctx, cache.ChatKey(id), &chat, cache.ChatTTL, func() error {
		if err := readDB(r.db).WithContext(ctx).
			Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC, id ASC") }).
			Preload("Members.User").
			First(&chat, id).Error; err != nil {
			return lookupError(err, "Chat", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindIndividual returns the INDIVIDUAL chat between a and b, or nil, nil.
func (r *chatRepository) FindIndividual(ctx context.Context, a, b uint) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Model(&models.Chat{}).
		Select("chats.*").
		Joins("JOIN members m1 ON m1.chat_id = chats.id AND m1.user_id = ?", a).
		Joins("JOIN members m2 ON m2.chat_id = chats.id AND m2.user_id = ?", b).
		Where("chats.type = ?", models.ChatTypeIndividual).
		Order("chats.id ASC").
		First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &chat, nil
}

type unreadRow struct {
	ChatID uint
	Unread int64
}

// ListForUser returns the user's chats by last activity with the last
// message and the unread count filled in.
func (r *chatRepository) ListForUser(ctx context.Context, userID uint) ([]models.Chat, error) {
	db := readDB(r.db).WithContext(ctx)

	var chats []models.Chat
	if err := db.
		Select("chats.*").
		Joins("JOIN members ON members.chat_id = chats.id AND members.user_id = ?", userID).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC, id ASC") }).
		Preload("Members.User").
		Order("chats.last_message_at DESC, chats.id DESC").
		Find(&chats).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(chats) == 0 {
		return chats, nil
	}

	ids := make([]uint, len(chats))
	for i := range chats {
		ids[i] = chats[i].ID
	}

	var last []models.Message
	latest := db.Session(&gorm.Session{NewDB: true}).Model(&models.Message{}).
		Select("MAX(id)").Where("chat_id IN ?", ids).Group("chat_id")
	if err := db.Session(&gorm.Session{NewDB: true}).
		Preload("User").
		Where("id IN (?)", latest).
		Find(&last).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	var unread []unreadRow
	if err := db.Session(&gorm.Session{NewDB: true}).
		Table("messages").
		Select("messages.chat_id AS chat_id, COUNT(*) AS unread").
		Joins("JOIN members ON members.chat_id = messages.chat_id AND members.user_id = ?", userID).
		Where("messages.id > members.last_read_message_id").
		Where("(messages.user_id IS NULL OR messages.user_id <> ?)", userID).
		Group("messages.chat_id").
		Scan(&unread).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	lastByChat := make(map[uint]*models.Message, len(last))
	for i := range last {
		lastByChat[last[i].ChatID] = &last[i]
	}
	unreadByChat := make(map[uint]int64, len(unread))
	for _, row := range unread {
		unreadByChat[row.ChatID] = row.Unread
	}
	for i := range chats {
		chats[i].LastMessage = lastByChat[chats[i].ID]
		chats[i].UnreadCount = unreadByChat[chats[i].ID]
	}
	return chats, nil
}

func (r *chatRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Chat", id)
	}
	return nil
}

// Delete removes the chat with its messages and returns the attachment object
// keys nothing references afterwards.
func (r *chatRepository) Delete(ctx context.Context, id uint) ([]string, error) {
	var orphaned []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keys, err := chatAttachmentKeys(tx, []uint{id})
		if err != nil {
			return err
		}
		res := tx.Delete(&models.Chat{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Chat", id)
		}
		orphaned, err = unreferencedKeys(tx, keys)
		return err
	})
	if err != nil {
		return nil, internal(err)
	}
	return orphaned, nil
}

// PartnerIDs returns every other user sharing at least one chat with userID.
func (r *chatRepository) PartnerIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := readDB(r.db).WithContext(ctx).
		Table("members AS m2").
		Distinct("m2.user_id").
		Joins("JOIN members m1 ON m1.chat_id = m2.chat_id").
		Where("m1.user_id = ? AND m2.user_id <> ?", userID, userID).
		Order("m2.user_id ASC").
		Pluck("m2.user_id", &ids).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

// ImageKey reads the stored object key of the image, bypassing the cache
// which never holds it.
func (r *chatRepository) ImageKey(ctx context.Context, id uint) (string, error) {
	var keys []string
	if err := r.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", id).Pluck("image_key", &keys).Error; err != nil {
		return "", models.NewInternalError(err)
	}
	if len(keys) == 0 {
		return "", models.NewNotFoundError("Chat", id)
	}
	return keys[0], nil
}
