package repository

import (
	"context"
	"strings"
	"time"

	"chatterbox/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository defines persistence operations for messages and the
// per-user state attached to them.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	List(ctx context.Context, chatID, before uint, limit int) ([]models.Message, error)
	Search(ctx context.Context, chatIDs []uint, query string, before uint, limit int) ([]models.Message, error)
	UpdateContent(ctx context.Context, id uint, content string) error
	SetPinned(ctx context.Context, id uint, pinned bool) error
	Delete(ctx context.Context, id uint) error
	UpsertReact(ctx context.Context, messageID, userID uint, emoji string) error
	DeleteReact(ctx context.Context, messageID, userID uint) (bool, error)
	InChat(ctx context.Context, chatID, messageID uint) (bool, error)
	MarkRead(ctx context.Context, chatID, userID, upTo uint) ([]uint, error)
	Star(ctx context.Context, messageID, userID uint) error
	Unstar(ctx context.Context, messageID, userID uint) (bool, error)
	ListStarred(ctx context.Context, userID, before uint, limit int) ([]models.StarredMessage, error)
	StarredAmong(ctx context.Context, userID uint, messageIDs []uint) (map[uint]bool, error)
	KeysInUse(ctx context.Context, keys []string) ([]string, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository returns a new MessageRepository implementation.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func withMessageRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("User").
		Preload("Attachments").
		Preload("Poll").
		Preload("Poll.Options", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Preload("Reacts").
		Preload("Mentions").
		Preload("ReplyTo").
		Preload("Story").
		Preload("Invite")
}

// Create persists the message with its attachments, poll and mentions and
// bumps the chat's activity timestamp in the same transaction.
func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(messageWriteOmits...).Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chat{}).Where("id = ?", msg.ChatID).
			UpdateColumn("last_message_at", msg.CreatedAt).Error
	})
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := withMessageRelations(r.db.WithContext(ctx)).First(&msg, id).Error; err != nil {
		return nil, lookupError(err, "Message", id)
	}
	return &msg, nil
}

// List returns up to limit messages of the chat older than before, newest
// first. before == 0 starts at the newest message.
func (r *messageRepository) List(ctx context.Context, chatID, before uint, limit int) ([]models.Message, error) {
	q := withMessageRelations(readDB(r.db).WithContext(ctx)).Where("chat_id = ?", chatID)
	if before > 0 {
		q = q.Where("id < ?", before)
	}
	var msgs []models.Message
	if err := q.Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

func (r *messageRepository) Search(ctx context.Context, chatIDs []uint, query string, before uint, limit int) ([]models.Message, error) {
	var msgs []models.Message
	if len(chatIDs) == 0 {
		return msgs, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	q := withMessageRelations(readDB(r.db).WithContext(ctx)).
		Where("chat_id IN ?", chatIDs).
		Where("LOWER(content) LIKE ? ESCAPE '\\'", pattern)
	if before > 0 {
		q = q.Where("id < ?", before)
	}
	if err := q.Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

func (r *messageRepository) UpdateContent(ctx context.Context, id uint, content string) error {
	res := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{"content": content, "edited": true})
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Message", id)
	}
	return nil
}

func (r *messageRepository) SetPinned(ctx context.Context, id uint, pinned bool) error {
	res := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Update("pinned", pinned)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Message", id)
	}
	return nil
}

func (r *messageRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Message{}, id)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Message", id)
	}
	return nil
}

// UpsertReact replaces the user's reaction on the message.
func (r *messageRepository) UpsertReact(ctx context.Context, messageID, userID uint, emoji string) error {
	react := models.React{MessageID: messageID, UserID: userID, Emoji: emoji}
	err := r.db.WithContext(ctx).Omit("User").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"emoji"}),
	}).Create(&react).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) DeleteReact(ctx context.Context, messageID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("message_id = ? AND user_id = ?", messageID, userID).Delete(&models.React{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// InChat reports whether messageID is a message of chatID.
func (r *messageRepository) InChat(ctx context.Context, chatID, messageID uint) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND chat_id = ?", messageID, chatID).
		Count(&n).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return n > 0, nil
}

// MarkRead records reads for every unread message from other senders up to
// and including upTo and advances the member's read pointer. It returns the
// ids that became read.
func (r *messageRepository) MarkRead(ctx context.Context, chatID, userID, upTo uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("chat_id = ? AND id <= ?", chatID, upTo).
			Where("(user_id IS NULL OR user_id <> ?)", userID).
			Where("NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = messages.id AND mr.user_id = ?)", userID).
			Order("id ASC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}

		if len(ids) > 0 {
			now := time.Now()
			reads := make([]models.MessageRead, len(ids))
			for i, id := range ids {
				reads[i] = models.MessageRead{MessageID: id, UserID: userID, ReadAt: now}
			}
			if err := tx.Omit("Message", "User").
				Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(reads, 200).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.Member{}).
			Where("chat_id = ? AND user_id = ? AND last_read_message_id < ?", chatID, userID, upTo).
			UpdateColumn("last_read_message_id", upTo).Error
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *messageRepository) Star(ctx context.Context, messageID, userID uint) error {
	star := models.StarredMessage{MessageID: messageID, UserID: userID}
	if err := r.db.WithContext(ctx).Omit("Message", "User").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&star).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) Unstar(ctx context.Context, messageID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("message_id = ? AND user_id = ?", messageID, userID).Delete(&models.StarredMessage{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *messageRepository) ListStarred(ctx context.Context, userID, before uint, limit int) ([]models.StarredMessage, error) {
	q := readDB(r.db).WithContext(ctx).
		Preload("Message").
		Preload("Message.User").
		Preload("Message.Attachments").
		Where("user_id = ?", userID)
	if before > 0 {
		q = q.Where("id < ?", before)
	}
	var stars []models.StarredMessage
	if err := q.Order("id DESC").Limit(limit).Find(&stars).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return stars, nil
}

func (r *messageRepository) StarredAmong(ctx context.Context, userID uint, messageIDs []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var ids []uint
	if err := readDB(r.db).WithContext(ctx).Model(&models.StarredMessage{}).
		Where("user_id = ? AND message_id IN ?", userID, messageIDs).
		Pluck("message_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// KeysInUse returns the object keys still referenced by an attachment.
// Forwarded copies share the blobs of the original.
func (r *messageRepository) KeysInUse(ctx context.Context, keys []string) ([]string, error) {
	var used []string
	if len(keys) == 0 {
		return used, nil
	}
	if err := r.db.WithContext(ctx).Model(&models.Attachment{}).
		Distinct("object_key").
		Where("object_key IN ?", keys).
		Pluck("object_key", &used).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return used, nil
}
