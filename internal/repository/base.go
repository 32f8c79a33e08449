package repository

import (
	"errors"

	"chatterbox/internal/database"
	"chatterbox/internal/models"

	"gorm.io/gorm"
)

// messageWriteOmits are associations that must never be upserted when a
// message row is written.
var messageWriteOmits = []string{"User", "Chat", "ReplyTo", "Story", "Invite", "Reacts"}

func readDB(primary *gorm.DB) *gorm.DB {
	if db := database.GetReadDB(); db != nil {
		return db
	}
	return primary
}

// lookupError maps a gorm lookup error onto the application error set.
func lookupError(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewInternalError(err)
}

func internal(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}

// chatAttachmentKeys lists the object keys attached to messages of the chats.
func chatAttachmentKeys(tx *gorm.DB, chatIDs []uint) ([]string, error) {
	var keys []string
	if len(chatIDs) == 0 {
		return keys, nil
	}
	err := tx.Model(&models.Attachment{}).
		Joins("JOIN messages ON messages.id = attachments.message_id").
		Where("messages.chat_id IN ?", chatIDs).
		Where("attachments.object_key <> ''").
		Distinct("attachments.object_key").
		Pluck("attachments.object_key", &keys).Error
	return keys, err
}

// unreferencedKeys keeps the keys no attachment row points at any more.
func unreferencedKeys(tx *gorm.DB, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var used []string
	if err := tx.Model(&models.Attachment{}).
		Where("object_key IN ?", keys).
		Distinct("object_key").
		Pluck("object_key", &used).Error; err != nil {
		return nil, err
	}
	inUse := make(map[string]struct{}, len(used))
	for _, k := range used {
		inUse[k] = struct{}{}
	}
	var free []string
	for _, k := range keys {
		if _, ok := inUse[k]; !ok {
			free = append(free, k)
		}
	}
	return free, nil
}
