package database

import "chatterbox/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models,
// parents before children.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Chat{},
		&models.Member{},
		&models.Story{},
		&models.StoryExclusion{},
		&models.StoryView{},
		&models.Invite{},
		&models.Message{},
		&models.Attachment{},
		&models.React{},
		&models.MessageRead{},
		&models.StarredMessage{},
		&models.Mention{},
		&models.Poll{},
		&models.PollOption{},
		&models.Vote{},
		&models.Block{},
		&models.FavoriteGif{},
		&models.RefreshToken{},
	}
}
