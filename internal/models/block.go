package models

import "time"

// Block prevents the blocked user from contacting the blocker.
type Block struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BlockerID uint      `gorm:"not null;uniqueIndex:idx_blocks_pair" json:"blocker_id"`
	BlockedID uint      `gorm:"not null;uniqueIndex:idx_blocks_pair;index" json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`

	Blocked *User `gorm:"foreignKey:BlockedID;constraint:OnDelete:CASCADE" json:"blocked,omitempty"`
	Blocker *User `gorm:"foreignKey:BlockerID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM.
func (Block) TableName() string {
	return "blocks"
}

// FavoriteGif is a GIF a user saved for quick reuse.
type FavoriteGif struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_gifs_user_url" json:"user_id"`
	URL        string    `gorm:"size:1024;not null;uniqueIndex:idx_gifs_user_url" json:"url"`
	PreviewURL string    `gorm:"size:1024" json:"preview_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM.
func (FavoriteGif) TableName() string {
	return "favorite_gifs"
}
