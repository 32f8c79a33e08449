package models

import "time"

// StoryType distinguishes media stories from text stories.
type StoryType string

const (
	StoryTypeMedia StoryType = "MEDIA"
	StoryTypeText  StoryType = "TEXT"
)

// DefaultStoryTTL is how long a story stays visible.
const DefaultStoryTTL = 24 * time.Hour

// Story is an ephemeral post visible to the author's contacts until ExpiresAt.
type Story struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	Type            StoryType `gorm:"type:varchar(8);not null" json:"type"`
	Content         string    `gorm:"type:text" json:"content,omitempty"`
	BackgroundColor string    `gorm:"size:16" json:"background_color,omitempty"`
	Font            string    `gorm:"size:32" json:"font,omitempty"`
	MediaURL        string    `json:"media_url,omitempty"`
	MediaKey        string    `json:"-"`
	ContentType     string    `gorm:"size:127" json:"content_type,omitempty"`
	Caption         string    `gorm:"type:text" json:"caption,omitempty"`
	ExpiresAt       time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`

	User       *User            `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	Exclusions []StoryExclusion `gorm:"foreignKey:StoryID;constraint:OnDelete:CASCADE" json:"-"`
	Views      []StoryView      `gorm:"foreignKey:StoryID;constraint:OnDelete:CASCADE" json:"-"`

	ViewCount int64 `gorm:"-" json:"view_count"`
	Viewed    bool  `gorm:"-" json:"viewed"`
}

// TableName specifies the table name for GORM.
func (Story) TableName() string {
	return "stories"
}

// Expired reports whether the story is past its expiry at now.
func (s *Story) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// StoryExclusion hides a story from one user.
type StoryExclusion struct {
	StoryID uint `gorm:"primaryKey;autoIncrement:false" json:"story_id"`
	UserID  uint `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
}

// TableName specifies the table name for GORM.
func (StoryExclusion) TableName() string {
	return "story_exclusions"
}

// StoryView records the first time a viewer opened a story.
type StoryView struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	StoryID  uint      `gorm:"not null;uniqueIndex:idx_story_views_story_user" json:"story_id"`
	UserID   uint      `gorm:"not null;uniqueIndex:idx_story_views_story_user" json:"user_id"`
	ViewedAt time.Time `json:"viewed_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

// TableName specifies the table name for GORM.
func (StoryView) TableName() string {
	return "story_views"
}

// StoryFeedEntry groups the visible stories of one author.
type StoryFeedEntry struct {
	User    User    `json:"user"`
	Stories []Story `json:"stories"`
}
