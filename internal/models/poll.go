package models

import "time"

const (
	MinPollOptions = 2
	MaxPollOptions = 12
)

// Poll belongs to a POLL message.
type Poll struct {
	ID              uint         `gorm:"primaryKey" json:"id"`
	MessageID       uint         `gorm:"not null;uniqueIndex" json:"message_id"`
	Question        string       `gorm:"type:text;not null" json:"question"`
	MultipleAnswers bool         `gorm:"default:false" json:"multiple_answers"`
	Options         []PollOption `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"options"`
	CreatedAt       time.Time    `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Poll) TableName() string {
	return "polls"
}

// PollOption is one answer of a poll.
type PollOption struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	PollID   uint   `gorm:"not null;index" json:"poll_id"`
	Text     string `gorm:"size:200;not null" json:"text"`
	Position int    `json:"position"`
	Votes    []Vote `gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE" json:"-"`

	VoteCount int64  `gorm:"-" json:"vote_count"`
	Voters    []uint `gorm:"-" json:"voters,omitempty"`
}

// TableName specifies the table name for GORM.
func (PollOption) TableName() string {
	return "poll_options"
}

// Vote is unique per option and user.
type Vote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PollID    uint      `gorm:"not null;index" json:"poll_id"`
	OptionID  uint      `gorm:"not null;uniqueIndex:idx_votes_option_user" json:"option_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_votes_option_user;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM.
func (Vote) TableName() string {
	return "votes"
}
