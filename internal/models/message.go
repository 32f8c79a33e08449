package models

import (
	"time"

	"gorm.io/datatypes"
)

// MessageType selects the payload carried by a message.
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeMedia  MessageType = "MEDIA"
	MessageTypeAudio  MessageType = "AUDIO"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeCall   MessageType = "CALL"
	MessageTypePoll   MessageType = "POLL"
	MessageTypeStory  MessageType = "STORY"
	MessageTypeInvite MessageType = "INVITE"
)

// MessageTypes lists every supported message type.
var MessageTypes = []MessageType{
	MessageTypeText, MessageTypeMedia, MessageTypeAudio, MessageTypeFile,
	MessageTypeCall, MessageTypePoll, MessageTypeStory, MessageTypeInvite,
}

// CallType is the media kind of a call message.
type CallType string

const (
	CallTypeAudio CallType = "AUDIO"
	CallTypeVideo CallType = "VIDEO"
)

// CallStatus is the outcome recorded on a call message.
type CallStatus string

const (
	CallStatusStarted  CallStatus = "STARTED"
	CallStatusMissed   CallStatus = "MISSED"
	CallStatusEnded    CallStatus = "ENDED"
	CallStatusDeclined CallStatus = "DECLINED"
)

// Message is the base row for every message type. Type specific columns are
// left zero when they do not apply.
type Message struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ChatID    uint           `gorm:"not null;index:idx_messages_chat_id_id,priority:1" json:"chat_id"`
	UserID    *uint          `gorm:"index" json:"user_id"`
	Type      MessageType    `gorm:"type:varchar(16);not null" json:"type"`
	Content   string         `gorm:"type:text" json:"content"`
	ReplyToID *uint          `gorm:"index" json:"reply_to_id,omitempty"`
	Pinned    bool           `gorm:"default:false;index" json:"pinned"`
	Edited    bool           `gorm:"default:false" json:"edited"`
	Forwarded bool           `gorm:"default:false" json:"forwarded"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`

	CallType     CallType   `gorm:"type:varchar(8)" json:"call_type,omitempty"`
	CallStatus   CallStatus `gorm:"type:varchar(16)" json:"call_status,omitempty"`
	CallDuration int        `json:"call_duration,omitempty"`
	StoryID      *uint      `gorm:"index" json:"story_id,omitempty"`
	InviteID     *uint      `gorm:"index" json:"invite_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Chat        *Chat        `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`
	User        *User        `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL" json:"user,omitempty"`
	ReplyTo     *Message     `gorm:"foreignKey:ReplyToID;constraint:OnDelete:SET NULL" json:"reply_to,omitempty"`
	Attachments []Attachment `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
	Poll        *Poll        `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"poll,omitempty"`
	Story       *Story       `gorm:"foreignKey:StoryID;constraint:OnDelete:SET NULL" json:"story,omitempty"`
	Invite      *Invite      `gorm:"foreignKey:InviteID;constraint:OnDelete:SET NULL" json:"invite,omitempty"`
	Reacts      []React      `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"reacts,omitempty"`
	Mentions    []Mention    `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"mentions,omitempty"`

	Starred bool `gorm:"-" json:"starred,omitempty"`
}

// TableName specifies the table name for GORM.
func (Message) TableName() string {
	return "messages"
}

// SentBy reports whether userID authored the message.
func (m *Message) SentBy(userID uint) bool {
	return m.UserID != nil && *m.UserID == userID
}

// Attachment is a stored blob referenced by a MEDIA, FILE or AUDIO message.
type Attachment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MessageID   uint      `gorm:"not null;index" json:"message_id"`
	URL         string    `gorm:"not null" json:"url"`
	ObjectKey   string    `json:"-"`
	ContentType string    `gorm:"size:127" json:"content_type"`
	Size        int64     `json:"size"`
	Name        string    `json:"name"`
	Duration    int       `json:"duration,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Attachment) TableName() string {
	return "attachments"
}

// React is a single emoji reaction. A user holds at most one per message.
type React struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_reacts_message_user" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reacts_message_user" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM.
func (React) TableName() string {
	return "reacts"
}

// MessageRead records that a user has seen a message.
type MessageRead struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_reads_message_user" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reads_message_user" json:"user_id"`
	ReadAt    time.Time `json:"read_at"`

	Message *Message `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	User    *User    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM.
func (MessageRead) TableName() string {
	return "message_reads"
}

// StarredMessage is a per-user bookmark on a message.
type StarredMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_stars_message_user" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_stars_message_user;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	Message *Message `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"message,omitempty"`
	User    *User    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM.
func (StarredMessage) TableName() string {
	return "starred_messages"
}

// Mention links a message to a chat member referenced as @username.
type Mention struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	MessageID uint `gorm:"not null;uniqueIndex:idx_mentions_message_user" json:"message_id"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_mentions_message_user;index" json:"user_id"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM.
func (Mention) TableName() string {
	return "mentions"
}

// MessagePage is one cursor page of a chat's history, newest first.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor *uint     `json:"next_cursor"`
}
