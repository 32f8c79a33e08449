package models

import "time"

// ChatType distinguishes one-to-one chats from groups.
type ChatType string

const (
	ChatTypeIndividual ChatType = "INDIVIDUAL"
	ChatTypeGroup      ChatType = "GROUP"
)

// MemberRole is a member's privilege level inside a chat.
type MemberRole string

const (
	RoleMember MemberRole = "MEMBER"
	RoleAdmin  MemberRole = "ADMIN"
	RoleOwner  MemberRole = "OWNER"
)

// IndividualChatSize is the fixed member count of an INDIVIDUAL chat.
const IndividualChatSize = 2

// Chat is either a one-to-one conversation or a group. Group-only columns
// stay empty for individual chats.
type Chat struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	Type                    ChatType  `gorm:"type:varchar(16);not null;index" json:"type"`
	Name                    string    `gorm:"size:100" json:"name,omitempty"`
	Description             string    `gorm:"type:text" json:"description,omitempty"`
	Image                   string    `json:"image,omitempty"`
	ImageKey                string    `json:"-"`
	OnlyAdminsCanSend       bool      `gorm:"default:false" json:"only_admins_can_send"`
	OnlyAdminsCanEditInfo   bool      `gorm:"default:true" json:"only_admins_can_edit_info"`
	OnlyAdminsCanAddMembers bool      `gorm:"default:false" json:"only_admins_can_add_members"`
	OnlyAdminsCanPin        bool      `gorm:"default:false" json:"only_admins_can_pin"`
	CreatedBy               uint      `gorm:"index" json:"created_by"`
	LastMessageAt           time.Time `gorm:"index" json:"last_message_at"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`

	Members     []Member `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"members,omitempty"`
	LastMessage *Message `gorm:"-" json:"last_message,omitempty"`
	UnreadCount int64    `gorm:"-" json:"unread_count"`
}

// TableName specifies the table name for GORM.
func (Chat) TableName() string {
	return "chats"
}

// IsGroup reports whether the chat is a group chat.
func (c *Chat) IsGroup() bool {
	return c.Type == ChatTypeGroup
}

// Member links a user to a chat with a role.
type Member struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ChatID            uint       `gorm:"not null;uniqueIndex:idx_members_chat_user" json:"chat_id"`
	UserID            uint       `gorm:"not null;uniqueIndex:idx_members_chat_user;index" json:"user_id"`
	Role              MemberRole `gorm:"type:varchar(16);not null;default:'MEMBER'" json:"role"`
	JoinedAt          time.Time  `gorm:"not null" json:"joined_at"`
	LastReadMessageID uint       `gorm:"default:0" json:"last_read_message_id"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

// TableName specifies the table name for GORM.
func (Member) TableName() string {
	return "members"
}

// IsAdmin reports whether the member holds ADMIN or OWNER.
func (m *Member) IsAdmin() bool {
	return m.Role == RoleAdmin || m.Role == RoleOwner
}

// IsOwner reports whether the member is the chat owner.
func (m *Member) IsOwner() bool {
	return m.Role == RoleOwner
}
