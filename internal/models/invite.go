package models

import "time"

// Invite is a shareable join code for a group chat.
type Invite struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ChatID     uint       `gorm:"not null;index" json:"chat_id"`
	Code       string     `gorm:"size:36;uniqueIndex;not null" json:"code"`
	CreatedBy  uint       `gorm:"not null" json:"created_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CanUseLink bool       `gorm:"default:true" json:"can_use_link"`
	CreatedAt  time.Time  `json:"created_at"`

	Chat *Chat `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"chat,omitempty"`
}

// TableName specifies the table name for GORM.
func (Invite) TableName() string {
	return "invites"
}

// Usable reports whether the invite can be redeemed at now.
func (i *Invite) Usable(now time.Time) bool {
	if !i.CanUseLink {
		return false
	}
	return i.ExpiresAt == nil || i.ExpiresAt.After(now)
}

// InvitePreview is what a non-member sees before joining.
type InvitePreview struct {
	Code        string `json:"code"`
	ChatID      uint   `json:"chat_id"`
	Name        string `json:"name"`
	Image       string `json:"image,omitempty"`
	MemberCount int64  `json:"member_count"`
}
