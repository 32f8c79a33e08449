package models

import "time"

// RefreshToken stores the hash of an issued refresh token. Tokens issued by
// rotating each other share a FamilyID.
type RefreshToken struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	TokenHash      string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	FamilyID       string     `gorm:"size:36;index;not null" json:"family_id"`
	ExpiresAt      time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	ReplacedByHash string     `gorm:"size:64" json:"-"`
	CreatedAt      time.Time  `json:"created_at"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM.
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// Active reports whether the token can still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}
