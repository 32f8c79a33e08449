// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// AuthProvider identifies how a user account was created.
type AuthProvider string

const (
	// AuthProviderLocal is an email/password account.
	AuthProviderLocal AuthProvider = "local"
	// AuthProviderGoogle is an account linked to Google sign-in.
	AuthProviderGoogle AuthProvider = "google"
	// AuthProviderGitHub is an account linked to GitHub sign-in.
	AuthProviderGitHub AuthProvider = "github"
)

// User represents a user of the chat application.
type User struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	Username         string       `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Email            string       `gorm:"uniqueIndex;size:255;not null" json:"email,omitempty"`
	Password         string       `json:"-"`
	Image            string       `json:"image"`
	ImageKey         string       `json:"-"`
	Bio              string       `gorm:"type:text" json:"bio"`
	Status           string       `gorm:"size:140" json:"status"`
	ShowOnlineStatus bool         `gorm:"default:true" json:"show_online_status"`
	ShowLastSeen     bool         `gorm:"default:true" json:"show_last_seen"`
	ShowReadReceipts bool         `gorm:"default:true" json:"show_read_receipts"`
	EmailVerified    bool         `gorm:"default:false" json:"email_verified"`
	Provider         AuthProvider `gorm:"size:16;default:'local';index:idx_users_provider_subject" json:"provider"`
	ProviderSubject  string       `gorm:"size:255;index:idx_users_provider_subject" json:"-"`
	LastSeenAt       *time.Time   `json:"last_seen_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`

	// Online is filled from presence when the user allows it.
	Online bool `gorm:"-" json:"online"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// PublicView strips fields the viewer is not allowed to see.
func (u User) PublicView(viewerID uint) User {
	if u.ID == viewerID {
		return u
	}
	u.Email = ""
	if !u.ShowLastSeen {
		u.LastSeenAt = nil
	}
	if !u.ShowOnlineStatus {
		u.Online = false
	}
	return u
}
