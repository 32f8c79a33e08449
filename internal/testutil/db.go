// Package testutil provides shared test fixtures for backend tests.
package testutil

import (
	"testing"
	"time"

	"chatterbox/internal/database"
	"chatterbox/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens an in-memory SQLite database with foreign keys enforced and
// every persistent model migrated. A single connection keeps the in-memory
// database alive for the whole test.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(database.PersistentModels()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// CreateUser inserts a user with a unique username and email.
func CreateUser(t testing.TB, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{
		Username:         username,
		Email:            username + "@example.com",
		ShowOnlineStatus: true,
		ShowLastSeen:     true,
		ShowReadReceipts: true,
		Provider:         models.AuthProviderLocal,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

// CreateGroup inserts a group chat owned by owner with the given members.
func CreateGroup(t testing.TB, db *gorm.DB, name string, owner *models.User, members ...*models.User) *models.Chat {
	t.Helper()
	now := time.Now()
	chat := &models.Chat{
		Type:                  models.ChatTypeGroup,
		Name:                  name,
		CreatedBy:             owner.ID,
		OnlyAdminsCanEditInfo: true,
		LastMessageAt:         now,
	}
	if err := db.Create(chat).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	addMember(t, db, chat.ID, owner.ID, models.RoleOwner, now)
	for i, m := range members {
		addMember(t, db, chat.ID, m.ID, models.RoleMember, now.Add(time.Duration(i+1)*time.Second))
	}
	return chat
}

// CreateIndividual inserts an INDIVIDUAL chat between a and b.
func CreateIndividual(t testing.TB, db *gorm.DB, a, b *models.User) *models.Chat {
	t.Helper()
	now := time.Now()
	chat := &models.Chat{Type: models.ChatTypeIndividual, CreatedBy: a.ID, LastMessageAt: now}
	if err := db.Create(chat).Error; err != nil {
		t.Fatalf("create individual chat: %v", err)
	}
	addMember(t, db, chat.ID, a.ID, models.RoleMember, now)
	addMember(t, db, chat.ID, b.ID, models.RoleMember, now)
	return chat
}

// SetRole changes a member's role directly.
func SetRole(t testing.TB, db *gorm.DB, chatID, userID uint, role models.MemberRole) {
	t.Helper()
	if err := db.Model(&models.Member{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("role", role).Error; err != nil {
		t.Fatalf("set role: %v", err)
	}
}

// CreateText inserts a TEXT message.
func CreateText(t testing.TB, db *gorm.DB, chatID, userID uint, content string) *models.Message {
	t.Helper()
	uid := userID
	msg := &models.Message{ChatID: chatID, UserID: &uid, Type: models.MessageTypeText, Content: content}
	if err := db.Omit("User", "Chat", "ReplyTo", "Story", "Invite").Create(msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}
	return msg
}

func addMember(t testing.TB, db *gorm.DB, chatID, userID uint, role models.MemberRole, joined time.Time) {
	t.Helper()
	m := &models.Member{ChatID: chatID, UserID: userID, Role: role, JoinedAt: joined}
	if err := db.Omit("User").Create(m).Error; err != nil {
		t.Fatalf("add member: %v", err)
	}
}
