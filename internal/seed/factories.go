// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"log"
	"strings"
	"time"

	"chatterbox/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "Password123!"

var reactEmojis = []string{"👍", "❤️", "😂", "😮", "😢", "🙏"}

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by the seeder and tests.
type Factory struct {
	db   *gorm.DB
	opts Options
	fake *gofakeit.Faker
	hash string
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a new Factory bound to the provided Gorm DB. The
// password hash is computed once and shared by every seeded user.
func NewFactory(db *gorm.DB, opts Options) (*Factory, error) {
	cost := bcrypt.DefaultCost
	if opts.SkipBcrypt {
		cost = bcrypt.MinCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}
	seed := opts.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{db: db, opts: opts, fake: gofakeit.New(seed), hash: string(hashed), nextID: 1000}, nil
}

func (f *Factory) assignID() uint {
	f.nextID++
	return f.nextID
}

// CreateUser constructs and persists a sample user. Optional override
// functions may modify the generated user before saving.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	username := strings.ToLower(f.fake.Username()) + fmt.Sprintf("%d", f.fake.Number(100, 999))
	user := &models.User{
		Username:         username,
		Email:            username + "@example.com",
		Password:         f.hash,
		Bio:              f.fake.Sentence(8),
		Status:           f.fake.HackerPhrase(),
		Image:            fmt.Sprintf("https://i.pravatar.cc/150?u=%s", username),
		ShowOnlineStatus: true,
		ShowLastSeen:     true,
		ShowReadReceipts: true,
		EmailVerified:    true,
		Provider:         models.AuthProviderLocal,
	}
	if len(user.Status) > 140 {
		user.Status = user.Status[:140]
	}
	for _, override := range overrides {
		override(user)
	}

	if f.opts.DryRun {
		user.ID = f.assignID()
		log.Printf("[dry-run] CreateUser: %s", user.Username)
		return user, nil
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreateIndividual opens a one-to-one chat between a and b.
func (f *Factory) CreateIndividual(a, b *models.User) (*models.Chat, error) {
	chat := &models.Chat{Type: models.ChatTypeIndividual, CreatedBy: a.ID, LastMessageAt: time.Now()}
	return chat, f.createChat(chat, []models.Member{
		{UserID: a.ID, Role: models.RoleMember},
		{UserID: b.ID, Role: models.RoleMember},
	})
}

// CreateGroup builds a group owned by owner. Every fourth member is an admin.
func (f *Factory) CreateGroup(owner *models.User, members []*models.User, overrides ...func(*models.Chat)) (*models.Chat, error) {
	chat := &models.Chat{
		Type:                  models.ChatTypeGroup,
		Name:                  capitalize(f.fake.Hobby()),
		Description:           f.fake.Sentence(12),
		Image:                 f.fake.ImageURL(320, 320),
		CreatedBy:             owner.ID,
		OnlyAdminsCanEditInfo: true,
		LastMessageAt:         time.Now(),
	}
	if len(chat.Name) > 100 {
		chat.Name = chat.Name[:100]
	}
	for _, override := range overrides {
		override(chat)
	}

	rows := []models.Member{{UserID: owner.ID, Role: models.RoleOwner}}
	for i, m := range members {
		if m.ID == owner.ID {
			continue
		}
		role := models.RoleMember
		if i%4 == 3 {
			role = models.RoleAdmin
		}
		rows = append(rows, models.Member{UserID: m.ID, Role: role})
	}
	return chat, f.createChat(chat, rows)
}

func (f *Factory) createChat(chat *models.Chat, members []models.Member) error {
	now := time.Now()
	if f.opts.DryRun {
		chat.ID = f.assignID()
		log.Printf("[dry-run] CreateChat: %s %q with %d members", chat.Type, chat.Name, len(members))
		return nil
	}
	return f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(chat).Error; err != nil {
			return err
		}
		for i := range members {
			members[i].ChatID = chat.ID
			members[i].JoinedAt = now
		}
		return tx.Omit("User").Create(&members).Error
	})
}

// CreateMessage persists a TEXT message from sender sent at the given time
// and bumps the chat's activity.
func (f *Factory) CreateMessage(chat *models.Chat, sender *models.User, at time.Time, overrides ...func(*models.Message)) (*models.Message, error) {
	senderID := sender.ID
	msg := &models.Message{
		ChatID:    chat.ID,
		UserID:    &senderID,
		Type:      models.MessageTypeText,
		Content:   f.fake.Sentence(f.fake.Number(3, 18)),
		CreatedAt: at,
		UpdatedAt: at,
	}
	for _, override := range overrides {
		override(msg)
	}

	if f.opts.DryRun {
		msg.ID = f.assignID()
		return msg, nil
	}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("User", "Chat", "ReplyTo", "Story", "Invite").Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chat{}).Where("id = ? AND last_message_at < ?", chat.ID, at).
			Update("last_message_at", at).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// CreateReact adds a random emoji react from user.
func (f *Factory) CreateReact(msg *models.Message, user *models.User) error {
	if f.opts.DryRun {
		return nil
	}
	react := &models.React{
		MessageID: msg.ID,
		UserID:    user.ID,
		Emoji:     reactEmojis[f.fake.Number(0, len(reactEmojis)-1)],
	}
	return f.db.Omit("User").Create(react).Error
}

// CreateStory posts a TEXT or MEDIA story that expires after ttl.
func (f *Factory) CreateStory(user *models.User, ttl time.Duration, overrides ...func(*models.Story)) (*models.Story, error) {
	story := &models.Story{
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(ttl),
	}
	if f.fake.Bool() {
		story.Type = models.StoryTypeText
		story.Content = f.fake.Sentence(f.fake.Number(4, 14))
		story.BackgroundColor = f.fake.HexColor()
	} else {
		story.Type = models.StoryTypeMedia
		story.MediaURL = fmt.Sprintf("https://picsum.photos/seed/%d/720/1280", f.fake.Number(1, 10000))
		story.ContentType = "image/jpeg"
		story.Caption = f.fake.Sentence(5)
	}
	for _, override := range overrides {
		override(story)
	}

	if f.opts.DryRun {
		story.ID = f.assignID()
		return story, nil
	}
	if err := f.db.Omit("User").Create(story).Error; err != nil {
		return nil, err
	}
	return story, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
