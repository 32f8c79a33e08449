package seed

import (
	"fmt"
	"log"
	"time"

	"chatterbox/internal/database"
	"chatterbox/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers        int
	NumGroups       int
	GroupSize       int
	MessagesPerChat int
	StoriesPerUser  int
	StoryTTL        time.Duration
	ShouldClean     bool
	SkipBcrypt      bool
	DryRun          bool
	// RandomSeed makes runs reproducible. Zero seeds from the clock.
	RandomSeed int64
}

// DefaultOptions is a small but lively dataset.
func DefaultOptions() Options {
	return Options{
		NumUsers:        30,
		NumGroups:       6,
		GroupSize:       8,
		MessagesPerChat: 25,
		StoriesPerUser:  1,
		StoryTTL:        models.DefaultStoryTTL,
		ShouldClean:     true,
	}
}

// Summary counts what a run created.
type Summary struct {
	Users    int
	Chats    int
	Messages int
	Stories  int
}

// Seeder creates a connected set of users, chats, messages and stories.
type Seeder struct {
	db      *gorm.DB
	opts    Options
	factory *Factory
}

// NewSeeder returns a Seeder writing to db.
func NewSeeder(db *gorm.DB, opts Options) (*Seeder, error) {
	if opts.StoryTTL <= 0 {
		opts.StoryTTL = models.DefaultStoryTTL
	}
	if opts.GroupSize < 2 {
		opts.GroupSize = 2
	}
	f, err := NewFactory(db, opts)
	if err != nil {
		return nil, err
	}
	return &Seeder{db: db, opts: opts, factory: f}, nil
}

// Run seeds the whole dataset.
func (s *Seeder) Run() (*Summary, error) {
	log.Printf("🌱 Seeding %d users, %d groups, %d messages per chat...",
		s.opts.NumUsers, s.opts.NumGroups, s.opts.MessagesPerChat)

	if s.opts.ShouldClean && !s.opts.DryRun {
		if err := s.ClearAll(); err != nil {
			return nil, fmt.Errorf("clear data: %w", err)
		}
	}

	sum := &Summary{}
	users, err := s.SeedUsers(s.opts.NumUsers)
	if err != nil {
		return nil, fmt.Errorf("seed users: %w", err)
	}
	sum.Users = len(users)
	log.Printf("✓ %d users created", sum.Users)

	chats, err := s.SeedChats(users)
	if err != nil {
		return nil, fmt.Errorf("seed chats: %w", err)
	}
	sum.Chats = len(chats)
	log.Printf("✓ %d chats created", sum.Chats)

	for _, c := range chats {
		n, err := s.SeedMessages(c.chat, c.members)
		if err != nil {
			return nil, fmt.Errorf("seed messages for chat %d: %w", c.chat.ID, err)
		}
		sum.Messages += n
	}
	log.Printf("✓ %d messages created", sum.Messages)

	sum.Stories, err = s.SeedStories(users)
	if err != nil {
		return nil, fmt.Errorf("seed stories: %w", err)
	}
	log.Printf("✓ %d stories created", sum.Stories)

	log.Println("🎉 Database seeding completed successfully!")
	return sum, nil
}

// ClearAll deletes every row of every persistent model, children first.
func (s *Seeder) ClearAll() error {
	log.Println("🗑️  Clearing existing data...")
	all := database.PersistentModels()
	return s.db.Transaction(func(tx *gorm.DB) error {
		for i := len(all) - 1; i >= 0; i-- {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(all[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SeedUsers creates count users. A colliding username is retried once.
func (s *Seeder) SeedUsers(count int) ([]*models.User, error) {
	users := make([]*models.User, 0, count)
	for i := 0; i < count; i++ {
		u, err := s.factory.CreateUser()
		if err != nil {
			u, err = s.factory.CreateUser()
			if err != nil {
				return users, err
			}
		}
		users = append(users, u)
	}
	return users, nil
}

type seededChat struct {
	chat    *models.Chat
	members []*models.User
}

// SeedChats pairs each user with the next in a ring and builds NumGroups
// groups from sliding windows over the user list.
func (s *Seeder) SeedChats(users []*models.User) ([]seededChat, error) {
	var out []seededChat
	if len(users) < 2 {
		return out, nil
	}
	for i := range users {
		a, b := users[i], users[(i+1)%len(users)]
		if len(users) == 2 && i == 1 {
			break
		}
		chat, err := s.factory.CreateIndividual(a, b)
		if err != nil {
			return out, err
		}
		out = append(out, seededChat{chat: chat, members: []*models.User{a, b}})
	}

	size := s.opts.GroupSize
	if size > len(users) {
		size = len(users)
	}
	for g := 0; g < s.opts.NumGroups; g++ {
		start := (g * size / 2) % len(users)
		members := make([]*models.User, 0, size)
		for j := 0; j < size; j++ {
			members = append(members, users[(start+j)%len(users)])
		}
		chat, err := s.factory.CreateGroup(members[0], members[1:])
		if err != nil {
			return out, err
		}
		out = append(out, seededChat{chat: chat, members: members})
	}
	return out, nil
}

// SeedMessages writes a conversation spread over the last few hours, with
// the occasional react from another member.
func (s *Seeder) SeedMessages(chat *models.Chat, members []*models.User) (int, error) {
	n := s.opts.MessagesPerChat
	if n <= 0 || len(members) == 0 {
		return 0, nil
	}
	start := time.Now().Add(-time.Duration(n) * 7 * time.Minute)
	for i := 0; i < n; i++ {
		sender := members[s.factory.fake.Number(0, len(members)-1)]
		at := start.Add(time.Duration(i)*7*time.Minute + time.Duration(s.factory.fake.Number(0, 300))*time.Second)
		msg, err := s.factory.CreateMessage(chat, sender, at)
		if err != nil {
			return i, err
		}
		if len(members) > 1 && i%5 == 4 {
			reactor := members[(i+1)%len(members)]
			if reactor.ID != sender.ID {
				if err := s.factory.CreateReact(msg, reactor); err != nil {
					return i + 1, err
				}
			}
		}
	}
	return n, nil
}

// SeedStories posts StoriesPerUser stories for every other user.
func (s *Seeder) SeedStories(users []*models.User) (int, error) {
	created := 0
	for i, u := range users {
		if i%2 == 1 {
			continue
		}
		for j := 0; j < s.opts.StoriesPerUser; j++ {
			if _, err := s.factory.CreateStory(u, s.opts.StoryTTL); err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}
