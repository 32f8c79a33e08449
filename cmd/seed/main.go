// Command main runs the database seeder for Chatterbox.
package main

import (
	"flag"
	"log"

	"chatterbox/internal/config"
	"chatterbox/internal/database"
	"chatterbox/internal/seed"

	"github.com/joho/godotenv"
)

func main() {
	defaults := seed.DefaultOptions()
	numUsers := flag.Int("users", defaults.NumUsers, "Number of users to create")
	numGroups := flag.Int("groups", defaults.NumGroups, "Number of group chats to create")
	groupSize := flag.Int("group-size", defaults.GroupSize, "Members per group chat")
	messages := flag.Int("messages", defaults.MessagesPerChat, "Messages per chat")
	stories := flag.Int("stories", defaults.StoriesPerUser, "Stories per posting user")
	shouldClean := flag.Bool("clean", defaults.ShouldClean, "Clean database before seeding")
	fast := flag.Bool("fast", false, "Hash the seed password at minimum bcrypt cost")
	dryRun := flag.Bool("dry-run", false, "Log what would be created without writing")
	randomSeed := flag.Int64("seed", 0, "Random seed for reproducible data (0 = clock)")
	flag.Parse()

	_ = godotenv.Load()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("❌ Refusing to seed a production database")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s, err := seed.NewSeeder(db, seed.Options{
		NumUsers:        *numUsers,
		NumGroups:       *numGroups,
		GroupSize:       *groupSize,
		MessagesPerChat: *messages,
		StoriesPerUser:  *stories,
		StoryTTL:        cfg.StoryTTL(),
		ShouldClean:     *shouldClean,
		SkipBcrypt:      *fast,
		DryRun:          *dryRun,
		RandomSeed:      *randomSeed,
	})
	if err != nil {
		log.Fatalf("❌ Seeder init failed: %v", err)
	}

	sum, err := s.Run()
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ All done! %d users, %d chats, %d messages, %d stories.",
		sum.Users, sum.Chats, sum.Messages, sum.Stories)
	log.Printf("📧 All seeded users have the password: %s", seed.DefaultPassword)
}
