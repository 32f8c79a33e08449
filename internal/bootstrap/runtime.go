// Package bootstrap connects the backends the server and tools run on.
package bootstrap

import (
	"fmt"
	"log"
	"strings"

	"chatterbox/internal/cache"
	"chatterbox/internal/config"
	"chatterbox/internal/database"
	"chatterbox/internal/mailer"
	"chatterbox/internal/models"
	"chatterbox/internal/seed"
	"chatterbox/internal/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedDemo fills an empty development database with demo data.
	SeedDemo bool
}

// Runtime holds the connected backends.
type Runtime struct {
	DB    *gorm.DB
	Redis *redis.Client
	Store storage.BlobStore
	// Mail is nil when no broker is configured; OTP mail is then logged.
	Mail mailer.Queue
}

// InitRuntime connects to the DB, Redis, blob storage and the mail broker,
// then optionally seeds demo data.
func InitRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)

	store, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("blob storage init failed: %w", err)
	}

	rt := &Runtime{DB: db, Redis: cache.GetClient(), Store: store}
	if cfg.AMQPURL != "" {
		rabbit, err := mailer.DialRabbit(cfg.AMQPURL, cfg.MailQueue)
		if err != nil {
			return nil, fmt.Errorf("mail queue init failed: %w", err)
		}
		rt.Mail = rabbit
	}

	if opts.SeedDemo {
		if err := seedDemo(cfg, db); err != nil {
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}
	return rt, nil
}

// seedDemo runs the default seeder once, in development, on an empty database.
func seedDemo(cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") {
		return nil
	}

	var users int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		return err
	}
	if users > 0 {
		return nil
	}

	opts := seed.DefaultOptions()
	opts.ShouldClean = false
	opts.SkipBcrypt = true
	opts.StoryTTL = cfg.StoryTTL()
	s, err := seed.NewSeeder(db, opts)
	if err != nil {
		return err
	}
	sum, err := s.Run()
	if err != nil {
		return err
	}

	log.Printf("development demo data seeded: %d users, %d chats (password %q)",
		sum.Users, sum.Chats, seed.DefaultPassword)
	return nil
}
