// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "chatterbox/docs" // swagger docs
	"chatterbox/internal/bootstrap"
	"chatterbox/internal/config"
	"chatterbox/internal/featureflags"
	"chatterbox/internal/mailer"
	"chatterbox/internal/middleware"
	"chatterbox/internal/models"
	"chatterbox/internal/notifications"
	"chatterbox/internal/repository"
	"chatterbox/internal/service"
	"chatterbox/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const wsTicketTTL = 30 * time.Second

// Deps are the already-initialized backends a Server runs on.
type Deps struct {
	DB    *gorm.DB
	Redis *redis.Client
	Store storage.BlobStore
	// Mail receives OTP jobs. Nil logs them instead.
	Mail mailer.Queue
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	store          storage.BlobStore
	mail           mailer.Queue
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	tokens         *middleware.TokenManager
	limiter        *middleware.TokenBucketLimiter
	featureFlags   *featureflags.Manager
	notifier       *notifications.Notifier
	hub            *notifications.Hub
	sweeper        *service.StorySweeper

	authService     *service.AuthService
	userService     *service.UserService
	chatService     *service.ChatService
	memberService   *service.MemberService
	messageService  *service.MessageService
	storyService    *service.StoryService
	inviteService   *service.InviteService
	blockService    *service.BlockService
	gifService      *service.GifService
	presenceService *service.PresenceService
}

// NewServer connects to every backend named in cfg and builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{SeedDemo: cfg.DevSeedDemo})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, Deps{DB: rt.DB, Redis: rt.Redis, Store: rt.Store, Mail: rt.Mail})
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis itself.
func NewServerWithDeps(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	policies, err := middleware.LoadPolicies(cfg.RateLimitPolicyFile)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:         cfg,
		db:             deps.DB,
		redis:          deps.Redis,
		store:          deps.Store,
		mail:           deps.Mail,
		promMiddleware: middleware.InitMetrics("chatterbox-api"),
		tokens:         middleware.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL()),
		limiter: middleware.NewTokenBucketLimiter(deps.Redis, policies,
			middleware.RateLimitsEnabled(cfg.Env, cfg.RateLimitForce)),
		featureFlags: featureflags.NewManager(cfg.FeatureFlags),
		notifier:     notifications.NewNotifier(deps.Redis),
	}
	s.wireServices()
	s.hub = notifications.NewHub(notifications.HubConfig{
		Chats:     s.chatService,
		Blocks:    s.blockService,
		Presence:  s.presenceService,
		Reads:     s.messageService,
		Publisher: s.notifier,
	})
	s.sweeper = service.NewStorySweeper(s.storyService, cfg.StorySweepInterval())

	return s, nil
}

func (s *Server) wireServices() {
	db := s.db
	users := repository.NewUserRepository(db)
	chats := repository.NewChatRepository(db)
	members := repository.NewMemberRepository(db)
	messages := repository.NewMessageRepository(db)
	blocks := repository.NewBlockRepository(db)
	polls := repository.NewPollRepository(db)
	stories := repository.NewStoryRepository(db)
	invites := repository.NewInviteRepository(db)

	media := service.NewMediaService(s.store, s.config.MediaMaxUploadBytes())
	s.presenceService = service.NewPresenceService(s.redis, users, chats, members, s.notifier)
	s.authService = service.NewAuthService(users, repository.NewRefreshTokenRepository(db),
		s.tokens, s.redis, s.mail, s.config.RefreshTokenTTL())
	s.userService = service.NewUserService(users, members, blocks, media, s.presenceService, s.notifier)
	s.chatService = service.NewChatService(chats, members, users, blocks, media, s.presenceService, s.notifier)
	s.memberService = service.NewMemberService(chats, members, users, blocks, s.notifier)
	s.messageService = service.NewMessageService(messages, chats, members, users, blocks, polls,
		stories, invites, media, s.notifier)
	s.storyService = service.NewStoryService(stories, chats, blocks, media, s.chatService,
		s.messageService, s.notifier, s.config.StoryTTL())
	s.inviteService = service.NewInviteService(invites, chats, members, s.chatService, s.messageService, s.notifier)
	s.blockService = service.NewBlockService(blocks, users)
	s.gifService = service.NewGifService(repository.NewGifRepository(db))

	s.registerOAuthProviders()
}

func (s *Server) registerOAuthProviders() {
	cfg := s.config
	callback := func(provider string) string {
		return cfg.OAuthRedirectBaseURL + "/api/auth/oauth/" + provider + "/callback"
	}
	if cfg.OAuthGoogleClientID != "" {
		s.authService.RegisterOAuthProvider("google", service.NewGoogleProvider(
			cfg.OAuthGoogleClientID, cfg.OAuthGoogleClientSecret, callback("google")))
	}
	if cfg.OAuthGitHubClientID != "" {
		s.authService.RegisterOAuthProvider("github", service.NewGitHubProvider(
			cfg.OAuthGitHubClientID, cfg.OAuthGitHubClientSecret, callback("github")))
	}
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	app.Use(helmet.New(helmet.Config{
		CrossOriginResourcePolicy: "cross-origin",
	}))
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so error responses still carry its headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewTooManyRequestsError("Too many requests, please try again later."))
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	if local, ok := s.store.(*storage.LocalStore); ok {
		app.Static(s.config.StoragePublicBaseURL, local.Dir(), fiber.Static{MaxAge: 3600})
	}

	// Real-time gateway.
	app.Get("/ws", s.AuthRequired(), s.requireUpgrade, s.WebSocketHandler())

	api := app.Group("/api")
	api.Get("/", s.ReadinessCheck)
	api.Get("/swagger/*", swagger.HandlerDefault)
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Chatterbox Backend Metrics Dashboard",
	}))

	// Auth routes
	auth := api.Group("/auth", s.limiter.Middleware("auth"))
	auth.Post("/signup", middleware.RateLimit(s.redis, 3, 10*time.Minute, "signup"), s.Signup)
	auth.Post("/login", middleware.RateLimit(s.redis, 10, 5*time.Minute, "login"), s.Login)
	auth.Post("/refresh", s.Refresh)
	auth.Post("/logout", s.AuthRequired(), s.Logout)
	auth.Post("/otp/request", s.limiter.Middleware("otp"), s.RequestOTP)
	auth.Post("/otp/verify", s.VerifyOTP)
	auth.Post("/password/reset", s.ResetPassword)
	oauth := auth.Group("/oauth/:provider", s.FeatureRequired(featureflags.OAuth))
	oauth.Get("/", s.BeginOAuth)
	oauth.Get("/callback", s.OAuthCallback)

	protected := api.Group("", s.AuthRequired(), s.limiter.Middleware("default"))

	protected.Get("/features", s.GetFeatureFlags)
	protected.Post("/ws/ticket", s.IssueWSTicket)

	// User routes. Static segments come before /:id.
	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Put("/me", s.UpdateMyProfile)
	users.Put("/me/image", s.limiter.Middleware("uploads"), s.UpdateMyImage)
	users.Delete("/me", s.DeleteMyAccount)
	users.Get("/search", s.limiter.Middleware("search"), s.SearchUsers)
	users.Get("/:id", s.GetUserProfile)

	// Chat routes
	chats := protected.Group("/chats")
	chats.Get("/", s.ListChats)
	chats.Post("/individual", s.CreateIndividualChat)
	chats.Post("/group", s.CreateGroupChat)
	chats.Get("/:id/members", s.ListMembers)
	chats.Post("/:id/members", s.AddMembers)
	chats.Delete("/:id/members/:userId", s.RemoveMember)
	chats.Post("/:id/members/:userId/promote", s.PromoteMember)
	chats.Post("/:id/members/:userId/demote", s.DemoteMember)
	chats.Post("/:id/members/:userId/transfer", s.TransferOwnership)
	chats.Post("/:id/leave", s.LeaveChat)
	chats.Get("/:id/messages/search", s.limiter.Middleware("search"), s.SearchMessages)
	chats.Get("/:id/messages", s.ListMessages)
	chats.Post("/:id/messages", s.limiter.Middleware("messages"), s.SendMessage)
	chats.Post("/:id/read", s.MarkRead)
	chats.Post("/:id/invites", s.CreateInvite)
	chats.Get("/:id/invites", s.ListInvites)
	chats.Put("/:id/image", s.limiter.Middleware("uploads"), s.UpdateChatImage)
	chats.Get("/:id", s.GetChat)
	chats.Put("/:id", s.UpdateChat)
	chats.Delete("/:id", s.DeleteChat)

	// Message routes
	messages := protected.Group("/messages")
	messages.Get("/starred", s.ListStarred)
	messages.Post("/:id/pin", s.PinMessage)
	messages.Delete("/:id/pin", s.UnpinMessage)
	messages.Post("/:id/forward", s.limiter.Middleware("messages"), s.ForwardMessage)
	messages.Post("/:id/reacts", s.ReactToMessage)
	messages.Delete("/:id/reacts", s.RemoveReact)
	messages.Post("/:id/star", s.StarMessage)
	messages.Delete("/:id/star", s.UnstarMessage)
	messages.Post("/:id/votes", s.FeatureRequired(featureflags.Polls), s.Vote)
	messages.Delete("/:id/votes", s.FeatureRequired(featureflags.Polls), s.Unvote)
	messages.Get("/:id/poll", s.FeatureRequired(featureflags.Polls), s.PollResults)
	messages.Get("/:id", s.GetMessage)
	messages.Put("/:id", s.EditMessage)
	messages.Delete("/:id", s.DeleteMessage)

	// Story routes
	stories := protected.Group("/stories", s.FeatureRequired(featureflags.Stories))
	stories.Get("/", s.StoryFeed)
	stories.Post("/text", s.CreateTextStory)
	stories.Post("/media", s.limiter.Middleware("uploads"), s.CreateMediaStory)
	stories.Post("/:id/view", s.ViewStory)
	stories.Get("/:id/views", s.StoryViews)
	stories.Post("/:id/reply", s.ReplyToStory)
	stories.Delete("/:id", s.DeleteStory)

	// Invite routes. Mutations address an invite by id, lookups by code.
	invites := protected.Group("/invites")
	invites.Delete("/:id", s.RevokeInvite)
	invites.Post("/:id/send", s.SendInvite)
	invites.Get("/:code", s.ResolveInvite)
	invites.Post("/:code/join", s.JoinInvite)

	blocks := protected.Group("/blocks")
	blocks.Get("/", s.ListBlocks)
	blocks.Post("/:userId", s.BlockUser)
	blocks.Delete("/:userId", s.UnblockUser)

	gifs := protected.Group("/gifs")
	gifs.Get("/", s.ListGifs)
	gifs.Post("/", s.AddGif)
	gifs.Delete("/:id", s.RemoveGif)

	protected.Get("/presence", s.GetPresence)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if s.db == nil {
		dbStatus = "unavailable"
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"message": "chatterbox",
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// AuthRequired returns the authentication middleware
func (s *Server) AuthRequired() fiber.Handler {
	return middleware.AuthRequired(s.tokens, s.redis)
}

// FeatureRequired hides a route group while its flag is off for the caller.
func (s *Server) FeatureRequired(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("userID").(uint)
		if !s.featureFlags.Enabled(name, userID) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundFieldError(map[string]string{"feature": name + " is not enabled"}))
		}
		return c.Next()
	}
}

// NewApp builds a Fiber app with the server's error handler, middleware and routes.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Chatterbox API",
		BodyLimit:    int(s.config.MediaMaxUploadBytes()) * 10,
		ErrorHandler: ErrorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// StartBackground runs the gateway wiring, the story sweeper and the mail
// consumer until ctx is cancelled or Shutdown is called.
func (s *Server) StartBackground(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	if err := s.hub.StartWiring(ctx, s.notifier); err != nil {
		cancel()
		return fmt.Errorf("start %s wiring: %w", s.hub.Name(), err)
	}
	s.sweeper.Start(ctx)

	if rabbit, ok := s.mail.(*mailer.RabbitQueue); ok && s.config.SMTPHost != "" {
		sender := mailer.NewSMTPSender(s.config.SMTPHost, s.config.SMTPPort,
			s.config.SMTPUsername, s.config.SMTPPassword, s.config.MailFrom)
		if err := rabbit.StartConsumer(ctx, mailer.NewConsumer(sender)); err != nil {
			middleware.Logger.Warn("mail consumer not started", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.StartBackground(context.Background()); err != nil {
		return err
	}
	s.app = s.NewApp()

	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	s.sweeper.Stop()
	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down hub",
			slog.String("hub", s.hub.Name()), slog.String("error", err.Error()))
	}

	if s.mail != nil {
		if err := s.mail.Close(); err != nil {
			middleware.Logger.Error("error closing mail queue", slog.String("error", err.Error()))
		}
	}

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
			}
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
