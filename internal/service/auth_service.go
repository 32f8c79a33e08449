package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatterbox/internal/mailer"
	"chatterbox/internal/middleware"
	"chatterbox/internal/models"
	"chatterbox/internal/observability"
	"chatterbox/internal/repository"
	"chatterbox/internal/validation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const defaultRefreshTTL = 30 * 24 * time.Hour

// AuthTokens is the credential pair returned on every successful sign-in.
type AuthTokens struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         *models.User `json:"user"`
}

// SignupInput is the body of POST /api/auth/signup.
type SignupInput struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,password"`
}

// LoginInput is the body of POST /api/auth/login.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthService handles signup, login, token rotation, OTP codes and OAuth2.
type AuthService struct {
	users      repository.UserRepository
	refresh    repository.RefreshTokenRepository
	tokens     *middleware.TokenManager
	rdb        *redis.Client
	mail       mailer.Queue
	oauth      map[string]OAuthProvider
	refreshTTL time.Duration
	now        func() time.Time
}

// NewAuthService returns a new AuthService. A nil mail queue drops OTP jobs
// into a LogQueue.
func NewAuthService(
	users repository.UserRepository,
	refresh repository.RefreshTokenRepository,
	tokens *middleware.TokenManager,
	rdb *redis.Client,
	mail mailer.Queue,
	refreshTTL time.Duration,
) *AuthService {
	if mail == nil {
		mail = mailer.NewLogQueue()
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	return &AuthService{
		users:      users,
		refresh:    refresh,
		tokens:     tokens,
		rdb:        rdb,
		mail:       mail,
		oauth:      make(map[string]OAuthProvider),
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Signup creates a local account, signs it in and sends a verification code.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthTokens, error) {
	in.Email = validation.NormalizeEmail(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	existing, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewFieldError("email", "Email is already registered")
	}
	existing, err = s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewFieldError("username", "Username is already taken")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	user := &models.User{
		Username:         in.Username,
		Email:            in.Email,
		Password:         string(hashed),
		Provider:         models.AuthProviderLocal,
		ShowOnlineStatus: true,
		ShowLastSeen:     true,
		ShowReadReceipts: true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	tokens, err := s.issueTokens(ctx, user, "")
	if err != nil {
		return nil, err
	}

	if err := s.RequestOTP(ctx, user.Email, mailer.PurposeVerifyEmail); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "verification code not sent",
			slog.Uint64("user_id", uint64(user.ID)),
			slog.String("error", err.Error()),
		)
	}
	return tokens, nil
}

// Login checks email and password.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthTokens, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Password == "" {
		return nil, models.NewUnauthorizedError("Invalid email or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)) != nil {
		return nil, models.NewUnauthorizedError("Invalid email or password")
	}
	return s.issueTokens(ctx, user, "")
}

// Refresh rotates a refresh token inside its family. Presenting a token that
// was already rotated revokes the whole family.
func (s *AuthService) Refresh(ctx context.Context, raw string) (*AuthTokens, error) {
	if raw == "" {
		return nil, models.NewFieldError("refresh_token", "refresh_token is required")
	}
	current, err := s.refresh.GetByHash(ctx, hashToken(raw))
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, models.NewUnauthorizedError("Invalid refresh token")
	}
	if current.RevokedAt != nil {
		s.revokeFamily(ctx, current, "refresh token replay")
		return nil, models.NewUnauthorizedError("Refresh token has been revoked")
	}
	if !current.Active(s.now()) {
		return nil, models.NewUnauthorizedError("Refresh token has expired")
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		return nil, models.NewUnauthorizedError("Invalid refresh token")
	}

	access, _, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	nextRaw, nextHash, err := newRefreshToken()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	next := &models.RefreshToken{
		TokenHash: nextHash,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	if err := s.refresh.Rotate(ctx, current, next); err != nil {
		if errors.Is(err, repository.ErrTokenReused) {
			s.revokeFamily(ctx, current, "concurrent refresh token reuse")
			return nil, models.NewUnauthorizedError("Refresh token has been revoked")
		}
		return nil, err
	}

	return &AuthTokens{
		AccessToken:  access,
		RefreshToken: nextRaw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.TTL().Seconds()),
		User:         user,
	}, nil
}

// Logout blacklists the access token and revokes the refresh family.
func (s *AuthService) Logout(ctx context.Context, claims *middleware.AccessClaims, refreshToken string) error {
	if err := middleware.Revoke(ctx, s.rdb, claims); err != nil {
		return models.NewInternalError(err)
	}
	if refreshToken == "" {
		return nil
	}
	token, err := s.refresh.GetByHash(ctx, hashToken(refreshToken))
	if err != nil {
		return err
	}
	if token == nil {
		return nil
	}
	if uid, err := claims.UserID(); err == nil && uid != token.UserID {
		return models.NewForbiddenError("Refresh token belongs to another user")
	}
	return s.refresh.RevokeFamily(ctx, token.FamilyID)
}

func (s *AuthService) revokeFamily(ctx context.Context, token *models.RefreshToken, reason string) {
	observability.GlobalLogger.WarnContext(ctx, "revoking refresh token family",
		slog.Uint64("user_id", uint64(token.UserID)),
		slog.String("family_id", token.FamilyID),
		slog.String("reason", reason),
	)
	if err := s.refresh.RevokeFamily(ctx, token.FamilyID); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "revoke refresh token family failed",
			slog.String("family_id", token.FamilyID),
			slog.String("error", err.Error()),
		)
	}
}

// issueTokens signs an access token and starts (or continues) a refresh
// family for the user.
func (s *AuthService) issueTokens(ctx context.Context, user *models.User, familyID string) (*AuthTokens, error) {
	access, _, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	raw, hash, err := newRefreshToken()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if familyID == "" {
		familyID = uuid.NewString()
	}
	if err := s.refresh.Create(ctx, &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: hash,
		FamilyID:  familyID,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}); err != nil {
		return nil, err
	}
	return &AuthTokens{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.TTL().Seconds()),
		User:         user,
	}, nil
}

func newRefreshToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
