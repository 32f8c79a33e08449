package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chatterbox/internal/models"
	"chatterbox/internal/validation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

const (
	oauthStatePrefix = "oauth:state:"
	oauthStateTTL    = 10 * time.Minute

	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// OAuthProfile is the identity returned by a provider.
type OAuthProfile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Username      string
}

// OAuthProvider wraps one OAuth2 authorization-code flow.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*OAuthProfile, error)
}

type oauthProvider struct {
	config  *oauth2.Config
	profile func(ctx context.Context, client *http.Client) (*OAuthProfile, error)
}

func (p *oauthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *oauthProvider) Exchange(ctx context.Context, code string) (*OAuthProfile, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return p.profile(ctx, p.config.Client(ctx, tok))
}

// NewGoogleProvider configures Google sign-in with the OpenID userinfo endpoint.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) OAuthProvider {
	return &oauthProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
		profile: func(ctx context.Context, client *http.Client) (*OAuthProfile, error) {
			var body struct {
				Sub           string `json:"sub"`
				Email         string `json:"email"`
				EmailVerified bool   `json:"email_verified"`
				Name          string `json:"name"`
			}
			if err := getJSON(ctx, client, "https://openidconnect.googleapis.com/v1/userinfo", &body); err != nil {
				return nil, err
			}
			return &OAuthProfile{
				Subject:       body.Sub,
				Email:         body.Email,
				EmailVerified: body.EmailVerified,
				Username:      body.Name,
			}, nil
		},
	}
}

// NewGitHubProvider configures GitHub sign-in. The primary verified address
// comes from /user/emails.
func NewGitHubProvider(clientID, clientSecret, redirectURL string) OAuthProvider {
	return &oauthProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://github.com/login/oauth/authorize",
				TokenURL: "https://github.com/login/oauth/access_token",
			},
		},
		profile: func(ctx context.Context, client *http.Client) (*OAuthProfile, error) {
			var user struct {
				ID    int64  `json:"id"`
				Login string `json:"login"`
			}
			if err := getJSON(ctx, client, "https://api.github.com/user", &user); err != nil {
				return nil, err
			}
			var emails []struct {
				Email    string `json:"email"`
				Primary  bool   `json:"primary"`
				Verified bool   `json:"verified"`
			}
			if err := getJSON(ctx, client, "https://api.github.com/user/emails", &emails); err != nil {
				return nil, err
			}
			profile := &OAuthProfile{Subject: strconv.FormatInt(user.ID, 10), Username: user.Login}
			for _, e := range emails {
				if e.Primary {
					profile.Email = e.Email
					profile.EmailVerified = e.Verified
				}
			}
			return profile, nil
		},
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch profile: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// RegisterOAuthProvider enables sign-in through name.
func (s *AuthService) RegisterOAuthProvider(name string, p OAuthProvider) {
	s.oauth[name] = p
}

// OAuthProviders lists the enabled provider names.
func (s *AuthService) OAuthProviders() []string {
	names := make([]string, 0, len(s.oauth))
	for name := range s.oauth {
		names = append(names, name)
	}
	return names
}

// BeginOAuth returns the provider's consent URL. The state is remembered in
// Redis and can be used once.
func (s *AuthService) BeginOAuth(ctx context.Context, provider string) (string, error) {
	p, ok := s.oauth[provider]
	if !ok {
		return "", models.NewNotFoundFieldError(map[string]string{"provider": "Unknown OAuth provider"})
	}
	if s.rdb == nil {
		return "", models.NewInternalError(errors.New("oauth state store unavailable"))
	}
	state := uuid.NewString()
	if err := s.rdb.Set(ctx, oauthStatePrefix+state, provider, oauthStateTTL).Err(); err != nil {
		return "", models.NewInternalError(err)
	}
	return p.AuthCodeURL(state), nil
}

// CompleteOAuth finishes the flow: the user is found by provider subject,
// then by verified email, and created otherwise.
func (s *AuthService) CompleteOAuth(ctx context.Context, provider, state, code string) (*AuthTokens, error) {
	p, ok := s.oauth[provider]
	if !ok {
		return nil, models.NewNotFoundFieldError(map[string]string{"provider": "Unknown OAuth provider"})
	}
	if state == "" || code == "" {
		return nil, models.NewFieldError("state", "state and code are required")
	}
	if s.rdb == nil {
		return nil, models.NewInternalError(errors.New("oauth state store unavailable"))
	}
	stored, err := s.rdb.GetDel(ctx, oauthStatePrefix+state).Result()
	if errors.Is(err, redis.Nil) || (err == nil && stored != provider) {
		return nil, models.NewFieldError("state", "Invalid or expired OAuth state")
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	profile, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, models.NewUnauthorizedError("OAuth sign-in failed")
	}
	if profile.Subject == "" {
		return nil, models.NewUnauthorizedError("OAuth provider returned no subject")
	}

	user, err := s.findOrCreateOAuthUser(ctx, models.AuthProvider(provider), profile)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user, "")
}

func (s *AuthService) findOrCreateOAuthUser(ctx context.Context, provider models.AuthProvider, profile *OAuthProfile) (*models.User, error) {
	user, err := s.users.GetByProvider(ctx, provider, profile.Subject)
	if err != nil || user != nil {
		return user, err
	}

	email := validation.NormalizeEmail(profile.Email)
	if email != "" && profile.EmailVerified {
		user, err = s.users.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if user != nil {
			fields := map[string]interface{}{"email_verified": true}
			if user.ProviderSubject == "" {
				fields["provider"] = provider
				fields["provider_subject"] = profile.Subject
			}
			if err := s.users.UpdateFields(ctx, user.ID, fields); err != nil {
				return nil, err
			}
			return s.users.GetByID(ctx, user.ID)
		}
	}
	if email == "" {
		return nil, models.NewFieldError("email", "The provider did not share an email address")
	}

	username, err := s.availableUsername(ctx, profile.Username, email)
	if err != nil {
		return nil, err
	}
	user = &models.User{
		Username:         username,
		Email:            email,
		EmailVerified:    profile.EmailVerified,
		Provider:         provider,
		ProviderSubject:  profile.Subject,
		ShowOnlineStatus: true,
		ShowLastSeen:     true,
		ShowReadReceipts: true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

var usernameStrip = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// availableUsername derives a valid, unused username from the provider name
// or the email's local part.
func (s *AuthService) availableUsername(ctx context.Context, name, email string) (string, error) {
	base := usernameStrip.ReplaceAllString(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"), "")
	if validation.ValidateUsername(base) != nil {
		local := email
		if i := strings.Index(email, "@"); i > 0 {
			local = email[:i]
		}
		base = usernameStrip.ReplaceAllString(local, "")
	}
	base = strings.Trim(base, "_-")
	if len(base) > 24 {
		base = base[:24]
	}
	for len(base) < 3 {
		base += "x"
	}

	candidate := base
	for i := 0; i < 5; i++ {
		existing, err := s.users.GetByUsername(ctx, candidate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, 1000+time.Now().UnixNano()%9000)
	}
	return base + "_" + uuid.NewString()[:4], nil
}
