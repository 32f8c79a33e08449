package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func newAuthApp(t *testing.T) (*fiber.App, *TokenManager, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens := NewTokenManager(testSecret, time.Hour)
	app := fiber.New()
	app.Get("/test", AuthRequired(tokens, rdb), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userID": c.Locals("userID")})
	})
	return app, tokens, rdb
}

func TestAuthRequired(t *testing.T) {
	app, tokens, _ := newAuthApp(t)

	valid, _, err := tokens.Issue(123, "alice")
	require.NoError(t, err)

	foreign := func() string {
		claims := jwt.MapClaims{
			"sub": strconv.Itoa(123),
			"iss": "someone-else",
			"aud": TokenAudience,
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		return s
	}()

	expired := func() string {
		m := NewTokenManager(testSecret, time.Hour)
		m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		s, _, _ := m.Issue(123, "alice")
		return s
	}()

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedUserID uint
	}{
		{"Happy Path", "Bearer " + valid, http.StatusOK, 123},
		{"Missing Header", "", http.StatusUnauthorized, 0},
		{"Invalid Format", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, 0},
		{"Malformed Token", "Bearer malformed.token.here", http.StatusUnauthorized, 0},
		{"Expired Token", "Bearer " + expired, http.StatusUnauthorized, 0},
		{"Wrong Issuer", "Bearer " + foreign, http.StatusUnauthorized, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, float64(tt.expectedUserID), body["userID"])
			}
		})
	}
}

func TestAuthRequired_RevokedToken(t *testing.T) {
	app, tokens, rdb := newAuthApp(t)

	raw, claims, err := tokens.Issue(7, "bob")
	require.NoError(t, err)
	require.NoError(t, Revoke(context.Background(), rdb, claims))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRequired_TicketIsSingleUse(t *testing.T) {
	app, _, rdb := newAuthApp(t)

	ticket, err := IssueTicket(context.Background(), rdb, 42, time.Minute)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test?ticket="+ticket, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/test?ticket="+ticket, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenManager_ClaimsRoundTrip(t *testing.T) {
	tokens := NewTokenManager(testSecret, 15*time.Minute)
	raw, issued, err := tokens.Issue(9, "carol")
	require.NoError(t, err)

	parsed, err := tokens.Parse(raw)
	require.NoError(t, err)
	id, err := parsed.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint(9), id)
	assert.Equal(t, "carol", parsed.Username)
	assert.Equal(t, issued.ID, parsed.ID)
	assert.NotEmpty(t, parsed.ID)

	_, err = NewTokenManager("another-secret-another-secret-000", time.Minute).Parse(raw)
	assert.Error(t, err)
}
