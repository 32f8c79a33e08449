package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatterbox/internal/cache"
	"chatterbox/internal/config"
	"chatterbox/internal/mailer"
	"chatterbox/internal/models"
	"chatterbox/internal/storage"
	"chatterbox/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testPassword = "Sup3r-Secret-Pass"

// testServer is a fully wired Server on SQLite, miniredis and a memory store.
type testServer struct {
	*Server
	app   *fiber.App
	db    *gorm.DB
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	store *storage.MemoryStore
	mail  *mailer.LogQueue
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:            "test-secret-test-secret-test-secret",
		AllowedOrigins:       "http://localhost:5173",
		FeatureFlags:         "stories=on,polls=on,oauth=on",
		MediaMaxUploadSizeMB: 5,
		Env:                  "test",
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache.SetClient(rdb)
	t.Cleanup(func() {
		cache.SetClient(nil)
		_ = rdb.Close()
	})

	store := storage.NewMemoryStore()
	mail := mailer.NewLogQueue()
	s, err := NewServerWithDeps(cfg, Deps{DB: db, Redis: rdb, Store: store, Mail: mail})
	require.NoError(t, err)

	return &testServer{
		Server: s,
		app:    s.NewApp(),
		db:     db,
		mr:     mr,
		rdb:    rdb,
		store:  store,
		mail:   mail,
	}
}

// user inserts a user and returns it with a valid access token.
func (ts *testServer) user(t *testing.T, name string) (*models.User, string) {
	t.Helper()
	u := testutil.CreateUser(t, ts.db, name)
	token, _, err := ts.tokens.Issue(u.ID, u.Username)
	require.NoError(t, err)
	return u, token
}

// do sends a JSON request. body may be nil.
func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type formFile struct {
	field, name string
	content     []byte
}

// upload sends a multipart form with the given values and files.
func (ts *testServer) upload(t *testing.T, method, path, token string, values map[string]string, files ...formFile) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func requireStatus(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	if resp.StatusCode != status {
		body, _ := io.ReadAll(resp.Body)
		require.Failf(t, "unexpected status", "want %d, got %d: %s", status, resp.StatusCode, body)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ts.mr.Close()
	resp = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNewServerWithDeps_RequiresStore(t *testing.T) {
	_, err := NewServerWithDeps(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/users/me", "/api/chats", "/api/stories", "/api/blocks", "/api/gifs"} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := ts.do(t, http.MethodGet, "/api/chats", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFeatureRequired(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.FeatureFlags = "polls=on" })
	_, token := ts.user(t, "alice")

	resp := ts.do(t, http.MethodGet, "/api/stories", token, nil)
	requireStatus(t, resp, http.StatusNotFound)
	body := decode[models.ErrorResponse](t, resp)
	assert.Contains(t, body.Fields, "feature")

	resp = ts.do(t, http.MethodGet, "/api/features", token, nil)
	requireStatus(t, resp, http.StatusOK)
	flags := decode[struct {
		Evaluated map[string]bool `json:"evaluated"`
	}](t, resp)
	assert.True(t, flags.Evaluated["polls"])
	assert.False(t, flags.Evaluated["stories"])
}

func TestUnknownRouteUsesErrorBody(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[models.ErrorResponse](t, resp)
	assert.NotEmpty(t, body.Error)
}
