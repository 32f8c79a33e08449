package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"chatterbox/internal/models"
	"chatterbox/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers_ProfileRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	alice, token := ts.user(t, "alice")

	resp := ts.do(t, http.MethodGet, "/api/users/me", token, nil)
	requireStatus(t, resp, http.StatusOK)
	me := decode[models.User](t, resp)
	assert.Equal(t, alice.ID, me.ID)
	assert.Equal(t, "alice@example.com", me.Email)

	resp = ts.do(t, http.MethodPut, "/api/users/me", token, map[string]interface{}{
		"bio":            "<b>likes</b> tea",
		"show_last_seen": false,
	})
	requireStatus(t, resp, http.StatusOK)
	updated := decode[models.User](t, resp)
	assert.Equal(t, "likes tea", updated.Bio)
	assert.False(t, updated.ShowLastSeen)

	resp = ts.do(t, http.MethodPut, "/api/users/me", token, map[string]interface{}{"username": "no spaces allowed"})
	requireStatus(t, resp, http.StatusBadRequest)
	assert.Contains(t, decodeError(t, resp).Fields, "username")
}

func TestUsers_OtherProfileHidesEmail(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")
	bob, _ := ts.user(t, "bob")

	resp := ts.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", bob.ID), token, nil)
	requireStatus(t, resp, http.StatusOK)
	got := decode[models.User](t, resp)
	assert.Equal(t, "bob", got.Username)
	assert.Empty(t, got.Email)

	resp = ts.do(t, http.MethodGet, "/api/users/9999", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/users/bob", token, nil)
	requireStatus(t, resp, http.StatusBadRequest)
	assert.Contains(t, decodeError(t, resp).Fields, "id")
}

func TestUsers_Search(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")
	ts.user(t, "alfred")
	ts.user(t, "albert")
	ts.user(t, "bob")

	resp := ts.do(t, http.MethodGet, "/api/users/search?q=Al", token, nil)
	requireStatus(t, resp, http.StatusOK)
	users := decode[[]models.User](t, resp)
	require.Len(t, users, 2)
	assert.Equal(t, "albert", users[0].Username)
	assert.Equal(t, "alfred", users[1].Username)

	resp = ts.do(t, http.MethodGet, "/api/users/search?q=al&limit=1", token, nil)
	requireStatus(t, resp, http.StatusOK)
	assert.Len(t, decode[[]models.User](t, resp), 1)

	resp = ts.do(t, http.MethodGet, "/api/users/search?q=%20", token, nil)
	requireStatus(t, resp, http.StatusBadRequest)
	assert.Contains(t, decodeError(t, resp).Fields, "q")
}

func TestUsers_UpdateImage(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")

	resp := ts.upload(t, http.MethodPut, "/api/users/me/image", token, nil,
		formFile{field: "image", name: "me.png", content: testutil.PNGBytes(64, 64)})
	requireStatus(t, resp, http.StatusOK)
	user := decode[models.User](t, resp)
	assert.True(t, strings.HasPrefix(user.Image, "memory://image/"), user.Image)
	assert.Equal(t, 1, ts.store.Len())

	resp = ts.upload(t, http.MethodPut, "/api/users/me/image", token, nil,
		formFile{field: "image", name: "again.png", content: testutil.PNGBytes(32, 32)})
	requireStatus(t, resp, http.StatusOK)
	assert.Equal(t, 1, ts.store.Len(), "previous avatar is removed")

	resp = ts.upload(t, http.MethodPut, "/api/users/me/image", token, nil,
		formFile{field: "image", name: "notes.txt", content: []byte("not an image")})
	requireStatus(t, resp, http.StatusBadRequest)
	assert.Contains(t, decodeError(t, resp).Fields, "image")
}

func TestUsers_DeleteAccount(t *testing.T) {
	ts := newTestServer(t)
	alice, token := ts.user(t, "alice")
	bob, _ := ts.user(t, "bob")
	testutil.CreateIndividual(t, ts.db, alice, bob)

	resp := ts.do(t, http.MethodDelete, "/api/users/me", token, nil)
	requireStatus(t, resp, http.StatusNoContent)

	var users, chats int64
	require.NoError(t, ts.db.Model(&models.User{}).Where("id = ?", alice.ID).Count(&users).Error)
	require.NoError(t, ts.db.Model(&models.Chat{}).Count(&chats).Error)
	assert.Zero(t, users)
	assert.Zero(t, chats)
}
