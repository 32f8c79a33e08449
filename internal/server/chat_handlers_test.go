package server

import (
	"fmt"
	"net/http"
	"testing"

	"chatterbox/internal/models"
	"chatterbox/internal/service"
	"chatterbox/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIndividualChat_IsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	_, aliceToken := ts.user(t, "alice")
	bob, bobToken := ts.user(t, "bob")

	resp := ts.do(t, http.MethodPost, "/api/chats/individual", aliceToken, service.CreateIndividualInput{UserID: bob.ID})
	requireStatus(t, resp, http.StatusCreated)
	first := decode[models.Chat](t, resp)
	assert.Equal(t, models.ChatTypeIndividual, first.Type)

	resp = ts.do(t, http.MethodPost, "/api/chats/individual", aliceToken, service.CreateIndividualInput{UserID: bob.ID})
	requireStatus(t, resp, http.StatusOK)
	second := decode[models.Chat](t, resp)
	assert.Equal(t, first.ID, second.ID)

	resp = ts.do(t, http.MethodGet, "/api/chats", bobToken, nil)
	requireStatus(t, resp, http.StatusOK)
	chats := decode[[]models.Chat](t, resp)
	require.Len(t, chats, 1)
	assert.Equal(t, first.ID, chats[0].ID)
}

func TestCreateIndividualChat_WithSelfRejected(t *testing.T) {
	ts := newTestServer(t)
	alice, token := ts.user(t, "alice")

	resp := ts.do(t, http.MethodPost, "/api/chats/individual", token, service.CreateIndividualInput{UserID: alice.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGroupLifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, ownerToken := ts.user(t, "owner")
	bob, bobToken := ts.user(t, "bob")
	carol, _ := ts.user(t, "carol")

	resp := ts.do(t, http.MethodPost, "/api/chats/group", ownerToken, service.CreateGroupInput{
		Name:      "crew",
		MemberIDs: []uint{bob.ID},
	})
	requireStatus(t, resp, http.StatusCreated)
	group := decode[models.Chat](t, resp)
	assert.Equal(t, models.ChatTypeGroup, group.Type)
	base := fmt.Sprintf("/api/chats/%d", group.ID)

	resp = ts.do(t, http.MethodPut, base, bobToken, map[string]string{"name": "mine now"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, base, ownerToken, map[string]string{"name": "crew two"})
	requireStatus(t, resp, http.StatusOK)
	assert.Equal(t, "crew two", decode[models.Chat](t, resp).Name)

	resp = ts.do(t, http.MethodPost, base+"/members", ownerToken, service.AddMembersInput{UserIDs: []uint{carol.ID}})
	requireStatus(t, resp, http.StatusCreated)
	added := decode[struct {
		Added []uint `json:"added"`
	}](t, resp)
	assert.Equal(t, []uint{carol.ID}, added.Added)

	resp = ts.do(t, http.MethodGet, base+"/members", bobToken, nil)
	requireStatus(t, resp, http.StatusOK)
	assert.Len(t, decode[[]models.Member](t, resp), 3)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("%s/members/%d/promote", base, bob.ID), ownerToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("%s/members/%d", base, carol.ID), bobToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, base+"/leave", bobToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, base, ownerToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base, ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatRoutes_InvalidID(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")

	resp := ts.do(t, http.MethodGet, "/api/chats/abc", token, nil)
	requireStatus(t, resp, http.StatusBadRequest)
	body := decode[models.ErrorResponse](t, resp)
	assert.Equal(t, "Invalid ID", body.Error)
	assert.Contains(t, body.Fields, "id")
}

func TestUpdateChatImage(t *testing.T) {
	ts := newTestServer(t)
	owner, token := ts.user(t, "owner")
	bob, _ := ts.user(t, "bob")
	group := testutil.CreateGroup(t, ts.db, "crew", owner, bob)

	resp := ts.upload(t, http.MethodPut, fmt.Sprintf("/api/chats/%d/image", group.ID), token, nil,
		formFile{field: "image", name: "group.png", content: testutil.PNGBytes(32, 32)})
	requireStatus(t, resp, http.StatusOK)
	updated := decode[models.Chat](t, resp)
	assert.NotEmpty(t, updated.Image)
	assert.Equal(t, 1, ts.store.Len())

	resp = ts.upload(t, http.MethodPut, fmt.Sprintf("/api/chats/%d/image", group.ID), token, nil)
	requireStatus(t, resp, http.StatusBadRequest)
	assert.Contains(t, decode[models.ErrorResponse](t, resp).Fields, "image")
}

func TestUserProfileRoutes(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceToken := ts.user(t, "alice")
	_, bobToken := ts.user(t, "bob")

	resp := ts.do(t, http.MethodGet, "/api/users/me", aliceToken, nil)
	requireStatus(t, resp, http.StatusOK)
	assert.Equal(t, alice.ID, decode[models.User](t, resp).ID)

	bio := "hello there"
	resp = ts.do(t, http.MethodPut, "/api/users/me", aliceToken, service.UpdateProfileInput{Bio: &bio})
	requireStatus(t, resp, http.StatusOK)
	assert.Equal(t, bio, decode[models.User](t, resp).Bio)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", alice.ID), bobToken, nil)
	requireStatus(t, resp, http.StatusOK)
	assert.Equal(t, "alice", decode[models.User](t, resp).Username)

	resp = ts.do(t, http.MethodGet, "/api/users/search?q=ali", bobToken, nil)
	requireStatus(t, resp, http.StatusOK)
	found := decode[[]models.User](t, resp)
	require.Len(t, found, 1)
	assert.Equal(t, alice.ID, found[0].ID)

	resp = ts.upload(t, http.MethodPut, "/api/users/me/image", aliceToken, nil,
		formFile{field: "image", name: "me.png", content: testutil.PNGBytes(24, 24)})
	requireStatus(t, resp, http.StatusOK)
	assert.NotEmpty(t, decode[models.User](t, resp).Image)

	resp = ts.do(t, http.MethodDelete, "/api/users/me", aliceToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", alice.ID), bobToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
