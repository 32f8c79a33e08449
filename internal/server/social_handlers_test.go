package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"chatterbox/internal/models"
	"chatterbox/internal/service"
	"chatterbox/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocks(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceToken := ts.user(t, "alice")
	bob, bobToken := ts.user(t, "bob")

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/blocks/%d", bob.ID), aliceToken, nil)
	requireStatus(t, resp, http.StatusCreated)
	block := decode[models.Block](t, resp)
	assert.Equal(t, alice.ID, block.BlockerID)
	assert.Equal(t, bob.ID, block.BlockedID)

	resp = ts.do(t, http.MethodGet, "/api/blocks", aliceToken, nil)
	requireStatus(t, resp, http.StatusOK)
	assert.Len(t, decode[[]models.Block](t, resp), 1)

	resp = ts.do(t, http.MethodPost, "/api/chats/individual", bobToken, service.CreateIndividualInput{UserID: alice.ID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/blocks/%d", alice.ID), aliceToken, nil)
	requireStatus(t, resp, http.StatusBadRequest)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/blocks/%d", bob.ID), aliceToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/chats/individual", bobToken, service.CreateIndividualInput{UserID: alice.ID})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/blocks/abc", aliceToken, nil)
	requireStatus(t, resp, http.StatusBadRequest)
	assert.Equal(t, "Invalid user ID", decode[models.ErrorResponse](t, resp).Error)
}

func TestGifs(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")
	_, otherToken := ts.user(t, "bob")

	in := service.AddGifInput{URL: "https://media.example.com/cat.gif", PreviewURL: "https://media.example.com/cat.webp"}
	resp := ts.do(t, http.MethodPost, "/api/gifs", token, in)
	requireStatus(t, resp, http.StatusCreated)
	gif := decode[models.FavoriteGif](t, resp)
	assert.Equal(t, in.URL, gif.URL)

	resp = ts.do(t, http.MethodPost, "/api/gifs", token, in)
	requireStatus(t, resp, http.StatusBadRequest)
	assert.Contains(t, decode[models.ErrorResponse](t, resp).Fields, "url")

	resp = ts.do(t, http.MethodPost, "/api/gifs", token, service.AddGifInput{URL: "ftp://media.example.com/cat.gif"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/gifs", token, nil)
	requireStatus(t, resp, http.StatusOK)
	assert.Len(t, decode[[]models.FavoriteGif](t, resp), 1)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/gifs/%d", gif.ID), otherToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/gifs/%d", gif.ID), token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPresence(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceToken := ts.user(t, "alice")
	bob, _ := ts.user(t, "bob")
	testutil.CreateIndividual(t, ts.db, alice, bob)

	resp := ts.do(t, http.MethodGet, fmt.Sprintf("/api/presence?ids=%d,%d", alice.ID, bob.ID), aliceToken, nil)
	requireStatus(t, resp, http.StatusOK)
	statuses := decode[[]service.PresenceStatus](t, resp)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.False(t, s.Online)
	}

	resp = ts.do(t, http.MethodGet, "/api/presence?ids=1,two", aliceToken, nil)
	requireStatus(t, resp, http.StatusBadRequest)
	assert.Contains(t, decode[models.ErrorResponse](t, resp).Fields, "ids")

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i+1)
	}
	resp = ts.do(t, http.MethodGet, "/api/presence?ids="+strings.Join(ids, ","), aliceToken, nil)
	requireStatus(t, resp, http.StatusBadRequest)
	assert.Contains(t, decode[models.ErrorResponse](t, resp).Fields, "ids")
}
