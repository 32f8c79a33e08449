package repository

import (
	"context"
	"testing"
	"time"

	"chatterbox/internal/models"
	"chatterbox/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStory(t *testing.T, repo StoryRepository, userID uint, expires time.Time, excluded ...uint) *models.Story {
	t.Helper()
	s := &models.Story{UserID: userID, Type: models.StoryTypeText, Content: "hello", ExpiresAt: expires}
	for _, id := range excluded {
		s.Exclusions = append(s.Exclusions, models.StoryExclusion{UserID: id})
	}
	require.NoError(t, repo.Create(context.Background(), s))
	return s
}

func TestStoryRepository_FeedVisibility(t *testing.T) {
	db := testutil.NewTestDB(t)
	viewer := testutil.CreateUser(t, db, "viewer")
	friend := testutil.CreateUser(t, db, "friend")
	hider := testutil.CreateUser(t, db, "hider")
	blocked := testutil.CreateUser(t, db, "blocked")
	stranger := testutil.CreateUser(t, db, "stranger")
	testutil.CreateGroup(t, db, "crew", viewer, friend, hider, blocked)
	require.NoError(t, db.Create(&models.Block{BlockerID: viewer.ID, BlockedID: blocked.ID}).Error)

	repo := NewStoryRepository(db)
	later := time.Now().Add(time.Hour)
	own := newStory(t, repo, viewer.ID, later)
	visible := newStory(t, repo, friend.ID, later)
	newStory(t, repo, friend.ID, time.Now().Add(-time.Minute))
	newStory(t, repo, hider.ID, later, viewer.ID)
	newStory(t, repo, blocked.ID, later)
	newStory(t, repo, stranger.ID, later)

	added, err := repo.AddView(context.Background(), visible.ID, viewer.ID)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.AddView(context.Background(), visible.ID, viewer.ID)
	require.NoError(t, err)
	assert.False(t, added)

	feed, err := repo.Feed(context.Background(), viewer.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, own.ID, feed[0].ID)
	assert.Equal(t, visible.ID, feed[1].ID)
	assert.True(t, feed[1].Viewed)
	assert.False(t, feed[0].Viewed)

	excluded, err := repo.IsExcluded(context.Background(), visible.ID, viewer.ID)
	require.NoError(t, err)
	assert.False(t, excluded)
}

func TestStoryRepository_ExpiredSweepQueries(t *testing.T) {
	db := testutil.NewTestDB(t)
	u := testutil.CreateUser(t, db, "author")
	repo := NewStoryRepository(db)
	old := newStory(t, repo, u.ID, time.Now().Add(-2*time.Hour))
	newStory(t, repo, u.ID, time.Now().Add(time.Hour))

	expired, err := repo.ListExpired(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	n, err := repo.DeleteByIDs(context.Background(), []uint{old.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
