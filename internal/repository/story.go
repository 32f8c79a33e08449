package repository

import (
	"context"
	"time"

	"chatterbox/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoryRepository defines persistence operations for stories and their views.
type StoryRepository interface {
	Create(ctx context.Context, story *models.Story) error
	GetByID(ctx context.Context, id uint) (*models.Story, error)
	Feed(ctx context.Context, viewerID uint, now time.Time) ([]models.Story, error)
	IsExcluded(ctx context.Context, storyID, userID uint) (bool, error)
	AddView(ctx context.Context, storyID, userID uint) (bool, error)
	Views(ctx context.Context, storyID uint) ([]models.StoryView, error)
	Delete(ctx context.Context, id uint) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Story, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
}

type storyRepository struct {
	db *gorm.DB
}

// NewStoryRepository returns a new StoryRepository implementation.
func NewStoryRepository(db *gorm.DB) StoryRepository {
	return &storyRepository{db: db}
}

func (r *storyRepository) Create(ctx context.Context, story *models.Story) error {
	if err := r.db.WithContext(ctx).Omit("User", "Views").Create(story).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *storyRepository) GetByID(ctx context.Context, id uint) (*models.Story, error) {
	var story models.Story
	if err := r.db.WithContext(ctx).Preload("User").First(&story, id).Error; err != nil {
		return nil, lookupError(err, "Story", id)
	}
	return &story, nil
}

// Feed returns unexpired stories visible to the viewer: their own and those
// of users sharing a chat with them, minus exclusions and blocks either way.
func (r *storyRepository) Feed(ctx context.Context, viewerID uint, now time.Time) ([]models.Story, error) {
	db := readDB(r.db).WithContext(ctx)
	partners := db.Session(&gorm.Session{NewDB: true}).
		Table("members AS m2").
		Select("m2.user_id").
		Joins("JOIN members m1 ON m1.chat_id = m2.chat_id").
		Where("m1.user_id = ?", viewerID)

	var stories []models.Story
	err := db.
		Preload("User").
		Where("stories.expires_at > ?", now).
		Where("(stories.user_id = ? OR stories.user_id IN (?))", viewerID, partners).
		Where("NOT EXISTS (SELECT 1 FROM story_exclusions se WHERE se.story_id = stories.id AND se.user_id = ?)", viewerID).
		Where(`NOT EXISTS (SELECT 1 FROM blocks b WHERE
			(b.blocker_id = stories.user_id AND b.blocked_id = ?) OR
			(b.blocker_id = ? AND b.blocked_id = stories.user_id))`, viewerID, viewerID).
		Order("stories.user_id ASC, stories.created_at ASC, stories.id ASC").
		Find(&stories).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(stories) == 0 {
		return stories, nil
	}

	ids := make([]uint, len(stories))
	for i := range stories {
		ids[i] = stories[i].ID
	}
	var viewed []uint
	if err := db.Session(&gorm.Session{NewDB: true}).Model(&models.StoryView{}).
		Where("user_id = ? AND story_id IN ?", viewerID, ids).
		Pluck("story_id", &viewed).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	seen := make(map[uint]bool, len(viewed))
	for _, id := range viewed {
		seen[id] = true
	}
	for i := range stories {
		stories[i].Viewed = seen[stories[i].ID]
	}
	return stories, nil
}

func (r *storyRepository) IsExcluded(ctx context.Context, storyID, userID uint) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.StoryExclusion{}).
		Where("story_id = ? AND user_id = ?", storyID, userID).Count(&n).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return n > 0, nil
}

// AddView records the first view and reports whether a row was inserted.
func (r *storyRepository) AddView(ctx context.Context, storyID, userID uint) (bool, error) {
	view := models.StoryView{StoryID: storyID, UserID: userID, ViewedAt: time.Now()}
	res := r.db.WithContext(ctx).Omit("User").
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "story_id"}, {Name: "user_id"}}, DoNothing: true}).
		Create(&view)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *storyRepository) Views(ctx context.Context, storyID uint) ([]models.StoryView, error) {
	var views []models.StoryView
	if err := r.db.WithContext(ctx).Preload("User").
		Where("story_id = ?", storyID).
		Order("viewed_at DESC, id DESC").
		Find(&views).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return views, nil
}

func (r *storyRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Story{}, id)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Story", id)
	}
	return nil
}

func (r *storyRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Story, error) {
	var stories []models.Story
	if err := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&stories).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return stories, nil
}

func (r *storyRepository) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Story{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
