package repository

import (
	"context"

	"chatterbox/internal/database"
	"chatterbox/internal/models"

	"gorm.io/gorm"
)

// GifRepository defines persistence operations for favorite GIFs.
type GifRepository interface {
	Create(ctx context.Context, gif *models.FavoriteGif) error
	Delete(ctx context.Context, userID, id uint) (bool, error)
	List(ctx context.Context, userID uint) ([]models.FavoriteGif, error)
}

type gifRepository struct {
	db *gorm.DB
}

// NewGifRepository returns a new GifRepository implementation.
func NewGifRepository(db *gorm.DB) GifRepository {
	return &gifRepository{db: db}
}

func (r *gifRepository) Create(ctx context.Context, gif *models.FavoriteGif) error {
	if err := r.db.WithContext(ctx).Omit("User").Create(gif).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return models.NewFieldError("url", "GIF is already saved")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *gifRepository) Delete(ctx context.Context, userID, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.FavoriteGif{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *gifRepository) List(ctx context.Context, userID uint) ([]models.FavoriteGif, error) {
	var gifs []models.FavoriteGif
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&gifs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return gifs, nil
}
