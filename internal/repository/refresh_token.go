package repository

import (
	"context"
	"errors"
	"time"

	"chatterbox/internal/models"

	"gorm.io/gorm"
)

// ErrTokenReused is returned when a refresh token that was already rotated
// is presented again.
var ErrTokenReused = errors.New("refresh token reused")

// RefreshTokenRepository defines persistence operations for refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, old *models.RefreshToken, next *models.RefreshToken) error
	RevokeFamily(ctx context.Context, familyID string) error
	RevokeAllForUser(ctx context.Context, userID uint) error
}

type refreshTokenRepository struct {
	db *gorm.DB
}

// NewRefreshTokenRepository returns a new RefreshTokenRepository implementation.
func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if err := r.db.WithContext(ctx).Omit("User").Create(token).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// GetByHash returns nil, nil for unknown tokens.
func (r *refreshTokenRepository) GetByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &token, nil
}

// Rotate revokes old and stores next in its family. A concurrent rotation of
// the same token loses with ErrTokenReused.
func (r *refreshTokenRepository) Rotate(ctx context.Context, old *models.RefreshToken, next *models.RefreshToken) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", old.ID).
			Updates(map[string]interface{}{"revoked_at": time.Now(), "replaced_by_hash": next.TokenHash})
		if res.Error != nil {
			return models.NewInternalError(res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTokenReused
		}
		next.FamilyID = old.FamilyID
		next.UserID = old.UserID
		if err := tx.Omit("User").Create(next).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}

func (r *refreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	if err := r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Update("revoked_at", time.Now()).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *refreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uint) error {
	if err := r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now()).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
