package repository

import (
	"context"
	"slices"

	"chatterbox/internal/database"
	"chatterbox/internal/models"

	"gorm.io/gorm"
)

// BlockRepository defines persistence operations for user blocks.
type BlockRepository interface {
	Create(ctx context.Context, blockerID, blockedID uint) (*models.Block, error)
	Delete(ctx context.Context, blockerID, blockedID uint) (bool, error)
	List(ctx context.Context, blockerID uint) ([]models.Block, error)
	Blocks(ctx context.Context, blockerID, blockedID uint) (bool, error)
	Between(ctx context.Context, a, b uint) (bool, error)
	BlockersOf(ctx context.Context, blockedID uint, candidates []uint) ([]uint, error)
	BlockedAmong(ctx context.Context, userID uint, candidates []uint) ([]uint, error)
}

type blockRepository struct {
	db *gorm.DB
}

// NewBlockRepository returns a new BlockRepository implementation.
func NewBlockRepository(db *gorm.DB) BlockRepository {
	return &blockRepository{db: db}
}

func (r *blockRepository) Create(ctx context.Context, blockerID, blockedID uint) (*models.Block, error) {
	block := &models.Block{BlockerID: blockerID, BlockedID: blockedID}
	if err := r.db.WithContext(ctx).Omit("Blocker", "Blocked").Create(block).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, models.NewFieldError("user_id", "User is already blocked")
		}
		return nil, models.NewInternalError(err)
	}
	return block, nil
}

func (r *blockRepository) Delete(ctx context.Context, blockerID, blockedID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).Delete(&models.Block{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *blockRepository) List(ctx context.Context, blockerID uint) ([]models.Block, error) {
	var blocks []models.Block
	if err := r.db.WithContext(ctx).Preload("Blocked").
		Where("blocker_id = ?", blockerID).
		Order("id DESC").
		Find(&blocks).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return blocks, nil
}

// Blocks reports whether blockerID has blocked blockedID.
func (r *blockRepository) Blocks(ctx context.Context, blockerID, blockedID uint) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Block{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Count(&n).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return n > 0, nil
}

// Between reports a block in either direction.
func (r *blockRepository) Between(ctx context.Context, a, b uint) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&n).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return n > 0, nil
}

// BlockersOf returns the candidates that have blocked blockedID.
func (r *blockRepository) BlockersOf(ctx context.Context, blockedID uint, candidates []uint) ([]uint, error) {
	var ids []uint
	if len(candidates) == 0 {
		return ids, nil
	}
	if err := r.db.WithContext(ctx).Model(&models.Block{}).
		Where("blocked_id = ? AND blocker_id IN ?", blockedID, candidates).
		Pluck("blocker_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

// BlockedAmong returns the candidates with a block in either direction
// between them and userID.
func (r *blockRepository) BlockedAmong(ctx context.Context, userID uint, candidates []uint) ([]uint, error) {
	var rows []models.Block
	if len(candidates) == 0 {
		return []uint{}, nil
	}
	if err := r.db.WithContext(ctx).
		Where("(blocker_id = ? AND blocked_id IN ?) OR (blocked_id = ? AND blocker_id IN ?)", userID, candidates, userID, candidates).
		Find(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	ids := make([]uint, 0, len(rows))
	for _, b := range rows {
		other := b.BlockedID
		if other == userID {
			other = b.BlockerID
		}
		if !slices.Contains(ids, other) {
			ids = append(ids, other)
		}
	}
	return ids, nil
}
