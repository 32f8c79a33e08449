package service

import (
	"context"

	"chatterbox/internal/cache"
	"chatterbox/internal/models"
	"chatterbox/internal/repository"
)

// BlockService manages user blocks.
type BlockService struct {
	blocks repository.BlockRepository
	users  repository.UserRepository
}

// NewBlockService returns a new BlockService.
func NewBlockService(blocks repository.BlockRepository, users repository.UserRepository) *BlockService {
	return &BlockService{blocks: blocks, users: users}
}

// Block stops targetID from contacting userID.
func (s *BlockService) Block(ctx context.Context, userID, targetID uint) (*models.Block, error) {
	if userID == targetID {
		return nil, models.NewFieldError("user_id", "You cannot block yourself")
	}
	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return nil, err
	}
	block, err := s.blocks.Create(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	s.evictLists(ctx, userID, targetID)
	return block, nil
}

// Unblock lifts a block.
func (s *BlockService) Unblock(ctx context.Context, userID, targetID uint) error {
	removed, err := s.blocks.Delete(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotFoundFieldError(map[string]string{"user_id": "User is not blocked"})
	}
	s.evictLists(ctx, userID, targetID)
	return nil
}

// ListBlocked returns the users blocked by userID.
func (s *BlockService) ListBlocked(ctx context.Context, userID uint) ([]models.Block, error) {
	blocks, err := s.blocks.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range blocks {
		if blocks[i].Blocked != nil {
			u := blocks[i].Blocked.PublicView(userID)
			blocks[i].Blocked = &u
		}
	}
	return blocks, nil
}

// IsBlocked reports a block between a and b in either direction.
func (s *BlockService) IsBlocked(ctx context.Context, a, b uint) (bool, error) {
	return s.blocks.Between(ctx, a, b)
}

func (s *BlockService) evictLists(ctx context.Context, ids ...uint) {
	evict(ctx, cache.NewInvalidation().ChatLists(ids...).User(ids...))
}
