package repository

import (
	"context"
	"errors"
	"time"

	"chatterbox/internal/models"

	"gorm.io/gorm"
)

// PollRepository defines persistence operations for poll votes.
type PollRepository interface {
	GetByMessageID(ctx context.Context, messageID uint) (*models.Poll, error)
	ReplaceVotes(ctx context.Context, pollID, userID uint, optionIDs []uint) error
	DeleteVotes(ctx context.Context, pollID, userID uint) (int64, error)
}

type pollRepository struct {
	db *gorm.DB
}

// NewPollRepository returns a new PollRepository implementation.
func NewPollRepository(db *gorm.DB) PollRepository {
	return &pollRepository{db: db}
}

// GetByMessageID loads the poll with per-option vote counts and voters.
func (r *pollRepository) GetByMessageID(ctx context.Context, messageID uint) (*models.Poll, error) {
	var poll models.Poll
	err := r.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Where("message_id = ?", messageID).
		First(&poll).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundFieldError(map[string]string{"poll": "Message has no poll"})
		}
		return nil, models.NewInternalError(err)
	}

	var votes []models.Vote
	if err := r.db.WithContext(ctx).Where("poll_id = ?", poll.ID).Order("id ASC").Find(&votes).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	byOption := make(map[uint][]uint, len(poll.Options))
	for _, v := range votes {
		byOption[v.OptionID] = append(byOption[v.OptionID], v.UserID)
	}
	for i := range poll.Options {
		voters := byOption[poll.Options[i].ID]
		poll.Options[i].Voters = voters
		poll.Options[i].VoteCount = int64(len(voters))
	}
	return &poll, nil
}

// ReplaceVotes swaps the user's current votes for optionIDs atomically.
func (r *pollRepository) ReplaceVotes(ctx context.Context, pollID, userID uint, optionIDs []uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.PollOption{}).
			Where("poll_id = ? AND id IN ?", pollID, optionIDs).
			Count(&n).Error; err != nil {
			return err
		}
		if int(n) != len(optionIDs) {
			return models.NewFieldError("option_ids", "Unknown poll option")
		}

		if err := tx.Where("poll_id = ? AND user_id = ?", pollID, userID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		now := time.Now()
		for _, optionID := range optionIDs {
			vote := models.Vote{PollID: pollID, OptionID: optionID, UserID: userID, CreatedAt: now}
			if err := tx.Omit("User").Create(&vote).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return internal(err)
}

func (r *pollRepository) DeleteVotes(ctx context.Context, pollID, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("poll_id = ? AND user_id = ?", pollID, userID).Delete(&models.Vote{})
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
