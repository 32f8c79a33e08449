package repository

import (
	"context"

	"chatterbox/internal/models"

	"gorm.io/gorm"
)

// InviteRepository defines persistence operations for group invites.
type InviteRepository interface {
	Create(ctx context.Context, invite *models.Invite) error
	GetByID(ctx context.Context, id uint) (*models.Invite, error)
	GetByCode(ctx context.Context, code string) (*models.Invite, error)
	ListByChat(ctx context.Context, chatID uint) ([]models.Invite, error)
	Delete(ctx context.Context, id uint) error
}

type inviteRepository struct {
	db *gorm.DB
}

// NewInviteRepository returns a new InviteRepository implementation.
func NewInviteRepository(db *gorm.DB) InviteRepository {
	return &inviteRepository{db: db}
}

func (r *inviteRepository) Create(ctx context.Context, invite *models.Invite) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Chat").Create(invite).Error; err != nil {
			return err
		}
		if !invite.CanUseLink {
			return tx.Model(invite).UpdateColumn("can_use_link", false).Error
		}
		return nil
	})
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *inviteRepository) GetByID(ctx context.Context, id uint) (*models.Invite, error) {
	var invite models.Invite
	if err := r.db.WithContext(ctx).Preload("Chat").First(&invite, id).Error; err != nil {
		return nil, lookupError(err, "Invite", id)
	}
	return &invite, nil
}

func (r *inviteRepository) GetByCode(ctx context.Context, code string) (*models.Invite, error) {
	var invite models.Invite
	if err := r.db.WithContext(ctx).Preload("Chat").Where("code = ?", code).First(&invite).Error; err != nil {
		return nil, lookupError(err, "Invite", code)
	}
	return &invite, nil
}

func (r *inviteRepository) ListByChat(ctx context.Context, chatID uint) ([]models.Invite, error) {
	var invites []models.Invite
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id DESC").Find(&invites).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return invites, nil
}

func (r *inviteRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Invite{}, id)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Invite", id)
	}
	return nil
}
