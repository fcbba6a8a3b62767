package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/repository"
	"github.com/relaycore/relay/internal/infrastructure/persistence/models"
	domainErrors "github.com/relaycore/relay/pkg/errors"
)

// GormIdentityRepository is the GORM-backed repository.IdentityRepository.
type GormIdentityRepository struct {
	db *gorm.DB
}

// NewGormIdentityRepository creates a GORM identity repository.
func NewGormIdentityRepository(db *gorm.DB) repository.IdentityRepository {
	return &GormIdentityRepository{db: db}
}

func (r *GormIdentityRepository) FindByChannelUser(ctx context.Context, channelType entity.ChannelType, externalUserID string) (*entity.Identity, error) {
	var model models.IdentityModel
	err := r.db.WithContext(ctx).
		Where("channel_type = ? AND external_user_id = ?", string(channelType), externalUserID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to find identity: " + err.Error())
	}
	return toIdentityEntity(&model), nil
}

func (r *GormIdentityRepository) Create(ctx context.Context, identity *entity.Identity) error {
	model := &models.IdentityModel{
		ChannelType:    string(identity.ChannelType),
		ExternalUserID: identity.ExternalUserID,
		DisplayName:    identity.DisplayName,
		CreatedAt:      identity.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to create identity: " + err.Error())
	}
	identity.ID = model.ID
	return nil
}

func toIdentityEntity(model *models.IdentityModel) *entity.Identity {
	return &entity.Identity{
		ID:             model.ID,
		ChannelType:    entity.ChannelType(model.ChannelType),
		ExternalUserID: model.ExternalUserID,
		DisplayName:    model.DisplayName,
		CreatedAt:      model.CreatedAt,
	}
}
