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

// GormAgentSettingsRepository is the GORM-backed repository.AgentSettingsRepository.
type GormAgentSettingsRepository struct {
	db *gorm.DB
}

// NewGormAgentSettingsRepository creates a GORM agent settings repository.
func NewGormAgentSettingsRepository(db *gorm.DB) repository.AgentSettingsRepository {
	return &GormAgentSettingsRepository{db: db}
}

func (r *GormAgentSettingsRepository) FindByChannel(ctx context.Context, channelID int64) (*entity.AgentSettings, error) {
	var model models.AgentSettingsModel
	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to find agent settings: " + err.Error())
	}
	return &entity.AgentSettings{
		ChannelID:   model.ChannelID,
		Model:       model.Model,
		MaxTokens:   model.MaxTokens,
		Temperature: model.Temperature,
	}, nil
}
