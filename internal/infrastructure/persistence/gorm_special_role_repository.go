package persistence

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/repository"
	"github.com/relaycore/relay/internal/infrastructure/persistence/models"
	domainErrors "github.com/relaycore/relay/pkg/errors"
)

// GormSpecialRoleRepository is the GORM-backed repository.SpecialRoleRepository.
type GormSpecialRoleRepository struct {
	db *gorm.DB
}

// NewGormSpecialRoleRepository creates a GORM special-role repository.
func NewGormSpecialRoleRepository(db *gorm.DB) repository.SpecialRoleRepository {
	return &GormSpecialRoleRepository{db: db}
}

func (r *GormSpecialRoleRepository) FindGrant(ctx context.Context, channelType entity.ChannelType, externalUserID string) (*entity.SpecialRoleGrant, error) {
	var model models.SpecialRoleGrantModel
	err := r.db.WithContext(ctx).
		Where("channel_type = ? AND external_user_id = ?", string(channelType), externalUserID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to find special role grant: " + err.Error())
	}
	return &entity.SpecialRoleGrant{
		ID:             model.ID,
		ChannelType:    entity.ChannelType(model.ChannelType),
		ExternalUserID: model.ExternalUserID,
		RoleName:       model.RoleName,
		ExtraTools:     splitCSV(model.ExtraTools),
		ExtraSkills:    splitCSV(model.ExtraSkills),
	}, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
