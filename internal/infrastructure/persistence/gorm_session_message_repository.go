package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/repository"
	"github.com/relaycore/relay/internal/infrastructure/persistence/models"
	domainErrors "github.com/relaycore/relay/pkg/errors"
)

// GormSessionMessageRepository is the GORM-backed repository.SessionMessageRepository.
type GormSessionMessageRepository struct {
	db *gorm.DB
}

// NewGormSessionMessageRepository creates a GORM session message repository.
func NewGormSessionMessageRepository(db *gorm.DB) repository.SessionMessageRepository {
	return &GormSessionMessageRepository{db: db}
}

func (r *GormSessionMessageRepository) Save(ctx context.Context, msg *entity.SessionMessage) error {
	model := &models.SessionMessageModel{
		ID:         msg.ID,
		SessionID:  msg.SessionID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		TokensUsed: msg.TokensUsed,
		ToolName:   msg.ToolName,
		CreatedAt:  msg.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save session message: " + err.Error())
	}
	msg.ID = model.ID
	return nil
}

// RecentForSession returns the last `limit` rows oldest-first, matching
// what assembleMessages needs to replay into the LLM message vector.
func (r *GormSessionMessageRepository) RecentForSession(ctx context.Context, sessionID int64, limit int) ([]*entity.SessionMessage, error) {
	var rows []models.SessionMessageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to load session messages: " + err.Error())
	}

	out := make([]*entity.SessionMessage, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = &entity.SessionMessage{
			ID:         row.ID,
			SessionID:  row.SessionID,
			Role:       entity.SessionRole(row.Role),
			Content:    row.Content,
			TokensUsed: row.TokensUsed,
			ToolName:   row.ToolName,
			CreatedAt:  row.CreatedAt,
		}
	}
	return out, nil
}
