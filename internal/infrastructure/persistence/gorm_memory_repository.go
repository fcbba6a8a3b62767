package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/repository"
	"github.com/relaycore/relay/internal/infrastructure/persistence/models"
	domainErrors "github.com/relaycore/relay/pkg/errors"
)

// GormMemoryRepository is the GORM-backed repository.MemoryRepository. It
// satisfies service.MemorySink through SaveMemory alone, so the same
// instance backs both the context manager's write path and the
// dispatcher's cross-session memory-summary read path.
type GormMemoryRepository struct {
	db *gorm.DB
}

// NewGormMemoryRepository creates a GORM memory repository.
func NewGormMemoryRepository(db *gorm.DB) repository.MemoryRepository {
	return &GormMemoryRepository{db: db}
}

func (r *GormMemoryRepository) SaveMemory(ctx context.Context, m *entity.Memory) error {
	model := &models.MemoryModel{
		ID:         m.ID,
		SessionID:  m.SessionID,
		IdentityID: m.IdentityID,
		Type:       string(m.Type),
		Importance: m.Importance,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save memory: " + err.Error())
	}
	m.ID = model.ID
	return nil
}

// RecentForIdentity orders by importance then recency, matching the
// "cross-session memory summary" prompt block's need for the
// highest-signal rows first.
func (r *GormMemoryRepository) RecentForIdentity(ctx context.Context, identityID string, limit int) ([]*entity.Memory, error) {
	var rows []models.MemoryModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("importance desc, created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to load memories: " + err.Error())
	}

	out := make([]*entity.Memory, len(rows))
	for i, row := range rows {
		out[i] = &entity.Memory{
			ID:         row.ID,
			SessionID:  row.SessionID,
			IdentityID: row.IdentityID,
			Type:       entity.MemoryType(row.Type),
			Importance: row.Importance,
			Content:    row.Content,
			CreatedAt:  row.CreatedAt,
		}
	}
	return out, nil
}
