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

// GormChatSessionRepository is the GORM-backed repository.ChatSessionRepository.
type GormChatSessionRepository struct {
	db *gorm.DB
}

// NewGormChatSessionRepository creates a GORM chat session repository.
func NewGormChatSessionRepository(db *gorm.DB) repository.ChatSessionRepository {
	return &GormChatSessionRepository{db: db}
}

func (r *GormChatSessionRepository) FindByKey(ctx context.Context, sessionKey string) (*entity.ChatSession, error) {
	var model models.ChatSessionModel
	err := r.db.WithContext(ctx).Where("session_key = ?", sessionKey).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to find chat session: " + err.Error())
	}
	return toChatSessionEntity(&model), nil
}

func (r *GormChatSessionRepository) Save(ctx context.Context, session *entity.ChatSession) error {
	model := toChatSessionModel(session)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save chat session: " + err.Error())
	}
	session.ID = model.ID
	return nil
}

func toChatSessionModel(s *entity.ChatSession) *models.ChatSessionModel {
	return &models.ChatSessionModel{
		ID:                  s.ID,
		SessionKey:          s.SessionKey,
		ChannelType:         string(s.ChannelType),
		ChannelID:           s.ChannelID,
		PlatformChatID:      s.PlatformChatID,
		Scope:               string(s.Scope),
		ContextTokens:       s.ContextTokens,
		MaxContextTokens:    s.MaxContextTokens,
		CompactionID:        s.CompactionID,
		LastCompactionMsgID: s.LastCompactionMsgID,
		CompletionStatus:    string(s.CompletionStatus),
		SafeMode:            s.SafeMode,
		SpecialRole:         s.SpecialRole,
		TotalIterations:     s.TotalIterations,
		ModeIterations:      s.ModeIterations,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func toChatSessionEntity(model *models.ChatSessionModel) *entity.ChatSession {
	return &entity.ChatSession{
		ID:                  model.ID,
		SessionKey:          model.SessionKey,
		ChannelType:         entity.ChannelType(model.ChannelType),
		ChannelID:           model.ChannelID,
		PlatformChatID:      model.PlatformChatID,
		Scope:               entity.Scope(model.Scope),
		ContextTokens:       model.ContextTokens,
		MaxContextTokens:    model.MaxContextTokens,
		CompactionID:        model.CompactionID,
		LastCompactionMsgID: model.LastCompactionMsgID,
		CompletionStatus:    entity.CompletionStatus(model.CompletionStatus),
		SafeMode:            model.SafeMode,
		SpecialRole:         model.SpecialRole,
		TotalIterations:     model.TotalIterations,
		ModeIterations:      model.ModeIterations,
		CreatedAt:           model.CreatedAt,
		UpdatedAt:           model.UpdatedAt,
	}
}
