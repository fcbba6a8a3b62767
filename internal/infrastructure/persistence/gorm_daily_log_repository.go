package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/relaycore/relay/internal/domain/repository"
	"github.com/relaycore/relay/internal/infrastructure/persistence/models"
	domainErrors "github.com/relaycore/relay/pkg/errors"
)

// GormDailyLogRepository is the GORM-backed repository.DailyLogRepository.
type GormDailyLogRepository struct {
	db *gorm.DB
}

// NewGormDailyLogRepository creates a GORM daily-log repository.
func NewGormDailyLogRepository(db *gorm.DB) repository.DailyLogRepository {
	return &GormDailyLogRepository{db: db}
}

func (r *GormDailyLogRepository) TodayFor(ctx context.Context, identityID string) (string, error) {
	today := time.Now().UTC().Format("2006-01-02")
	var model models.DailyLogModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ? AND log_date = ?", identityID, today).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", domainErrors.NewInternalError("failed to load daily log: " + err.Error())
	}
	return model.Content, nil
}
