package repository

import (
	"context"

	"github.com/relaycore/relay/internal/domain/entity"
)

// AgentSettingsRepository loads the per-channel LLM configuration. A
// missing row is not an error — callers fall back to
// entity.DefaultAgentSettings.
type AgentSettingsRepository interface {
	FindByChannel(ctx context.Context, channelID int64) (*entity.AgentSettings, error)
}
