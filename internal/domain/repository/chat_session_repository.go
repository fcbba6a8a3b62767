package repository

import (
	"context"

	"github.com/relaycore/relay/internal/domain/entity"
)

// ChatSessionRepository persists ChatSession rows, keyed by SessionKey —
// a stable string the dispatcher derives from (channel_type, chat_id) for
// reused sessions, or a fresh uuid-suffixed key for gateway channels that
// start a new session per inbound message.
type ChatSessionRepository interface {
	FindByKey(ctx context.Context, sessionKey string) (*entity.ChatSession, error)
	Save(ctx context.Context, session *entity.ChatSession) error
}
