package repository

import (
	"context"

	"github.com/relaycore/relay/internal/domain/entity"
)

// SessionMessageRepository persists the role-tagged transcript rows for a
// session and replays recent history back for the next dispatch.
type SessionMessageRepository interface {
	Save(ctx context.Context, msg *entity.SessionMessage) error

	// RecentForSession returns up to limit most-recent rows for a session,
	// oldest first.
	RecentForSession(ctx context.Context, sessionID int64, limit int) ([]*entity.SessionMessage, error)
}
