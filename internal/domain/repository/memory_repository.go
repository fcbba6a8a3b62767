package repository

import (
	"context"

	"github.com/relaycore/relay/internal/domain/entity"
)

// MemoryRepository persists durable memory rows and serves the
// cross-session summary the dispatch pipeline folds into the system
// prompt. SaveMemory alone satisfies service.MemorySink, so the same
// implementation backs both the context manager's write path and the
// dispatcher's read path.
type MemoryRepository interface {
	SaveMemory(ctx context.Context, m *entity.Memory) error

	// RecentForIdentity returns the most important/recent memories for an
	// identity, for the "cross-session memory summary" prompt block.
	RecentForIdentity(ctx context.Context, identityID string, limit int) ([]*entity.Memory, error)
}
