package application

import (
	"context"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/memory"
	"github.com/relaycore/relay/internal/domain/repository"
	"github.com/relaycore/relay/internal/domain/service"
)

// vectorMemoryIndex adapts memory.MemoryManager's embed-then-search recall
// to the narrow service.MemoryIndex seam the dispatch pipeline depends on.
type vectorMemoryIndex struct {
	mgr *memory.MemoryManager
}

// NewVectorMemoryIndex wraps a configured memory manager (Ollama embedder
// over a LanceDB or in-process vector store) as a service.MemoryIndex.
func NewVectorMemoryIndex(mgr *memory.MemoryManager) service.MemoryIndex {
	return &vectorMemoryIndex{mgr: mgr}
}

func (v *vectorMemoryIndex) Recall(ctx context.Context, identityID, query string, topK int) ([]service.RecalledMemory, error) {
	entries, err := v.mgr.Recall(ctx, query, topK, &memory.SearchFilter{UserID: identityID})
	if err != nil {
		return nil, err
	}
	out := make([]service.RecalledMemory, len(entries))
	for i, e := range entries {
		out[i] = service.RecalledMemory{Content: e.Content, Score: e.Score}
	}
	return out, nil
}

// indexedMemoryRepository decorates a repository.MemoryRepository so every
// saved memory is also embedded into the vector index, keeping the
// semantic-recall blend in sync with the recency/importance-ordered store
// without the context manager or dispatcher needing to know the index
// exists.
type indexedMemoryRepository struct {
	repository.MemoryRepository
	mgr *memory.MemoryManager
}

// NewIndexedMemoryRepository wraps repo so SaveMemory also indexes the
// memory's content for semantic recall. Indexing failures are non-fatal:
// the durable row is already saved, so a degraded embedder only costs
// future recall quality, not data loss.
func NewIndexedMemoryRepository(repo repository.MemoryRepository, mgr *memory.MemoryManager) repository.MemoryRepository {
	return &indexedMemoryRepository{MemoryRepository: repo, mgr: mgr}
}

func (r *indexedMemoryRepository) SaveMemory(ctx context.Context, m *entity.Memory) error {
	if err := r.MemoryRepository.SaveMemory(ctx, m); err != nil {
		return err
	}
	_, _ = r.mgr.Remember(ctx, m.Content, map[string]interface{}{
		"user_id": m.IdentityID,
		"type":    string(m.Type),
	})
	return nil
}
