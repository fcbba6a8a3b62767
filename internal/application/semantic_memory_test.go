package application

import (
	"context"
	"testing"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/memory"
)

// fakeEmbedder turns each text's character count into a 1-dimensional "vector" so
// recall ordering is deterministic without a real embedding model.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int { return 1 }

type fakeMemoryRecordRepo struct {
	saved []*entity.Memory
}

func (r *fakeMemoryRecordRepo) SaveMemory(ctx context.Context, m *entity.Memory) error {
	r.saved = append(r.saved, m)
	return nil
}

func (r *fakeMemoryRecordRepo) RecentForIdentity(ctx context.Context, identityID string, limit int) ([]*entity.Memory, error) {
	return nil, nil
}

func TestVectorMemoryIndex_Recall(t *testing.T) {
	mgr := memory.NewMemoryManager(memory.NewInMemoryVectorStore(), fakeEmbedder{})
	ctx := context.Background()

	if _, err := mgr.Remember(ctx, "likes terse replies", map[string]interface{}{"user_id": "u1"}); err != nil {
		t.Fatalf("remember failed: %v", err)
	}
	if _, err := mgr.Remember(ctx, "prefers dark mode UI themes consistently", map[string]interface{}{"user_id": "u1"}); err != nil {
		t.Fatalf("remember failed: %v", err)
	}

	idx := NewVectorMemoryIndex(mgr)
	out, err := idx.Recall(ctx, "u1", "likes terse replies", 1)
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected topK to cap the result at 1, got %d", len(out))
	}
	if out[0].Content == "" {
		t.Errorf("expected a non-empty recalled memory content")
	}
}

func TestIndexedMemoryRepository_SaveMemoryIndexesContent(t *testing.T) {
	mgr := memory.NewMemoryManager(memory.NewInMemoryVectorStore(), fakeEmbedder{})
	base := &fakeMemoryRecordRepo{}
	repo := NewIndexedMemoryRepository(base, mgr)

	ctx := context.Background()
	mem := entity.NewMemory(1, "u1", entity.MemoryFact, "uses Go professionally", 0)
	if err := repo.SaveMemory(ctx, mem); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if len(base.saved) != 1 || base.saved[0].Content != "uses Go professionally" {
		t.Fatalf("expected the underlying repository to receive the save, got %+v", base.saved)
	}

	recalled, err := mgr.Recall(ctx, "uses Go professionally", 5, &memory.SearchFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if len(recalled) != 1 || recalled[0].Content != "uses Go professionally" {
		t.Fatalf("expected the saved memory to also be indexed for semantic recall, got %+v", recalled)
	}
}
