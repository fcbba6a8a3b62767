package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryEntry is one stored memory: its text, embedding, and recall metadata.
type MemoryEntry struct {
	ID        string                 // stable identifier
	Content   string                 // raw text
	Embedding []float32              // vector embedding
	Metadata  map[string]interface{} // caller-supplied tags
	Score     float32                // similarity score, set on recall only
	CreatedAt time.Time
	UpdatedAt time.Time
	SessionID string
	UserID    string
}

// VectorStore persists MemoryEntry rows and serves similarity search over them.
type VectorStore interface {
	Insert(ctx context.Context, entry *MemoryEntry) error
	Search(ctx context.Context, query []float32, topK int, filter *SearchFilter) ([]*MemoryEntry, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, entry *MemoryEntry) error
	// GetBySession returns every memory recorded against sessionID.
	GetBySession(ctx context.Context, sessionID string) ([]*MemoryEntry, error)
}

// SearchFilter narrows a Search call to a user, session, score floor, and/or
// creation-time window; zero-value fields are unconstrained.
type SearchFilter struct {
	UserID    string
	SessionID string
	MinScore  float32
	TimeRange *TimeRange
}

// TimeRange bounds SearchFilter to entries created within [Start, End].
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// EmbeddingProvider turns text into fixed-dimension vectors for recall.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// MemoryManager is the embed-then-store/embed-then-search front door onto a
// VectorStore; callers never touch embeddings directly.
type MemoryManager struct {
	store    VectorStore
	embedder EmbeddingProvider
	mu       sync.RWMutex
}

// NewMemoryManager pairs a store with the embedder used for both writes and
// queries — mixing embedders across the two would make similarity scores
// meaningless.
func NewMemoryManager(store VectorStore, embedder EmbeddingProvider) *MemoryManager {
	return &MemoryManager{
		store:    store,
		embedder: embedder,
	}
}

// Remember embeds content and stores it, pulling user_id/session_id out of
// metadata into the entry's own fields so SearchFilter can match on them.
func (m *MemoryManager) Remember(ctx context.Context, content string, metadata map[string]interface{}) (*MemoryEntry, error) {
	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	id := generateID(content)

	entry := &MemoryEntry{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if userID, ok := metadata["user_id"].(string); ok {
		entry.UserID = userID
	}
	if sessionID, ok := metadata["session_id"].(string); ok {
		entry.SessionID = sessionID
	}

	if err := m.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	return entry, nil
}

// Recall embeds query and returns the topK nearest memories matching filter.
func (m *MemoryManager) Recall(ctx context.Context, query string, topK int, filter *SearchFilter) ([]*MemoryEntry, error) {
	queryEmbed, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := m.store.Search(ctx, queryEmbed, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}

	return results, nil
}

// Forget removes a stored memory by ID.
func (m *MemoryManager) Forget(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// generateID derives a content-addressed-looking ID; the timestamp salt
// keeps repeated Remember calls with identical content from colliding.
func generateID(content string) string {
	hash := sha256.Sum256([]byte(content + time.Now().String()))
	return hex.EncodeToString(hash[:16])
}

// InMemoryVectorStore is a process-local VectorStore for tests and small
// deployments that don't warrant an external vector database.
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	entries map[string]*MemoryEntry
}

// NewInMemoryVectorStore returns an empty in-process store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		entries: make(map[string]*MemoryEntry),
	}
}

func (s *InMemoryVectorStore) Insert(ctx context.Context, entry *MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.ID] = entry
	return nil
}

// Search ranks every entry passing filter by cosine similarity to query and
// returns the top topK.
func (s *InMemoryVectorStore) Search(ctx context.Context, query []float32, topK int, filter *SearchFilter) ([]*MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entry *MemoryEntry
		score float32
	}

	var candidates []scored

	for _, entry := range s.entries {
		if filter != nil {
			if filter.UserID != "" && entry.UserID != filter.UserID {
				continue
			}
			if filter.SessionID != "" && entry.SessionID != filter.SessionID {
				continue
			}
			if filter.TimeRange != nil {
				if entry.CreatedAt.Before(filter.TimeRange.Start) || entry.CreatedAt.After(filter.TimeRange.End) {
					continue
				}
			}
		}

		score := cosineSimilarity(query, entry.Embedding)

		if filter != nil && score < filter.MinScore {
			continue
		}

		candidates = append(candidates, scored{entry: entry, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]*MemoryEntry, len(candidates))
	for i, c := range candidates {
		entryCopy := *c.entry
		entryCopy.Score = c.score
		results[i] = &entryCopy
	}

	return results, nil
}

func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	return nil
}

func (s *InMemoryVectorStore) Update(ctx context.Context, entry *MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; !exists {
		return fmt.Errorf("memory not found: %s", entry.ID)
	}

	entry.UpdatedAt = time.Now()
	s.entries[entry.ID] = entry
	return nil
}

func (s *InMemoryVectorStore) GetBySession(ctx context.Context, sessionID string) ([]*MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*MemoryEntry
	for _, entry := range s.entries {
		if entry.SessionID == sessionID {
			results = append(results, entry)
		}
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (sqrt(normA) * sqrt(normB))
}

// sqrt avoids pulling in math.Sqrt's float64 round trip for a float32 input;
// ten Newton iterations is comfortably enough precision for similarity scoring.
func sqrt(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}

// SimpleEmbedder is a dependency-free EmbeddingProvider for tests: a
// character-hash bag-of-words, not a real semantic embedding.
type SimpleEmbedder struct {
	dimension int
}

// NewSimpleEmbedder returns a SimpleEmbedder producing vectors of dimension.
func NewSimpleEmbedder(dimension int) *SimpleEmbedder {
	return &SimpleEmbedder{dimension: dimension}
}

// Embed hashes each character of each word into a bucket and L2-normalizes
// the result — enough structure for tests to exercise similarity ranking
// without depending on a real model.
func (e *SimpleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.dimension)

	words := strings.Fields(text)
	for _, word := range words {
		for i, char := range word {
			idx := (int(char) + i) % e.dimension
			embedding[idx] += 1.0
		}
	}

	var norm float32
	for _, v := range embedding {
		norm += v * v
	}
	if norm > 0 {
		norm = sqrt(norm)
		for i := range embedding {
			embedding[i] /= norm
		}
	}

	return embedding, nil
}

func (e *SimpleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = emb
	}
	return results, nil
}

func (e *SimpleEmbedder) Dimension() int {
	return e.dimension
}
