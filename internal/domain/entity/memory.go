package entity

import "time"

// MemoryType classifies a durable memory row extracted from conversation
// history, either by the pre-compaction marker flush or by the
// compaction summarizer itself.
type MemoryType string

const (
	MemoryPreference MemoryType = "preference"
	MemoryFact       MemoryType = "fact"
	MemoryTask       MemoryType = "task"
	MemoryRemember   MemoryType = "remember"
	MemoryImportant  MemoryType = "remember_important"
	MemoryCompaction MemoryType = "compaction"
)

// DefaultImportance returns the importance score a marker-derived memory
// type carries absent an explicit override; remember_important and
// compaction summaries always rank highest so retrieval prioritizes them.
func (t MemoryType) DefaultImportance() int {
	switch t {
	case MemoryImportant:
		return 9
	case MemoryCompaction:
		return 10
	case MemoryPreference, MemoryTask:
		return 6
	default:
		return 5
	}
}

// Memory is one durable fact persisted outside the message transcript so
// it survives compaction.
type Memory struct {
	ID         int64
	SessionID  int64
	IdentityID string
	Type       MemoryType
	Importance int
	Content    string
	CreatedAt  time.Time
}

// NewMemory creates a memory row, defaulting Importance from Type when the
// caller passes 0.
func NewMemory(sessionID int64, identityID string, kind MemoryType, content string, importance int) *Memory {
	if importance == 0 {
		importance = kind.DefaultImportance()
	}
	return &Memory{
		SessionID:  sessionID,
		IdentityID: identityID,
		Type:       kind,
		Importance: importance,
		Content:    content,
		CreatedAt:  time.Now(),
	}
}
