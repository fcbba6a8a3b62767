package entity

import "time"

// Scope classifies a ChatSession by the kind of conversation it represents.
type Scope string

const (
	ScopeDM    Scope = "dm"
	ScopeGroup Scope = "group"
	ScopeCron  Scope = "cron"
)

// CompletionStatus is the terminal/non-terminal lifecycle state of a session.
type CompletionStatus string

const (
	StatusActive    CompletionStatus = "Active"
	StatusComplete  CompletionStatus = "Complete"
	StatusFailed    CompletionStatus = "Failed"
	StatusCancelled CompletionStatus = "Cancelled"
)

// IsTerminal reports whether s is one of the session-ending states.
func (s CompletionStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// ChatSession identifies a persistent conversation. Gateway-channel
// sessions (Discord/Telegram) are recreated fresh per inbound message;
// all other channel types reuse the existing row keyed by SessionKey.
type ChatSession struct {
	ID                     int64
	SessionKey             string
	ChannelType            ChannelType
	ChannelID              int64
	PlatformChatID         string
	Scope                  Scope

	ContextTokens          int
	MaxContextTokens       int
	CompactionID           *int64
	LastCompactionMsgID    *int64
	CompletionStatus       CompletionStatus
	SafeMode               bool
	SpecialRole            string

	TotalIterations int
	ModeIterations  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewChatSession constructs a fresh, Active session.
func NewChatSession(sessionKey string, channelType ChannelType, channelID int64, platformChatID string, scope Scope, maxContextTokens int) *ChatSession {
	now := time.Now()
	return &ChatSession{
		SessionKey:       sessionKey,
		ChannelType:      channelType,
		ChannelID:        channelID,
		PlatformChatID:   platformChatID,
		Scope:            scope,
		MaxContextTokens: maxContextTokens,
		CompletionStatus: StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ResetIfTerminal resets a terminal session back to Active, per the
// invariant that the next inbound message on a terminal session revives it.
// Returns true if a reset actually happened.
func (s *ChatSession) ResetIfTerminal() bool {
	if !s.CompletionStatus.IsTerminal() {
		return false
	}
	s.CompletionStatus = StatusActive
	s.TotalIterations = 0
	s.ModeIterations = 0
	s.UpdatedAt = time.Now()
	return true
}

// IsGatewayChannel reports whether this channel type creates a fresh
// session per inbound message rather than reusing one across the
// conversation.
func (c ChannelType) IsGatewayChannel() bool {
	return c == ChannelDiscord || c == ChannelTelegram
}

// AddContextTokens grows the monotone token estimate for this session.
// Only compaction is allowed to reduce ContextTokens.
func (s *ChatSession) AddContextTokens(n int) {
	if n > 0 {
		s.ContextTokens += n
	}
}

// ApplyCompaction records the effect of a compaction pass: a new token
// estimate and the compaction/message-id bookmarks.
func (s *ChatSession) ApplyCompaction(newTokens int, compactionID, lastMessageID int64) {
	s.ContextTokens = newTokens
	s.CompactionID = &compactionID
	s.LastCompactionMsgID = &lastMessageID
	s.UpdatedAt = time.Now()
}
