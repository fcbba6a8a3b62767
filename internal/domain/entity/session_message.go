package entity

import "time"

// SessionRole tags a persisted transcript row. ToolCall/ToolResult rows
// are kept for display/replay but are never fed back to the AI client as
// chat turns — the tool-call loop re-expresses tool history per archetype.
type SessionRole string

const (
	RoleUser       SessionRole = "User"
	RoleAssistant  SessionRole = "Assistant"
	RoleSystem     SessionRole = "System"
	RoleToolCall   SessionRole = "ToolCall"
	RoleToolResult SessionRole = "ToolResult"
)

// FeedsLLM reports whether rows of this role are replayed into the chat
// history sent to the model.
func (r SessionRole) FeedsLLM() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// SessionMessage is one role-tagged row in a session's transcript.
type SessionMessage struct {
	ID         int64
	SessionID  int64
	Role       SessionRole
	Content    string
	TokensUsed int
	ToolName   string // set for ToolCall/ToolResult rows
	CreatedAt  time.Time
}

// NewSessionMessage builds a transcript row with a token estimate already
// computed by the caller (see service.EstimateTokens).
func NewSessionMessage(sessionID int64, role SessionRole, content string, tokens int) *SessionMessage {
	return &SessionMessage{
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		TokensUsed: tokens,
		CreatedAt:  time.Now(),
	}
}
