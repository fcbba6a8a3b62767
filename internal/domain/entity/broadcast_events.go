package entity

import "time"

// BroadcastKind enumerates the event kinds published to the pub/sub
// stream (UI/WebSocket/test-harness subscribers). Distinct from
// AgentEventType, which is the internal step-stream returned by the
// tool-call loop to its caller.
type BroadcastKind string

const (
	BroadcastChannelMessage   BroadcastKind = "channel.message"
	BroadcastAgentThinking    BroadcastKind = "agent.thinking"
	BroadcastModeChange       BroadcastKind = "agent.mode_change"
	BroadcastSubtypeChange    BroadcastKind = "agent.subtype_change"
	BroadcastToolCall         BroadcastKind = "agent.tool_call"
	BroadcastToolResult       BroadcastKind = "agent.tool_result"
	BroadcastWarning          BroadcastKind = "agent.warning"
	BroadcastAgentResponse    BroadcastKind = "agent.response"
	BroadcastAgentError       BroadcastKind = "agent.error"
	BroadcastHeartbeat        BroadcastKind = "agent.heartbeat"
	BroadcastToolWaiting      BroadcastKind = "tool.waiting"
	BroadcastTxPending        BroadcastKind = "tx.pending"
	BroadcastTxConfirmed      BroadcastKind = "tx.confirmed"
	BroadcastX402Payment      BroadcastKind = "x402.payment"
	BroadcastSessionComplete  BroadcastKind = "session.complete"
	BroadcastRolloutStatus    BroadcastKind = "rollout.status_change"
	BroadcastBankUpdate       BroadcastKind = "context.bank_update"
	BroadcastCompacting       BroadcastKind = "context.compacting"
	BroadcastQueueUpdate      BroadcastKind = "task.queue_update"
	BroadcastTaskStatusChange BroadcastKind = "task.status_change"
	BroadcastToolsetUpdate    BroadcastKind = "toolset.update"
)

// BroadcastEvent is the envelope published on every kind above. Payload
// carries the kind-specific essentials as a map so
// the single eventbus.Bus implementation doesn't need one Go type per kind.
type BroadcastEvent struct {
	Kind      BroadcastKind
	ChannelID int64
	Timestamp time.Time
	Payload   map[string]any
}

// NewBroadcastEvent stamps the current time onto a new event envelope.
func NewBroadcastEvent(kind BroadcastKind, channelID int64, payload map[string]any) BroadcastEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	return BroadcastEvent{Kind: kind, ChannelID: channelID, Timestamp: time.Now(), Payload: payload}
}
