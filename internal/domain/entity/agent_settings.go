package entity

// AgentSettings is the per-channel LLM configuration the dispatcher loads
// before the first AI call: which model to call and how. Archetype is not
// stored here — it is derived from Model via service.ResolveModelArchetype
// so a model rename only needs updating in one place.
type AgentSettings struct {
	ChannelID   int64
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultAgentSettings is the documented fallback used when a channel has
// no persisted settings row yet.
func DefaultAgentSettings(channelID int64) AgentSettings {
	return AgentSettings{
		ChannelID:   channelID,
		Model:       "gpt-4o",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}
