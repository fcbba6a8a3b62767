package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/domain/entity"
)

// charsPerToken is the coarse token-estimation heuristic ContextManager
// uses to judge context size: good enough to drive compaction thresholds
// without depending on a model-specific tokenizer. (ContextGuard in
// guardrails.go keeps its own ~3 chars/token estimate.)
const charsPerToken = 3.5

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	return int(float64(len(text))/charsPerToken) + 1
}

// ContextManagerConfig controls when incremental vs. full compaction fire.
type ContextManagerConfig struct {
	MaxContextTokens int
	SoftRatio        float64 // incremental compaction threshold, e.g. 0.65
	HardRatio        float64 // full compaction threshold, e.g. 0.90
	KeepLast         int     // messages kept untouched by either compaction
}

// DefaultContextManagerConfig mirrors the teacher's AgentLoopConfig
// defaults for compaction thresholds and keep-last window.
func DefaultContextManagerConfig() ContextManagerConfig {
	return ContextManagerConfig{MaxContextTokens: 150_000, SoftRatio: 0.65, HardRatio: 0.90, KeepLast: 12}
}

// CompactionTier classifies what kind of compaction a ContextManager.Check
// call recommends.
type CompactionTier string

const (
	CompactionNone        CompactionTier = "none"
	CompactionIncremental CompactionTier = "incremental"
	CompactionFull        CompactionTier = "full"
)

// ContextCheck is the outcome of estimating one session's context size.
type ContextCheck struct {
	EstimatedTokens int
	Ratio           float64
	Tier            CompactionTier
}

// MemorySink persists extracted memories so they survive compaction.
type MemorySink interface {
	SaveMemory(ctx context.Context, m *entity.Memory) error
}

// Summarizer produces the two distinct completions the context manager
// needs from the model: a pre-compaction memory-extraction pass, and the
// final compaction summary. Implemented by an adapter over LLMClient so
// this package doesn't depend on any one provider's SDK.
type Summarizer interface {
	ExtractMemories(ctx context.Context, window []LLMMessage) (string, error)
	Summarize(ctx context.Context, window []LLMMessage) (string, error)
}

// ContextManager owns token estimation and the two-tier compaction policy
// for one session's message history.
type ContextManager struct {
	cfg        ContextManagerConfig
	summarizer Summarizer
	memories   MemorySink
	logger     *zap.Logger
}

// NewContextManager wires a manager. summarizer/memories may be nil, in
// which case compaction falls back to truncation and memory flush is
// skipped entirely.
func NewContextManager(cfg ContextManagerConfig, summarizer Summarizer, memories MemorySink, logger *zap.Logger) *ContextManager {
	if cfg.MaxContextTokens <= 0 {
		cfg = DefaultContextManagerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextManager{cfg: cfg, summarizer: summarizer, memories: memories, logger: logger}
}

// Check estimates the message window's token size and classifies which
// compaction tier (if any) it crosses.
func (c *ContextManager) Check(messages []LLMMessage) ContextCheck {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.TextContent()) + 4 // per-message overhead
		if m.HasMedia() {
			total += 85 * len(m.Parts)
		}
	}
	ratio := float64(total) / float64(c.cfg.MaxContextTokens)

	tier := CompactionNone
	switch {
	case ratio >= c.cfg.HardRatio:
		tier = CompactionFull
	case ratio >= c.cfg.SoftRatio:
		tier = CompactionIncremental
	}
	return ContextCheck{EstimatedTokens: total, Ratio: ratio, Tier: tier}
}

// Compact applies the given tier's policy to messages, returning the new
// window and the updated token estimate. Both tiers keep the system
// message (if present) and the last KeepLast messages; full compaction
// additionally collapses everything else into one summary, while
// incremental compaction bounds the collapsed window to the older half.
func (c *ContextManager) Compact(ctx context.Context, tier CompactionTier, sessionID int64, identityID string, messages []LLMMessage) ([]LLMMessage, int) {
	if tier == CompactionNone {
		return messages, c.Check(messages).EstimatedTokens
	}

	keepLast := c.cfg.KeepLast
	if keepLast >= len(messages) {
		return messages, c.Check(messages).EstimatedTokens
	}

	firstNonSystem := 0
	if len(messages) > 0 && messages[0].Role == "system" {
		firstNonSystem = 1
	}

	middleEnd := len(messages) - keepLast
	if tier == CompactionIncremental {
		// Only fold the older half of the eligible window, leaving the
		// rest for a future incremental pass instead of jumping straight
		// to a full rewrite.
		middleEnd = firstNonSystem + (middleEnd-firstNonSystem)/2
	}
	if middleEnd <= firstNonSystem {
		return messages, c.Check(messages).EstimatedTokens
	}

	window := messages[firstNonSystem:middleEnd]
	c.flushMemories(ctx, sessionID, identityID, window)

	summary := c.summarize(ctx, sessionID, identityID, window)

	compacted := make([]LLMMessage, 0, 2+len(messages)-middleEnd)
	if firstNonSystem > 0 {
		compacted = append(compacted, messages[0])
	}
	compacted = append(compacted, LLMMessage{Role: "user", Content: summary})
	compacted = append(compacted, messages[middleEnd:]...)

	c.logger.Info("context compaction completed",
		zap.String("tier", string(tier)),
		zap.Int("before", len(messages)),
		zap.Int("after", len(compacted)),
	)

	return compacted, c.Check(compacted).EstimatedTokens
}

// flushMemories gives the model one silent turn to extract durable facts
// from the window about to be discarded, before it is actually compacted.
func (c *ContextManager) flushMemories(ctx context.Context, sessionID int64, identityID string, window []LLMMessage) {
	if c.summarizer == nil {
		return
	}
	raw, err := c.summarizer.ExtractMemories(ctx, window)
	if err != nil {
		c.logger.Debug("memory flush failed", zap.Error(err))
		return
	}
	c.persistMarkedMemories(ctx, sessionID, identityID, raw)
}

// markerPattern matches [KIND: content] memory markers, case-insensitive
// on the kind token.
var markerPattern = regexp.MustCompile(`(?is)\[(PREFERENCE|FACT|TASK|REMEMBER_IMPORTANT|REMEMBER)\s*:\s*(.*?)\]`)

var markerKind = map[string]entity.MemoryType{
	"PREFERENCE":         entity.MemoryPreference,
	"FACT":               entity.MemoryFact,
	"TASK":               entity.MemoryTask,
	"REMEMBER":           entity.MemoryRemember,
	"REMEMBER_IMPORTANT": entity.MemoryImportant,
}

// persistMarkedMemories parses [KIND: content] markers out of the model's
// memory-flush response and stores one Memory row per match. A response
// of exactly NO_MEMORIES_NEEDED short-circuits with no writes.
func (c *ContextManager) persistMarkedMemories(ctx context.Context, sessionID int64, identityID, raw string) {
	if c.memories == nil {
		return
	}
	if strings.TrimSpace(raw) == "NO_MEMORIES_NEEDED" {
		return
	}

	matches := markerPattern.FindAllStringSubmatch(raw, -1)
	for _, m := range matches {
		kind, ok := markerKind[strings.ToUpper(m[1])]
		if !ok {
			continue
		}
		content := strings.TrimSpace(m[2])
		if content == "" {
			continue
		}
		mem := entity.NewMemory(sessionID, identityID, kind, content, 0)
		if err := c.memories.SaveMemory(ctx, mem); err != nil {
			c.logger.Warn("failed to persist extracted memory", zap.Error(err))
		}
	}
}

// summarize produces the compaction summary, trying the LLM summarizer
// first and falling back to a deterministic truncation summary.
func (c *ContextManager) summarize(ctx context.Context, sessionID int64, identityID string, window []LLMMessage) string {
	if c.summarizer != nil {
		if text, err := c.summarizer.Summarize(ctx, window); err == nil && text != "" {
			c.persistCompactionMemory(ctx, sessionID, identityID, text)
			return text
		}
	}
	return truncationSummaryText(window)
}

func (c *ContextManager) persistCompactionMemory(ctx context.Context, sessionID int64, identityID, summary string) {
	if c.memories == nil {
		return
	}
	mem := entity.NewMemory(sessionID, identityID, entity.MemoryCompaction, summary, entity.MemoryCompaction.DefaultImportance())
	if err := c.memories.SaveMemory(ctx, mem); err != nil {
		c.logger.Warn("failed to persist compaction memory", zap.Error(err))
	}
}

// truncationSummaryText is the deterministic fallback when no summarizer
// is configured or the LLM call fails: count roles and keep short previews.
func truncationSummaryText(messages []LLMMessage) string {
	var parts []string
	userN, assistantN, toolCallN := 0, 0, 0

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			assistantN++
			toolCallN += len(msg.ToolCalls)
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "Assistant: "+truncate(text, 200))
			}
		case "user":
			userN++
			parts = append(parts, "User: "+truncate(msg.TextContent(), 100))
		}
	}

	header := time.Now().Format("[compacted 2006-01-02 15:04] ")
	summary := fmt.Sprintf("Context compacted: %d messages summarized (%d user, %d assistant, %d tool calls)",
		len(messages), userN, assistantN, toolCallN)
	return header + strings.Join(append([]string{summary}, parts...), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
