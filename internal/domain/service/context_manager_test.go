package service

import (
	"context"
	"strings"
	"testing"

	"github.com/relaycore/relay/internal/domain/entity"
)

type fakeSummarizer struct {
	extractReturn string
	summaryReturn string
}

func (f fakeSummarizer) ExtractMemories(ctx context.Context, window []LLMMessage) (string, error) {
	return f.extractReturn, nil
}

func (f fakeSummarizer) Summarize(ctx context.Context, window []LLMMessage) (string, error) {
	return f.summaryReturn, nil
}

type fakeMemorySink struct {
	saved []*entity.Memory
}

func (f *fakeMemorySink) SaveMemory(ctx context.Context, m *entity.Memory) error {
	f.saved = append(f.saved, m)
	return nil
}

func bigMessages(n int, role, body string) []LLMMessage {
	out := make([]LLMMessage, n)
	for i := range out {
		out[i] = LLMMessage{Role: role, Content: strings.Repeat(body, 50)}
	}
	return out
}

func TestCheckClassifiesCompactionTier(t *testing.T) {
	cfg := ContextManagerConfig{MaxContextTokens: 1000, SoftRatio: 0.5, HardRatio: 0.9, KeepLast: 2}
	cm := NewContextManager(cfg, nil, nil, nil)

	none := cm.Check([]LLMMessage{{Role: "user", Content: "hi"}})
	if none.Tier != CompactionNone {
		t.Fatalf("expected none, got %s", none.Tier)
	}

	incremental := cm.Check(bigMessages(7, "user", "word "))
	if incremental.Tier == CompactionNone {
		t.Fatalf("expected a compaction tier to trigger, got ratio %.2f", incremental.Ratio)
	}
}

func TestCompactKeepsSystemAndRecentMessages(t *testing.T) {
	cfg := ContextManagerConfig{MaxContextTokens: 100000, SoftRatio: 0.5, HardRatio: 0.9, KeepLast: 2}
	cm := NewContextManager(cfg, nil, nil, nil)

	msgs := []LLMMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
	}
	out, _ := cm.Compact(context.Background(), CompactionFull, 1, "id1", msgs)

	if out[0].Role != "system" {
		t.Fatal("expected system message preserved first")
	}
	last := out[len(out)-1]
	if last.Content != "four" {
		t.Fatalf("expected last message preserved, got %q", last.Content)
	}
}

func TestCompactPersistsCompactionMemory(t *testing.T) {
	cfg := ContextManagerConfig{MaxContextTokens: 100000, SoftRatio: 0.5, HardRatio: 0.9, KeepLast: 1}
	sink := &fakeMemorySink{}
	cm := NewContextManager(cfg, fakeSummarizer{summaryReturn: "the summary"}, sink, nil)

	msgs := []LLMMessage{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
		{Role: "assistant", Content: "d"},
	}
	cm.Compact(context.Background(), CompactionFull, 7, "id7", msgs)

	if len(sink.saved) != 1 || sink.saved[0].Type != entity.MemoryCompaction {
		t.Fatalf("expected one compaction memory saved, got %+v", sink.saved)
	}
}

func TestFlushMemoriesParsesMarkers(t *testing.T) {
	cfg := DefaultContextManagerConfig()
	sink := &fakeMemorySink{}
	raw := "[PREFERENCE: likes dark mode]\n[FACT: uses a Ledger wallet]\nsome noise\n[REMEMBER_IMPORTANT: never share the seed phrase]"
	cm := NewContextManager(cfg, fakeSummarizer{extractReturn: raw}, sink, nil)

	cm.flushMemories(context.Background(), 1, "id1", []LLMMessage{{Role: "user", Content: "x"}})

	if len(sink.saved) != 3 {
		t.Fatalf("expected 3 memories extracted, got %d", len(sink.saved))
	}
	var sawImportant bool
	for _, m := range sink.saved {
		if m.Type == entity.MemoryImportant {
			sawImportant = true
			if m.Importance != entity.MemoryImportant.DefaultImportance() {
				t.Fatal("expected default importance applied")
			}
		}
	}
	if !sawImportant {
		t.Fatal("expected a remember_important memory")
	}
}

func TestFlushMemoriesShortCircuitsOnNoMemoriesNeeded(t *testing.T) {
	cfg := DefaultContextManagerConfig()
	sink := &fakeMemorySink{}
	cm := NewContextManager(cfg, fakeSummarizer{extractReturn: "NO_MEMORIES_NEEDED"}, sink, nil)

	cm.flushMemories(context.Background(), 1, "id1", []LLMMessage{{Role: "user", Content: "x"}})

	if len(sink.saved) != 0 {
		t.Fatalf("expected no memories saved, got %d", len(sink.saved))
	}
}

func TestTruncationSummaryFallbackWhenNoSummarizer(t *testing.T) {
	cfg := ContextManagerConfig{MaxContextTokens: 100000, SoftRatio: 0.5, HardRatio: 0.9, KeepLast: 1}
	cm := NewContextManager(cfg, nil, nil, nil)

	msgs := []LLMMessage{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
		{Role: "assistant", Content: "d"},
	}
	out, _ := cm.Compact(context.Background(), CompactionFull, 1, "id1", msgs)

	if !strings.Contains(out[0].Content, "Context compacted") {
		t.Fatalf("expected fallback truncation summary, got %q", out[0].Content)
	}
}
