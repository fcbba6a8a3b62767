package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaycore/relay/internal/domain/service"
)

// llmSummarizer implements service.Summarizer over the shared LLMClient:
// it flattens the window into "[role]: content" lines, fills a prompt
// template with them, and sends one user message at temperature 0.2.
type llmSummarizer struct {
	llm   service.LLMClient
	model string
}

func newLLMSummarizer(llm service.LLMClient, model string) *llmSummarizer {
	return &llmSummarizer{llm: llm, model: model}
}

const memoryExtractionPrompt = `Review the conversation below and extract any durable facts, preferences, or tasks worth remembering across sessions. Reply with one bullet per item, or "none" if nothing is worth keeping.

%s`

const compactionSummaryPrompt = `Compress the conversation below into a concise summary that preserves: the user's goals, decisions made, and unresolved items. Keep it under 300 words.

%s`

func (s *llmSummarizer) ExtractMemories(ctx context.Context, window []service.LLMMessage) (string, error) {
	return s.complete(ctx, memoryExtractionPrompt, window)
}

func (s *llmSummarizer) Summarize(ctx context.Context, window []service.LLMMessage) (string, error) {
	return s.complete(ctx, compactionSummaryPrompt, window)
}

func (s *llmSummarizer) complete(ctx context.Context, promptTemplate string, window []service.LLMMessage) (string, error) {
	if len(window) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, m := range window {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}
	req := &service.LLMRequest{
		Model:       s.model,
		Temperature: 0.2,
		Messages: []service.LLMMessage{
			{Role: "user", Content: fmt.Sprintf(promptTemplate, sb.String())},
		},
	}
	resp, err := s.llm.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
