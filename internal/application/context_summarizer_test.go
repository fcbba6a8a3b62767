package application

import (
	"context"
	"strings"
	"testing"

	"github.com/relaycore/relay/internal/domain/service"
)

type fakeSummarizerLLM struct {
	lastRequest *service.LLMRequest
	reply       string
}

func (f *fakeSummarizerLLM) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	f.lastRequest = req
	return &service.LLMResponse{Content: f.reply}, nil
}

func (f *fakeSummarizerLLM) GenerateStream(ctx context.Context, req *service.LLMRequest, deltaCh chan<- service.StreamChunk) (*service.LLMResponse, error) {
	return f.Generate(ctx, req)
}

func TestLLMSummarizer_ExtractMemories(t *testing.T) {
	llm := &fakeSummarizerLLM{reply: "  - likes terse replies  "}
	s := newLLMSummarizer(llm, "test-model")

	window := []service.LLMMessage{
		{Role: "user", Content: "keep your answers short"},
		{Role: "assistant", Content: "got it"},
	}

	out, err := s.ExtractMemories(context.Background(), window)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "- likes terse replies" {
		t.Errorf("expected trimmed memory bullet, got %q", out)
	}
	if llm.lastRequest == nil || llm.lastRequest.Model != "test-model" {
		t.Fatalf("expected the request to carry the configured model")
	}
	if !strings.Contains(llm.lastRequest.Messages[0].Content, "[user]: keep your answers short") {
		t.Errorf("expected the window to be flattened into the prompt, got %q", llm.lastRequest.Messages[0].Content)
	}
}

func TestLLMSummarizer_Summarize_EmptyWindow(t *testing.T) {
	llm := &fakeSummarizerLLM{reply: "should never be returned"}
	s := newLLMSummarizer(llm, "test-model")

	out, err := s.Summarize(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "" {
		t.Errorf("expected an empty window to short-circuit without calling the model, got %q", out)
	}
	if llm.lastRequest != nil {
		t.Errorf("expected no LLM call for an empty window")
	}
}
