package service

import (
	"context"
	"testing"

	"github.com/relaycore/relay/internal/domain/entity"
	domaintool "github.com/relaycore/relay/internal/domain/tool"
)

// fakeLLM scripts a sequence of responses, one per call to Generate/GenerateStream.
type fakeLLM struct {
	responses []*LLMResponse
	calls     int
}

func (f *fakeLLM) Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	return f.next()
}

func (f *fakeLLM) GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error) {
	return f.next()
}

func (f *fakeLLM) next() (*LLMResponse, error) {
	if f.calls >= len(f.responses) {
		return &LLMResponse{Content: "done"}, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

// fakeExecutor runs tools from a canned map of name -> result.
type fakeExecutor struct {
	results map[string]*domaintool.Result
	defs    []domaintool.Definition
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return &domaintool.Result{Success: true, Output: "ok"}, nil
}

func (f *fakeExecutor) GetDefinitions() []domaintool.Definition { return f.defs }

func (f *fakeExecutor) GetToolKind(name string) domaintool.Kind { return domaintool.KindExecute }

func newTestLoop(llm *fakeLLM, exec *fakeExecutor, o *Orchestrator) *ToolCallLoop {
	deps := ToolCallLoopDeps{Orchestrator: o, Broadcaster: NoOpBroadcaster{}}
	cfg := DefaultAgentLoopConfig()
	cfg.MaxRetries = 0
	return NewToolCallLoop(llm, exec, deps, cfg, nil)
}

func TestToolCallLoopFinishesWithoutToolCalls(t *testing.T) {
	llm := &fakeLLM{responses: []*LLMResponse{{Content: "hello there"}}}
	exec := &fakeExecutor{}
	loop := newTestLoop(llm, exec, nil)

	res := loop.Run(context.Background(), DefaultModelArchetype(), "you are an assistant", nil, "gpt-4o")
	if res.FinalContent != "hello there" {
		t.Fatalf("expected final content passthrough, got %q", res.FinalContent)
	}
	if res.CompletionStatus != entity.StatusComplete {
		t.Fatalf("expected Complete status, got %s", res.CompletionStatus)
	}
}

func TestToolCallLoopRunsToolThenFinishes(t *testing.T) {
	llm := &fakeLLM{responses: []*LLMResponse{
		{Content: "checking", ToolCalls: []entity.ToolCallInfo{{ID: "1", Name: "search", Arguments: map[string]interface{}{"q": "eth"}}}},
		{Content: "here is the answer"},
	}}
	exec := &fakeExecutor{
		defs:    []domaintool.Definition{{Name: "search"}},
		results: map[string]*domaintool.Result{"search": {Success: true, Output: "found it"}},
	}
	loop := newTestLoop(llm, exec, nil)

	res := loop.Run(context.Background(), DefaultModelArchetype(), "sys", nil, "gpt-4o")
	if res.FinalContent != "here is the answer" {
		t.Fatalf("expected final answer after tool round, got %q", res.FinalContent)
	}
	if res.TotalSteps != 2 {
		t.Fatalf("expected 2 steps, got %d", res.TotalSteps)
	}
}

func TestToolCallLoopCompletesViaOrchestrator(t *testing.T) {
	subtypes := NewSubtypeRegistry()
	skills := NewSkillRegistry()
	state := entity.NewAgentContext(1)
	o := NewOrchestrator(state, subtypes, skills, NoOpBroadcaster{}, nil)

	llm := &fakeLLM{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "1", Name: "define_tasks", Arguments: map[string]interface{}{"tasks": []interface{}{"only"}}}}},
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "2", Name: "task_fully_completed", Arguments: map[string]interface{}{"summary": "all done"}}}},
	}}
	exec := &fakeExecutor{}
	loop := newTestLoop(llm, exec, o)

	res := loop.Run(context.Background(), DefaultModelArchetype(), "sys", nil, "gpt-4o")
	if res.CompletionStatus != entity.StatusComplete {
		t.Fatalf("expected Complete status, got %s", res.CompletionStatus)
	}
	if res.FinalContent != "all done" {
		t.Fatalf("expected orchestrator completion summary, got %q", res.FinalContent)
	}
}

func TestToolCallLoopTextArchetypeParsesSingleCall(t *testing.T) {
	llm := &fakeLLM{responses: []*LLMResponse{
		{Content: "Sure.\n<tool_call>{\"name\": \"search\", \"arguments\": {\"q\": \"x\"}}</tool_call>"},
		{Content: "final answer"},
	}}
	exec := &fakeExecutor{
		defs:    []domaintool.Definition{{Name: "search"}},
		results: map[string]*domaintool.Result{"search": {Success: true, Output: "found it"}},
	}
	loop := newTestLoop(llm, exec, nil)

	res := loop.Run(context.Background(), ResolveModelArchetype("qwen3-coder-plus", nil), "sys", nil, "qwen3-coder-plus")
	if res.FinalContent != "final answer" {
		t.Fatalf("expected loop to execute the parsed tool call then finish, got %q", res.FinalContent)
	}
}

func TestToolCallLoopRespectsMaxIterations(t *testing.T) {
	subtypes := NewSubtypeRegistry()
	subtypes.Replace([]SubtypeConfig{{Name: "tight", MaxIterations: 1}})
	skills := NewSkillRegistry()
	state := entity.NewAgentContext(1)
	state.Mode = entity.ModeAssistant
	state.CurrentSubtype = "tight"
	o := NewOrchestrator(state, subtypes, skills, NoOpBroadcaster{}, nil)

	llm := &fakeLLM{responses: []*LLMResponse{
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "1", Name: "search"}}},
		{Content: "", ToolCalls: []entity.ToolCallInfo{{ID: "2", Name: "search"}}},
	}}
	exec := &fakeExecutor{defs: []domaintool.Definition{{Name: "search"}}}
	loop := newTestLoop(llm, exec, o)

	res := loop.Run(context.Background(), DefaultModelArchetype(), "sys", nil, "gpt-4o")
	if res.CompletionStatus != entity.StatusFailed {
		t.Fatalf("expected Failed status once max iterations exceeded, got %s", res.CompletionStatus)
	}
}
