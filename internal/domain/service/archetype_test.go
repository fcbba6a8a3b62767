package service

import "testing"

func TestResolveModelArchetypeByFamily(t *testing.T) {
	cases := []struct {
		model        string
		wantName     string
		wantNative   bool
		wantSingleSy bool
	}{
		{"claude-3-7-sonnet", "claude", true, false},
		{"gpt-4o", "openai", true, false},
		{"gemini-2.5-pro", "gemini", true, true},
		{"qwen3-coder-plus", "qwen", false, false},
		{"deepseek-v3", "deepseek", false, false},
		{"minimax-m1", "minimax", false, true},
		{"kimi-k2", "kimi", true, false},
		{"some-unknown-model", "default", true, false},
	}

	for _, c := range cases {
		arch := ResolveModelArchetype(c.model, nil)
		if arch.Name != c.wantName {
			t.Errorf("%s: expected archetype %s, got %s", c.model, c.wantName, arch.Name)
		}
		if arch.UsesNativeToolCalling != c.wantNative {
			t.Errorf("%s: expected native=%v, got %v", c.model, c.wantNative, arch.UsesNativeToolCalling)
		}
		if arch.RequiresSingleSystemMessage != c.wantSingleSy {
			t.Errorf("%s: expected singleSystemMessage=%v, got %v", c.model, c.wantSingleSy, arch.RequiresSingleSystemMessage)
		}
	}
}

func TestTextArchetypeParsesToolCall(t *testing.T) {
	arch := ResolveModelArchetype("qwen3-coder-plus", nil)
	content := "Sure thing.\n<tool_call>{\"name\": \"search\", \"arguments\": {\"query\": \"eth price\"}}</tool_call>"

	body, call, ok := arch.ParseResponse(content)
	if !ok {
		t.Fatal("expected a parsed tool call")
	}
	if call.Name != "search" {
		t.Fatalf("expected tool name search, got %s", call.Name)
	}
	if call.Arguments["query"] != "eth price" {
		t.Fatalf("expected query argument preserved, got %v", call.Arguments["query"])
	}
	if body != "Sure thing." {
		t.Fatalf("expected body text preserved without the tool_call block, got %q", body)
	}
}

func TestTextArchetypeParseResponseNoToolCall(t *testing.T) {
	arch := ResolveModelArchetype("qwen3-coder-plus", nil)
	_, call, ok := arch.ParseResponse("just a plain reply")
	if ok || call != nil {
		t.Fatal("expected no tool call parsed from plain text")
	}
}

func TestNativeArchetypeHasNoParseResponse(t *testing.T) {
	arch := ResolveModelArchetype("claude-3-7-sonnet", nil)
	if arch.ParseResponse != nil {
		t.Fatal("expected native archetypes to leave ParseResponse nil")
	}
}

func TestOverrideForcesNativeToolCalling(t *testing.T) {
	overrides := map[string]*ModelArchetypeOverride{
		"qwen3-custom-native": {UsesNativeToolCalling: boolPtr(true)},
	}
	arch := ResolveModelArchetype("qwen3-custom-native", overrides)
	if !arch.UsesNativeToolCalling {
		t.Fatal("expected override to force native tool calling")
	}
	if arch.ParseResponse != nil {
		t.Fatal("expected ParseResponse cleared once native calling is forced")
	}
}

func TestOverrideForcesTextToolCalling(t *testing.T) {
	overrides := map[string]*ModelArchetypeOverride{
		"claude-text-mode": {UsesNativeToolCalling: boolPtr(false)},
	}
	arch := ResolveModelArchetype("claude-text-mode", overrides)
	if arch.UsesNativeToolCalling {
		t.Fatal("expected override to force text tool calling")
	}
	if arch.ParseResponse == nil {
		t.Fatal("expected ParseResponse to be wired once text calling is forced")
	}
}

func boolPtr(b bool) *bool { return &b }
