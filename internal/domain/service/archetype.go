package service

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/relaycore/relay/internal/domain/entity"
)

// ModelArchetype captures how a model family exchanges tool calls with the
// loop, on top of the turn-shaping choices already covered by ModelPolicy.
// Native archetypes return structured tool_calls the provider SDK already
// parsed; text archetypes speak a single tool call embedded in plain text,
// which this type is responsible for extracting.
type ModelArchetype struct {
	Name string

	// UsesNativeToolCalling selects the dispatch path in the tool-call loop:
	// true reads resp.ToolCalls directly, false runs ParseResponse on
	// resp.Content and accepts at most one tool call per turn.
	UsesNativeToolCalling bool

	// RequiresSingleSystemMessage folds every system message into one,
	// prepended ahead of the first non-system message, for providers that
	// reject multiple system-role entries.
	RequiresSingleSystemMessage bool

	// EnhanceSystemPrompt appends archetype-specific instructions (e.g. the
	// text-call wire format) to the assembled system prompt.
	EnhanceSystemPrompt func(base string) string

	// ParseResponse extracts a single tool call plus the surrounding body
	// text from a text-archetype completion. Native archetypes never call
	// this; it is nil for them.
	ParseResponse func(content string) (body string, call *entity.ToolCallInfo, ok bool)

	// CleanContent strips any tool-call wire syntax left behind in the
	// user-visible text once ParseResponse has run.
	CleanContent func(content string) string

	// FormatToolFollowup renders a tool result back into the transcript in
	// the shape this archetype expects a "tool" turn to take.
	FormatToolFollowup func(name string, result string) string
}

var textToolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

func defaultEnhanceSystemPrompt(base string) string { return base }

func defaultCleanContent(content string) string {
	return strings.TrimSpace(textToolCallPattern.ReplaceAllString(content, ""))
}

func defaultFormatToolFollowup(name string, result string) string {
	return "[tool:" + name + "] " + result
}

func nativeArchetype(name string, singleSystemMessage bool) ModelArchetype {
	return ModelArchetype{
		Name:                        name,
		UsesNativeToolCalling:       true,
		RequiresSingleSystemMessage: singleSystemMessage,
		EnhanceSystemPrompt:         defaultEnhanceSystemPrompt,
		FormatToolFollowup:          defaultFormatToolFollowup,
	}
}

// textToolCallArchetype builds an archetype for models that embed their tool
// call in a <tool_call>{"name": ..., "arguments": {...}}</tool_call> block
// rather than a structured API field.
func textToolCallArchetype(name string, singleSystemMessage bool) ModelArchetype {
	return ModelArchetype{
		Name:                        name,
		UsesNativeToolCalling:       false,
		RequiresSingleSystemMessage: singleSystemMessage,
		EnhanceSystemPrompt: func(base string) string {
			return base + "\n\nWhen you need to call a tool, reply with exactly one " +
				"<tool_call>{\"name\": \"...\", \"arguments\": {...}}</tool_call> block. " +
				"Put any remaining reply text outside the block."
		},
		ParseResponse:      parseTextToolCall,
		CleanContent:       defaultCleanContent,
		FormatToolFollowup: defaultFormatToolFollowup,
	}
}

func parseTextToolCall(content string) (string, *entity.ToolCallInfo, bool) {
	m := textToolCallPattern.FindStringSubmatch(content)
	if m == nil {
		return content, nil, false
	}

	var parsed struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(m[1]), &parsed); err != nil || parsed.Name == "" {
		return content, nil, false
	}

	body := strings.TrimSpace(strings.Replace(content, m[0], "", 1))
	return body, &entity.ToolCallInfo{Name: parsed.Name, Arguments: parsed.Arguments}, true
}

// DefaultModelArchetype is used when no family matches and no override fires.
func DefaultModelArchetype() ModelArchetype {
	return nativeArchetype("default", false)
}

// ModelArchetypeOverride holds YAML-configurable archetype overrides, mirroring
// ModelPolicyOverride's nil-means-don't-override convention.
type ModelArchetypeOverride struct {
	UsesNativeToolCalling       *bool `mapstructure:"uses_native_tool_calling"`
	RequiresSingleSystemMessage *bool `mapstructure:"requires_single_system_message"`
}

// ResolveModelArchetype auto-detects the tool-calling archetype for a model
// ID using the same substring-matching approach as ResolveModelPolicy, then
// applies any YAML override for the native-tool-calling/system-message axes.
func ResolveModelArchetype(modelID string, overrides map[string]*ModelArchetypeOverride) ModelArchetype {
	lower := strings.ToLower(modelID)

	arch := DefaultModelArchetype()
	switch {
	case containsAny(lower, "claude", "anthropic"):
		arch = nativeArchetype("claude", false)
	case containsAny(lower, "gpt", "openai"):
		arch = nativeArchetype("openai", false)
	case containsAny(lower, "gemini", "google"):
		arch = nativeArchetype("gemini", true)
	case containsAny(lower, "qwen"):
		arch = textToolCallArchetype("qwen", false)
	case containsAny(lower, "deepseek"):
		arch = textToolCallArchetype("deepseek", false)
	case containsAny(lower, "minimax"):
		arch = textToolCallArchetype("minimax", true)
	case containsAny(lower, "kimi", "moonshot"):
		arch = nativeArchetype("kimi", false)
	}

	if overrides == nil {
		return arch
	}
	matchedKey := ""
	for key := range overrides {
		if strings.Contains(lower, strings.ToLower(key)) && len(key) > len(matchedKey) {
			matchedKey = key
		}
	}
	if matchedKey == "" {
		return arch
	}
	o := overrides[matchedKey]
	if o == nil {
		return arch
	}
	if o.UsesNativeToolCalling != nil {
		arch.UsesNativeToolCalling = *o.UsesNativeToolCalling
		if arch.UsesNativeToolCalling {
			arch.ParseResponse = nil
		} else if arch.ParseResponse == nil {
			arch.ParseResponse = parseTextToolCall
			arch.CleanContent = defaultCleanContent
			arch.EnhanceSystemPrompt = textToolCallArchetype(arch.Name, arch.RequiresSingleSystemMessage).EnhanceSystemPrompt
		}
	}
	if o.RequiresSingleSystemMessage != nil {
		arch.RequiresSingleSystemMessage = *o.RequiresSingleSystemMessage
	}
	return arch
}
