package service

import (
	"context"
	"fmt"

	domaintool "github.com/relaycore/relay/internal/domain/tool"
)

// ToolValidator vets a tool call's arguments before execution and can
// reject it outright. Distinct from domaintool.Policy, which decides
// whether a tool is reachable at all; a validator runs against the
// specific call being made (e.g. a spend-limit check on submit_tx args).
type ToolValidator interface {
	// Validate returns a non-empty reason when the call is rejected.
	Validate(ctx context.Context, toolName string, args map[string]interface{}) (reason string, rejected bool)
}

// ValidatorFunc adapts a plain function to ToolValidator.
type ValidatorFunc func(ctx context.Context, toolName string, args map[string]interface{}) (string, bool)

func (f ValidatorFunc) Validate(ctx context.Context, toolName string, args map[string]interface{}) (string, bool) {
	return f(ctx, toolName, args)
}

// ValidatorRegistry runs every registered validator for a tool name in
// order, stopping at the first rejection. Validators register against a
// tool name or against "*" to apply to every call.
type ValidatorRegistry struct {
	byTool map[string][]ToolValidator
	global []ToolValidator
}

// NewValidatorRegistry returns an empty registry.
func NewValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{byTool: make(map[string][]ToolValidator)}
}

// Register adds a validator scoped to one tool name, or to every tool when
// toolName is "*".
func (r *ValidatorRegistry) Register(toolName string, v ToolValidator) {
	if toolName == "*" {
		r.global = append(r.global, v)
		return
	}
	r.byTool[toolName] = append(r.byTool[toolName], v)
}

// ValidationOutcome is what the per-tool-call pipeline needs to turn a
// rejection into a tool error annotated with tool_validator_rejected.
type ValidationOutcome struct {
	Rejected bool
	Reason   string
}

// Check runs the global validators then the tool-scoped validators,
// short-circuiting on the first rejection.
func (r *ValidatorRegistry) Check(ctx context.Context, toolName string, args map[string]interface{}) ValidationOutcome {
	for _, v := range r.global {
		if reason, rejected := v.Validate(ctx, toolName, args); rejected {
			return ValidationOutcome{Rejected: true, Reason: reason}
		}
	}
	for _, v := range r.byTool[toolName] {
		if reason, rejected := v.Validate(ctx, toolName, args); rejected {
			return ValidationOutcome{Rejected: true, Reason: reason}
		}
	}
	return ValidationOutcome{}
}

// RejectedResult builds the *domaintool.Result a rejected call returns to
// the loop, annotated so downstream telemetry can distinguish a validator
// rejection from an ordinary tool failure.
func RejectedResult(reason string) *domaintool.Result {
	return &domaintool.Result{
		Success: false,
		Error:   fmt.Sprintf("rejected by validator: %s", reason),
		Metadata: map[string]interface{}{
			"tool_validator_rejected": true,
			"reason":                  reason,
		},
	}
}
