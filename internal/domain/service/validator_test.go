package service

import (
	"context"
	"testing"
)

func denyOver(limit float64) ValidatorFunc {
	return func(ctx context.Context, toolName string, args map[string]interface{}) (string, bool) {
		amount, _ := args["amount"].(float64)
		if amount > limit {
			return "amount exceeds limit", true
		}
		return "", false
	}
}

func TestValidatorRegistryRejectsOverLimit(t *testing.T) {
	r := NewValidatorRegistry()
	r.Register("submit_tx", denyOver(100))

	out := r.Check(context.Background(), "submit_tx", map[string]interface{}{"amount": 250.0})
	if !out.Rejected {
		t.Fatal("expected rejection over the limit")
	}

	result := RejectedResult(out.Reason)
	if result.Success {
		t.Fatal("expected rejected result to be unsuccessful")
	}
	if result.Metadata["tool_validator_rejected"] != true {
		t.Fatal("expected tool_validator_rejected annotation")
	}
}

func TestValidatorRegistryAllowsUnderLimit(t *testing.T) {
	r := NewValidatorRegistry()
	r.Register("submit_tx", denyOver(100))

	out := r.Check(context.Background(), "submit_tx", map[string]interface{}{"amount": 10.0})
	if out.Rejected {
		t.Fatal("expected call under the limit to pass")
	}
}

func TestValidatorRegistryGlobalAppliesToEveryTool(t *testing.T) {
	r := NewValidatorRegistry()
	r.Register("*", ValidatorFunc(func(ctx context.Context, toolName string, args map[string]interface{}) (string, bool) {
		if toolName == "dangerous_tool" {
			return "globally banned", true
		}
		return "", false
	}))

	out := r.Check(context.Background(), "dangerous_tool", nil)
	if !out.Rejected {
		t.Fatal("expected global validator to reject dangerous_tool")
	}
}

func TestValidatorRegistryNoValidatorsAllows(t *testing.T) {
	r := NewValidatorRegistry()
	out := r.Check(context.Background(), "anything", nil)
	if out.Rejected {
		t.Fatal("expected no-op registry to never reject")
	}
}
