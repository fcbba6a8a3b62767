package service

import (
	"testing"

	domaintool "github.com/relaycore/relay/internal/domain/tool"
)

func TestCurrentToolListFiltersByGroup(t *testing.T) {
	idx := NewToolGroupIndex(map[string][]string{
		"finance":   {"submit_tx", "check_balance"},
		"messaging": {"send_message"},
	})
	all := []domaintool.Definition{
		{Name: "submit_tx"},
		{Name: "check_balance"},
		{Name: "send_message"},
		{Name: "read_file"},
	}
	subtype := SubtypeConfig{Name: "finance", ToolGroups: []string{"finance"}}

	out := CurrentToolList(all, idx, subtype, nil, nil)
	if len(out) != 2 {
		t.Fatalf("expected 2 tools visible to finance subtype, got %d: %+v", len(out), out)
	}
}

func TestCurrentToolListRestrictsToSystemGroupWhenNoGroupsDeclared(t *testing.T) {
	idx := NewToolGroupIndex(map[string][]string{
		"finance": {"submit_tx"},
		"system":  {"read_file"},
	})
	all := []domaintool.Definition{{Name: "submit_tx"}, {Name: "read_file"}}

	out := CurrentToolList(all, idx, SubtypeConfig{Name: "generalist"}, nil, nil)
	if len(out) != 1 || out[0].Name != "read_file" {
		t.Fatalf("expected only the system-group tool visible with no declared subtype groups, got %+v", out)
	}
}

func TestCurrentToolListForcesInSkillRequiredTools(t *testing.T) {
	idx := NewToolGroupIndex(map[string][]string{"messaging": {"send_message"}})
	all := []domaintool.Definition{{Name: "submit_tx"}, {Name: "send_message"}}
	subtype := SubtypeConfig{Name: "secretary", ToolGroups: []string{"messaging"}}
	skill := &ActiveSkillView{RequiresTools: []string{"submit_tx"}}

	out := CurrentToolList(all, idx, subtype, skill, nil)
	if len(out) != 2 {
		t.Fatalf("expected skill-required tool forced into the list, got %d: %+v", len(out), out)
	}
}

func TestCurrentToolListAppliesSafeModePolicy(t *testing.T) {
	idx := NewToolGroupIndex(map[string][]string{"system": {"delete_file", "read_file"}})
	all := []domaintool.Definition{{Name: "delete_file"}, {Name: "read_file"}}
	policy := &domaintool.Policy{DenyList: []string{"delete_file"}}

	out := CurrentToolList(all, idx, SubtypeConfig{}, nil, policy)
	if len(out) != 1 || out[0].Name != "read_file" {
		t.Fatalf("expected safe-mode policy to deny delete_file, got %+v", out)
	}
}

func TestSubtypeAllowsDeniesOrdinaryToolsWithNoSubtypeActive(t *testing.T) {
	idx := NewToolGroupIndex(map[string][]string{"finance": {"submit_tx"}, "system": {"diagnostics"}})

	if subtypeAllows(idx, SubtypeConfig{}, nil, "submit_tx") {
		t.Fatal("expected an ordinary, non-system tool to be denied before any subtype is active")
	}
	if !subtypeAllows(idx, SubtypeConfig{}, nil, "diagnostics") {
		t.Fatal("expected a system-group tool to remain reachable with no subtype active")
	}

	skill := &ActiveSkillView{RequiresTools: []string{"submit_tx"}}
	if !subtypeAllows(idx, SubtypeConfig{}, skill, "submit_tx") {
		t.Fatal("expected an active skill's required tool to be reachable even with no subtype active")
	}
}
