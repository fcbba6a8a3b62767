package service

import "testing"

func TestResolveToolConfigStandardWhenNoSafeMode(t *testing.T) {
	out := ResolveToolConfig(nil, false, false, nil, nil, false)
	if out.Policy.Profile != "standard" {
		t.Fatalf("expected standard profile, got %q", out.Policy.Profile)
	}
	if !out.Policy.IsAllowed("anything") {
		t.Fatal("expected standard profile to allow arbitrary tools")
	}
}

func TestResolveToolConfigSafeModeRestrictsToAllowList(t *testing.T) {
	out := ResolveToolConfig(nil, true, false, nil, nil, false)
	if out.Policy.IsAllowed("shell_exec") {
		t.Fatal("expected safe mode to deny tools outside the canonical list")
	}
	if !out.Policy.IsAllowed("say_to_user") {
		t.Fatal("expected safe mode to allow say_to_user")
	}
}

func TestResolveToolConfigSpecialRoleWidensAllowList(t *testing.T) {
	out := ResolveToolConfig(nil, true, false, []string{"submit_tx"}, []string{"finance_report"}, false)
	if !out.Policy.IsAllowed("submit_tx") {
		t.Fatal("expected special-role extra tool to be allowed")
	}
	if len(out.ExtraSkills) != 1 || out.ExtraSkills[0] != "finance_report" {
		t.Fatalf("expected extra skill to carry through, got %v", out.ExtraSkills)
	}
}

func TestResolveToolConfigDeniesAskUserOnTwitter(t *testing.T) {
	out := ResolveToolConfig(nil, false, false, nil, nil, true)
	if out.Policy.IsAllowed("ask_user") {
		t.Fatal("expected ask_user to be denied")
	}
}

func TestSkillGateForCombinesVisibleAndExtra(t *testing.T) {
	skills := NewSkillRegistry()
	skills.Replace([]SkillConfig{{Name: "general"}})
	gate := SkillGateFor(skills, SubtypeConfig{}, []string{"special_only"})
	if !gate("general") {
		t.Fatal("expected globally visible skill to pass the gate")
	}
	if !gate("special_only") {
		t.Fatal("expected special-role extra skill to pass the gate")
	}
	if gate("nope") {
		t.Fatal("expected unknown skill to be rejected")
	}
}
