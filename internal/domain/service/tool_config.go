package service

import (
	domaintool "github.com/relaycore/relay/internal/domain/tool"
)

// StandardToolProfile is the default effective ToolConfig for a channel
// that has neither a persisted override nor safe mode forced: every tool
// the subtype/skill filter in tool_filter.go lets through is reachable.
func StandardToolProfile() *domaintool.Policy {
	return &domaintool.Policy{Profile: "standard"}
}

// safeModeTools is the canonical safe-mode allow-list: orchestrator-managed
// tools plus nothing else, until a special-role grant widens it.
var safeModeTools = []string{
	"say_to_user", "ask_user", "define_tasks", "add_task",
	"task_fully_completed", "set_agent_subtype", "use_skill",
}

// SafeModeToolProfile is the canonical safe-mode profile every channel
// falls back to when channel.safe_mode or force_safe_mode is set, before
// any special-role widening.
func SafeModeToolProfile() *domaintool.Policy {
	allow := make([]string, len(safeModeTools))
	copy(allow, safeModeTools)
	return &domaintool.Policy{Profile: "safe", AllowList: allow, AskMode: true}
}

// ResolvedToolConfig is what dispatch resolution step 10 produces: the
// tool-reachability policy plus the extra skill names a special-role
// grant widened in, which the orchestrator's skill gate consults.
type ResolvedToolConfig struct {
	Policy      *domaintool.Policy
	ExtraSkills []string
}

// ResolveToolConfig implements spec step 10 of the dispatch pipeline: start
// from the channel's persisted/default profile, replace wholesale with the
// safe-mode profile when required, union in a special-role grant's extras
// (tools plus the skills its required tools come from), and forcibly deny
// ask_user on channels with no interactive back-channel.
func ResolveToolConfig(base *domaintool.Policy, safeMode, forceSafeMode bool, extraTools, extraSkills []string, denyAskUser bool) ResolvedToolConfig {
	policy := base
	if policy == nil {
		policy = StandardToolProfile()
	}
	if safeMode || forceSafeMode {
		policy = SafeModeToolProfile()
		policy.AllowList = append(policy.AllowList, extraTools...)
	}
	if denyAskUser {
		cloned := *policy
		cloned.DenyList = append(append([]string{}, cloned.DenyList...), "ask_user")
		policy = &cloned
	}
	return ResolvedToolConfig{Policy: policy, ExtraSkills: extraSkills}
}

// SkillGateFor builds the predicate the orchestrator uses to decide
// whether use_skill may activate a given skill name: every skill visible
// under the current subtype's tags, plus any extra skills a special-role
// grant widened in. With no subtype selected (a zero SubtypeConfig), the
// untagged, globally visible skills and the extra skills still pass.
func SkillGateFor(skills *SkillRegistry, subtype SubtypeConfig, extraSkills []string) func(name string) bool {
	visible := make(map[string]bool)
	if skills != nil {
		for _, n := range skills.VisibleTo(subtype) {
			visible[n] = true
		}
	}
	for _, n := range extraSkills {
		visible[n] = true
	}
	return func(name string) bool { return visible[name] }
}
