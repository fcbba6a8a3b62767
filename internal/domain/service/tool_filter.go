package service

import (
	"sync"

	domaintool "github.com/relaycore/relay/internal/domain/tool"
)

// ToolGroupIndex maps tool names to the named groups they belong to (e.g.
// "finance", "messaging", "system"). Subtypes select their visible tool
// surface by group rather than by listing individual tool names, so the
// index is the only place that translates between the two.
type ToolGroupIndex struct {
	mu     sync.RWMutex
	groups map[string][]string // toolName -> groups
}

// NewToolGroupIndex builds an index from group -> member tool names.
func NewToolGroupIndex(groupMembers map[string][]string) *ToolGroupIndex {
	idx := &ToolGroupIndex{groups: make(map[string][]string)}
	idx.Replace(groupMembers)
	return idx
}

// Replace swaps the whole group membership map, for hot reload.
func (i *ToolGroupIndex) Replace(groupMembers map[string][]string) {
	byTool := make(map[string][]string)
	for group, tools := range groupMembers {
		for _, name := range tools {
			byTool[name] = append(byTool[name], group)
		}
	}
	i.mu.Lock()
	i.groups = byTool
	i.mu.Unlock()
}

// GroupsOf returns the groups a tool belongs to, empty if ungrouped.
func (i *ToolGroupIndex) GroupsOf(toolName string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.groups[toolName]
}

// InAnyGroup reports whether toolName belongs to any of wantGroups.
func (i *ToolGroupIndex) InAnyGroup(toolName string, wantGroups []string) bool {
	if len(wantGroups) == 0 {
		return false
	}
	have := i.GroupsOf(toolName)
	for _, g := range have {
		for _, want := range wantGroups {
			if g == want {
				return true
			}
		}
	}
	return false
}

// CurrentToolList computes the effective tool surface for one iteration of
// the tool-call loop: the subtype's tool groups, plus any tool forced in by
// the active skill's RequiresTools, filtered by an optional safe-mode
// policy. The seven orchestrator-managed tools are not part of this list;
// ToolCallLoop.Run appends them when an orchestrator is present.
func CurrentToolList(all []domaintool.Definition, groups *ToolGroupIndex, subtype SubtypeConfig, skill *ActiveSkillView, policy *domaintool.Policy) []domaintool.Definition {
	out := make([]domaintool.Definition, 0, len(all))
	for _, def := range all {
		if policy != nil && !policy.IsAllowed(def.Name) {
			continue
		}
		if subtypeAllows(groups, subtype, skill, def.Name) {
			out = append(out, def)
		}
	}
	return out
}

// ActiveSkillView is the subset of entity.ActiveSkill the filter needs,
// kept narrow so this package doesn't import entity for a two-field read.
type ActiveSkillView struct {
	RequiresTools []string
}

func subtypeAllows(groups *ToolGroupIndex, subtype SubtypeConfig, skill *ActiveSkillView, toolName string) bool {
	if skill != nil {
		for _, want := range skill.RequiresTools {
			if want == toolName {
				return true
			}
		}
	}
	if groups != nil && groups.InAnyGroup(toolName, []string{SystemToolGroup}) {
		return true
	}
	if len(subtype.ToolGroups) == 0 {
		// No subtype selected yet (or the active one declares no extra
		// groups): only system/skill-required tools are reachable.
		return false
	}
	if groups == nil {
		return false
	}
	return groups.InAnyGroup(toolName, subtype.ToolGroups)
}
