package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/tool"
)

// managedTools is intercepted by the orchestrator before ever reaching the
// tool registry — these names are never dispatched to a real Tool impl.
var managedTools = map[string]bool{
	"define_tasks":         true,
	"add_task":             true,
	"task_fully_completed": true,
	"set_agent_subtype":    true,
	"use_skill":            true,
	"say_to_user":          true,
	"ask_user":             true,
}

// SystemToolGroup is always reachable regardless of subtype (e.g. the
// orchestrator-managed tools themselves, and diagnostics).
const SystemToolGroup = "system"

// Orchestrator drives the two-phase TaskPlanner → Assistant state machine
// for one session: task queue mutation, subtype switching, skill
// activation, and interception of the seven orchestrator-managed tools.
type Orchestrator struct {
	state    *entity.AgentContext
	subtypes *SubtypeRegistry
	skills   *SkillRegistry
	bcast    Broadcaster
	logger   *zap.Logger

	// skillGate, when set, additionally restricts which skills use_skill
	// may activate this dispatch — the effective ToolConfig's extra_skills
	// union, resolved once per inbound message. Nil means every skill the
	// subtype's tags already make visible is reachable.
	skillGate func(name string) bool

	// batch-scoped flags: the first three are reset by StartBatch,
	// lastIterWasSayToUser is set by EndBatch
	queueReplacedThisBatch bool
	autoCompletedThisBatch bool
	hadSayToUserThisBatch  bool
	lastIterWasSayToUser   bool

	// safeMode records whether this dispatch is running under the channel's
	// safe-mode tool policy. Set once per dispatch via SetSafeMode.
	safeMode bool
}

// NewOrchestrator wraps an existing (possibly rehydrated) AgentContext.
func NewOrchestrator(state *entity.AgentContext, subtypes *SubtypeRegistry, skills *SkillRegistry, bcast Broadcaster, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bcast == nil {
		bcast = NoOpBroadcaster{}
	}
	return &Orchestrator{state: state, subtypes: subtypes, skills: skills, bcast: bcast, logger: logger}
}

// State exposes the underlying mutable context (for persistence).
func (o *Orchestrator) State() *entity.AgentContext { return o.state }

// SetSkillGate installs this dispatch's effective skill allow-list, built
// from the resolved ToolConfig's extra skills plus the subtype's visible
// tags. Call once per message before the tool-call loop runs.
func (o *Orchestrator) SetSkillGate(gate func(name string) bool) {
	o.skillGate = gate
}

// CurrentSubtype resolves the active subtype config, if any is selected.
func (o *Orchestrator) CurrentSubtype() (SubtypeConfig, bool) {
	if o.state.CurrentSubtype == "" {
		return SubtypeConfig{}, false
	}
	return o.subtypes.Get(o.state.CurrentSubtype)
}

// IsManagedTool reports whether name is intercepted by the orchestrator.
func IsManagedTool(name string) bool { return managedTools[name] }

// SetSafeMode records whether this dispatch is operating under the
// channel's safe-mode tool policy. In safe mode, say_to_user terminates the
// session outright once the task queue is empty, rather than waiting for a
// second consecutive say_to_user turn.
func (o *Orchestrator) SetSafeMode(safe bool) {
	o.safeMode = safe
}

// SubtypeNames lists every configured subtype, for the set_agent_subtype
// pseudo-tool's enum.
func (o *Orchestrator) SubtypeNames() []string {
	return o.subtypes.Names()
}

// VisibleSkillNames lists the skills reachable under the current subtype
// (or globally visible ones if none is active yet), for the use_skill
// pseudo-tool's enum.
func (o *Orchestrator) VisibleSkillNames() []string {
	subtype, _ := o.CurrentSubtype()
	return o.skills.VisibleTo(subtype)
}

// ManagedToolDefinitions synthesizes Definitions for the seven
// orchestrator-managed tools so native-tool-calling models can see and call
// them. subtypeNames/visibleSkillNames scope the set_agent_subtype and
// use_skill enums to what's actually selectable right now.
func ManagedToolDefinitions(subtypeNames []string, visibleSkillNames []string) []tool.Definition {
	subtypeEnum := make([]interface{}, len(subtypeNames))
	for i, n := range subtypeNames {
		subtypeEnum[i] = n
	}
	skillEnum := make([]interface{}, len(visibleSkillNames))
	for i, n := range visibleSkillNames {
		skillEnum[i] = n
	}

	return []tool.Definition{
		{
			Name:        "define_tasks",
			Description: "Replace the task queue with a fresh ordered list of tasks for this request.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"tasks": map[string]interface{}{
						"type":        "array",
						"description": "Ordered task descriptions to plan and execute.",
						"items":       map[string]interface{}{"type": "string"},
					},
				},
				"required": []interface{}{"tasks"},
			},
		},
		{
			Name:        "add_task",
			Description: "Insert a single task into the existing queue at the given position.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"description": map[string]interface{}{"type": "string"},
					"position":    map[string]interface{}{"type": "string", "description": "\"front\" or \"back\"; defaults to \"back\"."},
				},
				"required": []interface{}{"description"},
			},
		},
		{
			Name:        "task_fully_completed",
			Description: "Mark the current task complete and advance the queue.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"summary": map[string]interface{}{"type": "string", "description": "What was accomplished."},
				},
				"required": []interface{}{"summary"},
			},
		},
		{
			Name:        "set_agent_subtype",
			Description: "Select the active agent subtype, determining which ordinary tool groups become reachable.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"subtype": map[string]interface{}{"type": "string", "enum": subtypeEnum},
				},
				"required": []interface{}{"subtype"},
			},
		},
		{
			Name:        "use_skill",
			Description: "Activate a skill visible under the current subtype, force-including the tools it requires.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"skill_name": map[string]interface{}{"type": "string", "enum": skillEnum},
				},
				"required": []interface{}{"skill_name"},
			},
		},
		{
			Name:        "say_to_user",
			Description: "Send a reply to the user. Set finished_task when this reply concludes the current task.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"content":       map[string]interface{}{"type": "string"},
					"finished_task": map[string]interface{}{"type": "boolean"},
				},
				"required": []interface{}{"content"},
			},
		},
		{
			Name:        "ask_user",
			Description: "Ask the user a clarifying question and pause the dispatch until they reply.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"prompt": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"prompt"},
			},
		},
	}
}

// StartBatch resets the per-response batch flags; called once per model
// turn before its tool calls are processed.
func (o *Orchestrator) StartBatch() {
	o.queueReplacedThisBatch = false
	o.autoCompletedThisBatch = false
	o.hadSayToUserThisBatch = false
}

// EndBatch records whether this batch's only tool was say_to_user, for the
// next iteration's duplicate-say_to_user check.
func (o *Orchestrator) EndBatch(onlySayToUser bool) {
	o.lastIterWasSayToUser = onlySayToUser
}

// DuplicateSayToUser reports whether the loop should terminate because two
// consecutive say_to_user-only turns occurred with no pending work.
func (o *Orchestrator) DuplicateSayToUser(onlySayToUser bool) bool {
	return onlySayToUser && o.lastIterWasSayToUser && o.state.AllTasksComplete()
}

// CheckForcedTransitions applies any transition that must happen before the
// next iteration runs: TaskPlanner → Assistant once planning has completed
// (covers both the normal define_tasks path and a rehydrated session whose
// PlannerCompleted flag was already set), broadcasting mode_change when a
// transition actually occurs.
func (o *Orchestrator) CheckForcedTransitions(ctx context.Context) {
	if o.state.Mode == entity.ModeTaskPlanner && o.state.PlannerCompleted {
		o.transitionTo(ctx, entity.ModeAssistant)
	}
}

func (o *Orchestrator) transitionTo(ctx context.Context, mode entity.OrchestratorMode) {
	if o.state.Mode == mode {
		return
	}
	o.state.Mode = mode
	o.state.ModeIterations = 0
	o.bcast.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastModeChange, o.state.SessionID, map[string]any{
		"mode": string(mode),
	}))
}

// ToolCallRequired reports whether the model MUST emit a tool call this
// turn: there is pending work, or the active subtype mandates tool use.
func (o *Orchestrator) ToolCallRequired() bool {
	if o.state.CurrentTask() != nil {
		return true
	}
	if subtype, ok := o.CurrentSubtype(); ok {
		return len(subtype.ToolGroups) > 0 && !subtype.SkipTaskPlanner
	}
	return false
}

// MaxToolCallRequiredAttempts is the number of consecutive no-tool-call
// turns tolerated before the loop gives up and surfaces free text.
const MaxToolCallRequiredAttempts = 5

// RecordNoToolCallAttempt increments and returns the consecutive no-tool-
// call counter.
func (o *Orchestrator) RecordNoToolCallAttempt() int {
	o.state.ToolCallRequiredAttempts++
	return o.state.ToolCallRequiredAttempts
}

// ResetToolCallRequiredAttempts clears the counter once a tool call lands.
func (o *Orchestrator) ResetToolCallRequiredAttempts() {
	o.state.ToolCallRequiredAttempts = 0
}

// InterceptResult is what InterceptToolCall returns for a managed tool.
type InterceptResult struct {
	Result               *tool.Result
	RequiresUserResponse bool // ask_user fired: break the loop
	Complete             bool // orchestrator now considers the session done
	Summary              string
}

// InterceptToolCall applies the effect of one of the seven orchestrator-
// managed tools and returns a synthetic tool result. Callers must check
// IsManagedTool(name) first.
func (o *Orchestrator) InterceptToolCall(ctx context.Context, name string, args map[string]any) (*InterceptResult, error) {
	switch name {
	case "define_tasks":
		return o.defineTasks(ctx, args)
	case "add_task":
		return o.addTask(ctx, args)
	case "task_fully_completed":
		return o.taskFullyCompleted(ctx, args)
	case "set_agent_subtype":
		return o.setAgentSubtype(ctx, args)
	case "use_skill":
		return o.useSkill(ctx, args)
	case "say_to_user":
		return o.sayToUser(ctx, args)
	case "ask_user":
		return o.askUser(ctx, args)
	default:
		return nil, fmt.Errorf("%s is not an orchestrator-managed tool", name)
	}
}

func (o *Orchestrator) defineTasks(ctx context.Context, args map[string]any) (*InterceptResult, error) {
	raw, _ := args["tasks"].([]any)
	tasks := make([]*entity.Task, 0, len(raw))
	for _, r := range raw {
		desc, _ := r.(string)
		if desc == "" {
			continue
		}
		tasks = append(tasks, &entity.Task{ID: uuid.NewString(), Description: desc, Status: entity.TaskPending})
	}
	if len(tasks) > 0 {
		tasks[0].Status = entity.TaskInProgress
	}

	o.state.TaskQueue = tasks
	o.state.PlannerCompleted = true
	o.queueReplacedThisBatch = true
	o.transitionTo(ctx, entity.ModeAssistant)

	o.bcast.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastQueueUpdate, o.state.SessionID, map[string]any{
		"task_count": len(tasks),
	}))

	return &InterceptResult{Result: &tool.Result{Output: fmt.Sprintf("%d tasks queued", len(tasks)), Success: true}}, nil
}

func (o *Orchestrator) addTask(ctx context.Context, args map[string]any) (*InterceptResult, error) {
	desc, _ := args["description"].(string)
	position, _ := args["position"].(string)
	if desc == "" {
		return &InterceptResult{Result: &tool.Result{Error: "description is required", Success: false}}, nil
	}

	t := &entity.Task{ID: uuid.NewString(), Description: desc, Status: entity.TaskPending}
	if position == "front" {
		o.state.TaskQueue = append([]*entity.Task{t}, o.state.TaskQueue...)
	} else {
		o.state.TaskQueue = append(o.state.TaskQueue, t)
	}
	if o.state.CurrentTask() == t {
		t.Status = entity.TaskInProgress
	}

	// New work arrived; undo a same-batch premature completion signal.
	if o.autoCompletedThisBatch {
		o.autoCompletedThisBatch = false
	}

	o.bcast.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastQueueUpdate, o.state.SessionID, map[string]any{
		"task_count": len(o.state.TaskQueue),
	}))

	return &InterceptResult{Result: &tool.Result{Output: "task added", Success: true}}, nil
}

func (o *Orchestrator) taskFullyCompleted(ctx context.Context, args map[string]any) (*InterceptResult, error) {
	if o.queueReplacedThisBatch {
		return &InterceptResult{Result: &tool.Result{Output: "ignored: task queue was just replaced", Success: true}}, nil
	}

	summary, _ := args["summary"].(string)
	cur := o.state.CurrentTask()
	if cur != nil {
		cur.Status = entity.TaskCompleted
		o.advanceQueue(ctx)
	}
	o.autoCompletedThisBatch = true

	o.bcast.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastTaskStatusChange, o.state.SessionID, map[string]any{
		"summary": summary,
	}))

	if o.state.AllTasksComplete() {
		return &InterceptResult{Result: &tool.Result{Output: "all tasks complete", Success: true}, Complete: true, Summary: summary}, nil
	}
	return &InterceptResult{Result: &tool.Result{Output: "task completed, next task started", Success: true}}, nil
}

func (o *Orchestrator) advanceQueue(ctx context.Context) {
	next := o.state.CurrentTask()
	if next != nil && next.Status == entity.TaskPending {
		next.Status = entity.TaskInProgress
	}
}

func (o *Orchestrator) setAgentSubtype(ctx context.Context, args map[string]any) (*InterceptResult, error) {
	name, _ := args["subtype"].(string)
	cfg, ok := o.subtypes.Get(name)
	if !ok {
		return &InterceptResult{Result: &tool.Result{Error: fmt.Sprintf("unknown subtype %q", name), Success: false}}, nil
	}

	o.state.CurrentSubtype = name
	o.bcast.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastSubtypeChange, o.state.SessionID, map[string]any{
		"subtype": name,
	}))

	if !cfg.SkipTaskPlanner {
		o.state.PlannerCompleted = false
		o.state.TaskQueue = nil
		o.transitionTo(ctx, entity.ModeTaskPlanner)
	} else {
		o.transitionTo(ctx, entity.ModeAssistant)
	}

	return &InterceptResult{Result: &tool.Result{Output: fmt.Sprintf("switched to subtype %s", name), Success: true}}, nil
}

func (o *Orchestrator) useSkill(ctx context.Context, args map[string]any) (*InterceptResult, error) {
	name, _ := args["skill_name"].(string)
	cfg, ok := o.skills.Get(name)
	if !ok {
		return &InterceptResult{Result: &tool.Result{Error: fmt.Sprintf("unknown skill %q", name), Success: false}}, nil
	}

	if o.state.ActiveSkill != nil && o.state.ActiveSkill.Name == name {
		o.state.ActiveSkill.CallsMade++
		return &InterceptResult{Result: &tool.Result{Output: fmt.Sprintf("skill %s already loaded", name), Success: true}}, nil
	}

	if o.skillGate != nil && !o.skillGate(name) {
		return &InterceptResult{Result: &tool.Result{Error: fmt.Sprintf("skill %q not allowed in this context", name), Success: false}}, nil
	}

	o.state.ActiveSkill = &entity.ActiveSkill{
		Name:          cfg.Name,
		Instructions:  cfg.Instructions,
		RequiresTools: cfg.RequiresTools,
	}

	if cfg.AutoSubtype != "" && cfg.AutoSubtype != o.state.CurrentSubtype {
		if _, ok := o.subtypes.Get(cfg.AutoSubtype); ok {
			o.state.CurrentSubtype = cfg.AutoSubtype
		}
	}

	return &InterceptResult{Result: &tool.Result{Output: fmt.Sprintf("skill %s activated", name), Success: true}}, nil
}

func (o *Orchestrator) sayToUser(ctx context.Context, args map[string]any) (*InterceptResult, error) {
	content, _ := args["content"].(string)
	finished, _ := args["finished_task"].(bool)
	o.hadSayToUserThisBatch = true

	if finished {
		o.advanceQueueOnFinishedTask(ctx)
	}

	result := &InterceptResult{Result: &tool.Result{Output: content, Display: content, Success: true}}
	if o.safeMode && o.state.AllTasksComplete() {
		result.Complete = true
		result.Summary = content
	}
	return result, nil
}

func (o *Orchestrator) advanceQueueOnFinishedTask(ctx context.Context) {
	cur := o.state.CurrentTask()
	if cur == nil {
		return
	}
	cur.Status = entity.TaskCompleted
	o.advanceQueue(ctx)
	o.bcast.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastTaskStatusChange, o.state.SessionID, map[string]any{
		"via": "say_to_user",
	}))
}

func (o *Orchestrator) askUser(ctx context.Context, args map[string]any) (*InterceptResult, error) {
	prompt, _ := args["prompt"].(string)
	o.state.WaitingForUserContext = prompt

	o.bcast.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastToolWaiting, o.state.SessionID, map[string]any{
		"prompt": prompt,
	}))

	return &InterceptResult{
		Result:               &tool.Result{Output: prompt, Display: prompt, Success: true},
		RequiresUserResponse: true,
	}, nil
}
