package service

import (
	"context"
	"testing"

	"github.com/relaycore/relay/internal/domain/entity"
)

func newTestOrchestrator() *Orchestrator {
	subtypes := NewSubtypeRegistry()
	subtypes.Replace([]SubtypeConfig{
		{Name: "finance", ToolGroups: []string{"finance"}, SkillTags: []string{"finance"}},
		{Name: "secretary", ToolGroups: []string{"messaging"}, SkipTaskPlanner: true},
	})
	skills := NewSkillRegistry()
	skills.Replace([]SkillConfig{
		{Name: "send_payment", Tags: []string{"finance"}, RequiresTools: []string{"submit_tx"}, AutoSubtype: "finance"},
	})

	state := entity.NewAgentContext(1)
	return NewOrchestrator(state, subtypes, skills, NoOpBroadcaster{}, nil)
}

func TestDefineTasksQueuesAndTransitions(t *testing.T) {
	o := newTestOrchestrator()
	res, err := o.InterceptToolCall(context.Background(), "define_tasks", map[string]any{
		"tasks": []any{"first", "second"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result.Success {
		t.Fatal("expected success")
	}
	if o.State().Mode != entity.ModeAssistant {
		t.Fatalf("expected Assistant mode, got %s", o.State().Mode)
	}
	if len(o.State().TaskQueue) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(o.State().TaskQueue))
	}
	if o.State().TaskQueue[0].Status != entity.TaskInProgress {
		t.Fatal("expected first task in_progress")
	}
}

func TestTaskFullyCompletedAdvancesAndSignalsComplete(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	_, _ = o.InterceptToolCall(ctx, "define_tasks", map[string]any{"tasks": []any{"only"}})
	o.StartBatch() // completion arrives in the next model turn

	res, err := o.InterceptToolCall(ctx, "task_fully_completed", map[string]any{"summary": "done"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Complete {
		t.Fatal("expected orchestrator to signal complete after last task finishes")
	}
	if o.InProgressCountForTest() != 0 {
		t.Fatal("expected no in_progress tasks once queue drains")
	}
}

// InProgressCountForTest exposes the invariant check for tests without
// widening the production API surface.
func (o *Orchestrator) InProgressCountForTest() int { return o.state.InProgressCount() }

func TestTaskFullyCompletedIgnoredAfterQueueReplaced(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	o.StartBatch()
	_, _ = o.InterceptToolCall(ctx, "define_tasks", map[string]any{"tasks": []any{"a", "b"}})
	res, err := o.InterceptToolCall(ctx, "task_fully_completed", map[string]any{"summary": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Complete {
		t.Fatal("task_fully_completed should be ignored in the same batch the queue was replaced")
	}
}

func TestSetAgentSubtypeUnknownFails(t *testing.T) {
	o := newTestOrchestrator()
	res, err := o.InterceptToolCall(context.Background(), "set_agent_subtype", map[string]any{"subtype": "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result.Success {
		t.Fatal("expected failure for unknown subtype")
	}
}

func TestSetAgentSubtypeReentersPlannerUnlessSkip(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	_, _ = o.InterceptToolCall(ctx, "define_tasks", map[string]any{"tasks": []any{"a"}})

	_, err := o.InterceptToolCall(ctx, "set_agent_subtype", map[string]any{"subtype": "finance"})
	if err != nil {
		t.Fatal(err)
	}
	if o.State().Mode != entity.ModeTaskPlanner {
		t.Fatalf("expected re-entry into TaskPlanner, got %s", o.State().Mode)
	}

	_, err = o.InterceptToolCall(ctx, "set_agent_subtype", map[string]any{"subtype": "secretary"})
	if err != nil {
		t.Fatal(err)
	}
	if o.State().Mode != entity.ModeAssistant {
		t.Fatalf("expected skip_task_planner subtype to jump straight to Assistant, got %s", o.State().Mode)
	}
}

func TestUseSkillActivatesAndAutoSubtype(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	res, err := o.InterceptToolCall(ctx, "use_skill", map[string]any{"skill_name": "send_payment"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result.Success {
		t.Fatal("expected success")
	}
	if o.State().ActiveSkill == nil || o.State().ActiveSkill.Name != "send_payment" {
		t.Fatal("expected send_payment to be active")
	}
	if o.State().CurrentSubtype != "finance" {
		t.Fatalf("expected auto subtype finance, got %s", o.State().CurrentSubtype)
	}
}

func TestUseSkillRedundantReloadIsSoftSuccess(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	_, _ = o.InterceptToolCall(ctx, "use_skill", map[string]any{"skill_name": "send_payment"})
	before := o.State().ActiveSkill.CallsMade

	res, err := o.InterceptToolCall(ctx, "use_skill", map[string]any{"skill_name": "send_payment"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result.Success {
		t.Fatal("expected redundant use_skill to soft-succeed")
	}
	if o.State().ActiveSkill.CallsMade != before+1 {
		t.Fatal("expected CallsMade to increment on redundant activation")
	}
}

func TestAskUserSetsWaitingAndRequiresUserResponse(t *testing.T) {
	o := newTestOrchestrator()
	res, err := o.InterceptToolCall(context.Background(), "ask_user", map[string]any{"prompt": "which wallet?"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.RequiresUserResponse {
		t.Fatal("expected ask_user to require a user response")
	}
	if o.State().WaitingForUserContext != "which wallet?" {
		t.Fatal("expected waiting-for-user context to be recorded")
	}
}

func TestDuplicateSayToUserTerminatesWhenQueueEmpty(t *testing.T) {
	o := newTestOrchestrator()
	o.EndBatch(true)
	if !o.DuplicateSayToUser(true) {
		t.Fatal("expected duplicate say_to_user with empty queue to signal termination")
	}
}

func TestDuplicateSayToUserContinuesWhenTasksPending(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	_, _ = o.InterceptToolCall(ctx, "define_tasks", map[string]any{"tasks": []any{"a"}})
	o.EndBatch(true)
	if o.DuplicateSayToUser(true) {
		t.Fatal("expected duplicate say_to_user to NOT terminate while tasks remain")
	}
}

func TestSayToUserTerminatesOnSingleCallInSafeModeWithEmptyQueue(t *testing.T) {
	o := newTestOrchestrator()
	o.SetSafeMode(true)

	res, err := o.InterceptToolCall(context.Background(), "say_to_user", map[string]any{
		"content": "done", "finished_task": false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Complete {
		t.Fatal("expected a single say_to_user call to terminate in safe mode with an empty queue")
	}
	if res.Summary != "done" {
		t.Fatalf("expected summary %q, got %q", "done", res.Summary)
	}
}

func TestSayToUserDoesNotTerminateInSafeModeWithTasksPending(t *testing.T) {
	o := newTestOrchestrator()
	o.SetSafeMode(true)
	_, _ = o.InterceptToolCall(context.Background(), "define_tasks", map[string]any{"tasks": []any{"a"}})

	res, err := o.InterceptToolCall(context.Background(), "say_to_user", map[string]any{"content": "working on it"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Complete {
		t.Fatal("expected say_to_user to NOT terminate in safe mode while tasks remain")
	}
}

func TestSayToUserDoesNotTerminateOutsideSafeMode(t *testing.T) {
	o := newTestOrchestrator()

	res, err := o.InterceptToolCall(context.Background(), "say_to_user", map[string]any{"content": "done"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Complete {
		t.Fatal("expected say_to_user to rely on DuplicateSayToUser outside safe mode")
	}
}

func TestToolCallRequiredReflectsPendingWork(t *testing.T) {
	o := newTestOrchestrator()
	if o.ToolCallRequired() {
		t.Fatal("expected no requirement before any task or subtype exists")
	}
	_, _ = o.InterceptToolCall(context.Background(), "define_tasks", map[string]any{"tasks": []any{"a"}})
	if !o.ToolCallRequired() {
		t.Fatal("expected tool call required once a task is pending")
	}
}

func TestRecordAndResetNoToolCallAttempts(t *testing.T) {
	o := newTestOrchestrator()
	for i := 1; i <= 3; i++ {
		if got := o.RecordNoToolCallAttempt(); got != i {
			t.Fatalf("expected count %d, got %d", i, got)
		}
	}
	o.ResetToolCallRequiredAttempts()
	if o.State().ToolCallRequiredAttempts != 0 {
		t.Fatal("expected counter reset to 0")
	}
}
