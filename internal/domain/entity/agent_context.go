package entity

import "time"

// OrchestratorMode is the top-level state of the two-phase state machine
// driving a session: TaskPlanner decomposes the request into a task queue,
// Assistant executes it.
type OrchestratorMode string

const (
	ModeTaskPlanner OrchestratorMode = "TaskPlanner"
	ModeAssistant   OrchestratorMode = "Assistant"
)

// TaskStatus is the lifecycle of a single queued Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one unit of work in the orchestrator's FIFO queue.
type Task struct {
	ID               string
	Description      string
	Status           TaskStatus
	AutoCompleteTool string // optional: tool name whose success auto-completes this task
}

// ActiveSkill is the currently loaded skill, whose instructions are
// appended to the system prompt and whose RequiresTools are force-included
// in the effective tool set for as long as it stays active.
type ActiveSkill struct {
	Name          string
	Instructions  string
	RequiresTools []string
	ActivatedAt   time.Time
	CallsMade     int
}

// AgentContext is the orchestrator's per-session state, held in process
// memory. It is mutated only by the dispatch task that owns the session.
type AgentContext struct {
	SessionID int64

	Mode             OrchestratorMode
	PlannerCompleted bool

	TaskQueue []*Task

	CurrentSubtype string
	ActiveSkill    *ActiveSkill

	TotalIterations int
	ModeIterations  int

	// ToolCallRequiredAttempts counts consecutive turns where the model
	// replied with no tool calls despite being required to use one.
	ToolCallRequiredAttempts int

	// WaitingForUserContext buffers a summary of completed work when an
	// ask_user tool fires and the loop breaks to surface the question.
	WaitingForUserContext string

	SelectedNetwork string
}

// NewAgentContext returns a fresh orchestrator state starting in TaskPlanner.
func NewAgentContext(sessionID int64) *AgentContext {
	return &AgentContext{
		SessionID: sessionID,
		Mode:      ModeTaskPlanner,
	}
}

// CurrentTask returns the first task in the queue that is not completed
// (pending or in_progress), or nil if there is none.
func (a *AgentContext) CurrentTask() *Task {
	for _, t := range a.TaskQueue {
		if t.Status != TaskCompleted {
			return t
		}
	}
	return nil
}

// InProgressCount returns how many tasks are currently in_progress — must
// never exceed 1.
func (a *AgentContext) InProgressCount() int {
	n := 0
	for _, t := range a.TaskQueue {
		if t.Status == TaskInProgress {
			n++
		}
	}
	return n
}

// AllTasksComplete reports whether every task in the queue is completed
// (or the queue is empty).
func (a *AgentContext) AllTasksComplete() bool {
	for _, t := range a.TaskQueue {
		if t.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// ClearSkill drops the active skill, as happens when the session terminates.
func (a *AgentContext) ClearSkill() {
	a.ActiveSkill = nil
}
