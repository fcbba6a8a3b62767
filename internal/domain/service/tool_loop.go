package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/repository"
	"github.com/relaycore/relay/internal/domain/telemetry"
	domaintool "github.com/relaycore/relay/internal/domain/tool"
	"go.uber.org/zap"
)

// ToolCallLoopDeps wires every collaborator the tool-call loop needs beyond
// the LLM/tool surface it already gets as explicit arguments. All fields
// are optional; a nil value disables that concern (a nil Watchdog falls
// back to a plain AgentLoopConfig.ToolTimeout deadline per tool call).
type ToolCallLoopDeps struct {
	Orchestrator *Orchestrator
	ContextMgr   *ContextManager
	Groups       *ToolGroupIndex
	Validators   *ValidatorRegistry
	Watchdog     *telemetry.Watchdog
	Broadcaster  Broadcaster
	ChannelID    int64

	// Messages/SessionID back the operator-visible tool-call trace: every
	// call and its result are persisted as ToolCall/ToolResult transcript
	// rows. Nil Messages (or a zero SessionID) skips persistence.
	Messages  repository.SessionMessageRepository
	SessionID int64

	// Emitter records the offline-analysis reward signals the dispatch
	// pipeline and loop emit (loop_detected, session_completed). Nil
	// disables reward emission.
	Emitter *telemetry.Emitter
}

// ToolCallLoopResult is what one Run of the loop produces for the dispatch
// pipeline to persist and relay back to the channel adapter.
type ToolCallLoopResult struct {
	FinalContent       string
	CompletionStatus   entity.CompletionStatus
	TotalSteps         int
	TotalTokens        int
	ModelUsed          string
	ToolsUsed          []string
	SayToUserDelivered bool
}

// ToolCallLoop runs the orchestrator-aware ReAct loop: each iteration calls
// the model with the current tool surface, routes managed-tool calls
// through the Orchestrator instead of the tool registry, and otherwise
// executes ordinary tools under the validators and a per-call timeout
// before looping again. Model calls are retried with backoff; tool calls
// are not retried.
type ToolCallLoop struct {
	llm    LLMClient
	tools  ToolExecutor
	deps   ToolCallLoopDeps
	config AgentLoopConfig
	logger *zap.Logger

	toolCache *ToolResultCache
}

// NewToolCallLoop wires a loop instance, defaulting config the same way
// NewAgentLoop does.
func NewToolCallLoop(llm LLMClient, tools ToolExecutor, deps ToolCallLoopDeps, config AgentLoopConfig, logger *zap.Logger) *ToolCallLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = NoOpBroadcaster{}
	}
	defaults := DefaultAgentLoopConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryBaseWait <= 0 {
		config.RetryBaseWait = defaults.RetryBaseWait
	}
	if config.MaxParallelTools <= 0 {
		config.MaxParallelTools = defaults.MaxParallelTools
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = defaults.ToolTimeout
	}
	if config.MaxOutputChars <= 0 {
		config.MaxOutputChars = defaults.MaxOutputChars
	}
	// Spec's loop-detection window is tighter than the teacher's
	// general-purpose default (see DESIGN.md Open Question decisions):
	// 20-call sliding window, 3 identical calls to trigger reflection.
	if config.LoopWindowSize <= 0 {
		config.LoopWindowSize = 20
	}
	if config.LoopDetectThreshold <= 0 {
		config.LoopDetectThreshold = 3
	}
	if config.LoopNameThreshold <= 0 {
		config.LoopNameThreshold = 8
	}

	return &ToolCallLoop{
		llm:       llm,
		tools:     tools,
		deps:      deps,
		config:    config,
		logger:    logger,
		toolCache: NewToolResultCache(30*time.Second, 100),
	}
}

const (
	defaultMaxIterations        = 40
	toolHistoryCap              = 10
	maxToolCallRequiredAttempts = MaxToolCallRequiredAttempts
)

// toolHistoryEntry is one completed tool round kept for the capped
// tool_history window the system prompt summarizes.
type toolHistoryEntry struct {
	Name    string
	Success bool
}

// Run drives the loop until the model stops calling tools, the orchestrator
// signals completion, or a guardrail trips. systemPromptBase is assembled
// by the dispatch pipeline (identity, register expansion, context bank);
// this loop appends orchestrator/skill state to it every iteration.
func (l *ToolCallLoop) Run(ctx context.Context, archetype ModelArchetype, systemPromptBase string, messages []LLMMessage, model string) *ToolCallLoopResult {
	l.toolCache.Clear()
	result := &ToolCallLoopResult{CompletionStatus: entity.StatusActive}

	o := l.deps.Orchestrator
	loopDetector := NewLoopDetector(l.config.LoopWindowSize, l.config.LoopDetectThreshold, l.config.LoopNameThreshold, l.logger)
	contextGuard := NewContextGuard(l.config.ContextMaxTokens, l.config.ContextWarnRatio, l.config.ContextHardRatio, l.logger)

	maxIterations := defaultMaxIterations
	var history []toolHistoryEntry
	var lastSayToUser string
	onlySayToUserLastIter := false

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			result.CompletionStatus = entity.StatusCancelled
			result.FinalContent = "cancelled"
			return result
		}

		if o != nil {
			o.StartBatch()
			if cfg, ok := o.CurrentSubtype(); ok && cfg.MaxIterations > 0 {
				maxIterations = cfg.MaxIterations
			}
		}
		if step > maxIterations {
			result.CompletionStatus = entity.StatusFailed
			result.FinalContent = "stopped: exceeded the maximum number of iterations for this task"
			return result
		}

		systemPrompt := systemPromptBase
		var subtype SubtypeConfig
		var skillView *ActiveSkillView
		if o != nil {
			o.CheckForcedTransitions(ctx)
			if cfg, ok := o.CurrentSubtype(); ok {
				subtype = cfg
				if cfg.Prompt != "" {
					systemPrompt += "\n\n" + cfg.Prompt
				}
			}
			if skill := o.State().ActiveSkill; skill != nil {
				skillView = &ActiveSkillView{RequiresTools: skill.RequiresTools}
				systemPrompt += "\n\n" + skill.Instructions
			}
		}
		if summary := summarizeToolHistory(history); summary != "" {
			systemPrompt += "\n\n" + summary
		}
		if archetype.EnhanceSystemPrompt != nil {
			systemPrompt = archetype.EnhanceSystemPrompt(systemPrompt)
		}

		allDefs := l.tools.GetDefinitions()
		currentTools := CurrentToolList(allDefs, l.deps.Groups, subtype, skillView, nil)
		var allowed func(string) bool
		if o != nil {
			// The mandatory subtype gate only applies once an orchestrator
			// is actually driving subtype/skill state; a bare tool-call
			// loop with no orchestrator has no subtype concept to gate on.
			allowed = func(name string) bool { return subtypeAllows(l.deps.Groups, subtype, skillView, name) }
			// The seven orchestrator-managed tools never go through the
			// registry, so they never go through the subtype/group filter
			// either — they're always part of the surface offered to the
			// model, scoped by what's actually reachable right now.
			currentTools = append(currentTools, ManagedToolDefinitions(o.SubtypeNames(), o.VisibleSkillNames())...)
		}

		callMessages := withSystemPrompt(messages, systemPrompt, archetype.RequiresSingleSystemMessage)
		callMessages = sanitizeMessages(callMessages)

		ctxCheck := contextGuard.Check(callMessages)
		if ctxCheck.NeedCompaction && l.deps.ContextMgr != nil {
			messages, _ = l.deps.ContextMgr.Compact(ctx, CompactionFull, 0, "", messages)
			callMessages = withSystemPrompt(messages, systemPrompt, archetype.RequiresSingleSystemMessage)
		}

		req := &LLMRequest{Messages: callMessages, Model: model, Temperature: l.config.Temperature}
		if archetype.UsesNativeToolCalling {
			req.Tools = currentTools
		}

		resp, err := l.callLLM(ctx, req)
		if err != nil {
			result.CompletionStatus = entity.StatusFailed
			result.FinalContent = fmt.Sprintf("LLM call failed: %v", err)
			return result
		}
		result.TotalTokens += resp.TokensUsed
		result.ModelUsed = resp.ModelUsed
		result.TotalSteps = step

		toolCalls := resp.ToolCalls
		bodyText := resp.Content
		if !archetype.UsesNativeToolCalling && archetype.ParseResponse != nil {
			body, call, ok := archetype.ParseResponse(resp.Content)
			bodyText = body
			if ok {
				toolCalls = []entity.ToolCallInfo{*call}
			} else {
				toolCalls = nil
			}
		}
		if archetype.CleanContent != nil {
			bodyText = archetype.CleanContent(bodyText)
		}

		if len(toolCalls) == 0 {
			required := o != nil && o.ToolCallRequired()
			if required {
				attempts := o.RecordNoToolCallAttempt()
				if attempts < maxToolCallRequiredAttempts {
					messages = append(messages, LLMMessage{Role: "assistant", Content: resp.Content})
					messages = append(messages, LLMMessage{Role: "user", Content: "[SYSTEM] A tool call is still required to make progress on the current task."})
					continue
				}
			}
			if o != nil {
				o.ResetToolCallRequiredAttempts()
			}
			result.FinalContent = strings.TrimSpace(StripReasoningTags(bodyText))
			if result.FinalContent == "" {
				result.FinalContent = lastSayToUser
			}
			result.CompletionStatus = l.finalize(ctx, o, false)
			return result
		}

		messages = append(messages, LLMMessage{Role: "assistant", Content: resp.Content, ToolCalls: toolCalls})

		var reflectionPrompts []string
		for _, tc := range toolCalls {
			if IsManagedTool(tc.Name) {
				continue
			}
			kind := l.tools.GetToolKind(tc.Name)
			if domaintool.SafeKinds[kind] {
				continue
			}
			if prompt := loopDetector.RecordName(tc.Name); prompt != "" {
				reflectionPrompts = append(reflectionPrompts, prompt)
			}
			fingerprint := ""
			if raw, err := json.Marshal(tc.Arguments); err == nil {
				fingerprint = string(raw)
			}
			if prompt := loopDetector.Record(tc.Name, fingerprint); prompt != "" {
				reflectionPrompts = append(reflectionPrompts, prompt)
			}
		}

		var (
			sayToUserThisBatch bool
			complete           bool
			completeSummary    string
			requiresUserResp   bool
		)

		callResults := l.executeToolCalls(ctx, toolCalls, allowed)
		for i, tc := range toolCalls {
			cr := callResults[i]
			messages = append(messages, LLMMessage{Role: "tool", Content: cr.output, ToolCallID: tc.ID, Name: tc.Name})
			history = append(history, toolHistoryEntry{Name: tc.Name, Success: cr.success})
			if len(history) > toolHistoryCap {
				history = history[len(history)-toolHistoryCap:]
			}

			if cr.intercept == nil {
				continue
			}
			if tc.Name == "say_to_user" {
				sayToUserThisBatch = true
				if text, ok := tc.Arguments["message"].(string); ok {
					lastSayToUser = text
				}
			}
			if cr.intercept.RequiresUserResponse {
				requiresUserResp = true
			}
			if cr.intercept.Complete {
				complete = true
				completeSummary = cr.intercept.Summary
			}
		}

		if o != nil {
			o.EndBatch(sayToUserThisBatch && len(toolCalls) == 1)
		}

		if len(reflectionPrompts) > 0 {
			if l.deps.Emitter != nil {
				l.deps.Emitter.Emit(telemetry.RewardLoopDetected, map[string]any{"step": step})
			}
			if l.deps.Broadcaster != nil {
				l.deps.Broadcaster.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastWarning, l.deps.ChannelID, map[string]any{
					"reason": "loop_detected",
					"step":   step,
				}))
			}
			// Past half the iteration budget, a detected loop stops being a
			// self-correction opportunity and becomes a runaway dispatch:
			// abort outright rather than keep feeding reflection prompts.
			if step > maxIterations/2 {
				result.FinalContent = "Sorry, I wasn't able to complete this request. Please try again."
				result.CompletionStatus = entity.StatusFailed
				return result
			}
			for _, prompt := range reflectionPrompts {
				messages = append(messages, LLMMessage{Role: "user", Content: prompt})
			}
		}

		if requiresUserResp {
			result.FinalContent = lastSayToUser
			result.SayToUserDelivered = sayToUserThisBatch
			result.CompletionStatus = entity.StatusActive
			return result
		}
		if complete {
			if completeSummary != "" {
				result.FinalContent = completeSummary
			} else {
				result.FinalContent = lastSayToUser
			}
			result.CompletionStatus = l.finalize(ctx, o, sayToUserThisBatch)
			return result
		}
		if sayToUserThisBatch && onlySayToUserLastIter && o != nil && o.DuplicateSayToUser(len(toolCalls) == 1) {
			result.FinalContent = lastSayToUser
			result.SayToUserDelivered = true
			result.CompletionStatus = l.finalize(ctx, o, true)
			return result
		}
		onlySayToUserLastIter = sayToUserThisBatch && len(toolCalls) == 1

		postCheck := contextGuard.Check(messages)
		if postCheck.NeedCompaction && l.deps.ContextMgr != nil {
			messages, _ = l.deps.ContextMgr.Compact(ctx, CompactionFull, 0, "", messages)
		}
	}
}

// summarizeToolHistory renders the capped tool_history window as a short
// prompt line so the model can see recent call outcomes without replaying
// full tool output, which already lives in the message transcript.
func summarizeToolHistory(history []toolHistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	parts := make([]string, len(history))
	for i, h := range history {
		mark := "ok"
		if !h.Success {
			mark = "failed"
		}
		parts[i] = fmt.Sprintf("%s:%s", h.Name, mark)
	}
	return "[recent tool calls] " + strings.Join(parts, ", ")
}

// finalize applies the loop's terminal bookkeeping: clear the active skill
// and broadcast session completion. It always returns StatusComplete.
func (l *ToolCallLoop) finalize(ctx context.Context, o *Orchestrator, sayToUserDelivered bool) entity.CompletionStatus {
	if o != nil {
		o.State().ClearSkill()
	}
	if l.deps.Emitter != nil {
		l.deps.Emitter.Emit(telemetry.RewardSessionCompleted, map[string]any{"say_to_user_delivered": sayToUserDelivered})
	}
	if l.deps.Broadcaster != nil {
		l.deps.Broadcaster.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastSessionComplete, l.deps.ChannelID, map[string]any{
			"say_to_user_delivered": sayToUserDelivered,
		}))
	}
	return entity.StatusComplete
}

// withSystemPrompt rebuilds the message list with the current system
// prompt in place of whatever was there before, folding it into the first
// user message when the archetype can't take a system-role message at all.
func withSystemPrompt(messages []LLMMessage, systemPrompt string, foldIntoFirstUser bool) []LLMMessage {
	rest := messages
	if len(messages) > 0 && messages[0].Role == "system" {
		rest = messages[1:]
	}
	if systemPrompt == "" {
		return rest
	}
	if foldIntoFirstUser {
		out := make([]LLMMessage, len(rest))
		copy(out, rest)
		for i := range out {
			if out[i].Role == "user" {
				out[i].Content = systemPrompt + "\n\n" + out[i].Content
				return out
			}
		}
		return append([]LLMMessage{{Role: "user", Content: systemPrompt}}, out...)
	}
	out := make([]LLMMessage, 0, len(rest)+1)
	out = append(out, LLMMessage{Role: "system", Content: systemPrompt})
	out = append(out, rest...)
	return out
}

type toolCallOutcome struct {
	output    string
	success   bool
	intercept *InterceptResult
}

// executeToolCalls runs the per-tool-call pipeline for every call in one
// model turn: orchestrator interception first (managed tools never reach
// the registry), then the validator registry, then execution under the
// watchdog's per-call timeout, with up to MaxParallelTools running at once.
func (l *ToolCallLoop) executeToolCalls(ctx context.Context, calls []entity.ToolCallInfo, allowed func(string) bool) []toolCallOutcome {
	out := make([]toolCallOutcome, len(calls))
	var wg sync.WaitGroup
	sem := make(chan struct{}, l.config.MaxParallelTools)

	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, call entity.ToolCallInfo) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[idx] = toolCallOutcome{output: "context cancelled"}
				return
			}
			out[idx] = l.executeOne(ctx, call, allowed)
		}(i, tc)
	}
	wg.Wait()
	return out
}

// executeOne gates ordinary tool calls on the subtype/skill surface before
// running them, and records the operator-visible ToolCall/ToolResult trace
// around whichever path handles the call.
func (l *ToolCallLoop) executeOne(ctx context.Context, call entity.ToolCallInfo, allowed func(string) bool) toolCallOutcome {
	l.recordToolCall(ctx, call)
	outcome := l.runOne(ctx, call, allowed)
	l.recordToolResult(ctx, call, outcome)
	return outcome
}

func (l *ToolCallLoop) runOne(ctx context.Context, call entity.ToolCallInfo, allowed func(string) bool) toolCallOutcome {
	if l.deps.Orchestrator != nil && IsManagedTool(call.Name) {
		intercept, err := l.deps.Orchestrator.InterceptToolCall(ctx, call.Name, call.Arguments)
		if err != nil {
			return toolCallOutcome{output: fmt.Sprintf("[TOOL_FAILED] %s\n[ERROR] %v", call.Name, err), success: false}
		}
		return toolCallOutcome{output: intercept.Result.DisplayOrOutput(), success: intercept.Result.Success, intercept: intercept}
	}

	if allowed != nil && !allowed(call.Name) {
		return toolCallOutcome{
			output:  fmt.Sprintf("[TOOL_FAILED] %s\n[ERROR] no subtype active — call set_agent_subtype first", call.Name),
			success: false,
		}
	}

	if l.deps.Validators != nil {
		if outcome := l.deps.Validators.Check(ctx, call.Name, call.Arguments); outcome.Rejected {
			return toolCallOutcome{output: RejectedResult(outcome.Reason).Error, success: false}
		}
	}

	if cached, cachedSuccess, hit := l.toolCache.Get(call.Name, call.Arguments); hit {
		return toolCallOutcome{output: cached, success: cachedSuccess}
	}

	toolCtx := ctx
	var cancel context.CancelFunc
	if l.deps.Watchdog != nil {
		toolCtx, cancel = l.deps.Watchdog.WithToolTimeout(ctx)
	} else if l.config.ToolTimeout > 0 {
		toolCtx, cancel = context.WithTimeout(ctx, l.config.ToolTimeout)
	}
	if cancel != nil {
		defer cancel()
	}

	res, err := l.tools.Execute(toolCtx, call.Name, call.Arguments)

	var output string
	var success bool
	if err != nil {
		output = fmt.Sprintf("[TOOL_FAILED] %s\n[ERROR] %v", call.Name, err)
	} else {
		success = res.Success
		if !success {
			errText := res.Error
			if errText == "" {
				errText = res.Output
			}
			output = fmt.Sprintf("[TOOL_FAILED] %s\n%s", call.Name, errText)
		} else {
			output = res.Output
		}
	}
	output = truncateOutput(output, l.config.MaxOutputChars)
	l.toolCache.Put(call.Name, call.Arguments, output, success)
	return toolCallOutcome{output: output, success: success}
}

// recordToolCall persists the ToolCall row and broadcasts agent.tool_call
// before the call actually runs, so the trace shows intent even if the call
// never returns (watchdog timeout, panic recovery upstream).
func (l *ToolCallLoop) recordToolCall(ctx context.Context, call entity.ToolCallInfo) {
	argsJSON, _ := json.Marshal(call.Arguments)
	if l.deps.Messages != nil && l.deps.SessionID != 0 {
		msg := entity.NewSessionMessage(l.deps.SessionID, entity.RoleToolCall, string(argsJSON), 0)
		msg.ToolName = call.Name
		if err := l.deps.Messages.Save(ctx, msg); err != nil {
			l.logger.Warn("failed to persist tool call", zap.String("tool", call.Name), zap.Error(err))
		}
	}
	if l.deps.Broadcaster != nil {
		l.deps.Broadcaster.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastToolCall, l.deps.ChannelID, map[string]any{
			"tool": call.Name,
			"args": call.Arguments,
		}))
	}
}

// recordToolResult persists the ToolResult row and broadcasts
// agent.tool_result once a call (managed or ordinary) has finished.
func (l *ToolCallLoop) recordToolResult(ctx context.Context, call entity.ToolCallInfo, outcome toolCallOutcome) {
	if l.deps.Messages != nil && l.deps.SessionID != 0 {
		msg := entity.NewSessionMessage(l.deps.SessionID, entity.RoleToolResult, outcome.output, 0)
		msg.ToolName = call.Name
		if err := l.deps.Messages.Save(ctx, msg); err != nil {
			l.logger.Warn("failed to persist tool result", zap.String("tool", call.Name), zap.Error(err))
		}
	}
	if l.deps.Broadcaster != nil {
		l.deps.Broadcaster.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastToolResult, l.deps.ChannelID, map[string]any{
			"tool":    call.Name,
			"success": outcome.success,
			"output":  outcome.output,
		}))
	}
}

// callLLM streams one completion with the same exponential-backoff retry
// policy the base ReAct loop uses, without the event-channel plumbing this
// loop has no caller for yet.
func (l *ToolCallLoop) callLLM(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= l.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := l.config.RetryBaseWait * (1 << (attempt - 1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		deltaCh := make(chan StreamChunk, 128)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for range deltaCh {
			}
		}()
		callCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
		resp, err := l.llm.GenerateStream(callCtx, req, deltaCh)
		cancel()
		close(deltaCh)
		<-done
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, fmt.Errorf("non-retryable LLM error: %w", err)
		}
		l.logger.Warn("tool-call loop LLM call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, fmt.Errorf("LLM call failed after %d retries: %w", l.config.MaxRetries, lastErr)
}
