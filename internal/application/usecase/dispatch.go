package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/repository"
	"github.com/relaycore/relay/internal/domain/service"
	"github.com/relaycore/relay/internal/domain/telemetry"
	domaintool "github.com/relaycore/relay/internal/domain/tool"
)

// resetPattern matches the standalone /new or /reset reset command.
var resetPattern = regexp.MustCompile(`(?i)^/(?:new|reset)$`)

// standaloneThinkPattern matches a bare thinking-level directive with no
// message attached, e.g. "/think" or "/t:high".
var standaloneThinkPattern = regexp.MustCompile(`(?i)^/(?:t|think|thinking)(?::(\w+))?$`)

// inlineThinkPattern matches a thinking-level directive prefixed onto an
// actual message, e.g. "/think:high what should I do next?".
var inlineThinkPattern = regexp.MustCompile(`(?is)^/(?:t|think|thinking):(\w+)\s+(.+)$`)

// recentHistoryWindow bounds how many transcript rows are replayed into
// the message vector for a reused (non-gateway) session.
const recentHistoryWindow = 50

// gatewayContextMessages bounds the history replay for a freshly created
// session. Only the fresh session's own rows are read; messages from a
// chat's earlier sessions are not carried forward.
const gatewayContextMessages = 10

// DispatcherDeps wires every collaborator the dispatch pipeline needs.
// All repository fields are required for production use; Broadcaster,
// ContextMgr, Validators, and Groups are optional (nil disables that
// concern, same convention as service.ToolCallLoopDeps). No watchdog is
// built when WatchdogCfg is zero or Broadcaster is nil.
type DispatcherDeps struct {
	Identities    repository.IdentityRepository
	Sessions      repository.ChatSessionRepository
	Messages      repository.SessionMessageRepository
	Memories      repository.MemoryRepository
	DailyLogs     repository.DailyLogRepository
	SpecialRoles  repository.SpecialRoleRepository
	AgentSettings repository.AgentSettingsRepository

	Subtypes   *service.SubtypeRegistry
	Skills     *service.SkillRegistry
	Groups     *service.ToolGroupIndex
	Validators *service.ValidatorRegistry
	ContextMgr *service.ContextManager

	WatchdogCfg telemetry.WatchdogConfig
	Broadcaster service.Broadcaster

	// SemanticRecall backs the cross-session memory blend in
	// buildSystemPrompt; nil skips it and the dispatcher falls back to
	// Memories.RecentForIdentity alone.
	SemanticRecall service.MemoryIndex

	LLM   service.LLMClient
	Tools service.ToolExecutor

	LoopConfig service.AgentLoopConfig
	Retry      telemetry.BackoffConfig

	// Emitter records the offline-analysis reward signals
	// (retry_succeeded, loop_detected, session_completed). Nil disables
	// reward emission.
	Emitter *telemetry.Emitter

	Logger *zap.Logger
}

// Dispatcher implements spec §4.1: the single entry point every channel
// adapter calls with its NormalizedMessage. It resolves identity/session,
// assembles the system prompt, drives the tool-call loop under a
// retry-aware rollout, and persists the result.
type Dispatcher struct {
	deps DispatcherDeps

	// orchestrators caches the in-process AgentContext/Orchestrator per
	// session between dispatches. The cache lives in process memory only:
	// a session's task queue and subtype selection are not persisted and
	// do not survive a process restart. ChatSession/SessionMessage rows
	// remain the source of truth for the conversation itself.
	orchestrators sync.Map // map[int64]*service.Orchestrator
}

// NewDispatcher wires a dispatcher. Logger defaults to a no-op logger.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Subtypes == nil {
		deps.Subtypes = service.NewSubtypeRegistry()
	}
	if deps.Skills == nil {
		deps.Skills = service.NewSkillRegistry()
	}
	if deps.Emitter == nil {
		deps.Emitter = telemetry.NewEmitter(nil)
	}
	return &Dispatcher{deps: deps}
}

// Dispatch runs the full pre-loop/post-loop pipeline for one inbound
// message and returns the reply the channel adapter should deliver.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *entity.NormalizedMessage) (*entity.DispatchResult, error) {
	d.broadcast(ctx, msg.ChannelID, entity.BroadcastChannelMessage, map[string]any{
		"chat_id": msg.ChatID,
		"user_id": msg.UserID,
	})

	text := strings.TrimSpace(msg.Text)

	if resetPattern.MatchString(text) {
		return d.handleReset(ctx, msg)
	}
	if m := standaloneThinkPattern.FindStringSubmatch(text); m != nil {
		level := m[1]
		if level == "" {
			level = "default"
		}
		return entity.NewDispatchResult(fmt.Sprintf("Thinking level set to %s.", level)), nil
	}

	thinkingLevel := ""
	if m := inlineThinkPattern.FindStringSubmatch(text); m != nil {
		thinkingLevel = m[1]
		text = strings.TrimSpace(m[2])
	}

	identity, err := d.resolveIdentity(ctx, msg)
	if err != nil {
		return entity.NewDispatchError("", entity.ErrIdentityResolution.Error()), entity.ErrIdentityResolution
	}

	scope := d.resolveScope(msg)
	session, isFresh, err := d.resolveSession(ctx, msg, scope)
	if err != nil {
		return entity.NewDispatchError("", entity.ErrSessionResolution.Error()), entity.ErrSessionResolution
	}

	inboundTokens := service.EstimateTokens(text)
	if err := d.deps.Messages.Save(ctx, entity.NewSessionMessage(session.ID, entity.RoleUser, text, inboundTokens)); err != nil {
		d.deps.Logger.Warn("failed to persist inbound message", zap.Error(err))
	}
	session.AddContextTokens(inboundTokens)

	settings := d.loadAgentSettings(ctx, msg.ChannelID)
	archetype := service.ResolveModelArchetype(settings.Model, nil)

	grant := d.loadSpecialRoleGrant(ctx, msg)
	resolved := d.resolveToolConfig(msg, session, grant)

	o := d.orchestratorFor(session.ID)

	systemPrompt := d.buildSystemPrompt(ctx, identity, msg, o, thinkingLevel)
	messages, err := d.assembleMessages(ctx, session, isFresh, systemPrompt, text)
	if err != nil {
		d.deps.Logger.Warn("failed to assemble message history", zap.Error(err))
	}

	subtype, _ := o.CurrentSubtype()
	o.SetSkillGate(service.SkillGateFor(d.deps.Skills, subtype, resolved.ExtraSkills))
	o.SetSafeMode(resolved.Policy != nil && resolved.Policy.Profile == "safe")

	loopDeps := service.ToolCallLoopDeps{
		Orchestrator: o,
		ContextMgr:   d.deps.ContextMgr,
		Groups:       d.deps.Groups,
		Validators:   d.deps.Validators,
		Broadcaster:  d.deps.Broadcaster,
		ChannelID:    msg.ChannelID,
		Messages:     d.deps.Messages,
		SessionID:    session.ID,
		Emitter:      d.deps.Emitter,
	}
	if d.deps.Broadcaster != nil && (d.deps.WatchdogCfg.HeartbeatInterval > 0 || d.deps.WatchdogCfg.ToolTimeout > 0) {
		loopDeps.Watchdog = telemetry.NewWatchdog(d.deps.WatchdogCfg, msg.ChannelID, d.deps.Broadcaster, d.deps.Logger)
	}

	loop := service.NewToolCallLoop(d.deps.LLM, d.filteredTools(resolved.Policy), loopDeps, d.deps.LoopConfig, d.deps.Logger)

	result := d.runWithRetry(ctx, loop, archetype, systemPrompt, messages, settings.Model, session, msg.ChannelID)

	return d.finishDispatch(ctx, session, msg, result)
}

// handleReset implements spec step 2: /new and /reset close the session
// with no AI call.
func (d *Dispatcher) handleReset(ctx context.Context, msg *entity.NormalizedMessage) (*entity.DispatchResult, error) {
	scope := d.resolveScope(msg)
	sessionKey := d.sessionKey(msg, scope)
	session, err := d.deps.Sessions.FindByKey(ctx, sessionKey)
	if err == nil && session != nil {
		session.CompletionStatus = entity.StatusComplete
		if err := d.deps.Sessions.Save(ctx, session); err != nil {
			d.deps.Logger.Warn("failed to persist reset session", zap.Error(err))
		}
		d.orchestrators.Delete(session.ID)
	}
	return entity.NewDispatchResult("Session reset."), nil
}

func (d *Dispatcher) resolveIdentity(ctx context.Context, msg *entity.NormalizedMessage) (*entity.Identity, error) {
	existing, err := d.deps.Identities.FindByChannelUser(ctx, msg.ChannelType, msg.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	fresh := entity.NewIdentity(msg.ChannelType, msg.UserID, msg.UserName)
	if err := d.deps.Identities.Create(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// resolveScope implements spec step 6: cron entries carry an explicit
// SessionMode; every other channel derives dm/group from chat_id == user_id.
func (d *Dispatcher) resolveScope(msg *entity.NormalizedMessage) entity.Scope {
	if msg.SessionMode != "" {
		return entity.ScopeCron
	}
	if msg.IsDM() {
		return entity.ScopeDM
	}
	return entity.ScopeGroup
}

func (d *Dispatcher) sessionKey(msg *entity.NormalizedMessage, scope entity.Scope) string {
	return fmt.Sprintf("%s:%s:%s", msg.ChannelType, scope, msg.ChatID)
}

// resolveSession implements spec step 7. Gateway channels always start a
// fresh session under a uuid-suffixed key; messages from the chat's
// earlier sessions are not carried into it. Every other channel reuses
// its existing session, resetting it back to Active if it had gone
// terminal.
func (d *Dispatcher) resolveSession(ctx context.Context, msg *entity.NormalizedMessage, scope entity.Scope) (*entity.ChatSession, bool, error) {
	baseKey := d.sessionKey(msg, scope)

	if msg.ChannelType.IsGatewayChannel() {
		key := baseKey + ":" + uuid.NewString()
		session := entity.NewChatSession(key, msg.ChannelType, msg.ChannelID, msg.ChatID, scope, service.DefaultContextManagerConfig().MaxContextTokens)
		if err := d.deps.Sessions.Save(ctx, session); err != nil {
			return nil, false, err
		}
		return session, true, nil
	}

	session, err := d.deps.Sessions.FindByKey(ctx, baseKey)
	if err != nil {
		return nil, false, err
	}
	if session == nil {
		session = entity.NewChatSession(baseKey, msg.ChannelType, msg.ChannelID, msg.ChatID, scope, service.DefaultContextManagerConfig().MaxContextTokens)
		if err := d.deps.Sessions.Save(ctx, session); err != nil {
			return nil, false, err
		}
		return session, true, nil
	}
	if session.ResetIfTerminal() {
		if err := d.deps.Sessions.Save(ctx, session); err != nil {
			return nil, false, err
		}
	}
	return session, false, nil
}

// loadAgentSettings implements spec step 9, falling back to the documented
// default when the channel has no persisted row.
func (d *Dispatcher) loadAgentSettings(ctx context.Context, channelID int64) entity.AgentSettings {
	if d.deps.AgentSettings != nil {
		if settings, err := d.deps.AgentSettings.FindByChannel(ctx, channelID); err == nil && settings != nil {
			return *settings
		}
	}
	return entity.DefaultAgentSettings(channelID)
}

func (d *Dispatcher) loadSpecialRoleGrant(ctx context.Context, msg *entity.NormalizedMessage) *entity.SpecialRoleGrant {
	if d.deps.SpecialRoles == nil {
		return nil
	}
	grant, err := d.deps.SpecialRoles.FindGrant(ctx, msg.ChannelType, msg.UserID)
	if err != nil {
		d.deps.Logger.Warn("failed to load special role grant", zap.Error(err))
		return nil
	}
	return grant
}

// resolveToolConfig implements spec step 10.
func (d *Dispatcher) resolveToolConfig(msg *entity.NormalizedMessage, session *entity.ChatSession, grant *entity.SpecialRoleGrant) service.ResolvedToolConfig {
	var extraTools, extraSkills []string
	if grant != nil {
		extraTools = grant.ExtraTools
		extraSkills = grant.ExtraSkills
	}
	return service.ResolveToolConfig(service.StandardToolProfile(), session.SafeMode, msg.ForceSafeMode, extraTools, extraSkills, msg.ChannelType == entity.ChannelTwitter)
}

func (d *Dispatcher) orchestratorFor(sessionID int64) *service.Orchestrator {
	if v, ok := d.orchestrators.Load(sessionID); ok {
		return v.(*service.Orchestrator)
	}
	o := service.NewOrchestrator(entity.NewAgentContext(sessionID), d.deps.Subtypes, d.deps.Skills, d.deps.Broadcaster, d.deps.Logger)
	d.orchestrators.Store(sessionID, o)
	return o
}

// filteredTools wraps the shared tool executor so its GetDefinitions only
// surfaces tools the resolved policy allows; tool_loop.go's CurrentToolList
// further narrows by subtype/skill each iteration.
func (d *Dispatcher) filteredTools(policy *domaintool.Policy) service.ToolExecutor {
	return &policyFilteredExecutor{inner: d.deps.Tools, policy: policy}
}

type policyFilteredExecutor struct {
	inner  service.ToolExecutor
	policy *domaintool.Policy
}

func (e *policyFilteredExecutor) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	return e.inner.Execute(ctx, name, args)
}

func (e *policyFilteredExecutor) GetDefinitions() []domaintool.Definition {
	all := e.inner.GetDefinitions()
	if e.policy == nil {
		return all
	}
	out := make([]domaintool.Definition, 0, len(all))
	for _, def := range all {
		if e.policy.IsAllowed(def.Name) {
			out = append(out, def)
		}
	}
	return out
}

func (e *policyFilteredExecutor) GetToolKind(name string) domaintool.Kind {
	return e.inner.GetToolKind(name)
}

// buildSystemPrompt implements spec §4.2, items 2-5 (the per-archetype
// header from item 1 is applied later by tool_loop.go via
// archetype.EnhanceSystemPrompt, once per iteration).
func (d *Dispatcher) buildSystemPrompt(ctx context.Context, identity *entity.Identity, msg *entity.NormalizedMessage, o *service.Orchestrator, thinkingLevel string) string {
	var sb strings.Builder

	if o.State().Mode == entity.ModeTaskPlanner {
		sb.WriteString("You are in planning mode. Decompose the request into tasks with define_tasks.\n")
		if d.deps.Skills != nil {
			if names := d.deps.Skills.VisibleTo(service.SubtypeConfig{}); len(names) > 0 {
				sb.WriteString("Available skills: " + strings.Join(names, ", ") + "\n")
			}
		}
	}

	seen := make(map[string]bool)
	if identity != nil && d.deps.Memories != nil {
		if memories, err := d.deps.Memories.RecentForIdentity(ctx, fmt.Sprint(identity.ID), 10); err == nil && len(memories) > 0 {
			sb.WriteString("\n=== Memory ===\n")
			for _, m := range memories {
				sb.WriteString("- " + m.Content + "\n")
				seen[m.Content] = true
			}
		}
	}

	// Cross-session semantic blend: topic-relevant memories the
	// recency/importance ordering above wouldn't otherwise surface.
	if identity != nil && d.deps.SemanticRecall != nil && msg.Text != "" {
		recalled, err := d.deps.SemanticRecall.Recall(ctx, fmt.Sprint(identity.ID), msg.Text, 3)
		if err != nil {
			d.deps.Logger.Warn("semantic memory recall failed", zap.Error(err))
		} else if len(recalled) > 0 {
			var fresh []service.RecalledMemory
			for _, r := range recalled {
				if !seen[r.Content] {
					fresh = append(fresh, r)
				}
			}
			if len(fresh) > 0 {
				sb.WriteString("\n=== Related Memories ===\n")
				for _, r := range fresh {
					sb.WriteString("- " + r.Content + "\n")
				}
			}
		}
	}

	if identity != nil && d.deps.DailyLogs != nil {
		if log, err := d.deps.DailyLogs.TodayFor(ctx, fmt.Sprint(identity.ID)); err == nil && log != "" {
			sb.WriteString("\n=== Today's Notes ===\n" + log + "\n")
		}
	}

	sb.WriteString("\n=== Current Request ===\n")
	sb.WriteString(fmt.Sprintf("User: %s | Channel: %s", msg.UserName, msg.ChannelType))
	if msg.SelectedNetwork != "" {
		sb.WriteString(" | Network: " + msg.SelectedNetwork)
	}
	sb.WriteString("\n")

	prompt := sb.String()
	if thinkingLevel != "" {
		prompt = fmt.Sprintf("[Thinking level: %s] Reason carefully, step by step, before responding.\n\n", thinkingLevel) + prompt
	}
	return prompt
}

// assembleMessages implements spec step 12: system prompt, recent history
// (tool-call/result rows filtered out since the loop re-expresses tool
// history per archetype), then the current user message.
func (d *Dispatcher) assembleMessages(ctx context.Context, session *entity.ChatSession, isFresh bool, systemPrompt, text string) ([]service.LLMMessage, error) {
	messages := []service.LLMMessage{{Role: "system", Content: systemPrompt}}

	if d.deps.Messages != nil {
		limit := recentHistoryWindow
		if isFresh {
			limit = gatewayContextMessages
		}
		rows, err := d.deps.Messages.RecentForSession(ctx, session.ID, limit)
		if err != nil {
			return messages, err
		}
		// The inbound message was persisted before assembly; drop it from
		// the replay so it is sent once, as the final user turn below.
		if n := len(rows); n > 0 && rows[n-1].Role == entity.RoleUser && rows[n-1].Content == text {
			rows = rows[:n-1]
		}
		for _, row := range rows {
			if !row.Role.FeedsLLM() {
				continue
			}
			role := "user"
			if row.Role == entity.RoleAssistant {
				role = "assistant"
			} else if row.Role == entity.RoleSystem {
				continue
			}
			messages = append(messages, service.LLMMessage{Role: role, Content: row.Content})
		}
	}

	messages = append(messages, service.LLMMessage{Role: "user", Content: text})
	return messages, nil
}

// runWithRetry implements spec §4.6: the outer rollout retries a failed
// tool-call loop run (LLM connection errors, watchdog timeouts) up to the
// configured attempt cap with exponential backoff, distinct from the
// context-overflow recovery the loop handles internally via compaction.
func (d *Dispatcher) runWithRetry(ctx context.Context, loop *service.ToolCallLoop, archetype service.ModelArchetype, systemPrompt string, messages []service.LLMMessage, model string, session *entity.ChatSession, channelID int64) *service.ToolCallLoopResult {
	rollout := telemetry.NewRolloutManager(uuid.NewString(), session.ID, channelID, model, d.deps.Retry)

	for {
		attempt := rollout.BeginAttempt()
		result := loop.Run(ctx, archetype, systemPrompt, messages, model)

		if result.CompletionStatus != entity.StatusFailed || !strings.HasPrefix(result.FinalContent, "LLM call failed") {
			rollout.Succeed(attempt, result.TotalTokens)
			if rollout.FailedAttempts() > 0 && d.deps.Emitter != nil {
				d.deps.Emitter.Emit(telemetry.RewardRetrySucceeded, map[string]any{
					"attempts": rollout.FailedAttempts() + 1,
				})
			}
			return result
		}

		shouldRetry, delay := rollout.FailAttempt(attempt, fmt.Errorf("%s", result.FinalContent))
		if !shouldRetry {
			return result
		}

		d.broadcast(ctx, channelID, entity.BroadcastRolloutStatus, map[string]any{"status": "retrying"})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result
		}
	}
}

// finishDispatch implements spec steps 15-18 and the failure semantics
// paragraph: persist the reply, broadcast agent.response, trigger
// compaction, and settle the session's terminal state.
func (d *Dispatcher) finishDispatch(ctx context.Context, session *entity.ChatSession, msg *entity.NormalizedMessage, result *service.ToolCallLoopResult) (*entity.DispatchResult, error) {
	reply := strings.TrimSpace(result.FinalContent)

	if result.CompletionStatus == entity.StatusFailed {
		errText := "[Error] " + reply
		if err := d.deps.Messages.Save(ctx, entity.NewSessionMessage(session.ID, entity.RoleAssistant, errText, service.EstimateTokens(errText))); err != nil {
			d.deps.Logger.Warn("failed to persist failure message", zap.Error(err))
		}
		session.CompletionStatus = entity.StatusFailed
		d.persistSession(ctx, session)
		d.broadcast(ctx, msg.ChannelID, entity.BroadcastSessionComplete, map[string]any{"status": "failed"})
		return entity.NewDispatchError(reply, result.FinalContent), nil
	}

	if reply != "" {
		tokens := service.EstimateTokens(reply)
		if err := d.deps.Messages.Save(ctx, entity.NewSessionMessage(session.ID, entity.RoleAssistant, reply, tokens)); err != nil {
			d.deps.Logger.Warn("failed to persist reply", zap.Error(err))
		}
		session.AddContextTokens(tokens)
		if !result.SayToUserDelivered {
			d.broadcast(ctx, msg.ChannelID, entity.BroadcastAgentResponse, map[string]any{"content": reply})
		}
	}

	d.triggerCompactionIfNeeded(ctx, session)

	if result.CompletionStatus == entity.StatusActive {
		// ask_user broke the loop: session stays Active, waiting on the user.
	} else if session.CompletionStatus == entity.StatusActive || session.CompletionStatus == "" {
		session.CompletionStatus = entity.StatusComplete
	}
	d.persistSession(ctx, session)

	return entity.NewDispatchResult(reply), nil
}

func (d *Dispatcher) triggerCompactionIfNeeded(ctx context.Context, session *entity.ChatSession) {
	if d.deps.ContextMgr == nil {
		return
	}
	ratio := float64(session.ContextTokens) / float64(session.MaxContextTokens)
	cfg := service.DefaultContextManagerConfig()
	if ratio < cfg.SoftRatio {
		return
	}
	tier := service.CompactionIncremental
	if ratio >= cfg.HardRatio {
		tier = service.CompactionFull
	}
	rows, err := d.deps.Messages.RecentForSession(ctx, session.ID, recentHistoryWindow)
	if err != nil {
		return
	}
	var window []service.LLMMessage
	for _, row := range rows {
		if !row.Role.FeedsLLM() {
			continue
		}
		window = append(window, service.LLMMessage{Role: strings.ToLower(string(row.Role)), Content: row.Content})
	}
	_, newTokens := d.deps.ContextMgr.Compact(ctx, tier, session.ID, "", window)
	session.ApplyCompaction(newTokens, 0, 0)
}

func (d *Dispatcher) persistSession(ctx context.Context, session *entity.ChatSession) {
	if err := d.deps.Sessions.Save(ctx, session); err != nil {
		d.deps.Logger.Warn("failed to persist session", zap.Error(err))
	}
}

func (d *Dispatcher) broadcast(ctx context.Context, channelID int64, kind entity.BroadcastKind, payload map[string]any) {
	if d.deps.Broadcaster == nil {
		return
	}
	d.deps.Broadcaster.Publish(ctx, entity.NewBroadcastEvent(kind, channelID, payload))
}
