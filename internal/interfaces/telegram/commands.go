package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Command is a parsed Telegram slash command.
type Command struct {
	Name    string   // command name, without the leading /
	Args    []string // space-split arguments
	RawArgs string   // raw, unsplit argument string
	ChatID  int64
	UserID  int64
}

// CommandHandler runs one registered command.
type CommandHandler func(ctx context.Context, cmd *Command) (*OutgoingMessage, error)

// SessionManager creates/clears chat sessions and tracks the active model.
type SessionManager interface {
	CreateSession(chatID int64, userID int64) error
	ClearSession(chatID int64) error
	GetCurrentModel(chatID int64) string
	SetModel(chatID int64, model string) error
	GetAvailableModels() []ModelInfo
}

// ContextController backs the /compact and /context commands.
type ContextController interface {
	// CompactContext compresses chatID's context, returning (tokensBefore, tokensAfter, error).
	CompactContext(ctx context.Context, chatID int64, instructions string) (int, int, error)
	GetContextStats(chatID int64) *ContextStats
}

// SessionSettings persists per-chat user preferences.
type SessionSettings interface {
	GetUsageMode(chatID int64) string // "off"|"tokens"|"full"
	SetUsageMode(chatID int64, mode string)
	GetThinkLevel(chatID int64) string // "off"|"low"|"medium"|"high"
	SetThinkLevel(chatID int64, level string)
	GetVerbose(chatID int64) bool
	SetVerbose(chatID int64, on bool)
	GetReasoning(chatID int64) string // "on"|"off"|"stream"
	SetReasoning(chatID int64, mode string)
	GetActivation(chatID int64) string // "always"|"mention"
	SetActivation(chatID int64, mode string)
	GetSendPolicy(chatID int64) string // "allow"|"deny"|"inherit"
	SetSendPolicy(chatID int64, policy string)
}

// ContextStats summarizes a chat's current context usage.
type ContextStats struct {
	MessageCount int
	TokenCount   int
	MaxTokens    int
}

// ConfigManager backs the /config and /debug commands.
type ConfigManager interface {
	GetConfigValue(path string) (interface{}, error)
	SetConfigValue(path string, value string) error
	UnsetConfigValue(path string) error
	GetDebugOverrides() map[string]interface{}
	SetDebugOverride(path string, value string) error
	UnsetDebugOverride(path string) error
	ResetDebugOverrides()
	IsFeatureEnabled(feature string) bool // "config", "debug", "bash", "restart"
	GetConfigJSON() string
}

// BashExecutor runs a shell command on behalf of /bash.
type BashExecutor interface {
	Execute(ctx context.Context, chatID int64, command string) (string, error)
}

// ApprovalManager resolves a pending tool-call approval.
type ApprovalManager interface {
	ResolveApproval(ctx context.Context, approvalID string, decision string) error
}

// HistoryClearer lets the command layer drop an agent loop's conversation memory.
type HistoryClearer interface {
	ClearHistory(chatID int64)
}

// AllowlistManager backs the /allowlist command.
type AllowlistManager interface {
	ListAllowlist(chatID int64, scope string) (entries []string, policy string, err error)
	AddAllowlist(chatID int64, scope string, entry string) error
	RemoveAllowlist(chatID int64, scope string, entry string) error
}

// SubagentInfo describes one spawned subagent run.
type SubagentInfo struct {
	Index      int
	RunID      string
	SessionKey string
	Label      string
	Status     string // "running"|"done"|"error"
	Runtime    string
	Task       string
}

// SubagentManager backs the /subagents command.
type SubagentManager interface {
	ListSubagents(chatID int64) []SubagentInfo
	StopSubagent(ctx context.Context, chatID int64, target string) (string, error)
	StopAllSubagents(ctx context.Context, chatID int64) (int, error)
	SubagentInfo(chatID int64, target string) (string, error)
	SubagentLog(chatID int64, target string, limit int) (string, error)
	SendToSubagent(ctx context.Context, chatID int64, target string, message string) (string, error)
}

// PluginManager backs the /plugin command.
type PluginManager interface {
	MatchCommand(normalized string) (cmd string, args string, matched bool)
	ExecuteCommand(ctx context.Context, cmd string, args string, chatID int64) (string, error)
}

// TtsStatus reports one chat's text-to-speech settings.
type TtsStatus struct {
	Enabled       bool
	Provider      string
	ProviderReady bool
	TextLimit     int
	AutoSummary   bool
}

// TtsController backs the /tts command.
type TtsController interface {
	IsEnabled(chatID int64) bool
	SetEnabled(chatID int64, on bool)
	GetProvider(chatID int64) string
	SetProvider(chatID int64, provider string) error
	GetLimit(chatID int64) int
	SetLimit(chatID int64, limit int) error
	IsSummaryEnabled(chatID int64) bool
	SetSummaryEnabled(chatID int64, on bool)
	GenerateAudio(ctx context.Context, chatID int64, text string) (string, error)
	GetStatus(chatID int64) *TtsStatus
}

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID          string // model ID (e.g. "antigravity/gemini-3-flash")
	Alias       string // short display name (e.g. "Flash")
	Provider    string
	Description string
}

// CommandRegistry dispatches slash commands to their registered handlers.
type CommandRegistry struct {
	handlers          map[string]CommandHandler
	aliases           map[string]string
	sessionManager    SessionManager
	runController     RunController
	contextController ContextController
	sessionSettings   SessionSettings
	configManager     ConfigManager
	bashExecutor      BashExecutor
	approvalManager   ApprovalManager
	allowlistManager  AllowlistManager
	subagentManager   SubagentManager
	pluginManager     PluginManager
	ttsController     TtsController
	skillManager      *SkillManager
	cronService       *CronService
	historyClearer    HistoryClearer
	mu                sync.RWMutex
}

// NewCommandRegistry returns an empty command registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		handlers: make(map[string]CommandHandler),
		aliases:  make(map[string]string),
	}
}

func (r *CommandRegistry) SetSessionManager(sm SessionManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionManager = sm
}

func (r *CommandRegistry) SetRunController(ctrl RunController) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runController = ctrl
}

func (r *CommandRegistry) SetContextController(ctrl ContextController) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contextController = ctrl
}

func (r *CommandRegistry) SetSessionSettings(ss SessionSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionSettings = ss
}

func (r *CommandRegistry) SetConfigManager(cm ConfigManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configManager = cm
}

func (r *CommandRegistry) SetBashExecutor(be BashExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bashExecutor = be
}

func (r *CommandRegistry) SetApprovalManager(am ApprovalManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvalManager = am
}

func (r *CommandRegistry) SetAllowlistManager(alm AllowlistManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowlistManager = alm
}

func (r *CommandRegistry) SetSubagentManager(sm SubagentManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subagentManager = sm
}

func (r *CommandRegistry) SetPluginManager(pm PluginManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pluginManager = pm
}

func (r *CommandRegistry) SetTtsController(tc TtsController) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttsController = tc
}

// SetSkillManager sets the skill manager.
func (r *CommandRegistry) SetSkillManager(sm *SkillManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skillManager = sm
}

// SetCronService sets the cron service.
func (r *CommandRegistry) SetCronService(cs *CronService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cronService = cs
}

func (r *CommandRegistry) SetHistoryClearer(hc HistoryClearer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.historyClearer = hc
}

// Register adds or replaces the handler for name.
func (r *CommandRegistry) Register(name string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(name)] = handler
}

// Alias routes alias to target's handler.
func (r *CommandRegistry) Alias(alias, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[strings.ToLower(alias)] = strings.ToLower(target)
}

// Handle runs cmd's registered handler, resolving aliases first.
func (r *CommandRegistry) Handle(ctx context.Context, cmd *Command) (*OutgoingMessage, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := strings.ToLower(cmd.Name)

	if target, ok := r.aliases[name]; ok {
		name = target
	}

	handler, exists := r.handlers[name]
	if !exists {
		return nil, false, nil
	}

	response, err := handler(ctx, cmd)
	return response, true, err
}

// ParseCommand splits a "/name arg1 arg2" message into a Command, or returns
// nil if text isn't a command.
func ParseCommand(text string) *Command {
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	// strip the @botname suffix used for commands in groups
	parts := strings.SplitN(text[1:], " ", 2)
	cmdPart := parts[0]
	if idx := strings.Index(cmdPart, "@"); idx != -1 {
		cmdPart = cmdPart[:idx]
	}

	cmd := &Command{
		Name: cmdPart,
	}

	if len(parts) > 1 {
		cmd.RawArgs = parts[1]
		cmd.Args = strings.Fields(parts[1])
	}

	return cmd
}

// RegisterBuiltinCommands registers every built-in command (delegated to cmd_*.go files).
func (a *Adapter) RegisterBuiltinCommands(registry *CommandRegistry, secCtrl ...SecurityController) {
	a.registerSessionCommands(registry)
	a.registerModelCommands(registry)
	a.registerSettingsCommands(registry)
	a.registerContextCommands(registry)
	a.registerAgentCommands(registry)
	a.registerAdminCommands(registry)
	if len(secCtrl) > 0 && secCtrl[0] != nil {
		a.registerSecurityCommands(registry, secCtrl[0])
	}
}

// SetCommandRegistry attaches registry as the adapter's command dispatcher.
func (a *Adapter) SetCommandRegistry(registry *CommandRegistry) {
	a.commandRegistry = registry
}

// parsePageNumber parses a decimal page number, returning -1 if s isn't one.
func parsePageNumber(s string) int {
	if len(s) == 0 {
		return -1
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// formatTokenCount renders a token count with a k/M suffix.
func formatTokenCount(tokens int) string {
	if tokens >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000)
	}
	if tokens >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(tokens)/1_000)
	}
	return fmt.Sprintf("%d", tokens)
}
