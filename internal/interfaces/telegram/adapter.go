package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Config holds the Telegram adapter's bot credentials and access policy.
type Config struct {
	BotToken       string
	AllowedUserIDs []int64
	WebhookURL     string // optional; empty means long polling
	Debug          bool
	DMPolicy       string   // open / allowlist / disabled
	GroupPolicy    string   // open / allowlist / disabled
	GroupAllowFrom []string // allowed group chat IDs
}

// Adapter drives a Telegram bot: polling, command dispatch, and approvals.
type Adapter struct {
	bot             *tgbotapi.BotAPI
	config          *Config
	logger          *zap.Logger
	messageHandler  MessageHandler
	approvalHandler ApprovalHandler
	commandRegistry *CommandRegistry
	runController   RunController
	inboundBuffer   *InboundBuffer
	reactionHandler ReactionHandler
	inlineHandler   *InlineHandler
	mu              sync.RWMutex
	pendingApproval map[string]*ApprovalRequest
	cancel          context.CancelFunc
}

// MessageHandler turns an IncomingMessage into a reply.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *IncomingMessage) (*OutgoingMessage, error)
}

// ApprovalHandler is notified of a user's approve/deny decision.
type ApprovalHandler interface {
	HandleApproval(ctx context.Context, requestID string, approved bool) error
}

// RunController lets command handlers abort or inspect a chat's active run.
type RunController interface {
	AbortRun(chatID int64) bool
	IsRunActive(chatID int64) bool
	GetRunState(chatID int64) string
}

// ReactionHandler maps a user's emoji reaction to a semantic action.
type ReactionHandler interface {
	// action is one of "save_memory" | "retry" | "regenerate" | "pin".
	HandleReaction(ctx context.Context, chatID int64, messageID int, action string) error
}

// IncomingMessage is a normalized inbound Telegram message.
type IncomingMessage struct {
	MessageID      int
	ChatID         int64
	UserID         int64
	Username       string
	Text           string
	ReplyToMessage *IncomingMessage
	Timestamp      time.Time
	// Media holds the attachment this message carries, if any (photo/voice/audio/video/document).
	Media     *MediaInfo
	MediaData []byte
	// MediaGroup holds every attachment when Telegram batches them as an album.
	MediaGroup []MediaInfo
}

// OutgoingMessage is a normalized reply ready to send.
type OutgoingMessage struct {
	ChatID      int64
	Text        string
	ParseMode   string // "Markdown", "HTML", ""
	ReplyMarkup interface{}
	ReplyToID   int
}

// ApprovalRequest tracks one pending tool-execution approval card.
type ApprovalRequest struct {
	ID           string
	ChatID       int64
	MessageID    int
	ToolName     string
	ToolArgs     string
	CreatedAt    time.Time
	ResponseChan chan bool
}

// NewAdapter authorizes against the Telegram Bot API and wires the inbound buffer.
func NewAdapter(config *Config, logger *zap.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot.Debug = config.Debug

	logger.Info("Telegram bot authorized",
		zap.String("username", bot.Self.UserName),
	)

	adapter := &Adapter{
		bot:             bot,
		config:          config,
		logger:          logger,
		pendingApproval: make(map[string]*ApprovalRequest),
	}

	// Initialize inbound buffer — handler will be set when messageHandler is wired
	adapter.inboundBuffer = NewInboundBuffer(func(ctx context.Context, msg *IncomingMessage) {
		adapter.processBufferedMessage(ctx, msg)
	}, logger)

	return adapter, nil
}

// SetMessageHandler registers the chat message handler.
func (a *Adapter) SetMessageHandler(handler MessageHandler) {
	a.messageHandler = handler
}

// SetApprovalHandler registers the tool-approval decision handler.
func (a *Adapter) SetApprovalHandler(handler ApprovalHandler) {
	a.approvalHandler = handler
}

// SetRunController registers the per-chat run controller.
func (a *Adapter) SetRunController(ctrl RunController) {
	a.runController = ctrl
}

// Start begins long polling for updates until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	innerCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.SetupBotCommands(); err != nil {
		a.logger.Warn("Failed to setup bot commands", zap.Error(err))
	}

	updates := a.bot.GetUpdatesChan(u)

	a.logger.Info("Starting Telegram polling")

	go func() {
		for {
			select {
			case <-innerCtx.Done():
				a.bot.StopReceivingUpdates()
				a.logger.Info("Telegram adapter stopped")
				return
			case update := <-updates:
				go a.handleUpdate(innerCtx, update)
			}
		}
	}()

	return nil
}

// SetupBotCommands publishes the bot's slash-command menu.
func (a *Adapter) SetupBotCommands() error {
	commands := []tgbotapi.BotCommand{
		{Command: "new", Description: "✨ New conversation"},
		{Command: "stop", Description: "⏹ Stop the current run"},
		{Command: "models", Description: "🤖 Switch model"},
		{Command: "status", Description: "📊 Current status"},
		{Command: "think", Description: "🧠 Thinking level"},
		{Command: "compact", Description: "⚙️ Compact context"},
		{Command: "security", Description: "🔒 Security policy"},
		{Command: "skills", Description: "🎯 Manage skills"},
		{Command: "plan", Description: "📝 View plan"},
		{Command: "help", Description: "❓ Help"},
	}

	config := tgbotapi.NewSetMyCommands(commands...)
	_, err := a.bot.Request(config)
	if err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}

	a.logger.Info("Bot commands menu configured", zap.Int("count", len(commands)))
	return nil
}

// CreateDraftStream creates a new streaming message updater for the given chat.
// Deprecated: Use CreateStagedReply for TG card interactions.
func (a *Adapter) CreateDraftStream(chatID int64) *DraftStream {
	return NewDraftStream(a.bot, chatID)
}

// CreateStagedReply creates an Antigravity-style staged reply handler.
// Phase 1: status message updates (thinking → tool exec → step progress)
// Phase 2: delete status → deliver final complete reply
func (a *Adapter) CreateStagedReply(chatID int64) *StagedReply {
	return NewStagedReply(a.bot, chatID)
}

// Stop cancels the adapter's polling loop.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

// handleUpdate routes one Telegram update to the right sub-handler.
func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		a.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.InlineQuery != nil {
		if a.inlineHandler != nil {
			a.inlineHandler.HandleInlineQuery(ctx, a.bot, update.InlineQuery)
		}
		return
	}

	if update.EditedMessage != nil {
		a.handleEditedMessage(ctx, update.EditedMessage)
		return
	}

	if update.Message == nil {
		return
	}

	msg := update.Message

	isGroup := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
	if !a.isAllowedChat(msg.Chat.ID, msg.From.ID, isGroup) {
		a.logger.Warn("Unauthorized access",
			zap.Int64("chat_id", msg.Chat.ID),
			zap.Int64("user_id", msg.From.ID),
			zap.String("username", msg.From.UserName),
			zap.Bool("is_group", isGroup),
		)
		return
	}

	if cmd := ParseCommand(msg.Text); cmd != nil {
		cmd.ChatID = msg.Chat.ID
		cmd.UserID = msg.From.ID

		if a.commandRegistry != nil {
			response, handled, err := a.commandRegistry.Handle(ctx, cmd)
			if err != nil {
				a.logger.Error("Failed to handle command",
					zap.String("command", cmd.Name),
					zap.Error(err),
				)
				a.sendError(msg.Chat.ID, err)
				return
			}
			if handled {
				if response != nil {
					a.SendMessage(response)
				}
				return
			}
		}

		a.logger.Debug("Unknown command, treating as message",
			zap.String("command", cmd.Name),
		)
	}

	incoming := &IncomingMessage{
		MessageID: msg.MessageID,
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	if msg.ReplyToMessage != nil {
		incoming.ReplyToMessage = &IncomingMessage{
			MessageID: msg.ReplyToMessage.MessageID,
			Text:      msg.ReplyToMessage.Text,
		}
	}

	if mediaInfo := ExtractMedia(msg); mediaInfo != nil {
		incoming.Media = mediaInfo
		if incoming.Text == "" && mediaInfo.Caption != "" {
			incoming.Text = mediaInfo.Caption
		}

		data, err := DownloadFile(a.bot, mediaInfo.FileID, a.logger)
		if err != nil {
			a.logger.Error("Failed to download media file",
				zap.String("file_id", mediaInfo.FileID),
				zap.String("type", string(mediaInfo.Type)),
				zap.Error(err),
			)
		} else {
			incoming.MediaData = data
			a.logger.Info("Media attachment extracted",
				zap.String("type", string(mediaInfo.Type)),
				zap.String("mime", mediaInfo.MimeType),
				zap.Int("size_bytes", len(data)),
			)
		}
	}

	// Submit to inbound buffer (handles debounce, text fragments, media groups)
	a.inboundBuffer.Submit(ctx, incoming, msg.MediaGroupID)
}

// handleCallback handles an inline-button press (approval or command callback).
func (a *Adapter) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	data := callback.Data

	if data == "noop" {
		a.bot.Send(tgbotapi.NewCallback(callback.ID, ""))
		return
	}

	if strings.HasPrefix(data, "/") {
		a.handleCommandCallback(ctx, callback)
		return
	}

	// format: approve:<request_id> or deny:<request_id>
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		a.bot.Send(tgbotapi.NewCallback(callback.ID, "Invalid callback"))
		return
	}

	action := parts[0]
	requestID := parts[1]

	a.mu.Lock()
	request, exists := a.pendingApproval[requestID]
	if exists {
		delete(a.pendingApproval, requestID)
	}
	a.mu.Unlock()

	if !exists {
		a.bot.Send(tgbotapi.NewCallback(callback.ID, "Request expired"))
		return
	}

	approved := action == "approve"

	var callbackText string
	if approved {
		callbackText = "✅ Approved"
	} else {
		callbackText = "❌ Denied"
	}
	a.bot.Send(tgbotapi.NewCallback(callback.ID, callbackText))

	editMsg := tgbotapi.NewEditMessageText(
		request.ChatID,
		request.MessageID,
		fmt.Sprintf("Tool call: `%s`\nStatus: %s", request.ToolName, callbackText),
	)
	editMsg.ParseMode = "Markdown"
	a.bot.Send(editMsg)

	if request.ResponseChan != nil {
		request.ResponseChan <- approved
		close(request.ResponseChan)
	}

	if a.approvalHandler != nil {
		a.approvalHandler.HandleApproval(ctx, requestID, approved)
	}
}

// handleCommandCallback handles a command triggered from an inline button.
func (a *Adapter) handleCommandCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	data := callback.Data

	cmd := ParseCommand(data)
	if cmd == nil {
		a.bot.Send(tgbotapi.NewCallback(callback.ID, "Invalid command"))
		return
	}

	if callback.Message != nil {
		cmd.ChatID = callback.Message.Chat.ID
	}
	if callback.From != nil {
		cmd.UserID = callback.From.ID
	}

	// acknowledge the callback so Telegram clears the loading spinner
	a.bot.Send(tgbotapi.NewCallback(callback.ID, ""))

	if a.commandRegistry != nil {
		response, handled, err := a.commandRegistry.Handle(ctx, cmd)
		if err != nil {
			a.logger.Error("Failed to handle callback command",
				zap.String("command", cmd.Name),
				zap.Error(err),
			)
			return
		}
		if handled && response != nil {
			if callback.Message != nil {
				a.editMessageWithKeyboard(callback.Message.Chat.ID, callback.Message.MessageID, response)
			} else {
				a.SendMessage(response)
			}
		}
	}
}

// editMessageWithKeyboard edits an existing message, carrying over its keyboard.
func (a *Adapter) editMessageWithKeyboard(chatID int64, messageID int, msg *OutgoingMessage) {
	editMsg := tgbotapi.NewEditMessageText(chatID, messageID, msg.Text)
	if msg.ParseMode != "" {
		editMsg.ParseMode = msg.ParseMode
	}
	if msg.ReplyMarkup != nil {
		if keyboard, ok := msg.ReplyMarkup.(*tgbotapi.InlineKeyboardMarkup); ok {
			editMsg.ReplyMarkup = keyboard
		}
	}
	a.bot.Send(editMsg)
}

// RequestApproval sends a tool-execution approval card and blocks until the
// user decides, the request times out, or ctx is cancelled.
func (a *Adapter) RequestApproval(ctx context.Context, chatID int64, toolName string, toolArgs string) (bool, error) {
	requestID := fmt.Sprintf("req_%d_%d", chatID, time.Now().UnixNano())

	request := &ApprovalRequest{
		ID:           requestID,
		ChatID:       chatID,
		ToolName:     toolName,
		ToolArgs:     toolArgs,
		CreatedAt:    time.Now(),
		ResponseChan: make(chan bool, 1),
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", "approve:"+requestID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", "deny:"+requestID),
		),
	)

	// Human-readable card, not raw JSON.
	text := formatApprovalMessage(toolName, toolArgs)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = keyboard

	sentMsg, err := a.bot.Send(msg)
	if err != nil {
		return false, fmt.Errorf("failed to send approval request: %w", err)
	}

	request.MessageID = sentMsg.MessageID

	a.mu.Lock()
	a.pendingApproval[requestID] = request
	a.mu.Unlock()

	select {
	case approved := <-request.ResponseChan:
		return approved, nil
	case <-time.After(5 * time.Minute):
		a.mu.Lock()
		delete(a.pendingApproval, requestID)
		a.mu.Unlock()

		editMsg := tgbotapi.NewEditMessageText(chatID, request.MessageID,
			fmt.Sprintf("Tool call: `%s`\nStatus: ⏰ Timed out (auto-denied)", toolName))
		editMsg.ParseMode = "Markdown"
		a.bot.Send(editMsg)

		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// SendMessage delivers out, falling back to plain text if the parse mode rejects it.
func (a *Adapter) SendMessage(out *OutgoingMessage) error {
	msg := tgbotapi.NewMessage(out.ChatID, out.Text)

	if out.ParseMode != "" {
		msg.ParseMode = out.ParseMode
	}

	if out.ReplyToID > 0 {
		msg.ReplyToMessageID = out.ReplyToID
	}

	if out.ReplyMarkup != nil {
		msg.ReplyMarkup = out.ReplyMarkup
	}

	_, err := a.bot.Send(msg)

	// Fallback: if HTML parsing fails, retry as plain text.
	// Safety net for edge cases where goldmark produces invalid TG HTML.
	if err != nil && msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		a.logger.Warn("Markdown parse failed, retrying as plain text",
			zap.Int64("chat_id", out.ChatID),
			zap.Error(err),
		)
		msg.ParseMode = ""
		_, err = a.bot.Send(msg)
	}

	return err
}

// SendTyping sends a "typing..." chat action.
func (a *Adapter) SendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	a.bot.Send(action)
}

// sendError classifies err and replies with an actionable, user-facing message.
func (a *Adapter) sendError(chatID int64, err error) {
	errStr := strings.ToLower(err.Error())

	var text string
	switch {
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "invalid api key"):
		text = "🔑 Invalid API key — contact an admin to check the configuration"
	case strings.Contains(errStr, "model not found") || strings.Contains(errStr, "not found"):
		text = "🤖 Model currently unavailable — try /model to switch"
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		text = "⏰ Response timed out — try again, or simplify the request"
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests") || strings.Contains(errStr, "429"):
		text = "🚦 Too many requests — please wait a moment and retry"
	case strings.Contains(errStr, "context canceled"):
		text = "⏹ Operation cancelled"
	case strings.Contains(errStr, "overloaded") || strings.Contains(errStr, "503") || strings.Contains(errStr, "529"):
		text = "🔄 Service temporarily overloaded — try again shortly"
	default:
		// Generic: show simplified error
		short := err.Error()
		if len(short) > 200 {
			short = short[:200] + "..."
		}
		text = fmt.Sprintf("❌ Something went wrong: %s", short)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	a.bot.Send(msg)
}

// isAllowedUser applies the DM access policy to a private chat.
func (a *Adapter) isAllowedUser(userID int64) bool {
	switch a.config.DMPolicy {
	case "disabled":
		return false
	case "allowlist":
		return a.isInUserAllowlist(userID)
	default: // "open" or empty
		if len(a.config.AllowedUserIDs) > 0 {
			return a.isInUserAllowlist(userID)
		}
		return true
	}
}

// isAllowedGroup applies the group access policy.
func (a *Adapter) isAllowedGroup(chatID int64) bool {
	switch a.config.GroupPolicy {
	case "disabled":
		return false
	case "allowlist":
		return a.isInGroupAllowlist(chatID)
	default: // "open" or empty
		return true
	}
}

// isAllowedChat combines group and user access policy for one update.
func (a *Adapter) isAllowedChat(chatID int64, userID int64, isGroup bool) bool {
	if isGroup {
		if !a.isAllowedGroup(chatID) {
			return false
		}
		return true
	}
	return a.isAllowedUser(userID)
}

// isInUserAllowlist reports whether userID is allowed (empty allowlist = allow all).
func (a *Adapter) isInUserAllowlist(userID int64) bool {
	if len(a.config.AllowedUserIDs) == 0 {
		return true
	}
	for _, id := range a.config.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// isInGroupAllowlist reports whether chatID is allowed (empty allowlist = allow all).
func (a *Adapter) isInGroupAllowlist(chatID int64) bool {
	if len(a.config.GroupAllowFrom) == 0 {
		return true
	}
	chatIDStr := fmt.Sprintf("%d", chatID)
	for _, id := range a.config.GroupAllowFrom {
		if id == chatIDStr {
			return true
		}
	}
	return false
}

// truncate shortens s to maxLen runes of bytes, appending "..." when cut.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// processBufferedMessage handles a message after it exits the inbound buffer
func (a *Adapter) processBufferedMessage(ctx context.Context, msg *IncomingMessage) {
	if a.messageHandler == nil {
		a.logger.Warn("No message handler set")
		return
	}

	response, err := a.messageHandler.HandleMessage(ctx, msg)
	if err != nil {
		a.logger.Error("Failed to handle message",
			zap.Error(err),
		)
		a.sendError(msg.ChatID, err)
		return
	}

	if response != nil {
		a.SendMessage(response)
	}
}

// SetReactionHandler registers the emoji-reaction handler.
func (a *Adapter) SetReactionHandler(handler ReactionHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reactionHandler = handler
}

// SetInlineHandler registers the @bot inline-query handler.
func (a *Adapter) SetInlineHandler(handler *InlineHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inlineHandler = handler
}

// handleEditedMessage re-dispatches a message the user corrected after sending.
func (a *Adapter) handleEditedMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	isGroup := msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()
	if !a.isAllowedChat(msg.Chat.ID, msg.From.ID, isGroup) {
		return
	}

	a.logger.Info("Edited message received",
		zap.Int64("chat_id", msg.Chat.ID),
		zap.Int("message_id", msg.MessageID),
		zap.String("new_text", truncate(msg.Text, 100)),
	)

	incoming := &IncomingMessage{
		MessageID: msg.MessageID,
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	if mediaInfo := ExtractMedia(msg); mediaInfo != nil {
		incoming.Media = mediaInfo
		if incoming.Text == "" && mediaInfo.Caption != "" {
			incoming.Text = mediaInfo.Caption
		}
		data, err := DownloadFile(a.bot, mediaInfo.FileID, a.logger)
		if err == nil {
			incoming.MediaData = data
		}
	}

	// Flag the edit so the model knows this supersedes its prior read of the message.
	if incoming.Text != "" {
		incoming.Text = "[user edited their previous message] " + incoming.Text
	}

	// Bypass debounce — an edit needs an immediate re-response.
	a.processBufferedMessage(ctx, incoming)
}

// handleReaction maps an emoji reaction on a message to a semantic action.
func (a *Adapter) handleReaction(ctx context.Context, chatID int64, messageID int, emoji string) {
	actionMap := map[string]string{
		"👍": "save_memory", // store as a high-quality answer
		"👎": "retry",       // flag as a bad answer, regenerate
		"🔄": "regenerate",  // regenerate without flagging
		"📌": "pin",         // pin into context, exempt from compaction
		"❤":  "save_memory", // same as 👍
		"🔥": "save_memory",  // same as 👍
		"🤔": "retry",        // same as 👎
	}

	action, exists := actionMap[emoji]
	if !exists {
		a.logger.Debug("Ignoring unrecognized reaction",
			zap.String("emoji", emoji),
			zap.Int64("chat_id", chatID),
		)
		return
	}

	a.logger.Info("Reaction action triggered",
		zap.String("emoji", emoji),
		zap.String("action", action),
		zap.Int64("chat_id", chatID),
		zap.Int("message_id", messageID),
	)

	if a.reactionHandler != nil {
		if err := a.reactionHandler.HandleReaction(ctx, chatID, messageID, action); err != nil {
			a.logger.Error("Failed to handle reaction",
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}

	var feedback string
	switch action {
	case "save_memory":
		feedback = "💾 Saved to memory"
	case "retry":
		feedback = "🔄 Regenerating..."
	case "regenerate":
		feedback = "🔄 Regenerating..."
	case "pin":
		feedback = "📌 Pinned to context"
	}

	if feedback != "" {
		a.SendMessage(&OutgoingMessage{
			ChatID:    chatID,
			Text:      feedback,
			ReplyToID: messageID,
		})
	}
}

// formatApprovalMessage creates a human-readable tool approval card.
// Instead of dumping raw JSON, it extracts key information and presents it cleanly.
func formatApprovalMessage(toolName string, toolArgs string) string {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(toolArgs), &args); err != nil {
		// Fallback to raw display if not valid JSON
		return fmt.Sprintf("🔧 *Requesting tool execution*\n\nTool: `%s`\nArgs: %s\n\nConfirm execution:",
			toolName, truncate(toolArgs, 300))
	}

	var lines []string
	lines = append(lines, "🔧 *Requesting tool execution*\n")

	switch toolName {
	case "bash", "bash_exec", "shell":
		cmd := argStr(args, "command")
		if cmd == "" {
			cmd = argStr(args, "cmd")
		}
		lines = append(lines, fmt.Sprintf("Run command:\n```\n%s\n```", truncate(cmd, 500)))

	case "write_file":
		path := argStr(args, "path")
		content := argStr(args, "content")
		baseName := path
		if idx := strings.LastIndex(path, "/"); idx >= 0 {
			baseName = path[idx+1:]
		}
		contentLen := len([]rune(content))
		lines = append(lines, fmt.Sprintf("Write file: `%s` (%d chars)", baseName, contentLen))
		if contentLen > 0 {
			preview := truncate(content, 200)
			lines = append(lines, fmt.Sprintf("\nPreview:\n```\n%s\n```", preview))
		}

	case "read_file":
		path := argStr(args, "path")
		lines = append(lines, fmt.Sprintf("Read file: `%s`", path))

	case "web_search", "search":
		query := argStr(args, "query")
		lines = append(lines, fmt.Sprintf("Search: `%s`", query))

	case "web_fetch":
		url := argStr(args, "url")
		lines = append(lines, fmt.Sprintf("Fetch page: %s", truncate(url, 100)))

	default:
		// Generic: show key=value pairs, truncate long values
		lines = append(lines, fmt.Sprintf("Tool: `%s`", toolName))
		for k, v := range args {
			valStr := fmt.Sprintf("%v", v)
			if len(valStr) > 100 {
				valStr = truncate(valStr, 100)
			}
			lines = append(lines, fmt.Sprintf("• %s: %s", k, valStr))
		}
	}

	lines = append(lines, "\nConfirm execution:")
	return strings.Join(lines, "\n")
}
