package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/application/usecase"
	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/repository"
	"github.com/relaycore/relay/internal/interfaces/telegram"
)

// telegramChannelID identifies the single configured Telegram bot as a
// channel for per-channel agent settings and tool-config resolution.
// Multi-bot deployments would assign one ID per bot token.
const telegramChannelID int64 = 1

// telegramDispatchHandler implements telegram.MessageHandler,
// telegram.RunController, and telegram.HistoryClearer by converting
// Telegram's wire shape into a NormalizedMessage and handing it to the
// dispatch pipeline, mirroring the way the legacy telegramMessageHandler
// bridged IncomingMessage into the agent loop.
type telegramDispatchHandler struct {
	dispatcher *usecase.Dispatcher
	sessions   repository.ChatSessionRepository
	tgAdapter  *telegram.Adapter
	channelID  int64
	logger     *zap.Logger

	activeRuns sync.Map // map[int64]context.CancelFunc
}

func (h *telegramDispatchHandler) HandleMessage(ctx context.Context, msg *telegram.IncomingMessage) (*telegram.OutgoingMessage, error) {
	if oldCancel, ok := h.activeRuns.Load(msg.ChatID); ok {
		oldCancel.(context.CancelFunc)()
		h.logger.Info("interrupted previous run", zap.Int64("chat_id", msg.ChatID))
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.activeRuns.Store(msg.ChatID, cancel)
	defer func() {
		cancel()
		h.activeRuns.Delete(msg.ChatID)
	}()

	h.tgAdapter.SendTyping(msg.ChatID)

	norm := &entity.NormalizedMessage{
		ChannelID:   h.channelID,
		ChannelType: entity.ChannelTelegram,
		ChatID:      fmt.Sprintf("%d", msg.ChatID),
		UserID:      fmt.Sprintf("%d", msg.UserID),
		UserName:    msg.Username,
		MessageID:   fmt.Sprintf("%d", msg.MessageID),
		Text:        msg.Text,
		ReceivedAt:  msg.Timestamp,
	}

	result, err := h.dispatcher.Dispatch(runCtx, norm)
	if err != nil {
		h.logger.Error("dispatch failed", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		return nil, err
	}

	if result.Response == "" {
		return nil, nil
	}

	html := telegram.MarkdownToTelegramHTML(result.Response)
	if err := h.tgAdapter.SendChunkedMessage(msg.ChatID, html, "HTML"); err != nil {
		h.logger.Error("failed to deliver response", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
	return nil, nil
}

// ===== RunController =====

func (h *telegramDispatchHandler) AbortRun(chatID int64) bool {
	if cancel, ok := h.activeRuns.Load(chatID); ok {
		cancel.(context.CancelFunc)()
		return true
	}
	return false
}

func (h *telegramDispatchHandler) IsRunActive(chatID int64) bool {
	_, ok := h.activeRuns.Load(chatID)
	return ok
}

func (h *telegramDispatchHandler) GetRunState(chatID int64) string {
	if h.IsRunActive(chatID) {
		return "running"
	}
	return "idle"
}

// ===== HistoryClearer =====

// ClearHistory resets whichever scope's session exists for chatID. The
// /clear bot command carries no userID, so unlike the text "/new" path
// handled inside Dispatch, this tries both DM and group session keys.
func (h *telegramDispatchHandler) ClearHistory(chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	chatIDStr := fmt.Sprintf("%d", chatID)
	for _, scope := range []entity.Scope{entity.ScopeDM, entity.ScopeGroup} {
		key := fmt.Sprintf("%s:%s:%s", entity.ChannelTelegram, scope, chatIDStr)
		session, err := h.sessions.FindByKey(ctx, key)
		if err != nil || session == nil {
			continue
		}
		session.CompletionStatus = entity.StatusComplete
		if err := h.sessions.Save(ctx, session); err != nil {
			h.logger.Warn("failed to clear session", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}
