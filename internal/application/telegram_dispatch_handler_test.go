package application

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/domain/entity"
)

// fakeHandlerSessionRepo is a minimal in-memory ChatSessionRepository,
// enough to exercise ClearHistory without a database.
type fakeHandlerSessionRepo struct {
	byKey map[string]*entity.ChatSession
}

func newFakeHandlerSessionRepo() *fakeHandlerSessionRepo {
	return &fakeHandlerSessionRepo{byKey: map[string]*entity.ChatSession{}}
}

func (r *fakeHandlerSessionRepo) FindByKey(ctx context.Context, sessionKey string) (*entity.ChatSession, error) {
	return r.byKey[sessionKey], nil
}

func (r *fakeHandlerSessionRepo) Save(ctx context.Context, session *entity.ChatSession) error {
	r.byKey[session.SessionKey] = session
	return nil
}

func TestTelegramDispatchHandler_RunController(t *testing.T) {
	h := &telegramDispatchHandler{
		sessions: newFakeHandlerSessionRepo(),
		logger:   zap.NewNop(),
	}

	const chatID int64 = 42
	if h.IsRunActive(chatID) {
		t.Fatalf("expected no active run before one is stored")
	}
	if h.GetRunState(chatID) != "idle" {
		t.Errorf("expected idle state, got %q", h.GetRunState(chatID))
	}

	_, cancel := context.WithCancel(context.Background())
	h.activeRuns.Store(chatID, cancel)

	if !h.IsRunActive(chatID) {
		t.Fatalf("expected an active run after storing one")
	}
	if h.GetRunState(chatID) != "running" {
		t.Errorf("expected running state, got %q", h.GetRunState(chatID))
	}

	if !h.AbortRun(chatID) {
		t.Errorf("expected AbortRun to report success for a stored run")
	}

	h.activeRuns.Delete(chatID)
	if h.AbortRun(chatID) {
		t.Errorf("expected AbortRun to report failure once the run entry is gone")
	}
}

func TestTelegramDispatchHandler_ClearHistory(t *testing.T) {
	sessions := newFakeHandlerSessionRepo()
	h := &telegramDispatchHandler{
		sessions: sessions,
		logger:   zap.NewNop(),
	}

	const chatID int64 = 7
	dmKey := fmt.Sprintf("%s:%s:%d", entity.ChannelTelegram, entity.ScopeDM, chatID)
	session := entity.NewChatSession(dmKey, entity.ChannelTelegram, telegramChannelID, fmt.Sprintf("%d", chatID), entity.ScopeDM, 180000)
	session.ID = 1
	sessions.byKey[dmKey] = session

	h.ClearHistory(chatID)

	cleared := sessions.byKey[dmKey]
	if cleared.CompletionStatus != entity.StatusComplete {
		t.Errorf("expected the DM session to be marked Complete, got %q", cleared.CompletionStatus)
	}
}

func TestTelegramDispatchHandler_ClearHistory_NoSession(t *testing.T) {
	h := &telegramDispatchHandler{
		sessions: newFakeHandlerSessionRepo(),
		logger:   zap.NewNop(),
	}

	// Must not panic when neither scope has a session yet.
	h.ClearHistory(999)
}
