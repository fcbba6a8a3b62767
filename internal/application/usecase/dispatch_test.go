package usecase_test

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/application/usecase"
	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/domain/service"
	domaintool "github.com/relaycore/relay/internal/domain/tool"
)

// ===== fake repositories, grounded on the mock style in process_message_test.go =====

type fakeIdentityRepo struct {
	mu   sync.Mutex
	byID map[string]*entity.Identity
	next int64
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{byID: map[string]*entity.Identity{}}
}

func (r *fakeIdentityRepo) FindByChannelUser(ctx context.Context, channelType entity.ChannelType, externalUserID string) (*entity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[string(channelType)+":"+externalUserID], nil
}

func (r *fakeIdentityRepo) Create(ctx context.Context, identity *entity.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	identity.ID = r.next
	r.byID[string(identity.ChannelType)+":"+identity.ExternalUserID] = identity
	return nil
}

type fakeSessionRepo struct {
	mu     sync.Mutex
	byKey  map[string]*entity.ChatSession
	nextID int64
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byKey: map[string]*entity.ChatSession{}}
}

func (r *fakeSessionRepo) FindByKey(ctx context.Context, sessionKey string) (*entity.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byKey[sessionKey], nil
}

func (r *fakeSessionRepo) Save(ctx context.Context, session *entity.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID == 0 {
		r.nextID++
		session.ID = r.nextID
	}
	r.byKey[session.SessionKey] = session
	return nil
}

type fakeMessageRepo struct {
	mu   sync.Mutex
	rows []*entity.SessionMessage
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{}
}

func (r *fakeMessageRepo) Save(ctx context.Context, msg *entity.SessionMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, msg)
	return nil
}

func (r *fakeMessageRepo) RecentForSession(ctx context.Context, sessionID int64, limit int) ([]*entity.SessionMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.SessionMessage
	for _, m := range r.rows {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeMemoryRepo struct{}

func (fakeMemoryRepo) SaveMemory(ctx context.Context, m *entity.Memory) error { return nil }
func (fakeMemoryRepo) RecentForIdentity(ctx context.Context, identityID string, limit int) ([]*entity.Memory, error) {
	return nil, nil
}

type fakeDailyLogRepo struct{}

func (fakeDailyLogRepo) TodayFor(ctx context.Context, identityID string) (string, error) {
	return "", nil
}

type fakeSpecialRoleRepo struct{}

func (fakeSpecialRoleRepo) FindGrant(ctx context.Context, channelType entity.ChannelType, externalUserID string) (*entity.SpecialRoleGrant, error) {
	return nil, nil
}

type fakeAgentSettingsRepo struct{}

func (fakeAgentSettingsRepo) FindByChannel(ctx context.Context, channelID int64) (*entity.AgentSettings, error) {
	return nil, nil
}

// fakeDispatchLLM replies once with a plain-text final answer and no tool
// calls, so ToolCallLoop.Run returns after its first iteration.
type fakeDispatchLLM struct {
	content string
}

func (f *fakeDispatchLLM) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	return &service.LLMResponse{Content: f.content, ModelUsed: "test-model", TokensUsed: 5}, nil
}

func (f *fakeDispatchLLM) GenerateStream(ctx context.Context, req *service.LLMRequest, deltaCh chan<- service.StreamChunk) (*service.LLMResponse, error) {
	return &service.LLMResponse{Content: f.content, ModelUsed: "test-model", TokensUsed: 5}, nil
}

// fakeDispatchTools exposes no tool definitions, so the loop never has
// anything to call.
type fakeDispatchTools struct{}

func (fakeDispatchTools) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	return &domaintool.Result{Success: true, Output: "ok"}, nil
}

func (fakeDispatchTools) GetDefinitions() []domaintool.Definition { return nil }

func (fakeDispatchTools) GetToolKind(name string) domaintool.Kind { return domaintool.KindRead }

func newTestDispatcher(llmContent string) (*usecase.Dispatcher, *fakeSessionRepo, *fakeMessageRepo) {
	sessions := newFakeSessionRepo()
	messages := newFakeMessageRepo()
	d := usecase.NewDispatcher(usecase.DispatcherDeps{
		Identities:    newFakeIdentityRepo(),
		Sessions:      sessions,
		Messages:      messages,
		Memories:      fakeMemoryRepo{},
		DailyLogs:     fakeDailyLogRepo{},
		SpecialRoles:  fakeSpecialRoleRepo{},
		AgentSettings: fakeAgentSettingsRepo{},
		LLM:           &fakeDispatchLLM{content: llmContent},
		Tools:         fakeDispatchTools{},
		Logger:        zap.NewNop(),
	})
	return d, sessions, messages
}

func TestDispatcher_Dispatch_Success(t *testing.T) {
	d, sessions, messages := newTestDispatcher("Hello, user!")

	msg := &entity.NormalizedMessage{
		ChannelID:   1,
		ChannelType: entity.ChannelSlack,
		ChatID:      "chat-1",
		UserID:      "chat-1",
		UserName:    "tester",
		MessageID:   "m-1",
		Text:        "hi there",
	}

	result, err := d.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected a successful result, got error=%q", result.Error)
	}
	if result.Response != "Hello, user!" {
		t.Errorf("expected response 'Hello, user!', got %q", result.Response)
	}

	key := "slack:dm:chat-1"
	session := sessions.byKey[key]
	if session == nil {
		t.Fatalf("expected a session to be persisted under key %q", key)
	}
	if session.CompletionStatus != entity.StatusComplete {
		t.Errorf("expected session to settle Complete, got %q", session.CompletionStatus)
	}

	if len(messages.rows) != 2 {
		t.Fatalf("expected 2 transcript rows (user + assistant), got %d", len(messages.rows))
	}
	if messages.rows[0].Role != entity.RoleUser || messages.rows[1].Role != entity.RoleAssistant {
		t.Errorf("expected user then assistant rows, got %v then %v", messages.rows[0].Role, messages.rows[1].Role)
	}
}

func TestDispatcher_Dispatch_Reset(t *testing.T) {
	d, sessions, _ := newTestDispatcher("should never be called")

	msg := &entity.NormalizedMessage{
		ChannelID:   1,
		ChannelType: entity.ChannelSlack,
		ChatID:      "chat-2",
		UserID:      "chat-2",
		UserName:    "tester",
		Text:        "first message",
	}
	if _, err := d.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("setup dispatch failed: %v", err)
	}

	resetMsg := &entity.NormalizedMessage{
		ChannelID:   1,
		ChannelType: entity.ChannelSlack,
		ChatID:      "chat-2",
		UserID:      "chat-2",
		UserName:    "tester",
		Text:        "/new",
	}
	result, err := d.Dispatch(context.Background(), resetMsg)
	if err != nil {
		t.Fatalf("expected no error on reset, got %v", err)
	}
	if result.Response != "Session reset." {
		t.Errorf("expected 'Session reset.', got %q", result.Response)
	}

	session := sessions.byKey["slack:dm:chat-2"]
	if session == nil || session.CompletionStatus != entity.StatusComplete {
		t.Errorf("expected the existing session to be marked Complete by reset")
	}
}

func TestDispatcher_Dispatch_StandaloneThinkDirective(t *testing.T) {
	d, _, _ := newTestDispatcher("should never be called")

	msg := &entity.NormalizedMessage{
		ChannelID:   1,
		ChannelType: entity.ChannelSlack,
		ChatID:      "chat-3",
		UserID:      "user-3",
		UserName:    "tester",
		Text:        "/think:high",
	}
	result, err := d.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Response != "Thinking level set to high." {
		t.Errorf("expected thinking-level acknowledgement, got %q", result.Response)
	}
}
