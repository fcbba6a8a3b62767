package websocket

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func newTestHub() *Hub {
	return NewHub(zap.NewNop())
}

func newTestClient(id, sessionID string) *Client {
	return &Client{
		ID:        id,
		SessionID: sessionID,
		send:      make(chan []byte, 4),
		logger:    zap.NewNop(),
	}
}

func TestHub_SendToSession_OnlyReachesMatchingClients(t *testing.T) {
	hub := newTestHub()
	a := newTestClient("client-a", "session-1")
	b := newTestClient("client-b", "session-2")
	hub.clients[a.ID] = a
	hub.clients[b.ID] = b

	hub.SendToSession("session-1", &WSMessage{Type: MessageTypeChat, Content: "hello"})

	select {
	case data := <-a.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if msg.Content != "hello" {
			t.Errorf("expected content %q, got %q", "hello", msg.Content)
		}
	default:
		t.Fatal("expected session-1's client to receive the broadcast")
	}

	select {
	case <-b.send:
		t.Fatal("session-2's client should not receive a session-1 broadcast")
	default:
	}
}

func TestHub_SendToClient_UnknownClientIsNoOp(t *testing.T) {
	hub := newTestHub()
	if err := hub.SendToClient("missing", &WSMessage{Type: MessageTypeChat}); err != nil {
		t.Fatalf("expected no error for an unknown client, got %v", err)
	}
}

func TestHub_GetClientCount(t *testing.T) {
	hub := newTestHub()
	if got := hub.GetClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
	hub.clients["c1"] = newTestClient("c1", "s1")
	if got := hub.GetClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}
}
