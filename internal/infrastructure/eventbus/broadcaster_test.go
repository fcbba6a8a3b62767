package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/domain/entity"
)

func TestBusBroadcaster_Publish(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()

	var mu sync.Mutex
	var received Event
	done := make(chan struct{})

	bus.Subscribe(string(entity.BroadcastAgentResponse), func(ctx context.Context, ev Event) {
		mu.Lock()
		received = ev
		mu.Unlock()
		close(done)
	})

	b := NewBusBroadcaster(bus)
	b.Publish(context.Background(), entity.NewBroadcastEvent(entity.BroadcastAgentResponse, 7, map[string]any{
		"content": "hello",
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the subscriber to receive the event")
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("expected a received event")
	}
	if received.Type() != string(entity.BroadcastAgentResponse) {
		t.Errorf("expected type %q, got %q", entity.BroadcastAgentResponse, received.Type())
	}
	payload, ok := received.Payload().(map[string]any)
	if !ok {
		t.Fatalf("expected a map[string]any payload, got %T", received.Payload())
	}
	if payload["content"] != "hello" {
		t.Errorf("expected content 'hello', got %v", payload["content"])
	}
	if payload["channel_id"] != int64(7) {
		t.Errorf("expected channel_id 7, got %v", payload["channel_id"])
	}
}
