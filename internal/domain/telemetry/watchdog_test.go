package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaycore/relay/internal/domain/entity"
)

type fakeHeartbeatSink struct {
	mu     sync.Mutex
	events []entity.BroadcastEvent
}

func (f *fakeHeartbeatSink) Publish(_ context.Context, ev entity.BroadcastEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeHeartbeatSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestWatchdogToolTimeoutExpires(t *testing.T) {
	w := NewWatchdog(WatchdogConfig{ToolTimeout: 10 * time.Millisecond}, 1, nil, nil)
	ctx, cancel := w.WithToolTimeout(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected tool timeout context to expire")
	}
}

func TestWatchdogHeartbeatBroadcasts(t *testing.T) {
	sink := &fakeHeartbeatSink{}
	w := NewWatchdog(WatchdogConfig{ToolTimeout: time.Second, HeartbeatInterval: 10 * time.Millisecond}, 1, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	w.StartHeartbeat(ctx)
	time.Sleep(55 * time.Millisecond)
	w.StopHeartbeat()
	cancel()

	if sink.count() == 0 {
		t.Fatal("expected at least one heartbeat broadcast")
	}
}

func TestWatchdogHeartbeatDisabledWithZeroInterval(t *testing.T) {
	sink := &fakeHeartbeatSink{}
	w := NewWatchdog(WatchdogConfig{ToolTimeout: time.Second}, 1, sink, nil)
	w.StartHeartbeat(context.Background())
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatal("expected no heartbeats when interval is 0")
	}
}
