package service

import (
	"context"

	"github.com/relaycore/relay/internal/domain/entity"
)

// Broadcaster fans typed events out to any subscriber — UI,
// WebSocket, or a test harness. Implemented by
// infrastructure/eventbus.BusBroadcaster; kept as a domain-level
// interface so dispatch/orchestrator/loop code never imports infrastructure.
type Broadcaster interface {
	Publish(ctx context.Context, ev entity.BroadcastEvent)
}

// NoOpBroadcaster discards every event. Useful in tests.
type NoOpBroadcaster struct{}

func (NoOpBroadcaster) Publish(context.Context, entity.BroadcastEvent) {}
