package eventbus

import (
	"context"

	"github.com/relaycore/relay/internal/domain/entity"
)

// BusBroadcaster adapts a Bus into the domain's service.Broadcaster,
// letting the dispatch pipeline and tool-call loop publish lifecycle
// events (channel.message, agent.response, session.complete, ...) without
// depending on this package directly.
type BusBroadcaster struct {
	bus Bus
}

// NewBusBroadcaster wraps bus as a domain Broadcaster.
func NewBusBroadcaster(bus Bus) *BusBroadcaster {
	return &BusBroadcaster{bus: bus}
}

// Publish translates a domain BroadcastEvent into a Bus Event, keyed by
// its Kind so channel-specific subscribers (Telegram streaming, web
// sockets, the approval UI) can Subscribe to exactly the kinds they care
// about, plus wildcard subscribers that want every kind.
func (b *BusBroadcaster) Publish(ctx context.Context, ev entity.BroadcastEvent) {
	payload := map[string]any{
		"channel_id": ev.ChannelID,
		"timestamp":  ev.Timestamp,
	}
	for k, v := range ev.Payload {
		payload[k] = v
	}
	b.bus.Publish(ctx, NewEvent(string(ev.Kind), payload))
}
