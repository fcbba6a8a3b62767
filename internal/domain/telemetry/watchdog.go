package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/domain/entity"
)

// WatchdogConfig configures per-tool timeouts and the heartbeat cadence
// broadcast while a dispatch is still running.
type WatchdogConfig struct {
	ToolTimeout       time.Duration // per tool-call deadline; NewWatchdog replaces 0 with 2 minutes
	HeartbeatInterval time.Duration // 0 disables the heartbeat ticker
}

// DefaultWatchdogConfig returns a 2-minute per-tool timeout and a 30-second
// heartbeat. (The tool-call loop's own fallback, AgentLoopConfig.ToolTimeout,
// defaults to 30 seconds.)
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{ToolTimeout: 2 * time.Minute, HeartbeatInterval: 30 * time.Second}
}

// Watchdog bounds one dispatch's tool calls in time and periodically
// broadcasts an "agent.heartbeat" event so subscribers know a long-running
// dispatch is still alive, not stalled.
type Watchdog struct {
	cfg       WatchdogConfig
	channelID int64
	sink      HeartbeatSink
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// HeartbeatSink receives heartbeat broadcasts — typically the dispatch's
// Broadcaster, kept as a narrow interface here to avoid an import cycle
// with the service package.
type HeartbeatSink interface {
	Publish(ctx context.Context, ev entity.BroadcastEvent)
}

// NewWatchdog creates a watchdog for one dispatch's channel.
func NewWatchdog(cfg WatchdogConfig, channelID int64, sink HeartbeatSink, logger *zap.Logger) *Watchdog {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{cfg: cfg, channelID: channelID, sink: sink, logger: logger}
}

// WithToolTimeout wraps ctx with the configured per-tool-call deadline.
// Returns the child context and its cancel func, which the caller must
// invoke once the tool call returns.
func (w *Watchdog) WithToolTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.ToolTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.cfg.ToolTimeout)
}

// StartHeartbeat begins broadcasting periodic "still working" events until
// StopHeartbeat is called or ctx is cancelled. A no-op if HeartbeatInterval
// is 0 or the watchdog has no sink.
func (w *Watchdog) StartHeartbeat(ctx context.Context) {
	if w.cfg.HeartbeatInterval <= 0 || w.sink == nil {
		return
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	hbCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	go w.loop(hbCtx)
}

// StopHeartbeat halts the periodic broadcast.
func (w *Watchdog) StopHeartbeat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.cancel()
		w.running = false
	}
}

func (w *Watchdog) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sink.Publish(ctx, entity.NewBroadcastEvent(entity.BroadcastHeartbeat, w.channelID, map[string]any{
				"status": "running",
			}))
		}
	}
}
