// Package telemetry implements the span collector, reward emitter,
// rollout manager, watchdog, and resource manager that observe one
// dispatch from first model call to final reply.
package telemetry

import (
	"sync"
	"time"
)

// SpanKind names the bounded operation a Span records.
type SpanKind string

const (
	SpanAttempt  SpanKind = "attempt"
	SpanAICall   SpanKind = "ai_call"
	SpanToolCall SpanKind = "tool_call"
)

// Span is a telemetry record of one bounded operation.
type Span struct {
	ID        string
	RolloutID string
	Kind      SpanKind
	Name      string // tool name / model name, depending on Kind
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	ErrorText string
	Attrs     map[string]any
}

// Duration returns the span's wall-clock length.
func (s *Span) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Collector accumulates spans for the lifetime of one dispatch and
// persists them on flush. Thread-safe: parallel tool executions each
// record their own span concurrently.
type Collector struct {
	mu    sync.Mutex
	spans []*Span
	sink  Sink
}

// Sink persists finished spans — the out-of-scope `spans` table.
type Sink interface {
	PersistSpans(spans []*Span) error
}

// NewCollector creates a span collector writing to sink on Flush.
func NewCollector(sink Sink) *Collector {
	return &Collector{sink: sink}
}

// Start begins a new span and returns a handle to finish it.
func (c *Collector) Start(rolloutID string, kind SpanKind, name string) *Span {
	sp := &Span{RolloutID: rolloutID, Kind: kind, Name: name, StartedAt: time.Now(), Attrs: map[string]any{}}
	c.mu.Lock()
	c.spans = append(c.spans, sp)
	c.mu.Unlock()
	return sp
}

// Finish records the span's outcome.
func (sp *Span) Finish(success bool, errText string) {
	sp.EndedAt = time.Now()
	sp.Success = success
	sp.ErrorText = errText
}

// Flush persists every collected span and clears the in-memory buffer.
// Called on both success and failure so a failed attempt's spans are
// never silently dropped.
func (c *Collector) Flush() error {
	c.mu.Lock()
	spans := c.spans
	c.spans = nil
	c.mu.Unlock()

	if len(spans) == 0 || c.sink == nil {
		return nil
	}
	return c.sink.PersistSpans(spans)
}

// Clear discards collected spans without persisting (used when a thread-
// local collector is reset between dispatches).
func (c *Collector) Clear() {
	c.mu.Lock()
	c.spans = nil
	c.mu.Unlock()
}

// Count returns the number of spans collected so far (for tests/telemetry
// display).
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}
