package entity

// DispatchResult is the single outbound shape the dispatcher produces for
// every inbound NormalizedMessage. Channel adapters translate this back
// into their own wire format (a Telegram reply, a Discord embed, ...).
type DispatchResult struct {
	Response string
	Error    string
}

// Succeeded reports whether the dispatch completed without a surfaced error.
func (r *DispatchResult) Succeeded() bool {
	return r != nil && r.Error == ""
}

// NewDispatchResult builds a successful result.
func NewDispatchResult(response string) *DispatchResult {
	return &DispatchResult{Response: response}
}

// NewDispatchError builds an error result. The response, when non-empty,
// is still shown to the user (e.g. "[Error] ..."); Error carries the
// machine-readable reason for logging/telemetry.
func NewDispatchError(response, reason string) *DispatchResult {
	return &DispatchResult{Response: response, Error: reason}
}
