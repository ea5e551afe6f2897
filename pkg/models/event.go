// Package models provides domain types for the Relay orchestration core.
package models

import (
	"time"
)

// Event is the unified progress event model for one pipeline run.
// A run emits zero or more progress events followed by exactly one terminal
// event (complete or error), after which the stream is closed.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
type Event struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type EventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run.
	Sequence uint64 `json:"seq"`

	// RequestID identifies the pipeline run (Process call).
	RequestID string `json:"request_id,omitempty"`

	// Stage names the pipeline stage the event originated from, when relevant.
	Stage string `json:"stage,omitempty"`

	// Round is the 0-based tool-call loop round, for loop events.
	Round int `json:"round,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Stream   *StreamPayload   `json:"stream,omitempty"`
	Tool     *ToolPayload     `json:"tool,omitempty"`
	Routing  *RoutingPayload  `json:"routing,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
	Complete *CompletePayload `json:"complete,omitempty"`
}

// EventType identifies the kind of pipeline event.
type EventType string

const (
	// Stage lifecycle
	EventStageCompleted EventType = "stage.completed"

	// Model streaming
	EventModelDelta    EventType = "model.delta"
	EventModelThinking EventType = "model.thinking"

	// Tool-call loop
	EventRoundStarted     EventType = "round.started"
	EventToolRequested    EventType = "tool.requested"
	EventToolApproved     EventType = "tool.approved"
	EventToolCompleted    EventType = "tool.completed"
	EventForcedSynthesis  EventType = "loop.forced_synthesis"
	EventFallbackResponse EventType = "loop.fallback_response"

	// Routing
	EventRoutingDecided EventType = "routing.decided"

	// Terminal outcomes. Exactly one of these ends every run.
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// IsTerminal reports whether the event type ends the run.
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}

// StreamPayload carries model streaming deltas.
type StreamPayload struct {
	// Delta is the incremental text (token-by-token or chunked).
	Delta string `json:"delta,omitempty"`

	// Model identifies the producing model (optional, for debugging).
	Model string `json:"model,omitempty"`
}

// ToolPayload describes tool invocations as they progress.
type ToolPayload struct {
	CallID   string `json:"call_id,omitempty"`
	Name     string `json:"name,omitempty"`
	ServerID string `json:"server_id,omitempty"`

	// ArgsJSON is the raw JSON arguments (requested events).
	ArgsJSON []byte `json:"args_json,omitempty"`

	// Result is the tool output (completed events).
	Result string `json:"result,omitempty"`

	// IsError marks a failed call on completed events.
	IsError bool `json:"is_error,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// RoutingPayload reports the router's decision for the request.
type RoutingPayload struct {
	Decision RoutingDecision `json:"decision"`
}

// ErrorPayload is the terminal error payload.
type ErrorPayload struct {
	Stage     string `json:"stage,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`

	// Diagnostics carries operator guidance. Populated only for admin callers.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// CompletePayload is the terminal success payload.
type CompletePayload struct {
	// Message is the finalized assistant reply.
	Message Message `json:"message"`

	// Synthesized marks replies produced by the forced-synthesis or
	// fallback-summary path rather than a natural model completion.
	Synthesized bool `json:"synthesized,omitempty"`

	// ToolCalls is the number of tool invocations attempted during the run.
	ToolCalls int `json:"tool_calls,omitempty"`

	// Usage aggregates model token usage across all model calls.
	Usage *Usage `json:"usage,omitempty"`
}

// Usage aggregates token accounting across model calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
