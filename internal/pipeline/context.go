package pipeline

import (
	"sync"
	"time"

	"github.com/relayagent/relay/internal/config"
	"github.com/relayagent/relay/pkg/models"
)

// Context is the single mutable object threaded through one request.
// It is owned exclusively by the goroutine running the pipeline; the
// only concurrent phase is the auth+validation join, whose stages
// write disjoint fields. Timings are the exception and are guarded.
type Context struct {
	// Request is the immutable input.
	Request models.Request

	// User is resolved by the auth stage and read-only afterwards.
	User models.User

	// Config is an immutable per-request snapshot resolved once at
	// the start of processing.
	Config config.PipelineConfig

	// AvailableTools is recomputed per request by discovery; it is a
	// set, not cumulative across requests.
	AvailableTools []models.ToolDescriptor

	// ToolsUnfiltered marks that AvailableTools came from the static
	// catalog tier with no relevance ranking.
	ToolsUnfiltered bool

	// Routing is the router's decision for this request.
	Routing models.RoutingDecision

	// PendingToolCalls are the model's outstanding tool requests,
	// cleared by the loop controller each round.
	PendingToolCalls []models.ToolCall

	// ForceFinalCompletion suppresses tool offering on the next model
	// call so the model must produce text.
	ForceFinalCompletion bool

	// FinalText is the last assistant text produced.
	FinalText string

	// Synthesized marks a reply produced by the forced-synthesis or
	// fallback-summary path rather than a natural completion.
	Synthesized bool

	// Usage accumulates token usage across all model calls.
	Usage models.Usage

	// Emitter is the one-way event sink for this request. It never
	// blocks the pipeline and has no return value.
	Emitter *Emitter

	messages    []models.Message
	toolCallLog []models.ToolCallRecord
	errors      []*PipelineError
	aborted     bool

	// timings is written from both join goroutines, so unlike the rest
	// of the context it needs its own lock.
	timingsMu sync.Mutex
	timings   map[StageName]time.Duration
}

// NewContext creates the per-request context. The request history
// seeds the message sequence.
func NewContext(req models.Request, cfg config.PipelineConfig, emitter *Emitter) *Context {
	rc := &Context{
		Request: req,
		Config:  cfg,
		Emitter: emitter,
		timings: make(map[StageName]time.Duration),
	}
	rc.messages = append(rc.messages, req.History...)
	return rc
}

// Emit sends a progress event stamped with this request's ID.
func (rc *Context) Emit(ev models.Event) {
	ev.RequestID = rc.Request.ID
	rc.Emitter.Emit(ev)
}

// AppendMessage adds a message. The sequence is append-only for the
// lifetime of the request; nothing reorders or truncates it.
func (rc *Context) AppendMessage(msg models.Message) {
	rc.messages = append(rc.messages, msg)
}

// Messages returns the current message sequence. Callers must not
// mutate the returned slice.
func (rc *Context) Messages() []models.Message {
	return rc.messages
}

// LatestUserText returns the most recent user-authored text, ignoring
// non-text turns.
func (rc *Context) LatestUserText() string {
	for i := len(rc.messages) - 1; i >= 0; i-- {
		m := rc.messages[i]
		if m.Role == models.RoleUser && m.HasText() {
			return m.Content
		}
	}
	return ""
}

// RecordToolCall appends to the ordered tool invocation log.
func (rc *Context) RecordToolCall(rec models.ToolCallRecord) {
	rc.toolCallLog = append(rc.toolCallLog, rec)
}

// ToolCallLog returns every tool invocation attempted so far.
func (rc *Context) ToolCallLog() []models.ToolCallRecord {
	return rc.toolCallLog
}

// RecordError appends a structured failure.
func (rc *Context) RecordError(err *PipelineError) {
	rc.errors = append(rc.errors, err)
}

// Errors returns the ordered failure list.
func (rc *Context) Errors() []*PipelineError {
	return rc.errors
}

// Abort marks the request aborted. The flag is monotonic; once set it
// never reverts, and the runner stops scheduling stages.
func (rc *Context) Abort() {
	rc.aborted = true
}

// Aborted reports whether the request has been aborted.
func (rc *Context) Aborted() bool {
	return rc.aborted
}

// RecordTiming stores a stage's execution time.
func (rc *Context) RecordTiming(stage StageName, d time.Duration) {
	rc.timingsMu.Lock()
	rc.timings[stage] = d
	rc.timingsMu.Unlock()
}

// Timings returns a copy of the per-stage durations recorded so far.
func (rc *Context) Timings() map[StageName]time.Duration {
	rc.timingsMu.Lock()
	defer rc.timingsMu.Unlock()
	out := make(map[StageName]time.Duration, len(rc.timings))
	for name, d := range rc.timings {
		out[name] = d
	}
	return out
}

// HasAssistantText reports whether a non-empty assistant text message
// exists. The guaranteed-response safety net keys off this.
func (rc *Context) HasAssistantText() bool {
	for _, m := range rc.messages {
		if m.Role == models.RoleAssistant && m.HasText() {
			return true
		}
	}
	return false
}
