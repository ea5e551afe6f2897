// Package provider implements model-completion clients for the Relay core.
//
// The pipeline consumes providers through the Completer interface only; the
// concrete Anthropic and OpenAI adapters handle streaming, retries for
// transient failures, and format conversion.
package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/relayagent/relay/pkg/models"
)

// CompletionRequest is one model completion call.
type CompletionRequest struct {
	// Model is the model identifier. Required.
	Model string

	// System is the system prompt, kept separate from Messages because
	// Anthropic's API wants it out of band.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []models.Message

	// Tools offered to the model. Empty means the model must answer in text.
	Tools []models.ToolDescriptor

	// MaxTokens bounds the response. Zero uses the provider default.
	MaxTokens int

	// Temperature, 0 to 1. Negative uses the provider default.
	Temperature float64
}

// CompletionChunk is one increment of a streaming completion.
type CompletionChunk struct {
	// Text is incremental response text.
	Text string

	// Thinking is incremental extended-thinking content.
	Thinking string

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCall

	// Done marks successful stream completion and carries final usage.
	Done         bool
	InputTokens  int
	OutputTokens int

	// Error terminates the stream.
	Error error
}

// Completer is the model-completion contract consumed by the pipeline.
// Implementations must be safe for concurrent use.
type Completer interface {
	// Complete streams a completion. The returned channel is closed when the
	// stream finishes or fails; a failure is delivered as a chunk Error.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the stable lowercase provider identifier.
	Name() string
}

// Completion is the collected result of one streamed model call.
type Completion struct {
	Text      string
	ToolCalls []models.ToolCall
	Usage     models.Usage
}

// DeltaFunc receives incremental text and thinking content during collection.
type DeltaFunc func(text, thinking string)

// Collect drains a completion stream into a Completion, forwarding deltas to
// onDelta when non-nil.
func Collect(ctx context.Context, c Completer, req *CompletionRequest, onDelta DeltaFunc) (*Completion, error) {
	chunks, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var out Completion
	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if onDelta != nil {
				onDelta(chunk.Text, "")
			}
		}
		if chunk.Thinking != "" && onDelta != nil {
			onDelta("", chunk.Thinking)
		}
		if chunk.ToolCall != nil {
			out.ToolCalls = append(out.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			out.Usage.InputTokens += chunk.InputTokens
			out.Usage.OutputTokens += chunk.OutputTokens
		}
	}
	out.Text = text.String()
	return &out, nil
}

// Mux selects a Completer for a model identifier by prefix match, with a
// configurable default. It implements Completer so callers can treat the
// whole provider set as one client.
type Mux struct {
	mu        sync.RWMutex
	prefixes  map[string]Completer
	providers map[string]Completer
	fallback  Completer
}

// NewMux creates an empty provider mux.
func NewMux() *Mux {
	return &Mux{
		prefixes:  make(map[string]Completer),
		providers: make(map[string]Completer),
	}
}

// Register adds a provider and routes model identifiers with any of the given
// prefixes to it. The first registered provider becomes the default.
func (m *Mux) Register(c Completer, modelPrefixes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[c.Name()] = c
	for _, p := range modelPrefixes {
		m.prefixes[p] = c
	}
	if m.fallback == nil {
		m.fallback = c
	}
}

// Lookup returns the provider responsible for the given model.
func (m *Mux) Lookup(model string) (Completer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for prefix, c := range m.prefixes {
		if strings.HasPrefix(model, prefix) {
			return c, true
		}
	}
	if m.fallback != nil {
		return m.fallback, true
	}
	return nil, false
}

// Complete routes the request to the provider owning req.Model.
func (m *Mux) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	c, ok := m.Lookup(req.Model)
	if !ok {
		return nil, &Error{
			Reason:  ReasonModelUnavailable,
			Model:   req.Model,
			Message: "no provider registered for model",
		}
	}
	return c.Complete(ctx, req)
}

// Name implements Completer.
func (m *Mux) Name() string {
	return "mux"
}
