package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/relayagent/relay/pkg/models"
)

type stubCompleter struct {
	name   string
	chunks []*CompletionChunk
	err    error
	last   *CompletionRequest
}

func (s *stubCompleter) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *CompletionChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *stubCompleter) Name() string { return s.name }

func TestCollectAccumulatesStream(t *testing.T) {
	stub := &stubCompleter{name: "stub", chunks: []*CompletionChunk{
		{Text: "Hello "},
		{Text: "world"},
		{ToolCall: &models.ToolCall{ID: "c1", Name: "wx.forecast"}},
		{Done: true, InputTokens: 12, OutputTokens: 4},
	}}

	var deltas []string
	out, err := Collect(context.Background(), stub, &CompletionRequest{Model: "m"}, func(text, thinking string) {
		if text != "" {
			deltas = append(deltas, text)
		}
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if out.Text != "Hello world" {
		t.Errorf("Text = %q", out.Text)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "wx.forecast" {
		t.Errorf("ToolCalls = %+v", out.ToolCalls)
	}
	if out.Usage.InputTokens != 12 || out.Usage.OutputTokens != 4 {
		t.Errorf("Usage = %+v", out.Usage)
	}
	if len(deltas) != 2 {
		t.Errorf("got %d deltas, want 2", len(deltas))
	}
}

func TestCollectSurfacesStreamError(t *testing.T) {
	streamErr := &Error{Reason: ReasonServerError, Provider: "stub"}
	stub := &stubCompleter{name: "stub", chunks: []*CompletionChunk{
		{Text: "partial"},
		{Error: streamErr},
	}}

	_, err := Collect(context.Background(), stub, &CompletionRequest{Model: "m"}, nil)
	if !errors.Is(err, streamErr) {
		t.Fatalf("err = %v, want stream error", err)
	}
	if !IsRetryable(err) {
		t.Error("server_error should be retryable")
	}
}

func TestMuxRoutesByPrefix(t *testing.T) {
	anthropic := &stubCompleter{name: "anthropic"}
	openai := &stubCompleter{name: "openai"}

	mux := NewMux()
	mux.Register(anthropic, "claude-")
	mux.Register(openai, "gpt-", "o1-")

	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", "anthropic"},
		{"gpt-4o-mini", "openai"},
		{"o1-preview", "openai"},
		// Unknown prefixes land on the first registered provider.
		{"mystery-model", "anthropic"},
	}
	for _, tc := range tests {
		c, ok := mux.Lookup(tc.model)
		if !ok {
			t.Fatalf("Lookup(%q) found nothing", tc.model)
		}
		if c.Name() != tc.want {
			t.Errorf("Lookup(%q) = %s, want %s", tc.model, c.Name(), tc.want)
		}
	}
}

func TestMuxDelegatesComplete(t *testing.T) {
	stub := &stubCompleter{name: "stub", chunks: []*CompletionChunk{{Done: true}}}
	mux := NewMux()
	mux.Register(stub, "claude-")

	req := &CompletionRequest{Model: "claude-sonnet-4-20250514"}
	if _, err := mux.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if stub.last != req {
		t.Error("request not delegated to the routed provider")
	}
}

func TestEmptyMuxReportsModelUnavailable(t *testing.T) {
	mux := NewMux()
	_, err := mux.Complete(context.Background(), &CompletionRequest{Model: "claude-x"})

	var perr *Error
	if !errors.As(err, &perr) || perr.Reason != ReasonModelUnavailable {
		t.Fatalf("err = %v, want model_unavailable", err)
	}
	if IsRetryable(err) {
		t.Error("model_unavailable must not be retryable")
	}
}

func TestReasonRetryability(t *testing.T) {
	retryable := []Reason{ReasonRateLimit, ReasonTimeout, ReasonServerError}
	fatal := []Reason{ReasonAuth, ReasonInvalidRequest, ReasonModelUnavailable, ReasonUnknown}

	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Errorf("%s should be retryable", r)
		}
	}
	for _, r := range fatal {
		if r.IsRetryable() {
			t.Errorf("%s should not be retryable", r)
		}
	}
}
