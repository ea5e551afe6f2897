package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/pkg/models"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, args json.RawMessage) (string, error) {
		return "echo:" + string(args), nil
	})
}

func newTestExecutor(t *testing.T, reg *Registry) *Executor {
	t.Helper()
	return New(reg, Config{
		MaxConcurrency: 3,
		DefaultTimeout: 200 * time.Millisecond,
		RetryBackoff:   time.Millisecond,
	}, observability.NewNopLogger(), nil)
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"a.one", "a.two", "a.three"} {
		if err := reg.Register(models.ToolDescriptor{Name: name, ServerID: "a"}, echoHandler()); err != nil {
			t.Fatal(err)
		}
	}
	e := newTestExecutor(t, reg)

	calls := []models.ToolCall{
		{ID: "c1", Name: "a.one", Input: json.RawMessage(`{"n":1}`)},
		{ID: "c2", Name: "a.two", Input: json.RawMessage(`{"n":2}`)},
		{ID: "c3", Name: "a.three", Input: json.RawMessage(`{"n":3}`)},
	}
	results := e.ExecuteAll(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.ToolCallID != calls[i].ID {
			t.Errorf("result %d out of order: %s", i, r.ToolCallID)
		}
		if r.IsError {
			t.Errorf("unexpected error result: %s", r.Content)
		}
	}
}

func TestExecutePartialFailure(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(models.ToolDescriptor{Name: "a.ok", ServerID: "a"}, echoHandler()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(models.ToolDescriptor{Name: "a.bad", ServerID: "a"}, HandlerFunc(
		func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", NewToolError("a.bad", errors.New("backend down")).WithType(ToolErrorExecution)
		})); err != nil {
		t.Fatal(err)
	}
	e := newTestExecutor(t, reg)

	results := e.ExecuteAll(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "a.bad"},
		{ID: "c2", Name: "a.ok", Input: json.RawMessage(`{}`)},
	})
	if !results[0].IsError {
		t.Error("failed call should yield an error result")
	}
	if results[1].IsError {
		t.Errorf("sibling call should succeed: %s", results[1].Content)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	e := newTestExecutor(t, NewRegistry())
	r := e.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "ghost.tool"})
	if !r.IsError || !strings.Contains(r.Content, "ghost.tool") {
		t.Fatalf("expected not-found error result, got %+v", r)
	}
}

func TestExecuteSchemaValidation(t *testing.T) {
	reg := NewRegistry()
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"city": {"type": "string"}},
		"required": ["city"]
	}`)
	if err := reg.Register(models.ToolDescriptor{Name: "wx.forecast", ServerID: "wx", Schema: schema}, echoHandler()); err != nil {
		t.Fatal(err)
	}
	e := newTestExecutor(t, reg)

	ok := e.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "wx.forecast", Input: json.RawMessage(`{"city":"Oslo"}`)})
	if ok.IsError {
		t.Fatalf("valid args should pass: %s", ok.Content)
	}

	bad := e.Execute(context.Background(), models.ToolCall{ID: "c2", Name: "wx.forecast", Input: json.RawMessage(`{"city":42}`)})
	if !bad.IsError {
		t.Fatal("invalid args should fail validation")
	}

	missing := e.Execute(context.Background(), models.ToolCall{ID: "c3", Name: "wx.forecast", Input: json.RawMessage(`{}`)})
	if !missing.IsError {
		t.Fatal("missing required arg should fail validation")
	}
}

func TestExecuteTimeout(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(models.ToolDescriptor{Name: "slow.tool", ServerID: "slow"}, HandlerFunc(
		func(ctx context.Context, args json.RawMessage) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})); err != nil {
		t.Fatal(err)
	}
	e := New(reg, Config{DefaultTimeout: 20 * time.Millisecond, DefaultRetries: -1}, observability.NewNopLogger(), nil)

	r := e.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "slow.tool"})
	if !r.IsError || !strings.Contains(r.Content, "timed out") {
		t.Fatalf("expected timeout error result, got %+v", r)
	}
}

func TestExecutePanicRecovery(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(models.ToolDescriptor{Name: "boom.tool", ServerID: "boom"}, HandlerFunc(
		func(ctx context.Context, args json.RawMessage) (string, error) {
			panic("kaboom")
		})); err != nil {
		t.Fatal(err)
	}
	e := newTestExecutor(t, reg)

	r := e.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "boom.tool"})
	if !r.IsError || !strings.Contains(r.Content, "panic") {
		t.Fatalf("expected recovered panic as error result, got %+v", r)
	}
}

func TestExecuteRetriesRetryableErrors(t *testing.T) {
	var attempts atomic.Int32
	reg := NewRegistry()
	if err := reg.Register(models.ToolDescriptor{Name: "flaky.tool", ServerID: "flaky"}, HandlerFunc(
		func(ctx context.Context, args json.RawMessage) (string, error) {
			if attempts.Add(1) < 3 {
				return "", NewToolError("flaky.tool", fmt.Errorf("transient"))
			}
			return "ok", nil
		})); err != nil {
		t.Fatal(err)
	}
	e := newTestExecutor(t, reg)

	r := e.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "flaky.tool"})
	if r.IsError {
		t.Fatalf("expected success after retries, got %s", r.Content)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestConfigDefaults(t *testing.T) {
	e := New(NewRegistry(), Config{}, observability.NewNopLogger(), nil)
	if e.config.DefaultRetries != 2 {
		t.Errorf("zero config retries = %d, want default 2", e.config.DefaultRetries)
	}
	if e.config.MaxConcurrency != 5 {
		t.Errorf("zero config concurrency = %d, want default 5", e.config.MaxConcurrency)
	}

	e = New(NewRegistry(), Config{DefaultRetries: -1}, observability.NewNopLogger(), nil)
	if e.config.DefaultRetries != 0 {
		t.Errorf("negative retries = %d, want disabled (0)", e.config.DefaultRetries)
	}
}

func TestExecuteDoesNotRetryValidationErrors(t *testing.T) {
	var attempts atomic.Int32
	reg := NewRegistry()
	if err := reg.Register(models.ToolDescriptor{Name: "strict.tool", ServerID: "strict"}, HandlerFunc(
		func(ctx context.Context, args json.RawMessage) (string, error) {
			attempts.Add(1)
			return "", NewToolError("strict.tool", errors.New("bad args")).WithType(ToolErrorInvalidArgs)
		})); err != nil {
		t.Fatal(err)
	}
	e := newTestExecutor(t, reg)

	r := e.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "strict.tool"})
	if !r.IsError {
		t.Fatal("expected error result")
	}
	if attempts.Load() != 1 {
		t.Errorf("validation errors should not retry, got %d attempts", attempts.Load())
	}
}

func TestRegistryRejectsBadSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(models.ToolDescriptor{
		Name:   "bad.schema",
		Schema: json.RawMessage(`{"type": 42}`),
	}, echoHandler())
	if err == nil {
		t.Fatal("expected schema compile error at registration")
	}
}
