package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/relayagent/relay/internal/config"
	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/internal/provider"
	"github.com/relayagent/relay/pkg/models"
)

// scriptedCompleter replays a fixed sequence of completions, one per
// Complete call, and records every request it saw.
type scriptedCompleter struct {
	mu       sync.Mutex
	script   []provider.Completion
	requests []*provider.CompletionRequest
	err      error
}

func (s *scriptedCompleter) Complete(ctx context.Context, req *provider.CompletionRequest) (<-chan *provider.CompletionChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, req)
	if len(s.script) == 0 {
		return nil, fmt.Errorf("scripted completer exhausted after %d calls", len(s.requests))
	}
	next := s.script[0]
	s.script = s.script[1:]

	ch := make(chan *provider.CompletionChunk, len(next.ToolCalls)+2)
	if next.Text != "" {
		ch <- &provider.CompletionChunk{Text: next.Text}
	}
	for i := range next.ToolCalls {
		tc := next.ToolCalls[i]
		ch <- &provider.CompletionChunk{ToolCall: &tc}
	}
	ch <- &provider.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	close(ch)
	return ch, nil
}

func (s *scriptedCompleter) Name() string { return "scripted" }

func (s *scriptedCompleter) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedCompleter) lastRequest() *provider.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

// fakeToolRunner serves canned results keyed by tool name.
type fakeToolRunner struct {
	mu      sync.Mutex
	results map[string]models.ToolResult
	batches [][]models.ToolCall
}

func (f *fakeToolRunner) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	f.mu.Lock()
	f.batches = append(f.batches, calls)
	f.mu.Unlock()

	out := make([]models.ToolResult, len(calls))
	for i, call := range calls {
		if res, ok := f.results[call.Name]; ok {
			res.ToolCallID = call.ID
			out[i] = res
			continue
		}
		out[i] = models.ToolResult{ToolCallID: call.ID, Content: "ok:" + call.Name}
	}
	return out
}

// recordingStage tracks execution and rollback for runner tests.
type recordingStage struct {
	name     StageName
	fail     error
	mu       *sync.Mutex
	executed *[]StageName
	rolled   *[]StageName
}

func (s *recordingStage) Name() StageName { return s.name }

func (s *recordingStage) Execute(ctx context.Context, rc *Context) error {
	s.mu.Lock()
	*s.executed = append(*s.executed, s.name)
	s.mu.Unlock()
	return s.fail
}

func (s *recordingStage) Rollback(ctx context.Context, rc *Context) error {
	s.mu.Lock()
	*s.rolled = append(*s.rolled, s.name)
	s.mu.Unlock()
	return nil
}

type stageTrace struct {
	mu       sync.Mutex
	executed []StageName
	rolled   []StageName
}

func (t *stageTrace) stage(name StageName, fail error) *recordingStage {
	return &recordingStage{name: name, fail: fail, mu: &t.mu, executed: &t.executed, rolled: &t.rolled}
}

func testStore() config.Store {
	return config.NewStaticStore(config.Default())
}

func newRunner(t *testing.T, stages []Stage, loop *LoopController) *Runner {
	t.Helper()
	r, err := NewRunner(stages, loop, testStore(), observability.NewNopLogger(), nil, nil)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func drain(t *testing.T, events <-chan models.Event) []models.Event {
	t.Helper()
	var out []models.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func terminalEvents(events []models.Event) []models.Event {
	var out []models.Event
	for _, ev := range events {
		if ev.Type.IsTerminal() {
			out = append(out, ev)
		}
	}
	return out
}

func simpleRequest() models.Request {
	return models.Request{ID: "req-1", SessionID: "sess-1", Text: "Hello"}
}

func TestProcessSingleModelSuccess(t *testing.T) {
	completer := &scriptedCompleter{script: []provider.Completion{{Text: "Hi there!"}}}
	stages := []Stage{
		NewAuthStage(nil, true, observability.NewNopLogger()),
		&ValidateStage{},
		&PrepareStage{},
		NewModelStage(completer, observability.NewNopLogger(), nil),
	}
	r := newRunner(t, stages, nil)

	events := drain(t, r.Process(context.Background(), simpleRequest()))

	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != models.EventComplete {
		t.Fatalf("expected exactly one complete event, got %+v", terms)
	}
	if terms[0].Complete.Message.Content != "Hi there!" {
		t.Errorf("unexpected final message: %q", terms[0].Complete.Message.Content)
	}
	if terms[0].Complete.Synthesized {
		t.Error("natural completion should not be marked synthesized")
	}
	if terms[0].Complete.ToolCalls != 0 {
		t.Errorf("no tools ran, got %d logged calls", terms[0].Complete.ToolCalls)
	}

	var completed int
	for _, ev := range events {
		if ev.Type == models.EventStageCompleted {
			completed++
		}
	}
	if completed != len(stages) {
		t.Errorf("expected %d stage.completed events, got %d", len(stages), completed)
	}
}

func TestProcessValidationFailure(t *testing.T) {
	trace := &stageTrace{}
	stages := []Stage{
		NewAuthStage(nil, true, observability.NewNopLogger()),
		&ValidateStage{},
		trace.stage(StagePrepare, nil),
	}
	r := newRunner(t, stages, nil)

	req := simpleRequest()
	req.Text = "   "
	events := drain(t, r.Process(context.Background(), req))

	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != models.EventError {
		t.Fatalf("expected exactly one error event, got %+v", terms)
	}
	if terms[0].Error.Code != CodeInvalidInput {
		t.Errorf("expected %s, got %s", CodeInvalidInput, terms[0].Error.Code)
	}
	if terms[0].Error.Retryable {
		t.Error("validation failures are never retryable")
	}
	for _, name := range trace.executed {
		if name == StagePrepare {
			t.Error("stage after the failing join must not execute")
		}
	}
}

func TestProcessAuthFailure(t *testing.T) {
	stages := []Stage{
		NewAuthStage([]byte("secret"), false, observability.NewNopLogger()),
		&ValidateStage{},
	}
	r := newRunner(t, stages, nil)

	events := drain(t, r.Process(context.Background(), simpleRequest()))
	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != models.EventError {
		t.Fatalf("expected one error event, got %+v", terms)
	}
	if terms[0].Error.Code != CodeAuthFailed {
		t.Errorf("expected %s, got %s", CodeAuthFailed, terms[0].Error.Code)
	}
	if len(terms[0].Error.Diagnostics) != 0 {
		t.Error("diagnostics must not leak to non-admin callers")
	}
}

func TestProcessAbortSkipsLaterStages(t *testing.T) {
	trace := &stageTrace{}
	boom := errors.New("downstream exploded")
	stages := []Stage{
		NewAuthStage(nil, true, observability.NewNopLogger()),
		&ValidateStage{},
		trace.stage(StagePrepare, nil),
		trace.stage(StageDiscovery, boom),
		trace.stage(StageRouting, nil),
	}
	r := newRunner(t, stages, nil)

	events := drain(t, r.Process(context.Background(), simpleRequest()))

	if len(terminalEvents(events)) != 1 {
		t.Fatal("expected exactly one terminal event")
	}
	for _, name := range trace.executed {
		if name == StageRouting {
			t.Error("stage after the failing stage must not execute")
		}
	}
}

func TestProcessRollbackReverseOrder(t *testing.T) {
	trace := &stageTrace{}
	stages := []Stage{
		NewAuthStage(nil, true, observability.NewNopLogger()),
		&ValidateStage{},
		trace.stage(StagePrepare, nil),
		trace.stage(StageDiscovery, nil),
		trace.stage(StageRouting, errors.New("router down")),
	}
	r := newRunner(t, stages, nil)

	drain(t, r.Process(context.Background(), simpleRequest()))

	want := []StageName{StageRouting, StageDiscovery, StagePrepare}
	if len(trace.rolled) != len(want) {
		t.Fatalf("expected %d rollbacks, got %v", len(want), trace.rolled)
	}
	for i, name := range want {
		if trace.rolled[i] != name {
			t.Fatalf("rollback order wrong: got %v, want %v", trace.rolled, want)
		}
	}
}

func TestProcessModelFailureIsTerminalError(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("provider down")}
	stages := []Stage{
		NewAuthStage(nil, true, observability.NewNopLogger()),
		&ValidateStage{},
		&PrepareStage{},
		NewModelStage(completer, observability.NewNopLogger(), nil),
	}
	r := newRunner(t, stages, nil)

	events := drain(t, r.Process(context.Background(), simpleRequest()))
	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != models.EventError {
		t.Fatalf("expected one error event, got %+v", terms)
	}
	if terms[0].Error.Code != CodeModelFailed {
		t.Errorf("expected %s, got %s", CodeModelFailed, terms[0].Error.Code)
	}
}

func TestProcessSkipsModelVariantNotChosen(t *testing.T) {
	single := &scriptedCompleter{script: []provider.Completion{{Text: "single path"}}}
	multi := &scriptedCompleter{}
	stages := []Stage{
		NewAuthStage(nil, true, observability.NewNopLogger()),
		&ValidateStage{},
		&PrepareStage{},
		NewModelStage(single, observability.NewNopLogger(), nil),
		NewMultiModelStage(multi, observability.NewNopLogger(), nil),
	}
	r := newRunner(t, stages, nil)

	events := drain(t, r.Process(context.Background(), simpleRequest()))
	terms := terminalEvents(events)
	if len(terms) != 1 || terms[0].Type != models.EventComplete {
		t.Fatalf("expected complete, got %+v", terms)
	}
	if multi.requestCount() != 0 {
		t.Error("multi-model stage should be skipped when routing chose single model")
	}
	if single.requestCount() != 1 {
		t.Errorf("single-model stage should run once, ran %d times", single.requestCount())
	}
}

func TestNewRunnerRejectsBadStageOrder(t *testing.T) {
	stages := []Stage{&ValidateStage{}, NewAuthStage(nil, true, observability.NewNopLogger())}
	if _, err := NewRunner(stages, nil, testStore(), observability.NewNopLogger(), nil, nil); err == nil {
		t.Fatal("expected error for pipeline not starting with auth+validate")
	}
}

func TestRecordTimingConcurrent(t *testing.T) {
	emitter := NewEmitter(8, observability.NewNopLogger(), nil)
	rc := NewContext(simpleRequest(), config.Default().Pipeline, emitter)

	var wg sync.WaitGroup
	stages := []StageName{StageAuth, StageValidate}
	for _, name := range stages {
		wg.Add(1)
		go func(name StageName) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.RecordTiming(name, 1)
				rc.Timings()
			}
		}(name)
	}
	wg.Wait()

	timings := rc.Timings()
	for _, name := range stages {
		if _, ok := timings[name]; !ok {
			t.Errorf("missing timing for %s", name)
		}
	}
}

func TestJoinRecordsBothStageTimings(t *testing.T) {
	completer := &scriptedCompleter{script: []provider.Completion{{Text: "hi"}}}
	stages := []Stage{
		NewAuthStage(nil, true, observability.NewNopLogger()),
		&ValidateStage{},
		&PrepareStage{},
		NewModelStage(completer, observability.NewNopLogger(), nil),
	}
	r := newRunner(t, stages, nil)

	pcfg, _ := testStore().PipelineConfig(context.Background())
	emitter := NewEmitter(pcfg.EventBuffer, observability.NewNopLogger(), nil)
	rc := NewContext(simpleRequest(), pcfg, emitter)
	r.run(context.Background(), rc, nil)
	drain(t, emitter.Events())

	timings := rc.Timings()
	if _, ok := timings[StageAuth]; !ok {
		t.Error("auth timing not recorded")
	}
	if _, ok := timings[StageValidate]; !ok {
		t.Error("validation timing not recorded")
	}
}
