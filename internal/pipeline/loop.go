package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/pkg/models"
)

// ToolRunner is the tool-execution collaborator. Batches are
// dispatched concurrently; a failed call yields an error result.
type ToolRunner interface {
	ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult
}

// ResultStore is the large-result store collaborator. Put returns the
// stored artifact's ID and the summary text substituted inline.
type ResultStore interface {
	ShouldStore(content string) bool
	Put(ctx context.Context, requestID, toolName, content string) (id, summary string, err error)
}

// synthesisInstruction is appended when the loop forces a final
// answer.
const synthesisInstruction = "Using the tool results above, answer the original question directly. Do not request any more tools."

// LoopController drives the execute-tools / re-invoke-model cycle
// after a model execution stage returns pending tool calls. At most
// one loop runs per request.
type LoopController struct {
	runner  ToolRunner
	store   ResultStore
	prepare Stage
	logger  *observability.Logger
	metrics *observability.Metrics

	reasoningTools map[string]bool
}

// NewLoopController creates the controller. store may be nil, in which
// case oversized results stay inline. reasoningTools are the names
// allowed at most once per request.
func NewLoopController(runner ToolRunner, store ResultStore, prepare Stage, logger *observability.Logger, metrics *observability.Metrics, reasoningTools []string) *LoopController {
	set := make(map[string]bool, len(reasoningTools))
	for _, name := range reasoningTools {
		set[strings.ToLower(name)] = true
	}
	return &LoopController{
		runner:         runner,
		store:          store,
		prepare:        prepare,
		logger:         logger,
		metrics:        metrics,
		reasoningTools: set,
	}
}

// Run processes pending tool calls until the model stops requesting
// tools or the round cap forces a synthesis. A model re-invocation
// failure escalates as a stage failure; individual tool failures do
// not.
func (l *LoopController) Run(ctx context.Context, rc *Context, model Stage) error {
	if len(rc.PendingToolCalls) == 0 {
		return nil
	}

	maxRounds := rc.Config.EffectiveMaxRounds()
	usedReasoning := make(map[string]bool)
	executed := false
	forced := false
	round := 0

	for len(rc.PendingToolCalls) > 0 {
		if round >= maxRounds {
			l.logger.Info("round cap reached with tool calls pending",
				"round", round, "pending", len(rc.PendingToolCalls))
			forced = true
			break
		}
		round++
		rc.Emit(models.Event{Type: models.EventRoundStarted, Round: round})

		calls := l.dedupReasoning(rc.PendingToolCalls, usedReasoning)
		if len(calls) == 0 {
			// Dedup emptied the batch. No point in another round; the
			// model must answer with what it already has.
			rc.PendingToolCalls = nil
			forced = true
			break
		}

		// Approval is emit-then-continue: the events give callers an
		// audit trail, but nothing waits on a human today.
		for _, call := range calls {
			rc.Emit(models.Event{
				Type:  models.EventToolRequested,
				Stage: string(StageApproval),
				Round: round,
				Tool:  &models.ToolPayload{CallID: call.ID, Name: call.Name, ArgsJSON: call.Input},
			})
			rc.Emit(models.Event{
				Type:  models.EventToolApproved,
				Stage: string(StageApproval),
				Round: round,
				Tool:  &models.ToolPayload{CallID: call.ID, Name: call.Name},
			})
		}

		results := l.runner.ExecuteAll(ctx, calls)
		executed = true
		for i, res := range results {
			l.recordResult(ctx, rc, calls[i], res, round)
		}

		rc.PendingToolCalls = nil
		if err := l.prepare.Execute(ctx, rc); err != nil {
			return err
		}
		if err := model.Execute(ctx, rc); err != nil {
			return err
		}
	}

	if forced {
		if err := l.forceSynthesis(ctx, rc, model); err != nil {
			return err
		}
	}

	if executed && !rc.HasAssistantText() {
		l.emitFallback(rc)
	}

	if l.metrics != nil {
		l.metrics.LoopRounds.Observe(float64(round))
	}
	return nil
}

// dedupReasoning drops repeat requests for reasoning-only tools.
// First use is allowed and remembered for the rest of the request.
func (l *LoopController) dedupReasoning(calls []models.ToolCall, used map[string]bool) []models.ToolCall {
	if len(l.reasoningTools) == 0 {
		return calls
	}
	kept := make([]models.ToolCall, 0, len(calls))
	for _, call := range calls {
		name := strings.ToLower(call.Name)
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		if l.reasoningTools[name] {
			if used[name] {
				l.logger.Debug("dropping repeated reasoning tool call", "tool", call.Name)
				continue
			}
			used[name] = true
		}
		kept = append(kept, call)
	}
	return kept
}

// recordResult appends the tool result to the message sequence and the
// call log, substituting oversized content with a stored reference.
func (l *LoopController) recordResult(ctx context.Context, rc *Context, call models.ToolCall, res models.ToolResult, round int) {
	if !res.IsError && l.store != nil && l.store.ShouldStore(res.Content) {
		id, summary, err := l.store.Put(ctx, rc.Request.ID, call.Name, res.Content)
		if err != nil {
			l.logger.Warn("large-result store failed, keeping result inline",
				"tool", call.Name, "size", len(res.Content), "error", err)
		} else {
			l.logger.Debug("oversized tool result stored",
				"tool", call.Name, "artifact_id", id, "size", len(res.Content))
			res.Content = summary
		}
	}

	rc.AppendMessage(models.Message{
		ID:          uuid.New().String(),
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{res},
		CreatedAt:   time.Now().UTC(),
	})

	record := models.ToolCallRecord{
		ID:        call.ID,
		ToolName:  call.Name,
		ServerID:  res.ServerID,
		Arguments: call.Input,
		Round:     round,
		Duration:  time.Duration(res.DurationMs) * time.Millisecond,
	}
	if res.IsError {
		record.Error = res.Content
	} else {
		record.Result = res.Content
	}
	rc.RecordToolCall(record)

	rc.Emit(models.Event{
		Type:  models.EventToolCompleted,
		Round: round,
		Tool: &models.ToolPayload{
			CallID:     call.ID,
			Name:       call.Name,
			ServerID:   res.ServerID,
			Result:     res.Content,
			IsError:    res.IsError,
			DurationMs: res.DurationMs,
		},
	})
}

// forceSynthesis makes exactly one more model call with tools
// withheld so the model must produce text.
func (l *LoopController) forceSynthesis(ctx context.Context, rc *Context, model Stage) error {
	rc.PendingToolCalls = nil
	rc.ForceFinalCompletion = true
	rc.Synthesized = true

	rc.AppendMessage(models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   synthesisInstruction,
		CreatedAt: time.Now().UTC(),
	})
	rc.Emit(models.Event{Type: models.EventForcedSynthesis})
	if l.metrics != nil {
		l.metrics.ForcedSyntheses.Inc()
	}

	if err := model.Execute(ctx, rc); err != nil {
		return err
	}
	// Tools were withheld; any stray tool request is ignored.
	rc.PendingToolCalls = nil
	return nil
}

// emitFallback synthesizes the guaranteed-response summary when tools
// ran but the model never produced text.
func (l *LoopController) emitFallback(rc *Context) {
	var b strings.Builder
	b.WriteString("I ran the following tools but could not produce a full answer:\n")
	for _, rec := range rc.ToolCallLog() {
		status := "succeeded"
		if !rec.Succeeded() {
			status = "failed"
		}
		b.WriteString("- ")
		b.WriteString(rec.ToolName)
		b.WriteString(": ")
		b.WriteString(status)
		b.WriteString("\n")
	}
	summary := b.String()

	rc.AppendMessage(models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   summary,
		CreatedAt: time.Now().UTC(),
	})
	rc.FinalText = summary
	rc.Synthesized = true

	rc.Emit(models.Event{Type: models.EventFallbackResponse})
	if l.metrics != nil {
		l.metrics.FallbackResponses.Inc()
	}
	l.logger.Warn("model produced no text after tool execution, emitted fallback summary",
		"tools", len(rc.ToolCallLog()))
}
