package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/internal/provider"
	"github.com/relayagent/relay/internal/router"
	"github.com/relayagent/relay/pkg/models"
)

// ModelStage runs the single-model completion path.
type ModelStage struct {
	completer provider.Completer
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewModelStage creates the single-model execution stage.
func NewModelStage(completer provider.Completer, logger *observability.Logger, metrics *observability.Metrics) *ModelStage {
	return &ModelStage{completer: completer, logger: logger, metrics: metrics}
}

func (s *ModelStage) Name() StageName { return StageExecuteModel }

func (s *ModelStage) Execute(ctx context.Context, rc *Context) error {
	model := rc.Routing.Model
	if model == "" {
		model = router.DefaultModel
	}
	return invokeModel(ctx, rc, s.completer, s.Name(), model, -1, s.metrics)
}

// MultiModelStage runs the coordinated role-based path. The role is
// chosen from where the request is in its lifecycle: the opening call
// goes to the reasoning model, calls that fold tool results back in go
// to the tool-execution model, and the forced-synthesis call goes to
// the synthesis model. Any role failure falls back first to the role's
// fallback model, then to the dedicated fallback role, instead of
// failing the request.
type MultiModelStage struct {
	completer provider.Completer
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewMultiModelStage creates the multi-model execution stage.
func NewMultiModelStage(completer provider.Completer, logger *observability.Logger, metrics *observability.Metrics) *MultiModelStage {
	return &MultiModelStage{completer: completer, logger: logger, metrics: metrics}
}

func (s *MultiModelStage) Name() StageName { return StageExecuteMulti }

func (s *MultiModelStage) Execute(ctx context.Context, rc *Context) error {
	role := s.currentRole(rc)
	assignment, ok := rc.Routing.Roles[role]
	if !ok {
		assignment = router.DefaultRoles[role]
	}

	type candidate struct {
		model       string
		temperature float64
	}
	candidates := []candidate{
		{assignment.Model, assignment.Temperature},
		{assignment.Fallback, assignment.Temperature},
	}
	if fb, ok := rc.Routing.Roles[models.RoleFallback]; ok && role != models.RoleFallback {
		candidates = append(candidates,
			candidate{fb.Model, fb.Temperature},
			candidate{fb.Fallback, fb.Temperature})
	}

	var lastErr error
	for _, c := range candidates {
		if c.model == "" {
			continue
		}
		err := invokeModel(ctx, rc, s.completer, s.Name(), c.model, c.temperature, s.metrics)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn("model role candidate failed, trying next",
			"role", string(role), "model", c.model, "error", err)
	}
	if lastErr == nil {
		lastErr = NewPipelineError(s.Name(), CodeConfiguration,
			fmt.Errorf("no model assigned for role %s", role))
	}
	return lastErr
}

func (s *MultiModelStage) currentRole(rc *Context) models.ModelRole {
	if rc.ForceFinalCompletion {
		return models.RoleSynthesis
	}
	for _, m := range rc.Messages() {
		if m.Role == models.RoleTool {
			return models.RoleToolExecution
		}
	}
	return models.RoleReasoning
}

// invokeModel runs one completion call and folds the result into the
// context: assistant message appended, pending tool calls replaced,
// usage accumulated.
func invokeModel(ctx context.Context, rc *Context, completer provider.Completer, stage StageName, model string, temperature float64, metrics *observability.Metrics) error {
	tools := rc.AvailableTools
	if rc.ForceFinalCompletion {
		tools = nil
	}

	req := &provider.CompletionRequest{
		Model:       model,
		Messages:    rc.Messages(),
		Tools:       tools,
		Temperature: temperature,
	}

	start := time.Now()
	completion, err := provider.Collect(ctx, completer, req, func(text, thinking string) {
		if text != "" {
			rc.Emit(models.Event{
				Type:   models.EventModelDelta,
				Stage:  string(stage),
				Stream: &models.StreamPayload{Delta: text, Model: model},
			})
		}
		if thinking != "" {
			rc.Emit(models.Event{
				Type:   models.EventModelThinking,
				Stage:  string(stage),
				Stream: &models.StreamPayload{Delta: thinking, Model: model},
			})
		}
	})

	if metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ModelRequests.WithLabelValues(model, status).Inc()
		metrics.ModelDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return NewPipelineError(stage, CodeModelFailed, err).
			WithRetryable(provider.IsRetryable(err))
	}

	if metrics != nil {
		metrics.TokensUsed.WithLabelValues(model, "prompt").Add(float64(completion.Usage.InputTokens))
		metrics.TokensUsed.WithLabelValues(model, "completion").Add(float64(completion.Usage.OutputTokens))
	}

	if completion.Text != "" || len(completion.ToolCalls) > 0 {
		rc.AppendMessage(models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
			CreatedAt: time.Now().UTC(),
		})
	}
	if completion.Text != "" {
		rc.FinalText = completion.Text
	}
	rc.PendingToolCalls = completion.ToolCalls
	rc.Usage.Add(completion.Usage)
	return nil
}
