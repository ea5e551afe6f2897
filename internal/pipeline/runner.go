package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/relayagent/relay/internal/config"
	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/pkg/models"
)

// Runner owns the ordered stage list and drives one request through
// it. The first two stages (authentication, input validation) run
// concurrently and are joined before anything else; the rest run
// strictly in registration order. Each Process call emits exactly one
// terminal event.
type Runner struct {
	stages  []Stage
	loop    *LoopController
	store   config.Store
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewRunner creates a runner. The stage slice must start with the
// authentication and validation stages; those two are the parallel
// join. tracer and metrics may be nil.
func NewRunner(stages []Stage, loop *LoopController, store config.Store, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*Runner, error) {
	if len(stages) < 2 {
		return nil, fmt.Errorf("pipeline needs at least the auth and validation stages")
	}
	if stages[0].Name() != StageAuth || stages[1].Name() != StageValidate {
		return nil, fmt.Errorf("pipeline must start with %s and %s", StageAuth, StageValidate)
	}
	return &Runner{
		stages:  stages,
		loop:    loop,
		store:   store,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Process runs the pipeline for one request. The returned channel
// carries progress events and is closed after exactly one terminal
// event; the caller must drain it.
func (r *Runner) Process(ctx context.Context, req models.Request) <-chan models.Event {
	pcfg, cfgErr := r.store.PipelineConfig(ctx)
	emitter := NewEmitter(pcfg.EventBuffer, r.logger, r.metrics)
	rc := NewContext(req, pcfg, emitter)

	go r.run(ctx, rc, cfgErr)
	return emitter.Events()
}

func (r *Runner) run(ctx context.Context, rc *Context, cfgErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pipeline panicked", "request_id", rc.Request.ID,
				"panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			r.fail(ctx, rc, &PipelineError{
				Code:    CodeInternal,
				Message: "internal error",
				Cause:   fmt.Errorf("panic: %v", rec),
			})
		}
	}()

	if cfgErr != nil {
		r.fail(ctx, rc, &PipelineError{
			Code:    CodeConfiguration,
			Message: "no usable configuration source",
			Cause:   &ConfigurationError{Message: "pipeline config unavailable", Cause: cfgErr},
			Diagnostics: []string{
				"check the configuration store connection",
				"verify the service has a compiled-in default config",
			},
		})
		return
	}

	if err := r.runJoin(ctx, rc); err != nil {
		r.fail(ctx, rc, r.asPipelineError(err))
		return
	}

	for _, stage := range r.stages[2:] {
		if rc.Aborted() {
			break
		}
		if skip, reason := r.shouldSkip(stage, rc); skip {
			r.logger.Debug("skipping stage", "stage", string(stage.Name()), "reason", reason)
			continue
		}

		if err := r.executeStage(ctx, stage, rc); err != nil {
			r.fail(ctx, rc, r.asPipelineError(err))
			return
		}

		if stage.Name().IsModelExecution() && r.loop != nil {
			if err := r.loop.Run(ctx, rc, stage); err != nil {
				r.fail(ctx, rc, r.asPipelineError(err))
				return
			}
		}
	}

	r.complete(rc)
}

// runJoin executes the auth and validation stages concurrently. The
// two stages write disjoint Context fields, so no locking is needed;
// both must succeed before the pipeline continues.
func (r *Runner) runJoin(ctx context.Context, rc *Context) error {
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = r.executeStage(ctx, r.stages[idx], rc)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// shouldSkip drops the model-execution variant the router did not
// pick.
func (r *Runner) shouldSkip(stage Stage, rc *Context) (bool, string) {
	switch stage.Name() {
	case StageExecuteModel:
		if rc.Routing.UseMultiModel {
			return true, "router chose multi-model"
		}
	case StageExecuteMulti:
		if !rc.Routing.UseMultiModel {
			return true, "router chose single model"
		}
	}
	return false, ""
}

func (r *Runner) executeStage(ctx context.Context, stage Stage, rc *Context) error {
	name := stage.Name()
	stageCtx := ctx
	var span trace.Span
	if r.tracer != nil {
		stageCtx, span = r.tracer.StartStage(ctx, string(name))
	}

	start := time.Now()
	err := stage.Execute(stageCtx, rc)
	elapsed := time.Since(start)
	rc.RecordTiming(name, elapsed)

	status := "success"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.StageDuration.WithLabelValues(string(name), status).Observe(elapsed.Seconds())
	}
	if span != nil {
		observability.EndWithError(span, err)
	}

	if err != nil {
		r.logger.Error("stage failed", "stage", string(name),
			"request_id", rc.Request.ID, "duration_ms", elapsed.Milliseconds(), "error", err)
		return err
	}

	r.logger.Debug("stage completed", "stage", string(name),
		"request_id", rc.Request.ID, "duration_ms", elapsed.Milliseconds())
	rc.Emit(models.Event{Type: models.EventStageCompleted, Stage: string(name)})
	return nil
}

func (r *Runner) asPipelineError(err error) *PipelineError {
	if pe, ok := AsPipelineError(err); ok {
		return pe
	}
	return &PipelineError{Code: CodeInternal, Message: err.Error(), Cause: err}
}

// fail records the error, aborts the request, delivers the terminal
// error event immediately so the caller is not left on a dead stream,
// then runs best-effort rollback.
func (r *Runner) fail(ctx context.Context, rc *Context, pe *PipelineError) {
	rc.RecordError(pe)
	rc.Abort()
	if r.metrics != nil {
		r.metrics.Errors.WithLabelValues(string(pe.Stage), pe.Code).Inc()
	}

	payload := &models.ErrorPayload{
		Stage:     string(pe.Stage),
		Code:      pe.Code,
		Message:   pe.Message,
		Retryable: pe.Retryable,
	}
	if rc.User.IsAdmin {
		payload.Diagnostics = pe.Diagnostics
	}
	ev := models.Event{
		Type:      models.EventError,
		RequestID: rc.Request.ID,
		Stage:     string(pe.Stage),
		Error:     payload,
	}
	rc.Emitter.EmitTerminal(ev)

	r.rollback(ctx, rc)
}

// rollback walks every registered stage in reverse order. Failures
// are logged and never abort the remaining rollbacks.
func (r *Runner) rollback(ctx context.Context, rc *Context) {
	for i := len(r.stages) - 1; i >= 0; i-- {
		rb, ok := r.stages[i].(Rollbacker)
		if !ok {
			continue
		}
		if err := rb.Rollback(ctx, rc); err != nil {
			r.logger.Warn("stage rollback failed",
				"stage", string(r.stages[i].Name()), "error", err)
		}
	}
}

func (r *Runner) complete(rc *Context) {
	msg := models.Message{
		Role:      models.RoleAssistant,
		Content:   rc.FinalText,
		CreatedAt: time.Now().UTC(),
	}
	rc.Emitter.EmitTerminal(models.Event{
		Type:      models.EventComplete,
		RequestID: rc.Request.ID,
		Complete: &models.CompletePayload{
			Message:     msg,
			Synthesized: rc.Synthesized,
			ToolCalls:   len(rc.ToolCallLog()),
			Usage:       &models.Usage{InputTokens: rc.Usage.InputTokens, OutputTokens: rc.Usage.OutputTokens},
		},
	})
	r.logger.Info("request completed",
		"request_id", rc.Request.ID,
		"tool_calls", len(rc.ToolCallLog()),
		"synthesized", rc.Synthesized)
}
