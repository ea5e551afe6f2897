// Package executor dispatches batches of tool calls with bounded
// concurrency, per-call timeouts, panic recovery, and retries for
// retryable failures.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/pkg/models"
)

// Config configures the executor.
type Config struct {
	// MaxConcurrency limits parallel tool executions. Default: 5.
	MaxConcurrency int

	// DefaultTimeout bounds each individual call. Default: 30s.
	DefaultTimeout time.Duration

	// DefaultRetries is how many times a retryable failure is
	// re-attempted. Default: 2. Negative disables retries.
	DefaultRetries int

	// RetryBackoff is the initial backoff between attempts,
	// doubling each retry. Default: 100ms.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff. Default: 5s.
	MaxRetryBackoff time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// Executor runs tool calls against a Registry.
type Executor struct {
	registry *Registry
	config   Config
	logger   *observability.Logger
	metrics  *observability.Metrics

	sem chan struct{}
}

// New creates an executor. metrics may be nil.
func New(registry *Registry, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Executor {
	def := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.DefaultRetries == 0 {
		cfg.DefaultRetries = def.DefaultRetries
	} else if cfg.DefaultRetries < 0 {
		cfg.DefaultRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = def.MaxRetryBackoff
	}
	return &Executor{
		registry: registry,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
	}
}

// ExecuteAll runs a batch of tool calls in parallel and returns the
// results in input order. A failed call yields an error result, never
// an aborted batch.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]models.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs one tool call with backpressure, timeout, and retries.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	result := models.ToolResult{
		ToolCallID: call.ID,
		ServerID:   e.registry.ServerID(call.Name),
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return e.fail(result, call, NewToolError(call.Name, ctx.Err()).
			WithType(ToolErrorTimeout).WithCallID(call.ID), start)
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.DefaultRetries; attempt++ {
		output, err := e.executeWithTimeout(ctx, call)
		if err == nil {
			result.Content = output
			result.DurationMs = time.Since(start).Milliseconds()
			e.record(call.Name, "success", start)
			return result
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil || attempt >= e.config.DefaultRetries {
			break
		}

		backoff := e.config.RetryBackoff * time.Duration(1<<uint(attempt))
		if backoff > e.config.MaxRetryBackoff {
			backoff = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			lastErr = NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).WithCallID(call.ID)
		}
	}

	return e.fail(result, call, lastErr, start)
}

func (e *Executor) fail(result models.ToolResult, call models.ToolCall, err error, start time.Time) models.ToolResult {
	result.IsError = true
	result.Content = err.Error()
	result.DurationMs = time.Since(start).Milliseconds()
	e.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
	e.record(call.Name, "error", start)
	return result
}

func (e *Executor) record(tool, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ToolExecutions.WithLabelValues(tool, status).Inc()
	e.metrics.ToolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

// executeWithTimeout runs the call in its own goroutine so a hung or
// panicking handler cannot take the round down with it.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	type execResult struct {
		output string
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				resultCh <- execResult{err: NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).WithCallID(call.ID)}
			}
		}()

		output, err := e.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			if _, ok := AsToolError(err); !ok {
				err = NewToolError(call.Name, err).WithCallID(call.ID)
			}
			resultCh <- execResult{err: err}
			return
		}
		resultCh <- execResult{output: output}
	}()

	select {
	case res := <-resultCh:
		return res.output, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return "", NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).WithCallID(call.ID).
				WithMessage("context cancelled")
		}
		return "", NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).WithCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", e.config.DefaultTimeout))
	}
}
