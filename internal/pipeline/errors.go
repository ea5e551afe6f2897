package pipeline

import (
	"errors"
	"fmt"
)

// PipelineError is a stage-level failure. It is fail-fast: the runner
// aborts the request, rolls back, and surfaces it as the terminal
// error event.
type PipelineError struct {
	Stage     StageName
	Code      string
	Message   string
	Retryable bool
	Cause     error

	// Diagnostics are operator-facing recommendations. They are only
	// surfaced to admin callers.
	Diagnostics []string
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Code, e.Cause)
	}
	return fmt.Sprintf("stage %s: %s: %s", e.Stage, e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// NewPipelineError wraps a stage failure.
func NewPipelineError(stage StageName, code string, cause error) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Code:    code,
		Message: fmt.Sprint(cause),
		Cause:   cause,
	}
}

// WithRetryable marks whether the caller may retry the whole request.
func (e *PipelineError) WithRetryable(r bool) *PipelineError {
	e.Retryable = r
	return e
}

// WithDiagnostics attaches admin-only remediation hints.
func (e *PipelineError) WithDiagnostics(hints ...string) *PipelineError {
	e.Diagnostics = append(e.Diagnostics, hints...)
	return e
}

// AsPipelineError extracts a PipelineError from an error chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ValidationError rejects malformed or unsafe input. Never retryable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ConfigurationError means no usable configuration source exists.
// Fatal and non-retryable; requires operator intervention.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Message, e.Cause)
	}
	return "configuration: " + e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// Error codes carried on PipelineError and the terminal error event.
const (
	CodeAuthFailed    = "auth_failed"
	CodeInvalidInput  = "invalid_input"
	CodeConfiguration = "configuration"
	CodeModelFailed   = "model_failed"
	CodeInternal      = "internal"
)
