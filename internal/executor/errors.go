package executor

import (
	"errors"
	"fmt"
)

// ToolErrorType classifies tool execution failures.
type ToolErrorType string

const (
	// ToolErrorNotFound means the tool is not registered.
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidArgs means the arguments failed schema validation.
	ToolErrorInvalidArgs ToolErrorType = "invalid_args"

	// ToolErrorTimeout means execution exceeded its deadline or the
	// request was cancelled.
	ToolErrorTimeout ToolErrorType = "timeout"

	// ToolErrorPanic means the handler panicked.
	ToolErrorPanic ToolErrorType = "panic"

	// ToolErrorExecution is any other handler failure.
	ToolErrorExecution ToolErrorType = "execution"
)

// ErrToolTimeout is the sentinel cause for deadline expiry.
var ErrToolTimeout = errors.New("tool execution timed out")

// ToolError wraps a failure from one tool call. It is scoped to that
// call only and never aborts the round it belongs to.
type ToolError struct {
	Tool    string
	CallID  string
	Type    ToolErrorType
	Message string
	Cause   error
}

// NewToolError creates an execution-type ToolError.
func NewToolError(tool string, cause error) *ToolError {
	return &ToolError{Tool: tool, Type: ToolErrorExecution, Cause: cause}
}

// WithType sets the error type.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

// WithCallID sets the originating tool call ID.
func (e *ToolError) WithCallID(id string) *ToolError {
	e.CallID = id
	return e
}

// WithMessage sets a human-readable message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

func (e *ToolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("tool %s: %v", e.Tool, e.Cause)
	}
	return fmt.Sprintf("tool %s: %s error", e.Tool, e.Type)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// Retryable reports whether retrying the same call could succeed.
// Validation and registration failures never benefit from a retry.
func (e *ToolError) Retryable() bool {
	switch e.Type {
	case ToolErrorNotFound, ToolErrorInvalidArgs, ToolErrorPanic:
		return false
	case ToolErrorTimeout:
		// Deadline expiry within a live request is retryable; a
		// cancelled parent context is not, but the executor checks
		// ctx.Err separately before retrying.
		return true
	default:
		return true
	}
}

// AsToolError extracts a ToolError from an error chain.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRetryable reports whether an error from Execute warrants a retry.
func IsRetryable(err error) bool {
	if te, ok := AsToolError(err); ok {
		return te.Retryable()
	}
	return false
}
