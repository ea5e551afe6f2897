package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"
)

// ValidateStage rejects malformed input before any model work starts.
// It runs concurrently with authentication and writes no Context
// fields at all, so the join needs no locking.
type ValidateStage struct{}

func (s *ValidateStage) Name() StageName { return StageValidate }

func (s *ValidateStage) Execute(ctx context.Context, rc *Context) error {
	text := rc.Request.Text
	if strings.TrimSpace(text) == "" {
		return s.invalid("text", "message text is required")
	}
	if !utf8.ValidString(text) {
		return s.invalid("text", "message text is not valid UTF-8")
	}
	if max := rc.Config.MaxInputChars; max > 0 && len(text) > max {
		return s.invalid("text", "message text exceeds the maximum input size")
	}
	if strings.ContainsRune(text, 0) {
		return s.invalid("text", "message text contains NUL bytes")
	}
	if slider := rc.Request.Slider; slider < 0 || slider > 10 {
		return s.invalid("slider", "slider must be between 0 and 10")
	}
	return nil
}

func (s *ValidateStage) invalid(field, msg string) error {
	return NewPipelineError(StageValidate, CodeInvalidInput, &ValidationError{Field: field, Message: msg})
}
