package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relayagent/relay/pkg/models"
)

// PrepareStage folds the request into the message sequence. It runs
// once up front to append the user's turn, and is re-run by the loop
// controller after each tool round; on re-runs the tool results are
// already in the sequence, so there is nothing to add and the stage is
// a no-op. Keeping it a stage (rather than inlining the append) keeps
// the loop's re-invocation path identical to the first pass.
type PrepareStage struct{}

func (s *PrepareStage) Name() StageName { return StagePrepare }

func (s *PrepareStage) Execute(ctx context.Context, rc *Context) error {
	msgs := rc.Messages()
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.Role == models.RoleUser && last.Content == rc.Request.Text {
			return nil
		}
	}
	if rc.hasCurrentUserTurn() {
		return nil
	}
	rc.AppendMessage(models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   rc.Request.Text,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// hasCurrentUserTurn reports whether this request's text is already in
// the sequence, which is the case on every loop re-invocation.
func (rc *Context) hasCurrentUserTurn() bool {
	for _, m := range rc.messages {
		if m.Role == models.RoleUser && m.Content == rc.Request.Text {
			return true
		}
	}
	return false
}
