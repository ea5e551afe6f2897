package pipeline

import (
	"context"

	"github.com/relayagent/relay/internal/router"
	"github.com/relayagent/relay/pkg/models"
)

// RoutingStage asks the model router for this request's execution
// plan and publishes the decision to the event stream.
type RoutingStage struct {
	router *router.Router
}

// NewRoutingStage creates the stage.
func NewRoutingStage(r *router.Router) *RoutingStage {
	return &RoutingStage{router: r}
}

func (s *RoutingStage) Name() StageName { return StageRouting }

func (s *RoutingStage) Execute(ctx context.Context, rc *Context) error {
	decision := s.router.Route(ctx, rc.Messages(), rc.AvailableTools, rc.Request.Slider)
	if rc.Request.Model != "" {
		// An explicit caller model hint pins the single-model path.
		decision.Model = rc.Request.Model
	}
	rc.Routing = decision

	rc.Emit(models.Event{
		Type:    models.EventRoutingDecided,
		Stage:   string(StageRouting),
		Routing: &models.RoutingPayload{Decision: decision},
	})
	return nil
}
