package pipeline

import (
	"context"

	"github.com/relayagent/relay/internal/discovery"
	"github.com/relayagent/relay/internal/observability"
)

// DiscoveryStage computes the per-request tool set. Discovery never
// fails the request; at worst it yields no tools and the model answers
// unaided.
type DiscoveryStage struct {
	discovery *discovery.Discovery
	logger    *observability.Logger
}

// NewDiscoveryStage creates the stage.
func NewDiscoveryStage(d *discovery.Discovery, logger *observability.Logger) *DiscoveryStage {
	return &DiscoveryStage{discovery: d, logger: logger}
}

func (s *DiscoveryStage) Name() StageName { return StageDiscovery }

func (s *DiscoveryStage) Execute(ctx context.Context, rc *Context) error {
	query := rc.LatestUserText()
	result := s.discovery.Discover(ctx, query, rc.User, rc.Request.EnabledTools)

	rc.AvailableTools = result.Tools
	rc.ToolsUnfiltered = result.Unfiltered
	s.logger.Debug("tool discovery finished",
		"source", result.Source,
		"tools", len(result.Tools),
		"unfiltered", result.Unfiltered)
	return nil
}
