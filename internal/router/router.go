// Package router decides whether a request runs on one model or a
// coordinated set of role-based models, and which models fill each
// role.
package router

import (
	"context"
	"fmt"

	"github.com/relayagent/relay/internal/config"
	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/pkg/models"
)

// multiModelScoreBar is the minimum complexity score at which an
// eligible request actually gets the multi-model treatment.
const multiModelScoreBar = 5.0

// defaultSliderThreshold applies when no runtime threshold is set.
const defaultSliderThreshold = 7

// DefaultRoles are the compiled-in role assignments used when the
// runtime configuration carries none.
var DefaultRoles = map[models.ModelRole]models.RoleAssignment{
	models.RoleReasoning: {
		Model:       "claude-opus-4-20250514",
		Fallback:    "claude-sonnet-4-20250514",
		Temperature: 1.0,
	},
	models.RoleToolExecution: {
		Model:       "claude-sonnet-4-20250514",
		Fallback:    "gpt-4o",
		Temperature: 0.2,
	},
	models.RoleSynthesis: {
		Model:       "claude-sonnet-4-20250514",
		Fallback:    "gpt-4o-mini",
		Temperature: 0.6,
	},
	models.RoleFallback: {
		Model:       "claude-3-5-haiku-20241022",
		Fallback:    "gpt-4o-mini",
		Temperature: 0.3,
	},
}

// DefaultModel is the compiled-in single-model choice.
const DefaultModel = "claude-sonnet-4-20250514"

// Router resolves routing decisions. Configuration is read through a
// Store, which is expected to be the cached decorator so the TTL and
// runtime-config layers come for free.
type Router struct {
	store  config.Store
	logger *observability.Logger
}

// New creates a Router.
func New(store config.Store, logger *observability.Logger) *Router {
	return &Router{store: store, logger: logger}
}

// Route analyzes the conversation and returns a routing decision.
// Configuration failures degrade to compiled-in defaults rather than
// failing the request.
func (r *Router) Route(ctx context.Context, messages []models.Message, tools []models.ToolDescriptor, slider int) models.RoutingDecision {
	cfg, err := r.store.MultiModelConfig(ctx)
	if err != nil {
		r.logger.Warn("multi-model config unavailable, using defaults", "error", err)
		cfg = config.MultiModelConfig{}
	}

	complexity := Analyze(messages, tools)
	decision := models.RoutingDecision{
		Complexity: complexity.Score,
		Model:      r.singleModel(cfg),
		Roles:      r.roles(cfg),
	}

	threshold := cfg.SliderThreshold
	if threshold <= 0 {
		threshold = defaultSliderThreshold
	}

	switch {
	case cfg.Enabled != nil && !*cfg.Enabled:
		decision.Reason = "multi-model disabled in runtime config"
		return decision

	case cfg.Enabled != nil && *cfg.Enabled:
		// Explicitly forced on; slider position does not apply.

	case slider < threshold:
		decision.Reason = fmt.Sprintf("intelligence slider %d below threshold %d", slider, threshold)
		return decision
	}

	if complexity.Score < multiModelScoreBar {
		decision.Reason = fmt.Sprintf("complexity %.1f below multi-model bar %.1f", complexity.Score, multiModelScoreBar)
		return decision
	}

	decision.UseMultiModel = true
	switch {
	case complexity.RequiresReasoning && complexity.RequiresTools:
		decision.Reason = "request needs both reasoning and tool use"
	case complexity.RequiresReasoning:
		decision.Reason = "request needs deep reasoning"
	case complexity.RequiresTools:
		decision.Reason = "request needs coordinated tool use"
	default:
		decision.Reason = fmt.Sprintf("complexity %.1f warrants multi-model execution", complexity.Score)
	}
	return decision
}

func (r *Router) singleModel(cfg config.MultiModelConfig) string {
	if cfg.DefaultModel != "" {
		return cfg.DefaultModel
	}
	return DefaultModel
}

// roles merges runtime role assignments over the compiled-in
// defaults, so a partial runtime config still yields a full set.
func (r *Router) roles(cfg config.MultiModelConfig) map[models.ModelRole]models.RoleAssignment {
	roles := make(map[models.ModelRole]models.RoleAssignment, len(DefaultRoles))
	for role, a := range DefaultRoles {
		roles[role] = a
	}
	for role, a := range cfg.Roles {
		if a.Model == "" {
			continue
		}
		merged := a
		if merged.Fallback == "" {
			merged.Fallback = roles[role].Fallback
		}
		roles[role] = merged
	}
	return roles
}
