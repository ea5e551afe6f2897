package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the orchestration core.
//
// Tracked dimensions:
//   - Pipeline stage latency and outcomes
//   - Tool-call loop rounds per request
//   - Tool execution counts and latency
//   - Model request counts, latency, and token usage
//   - Errors by stage and code
//   - Dropped progress events (bounded emitter overflow)
type Metrics struct {
	// StageDuration measures stage execution latency in seconds.
	// Labels: stage, status (success|error|skipped)
	StageDuration *prometheus.HistogramVec

	// LoopRounds counts tool-call loop rounds per request.
	LoopRounds prometheus.Histogram

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution latency in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// ModelRequests counts model completion calls.
	// Labels: model, status (success|error)
	ModelRequests *prometheus.CounterVec

	// ModelDuration measures model call latency in seconds.
	// Labels: model
	ModelDuration *prometheus.HistogramVec

	// TokensUsed counts tokens by model and type (prompt|completion).
	TokensUsed *prometheus.CounterVec

	// Errors counts pipeline errors by stage and code.
	Errors *prometheus.CounterVec

	// DroppedEvents counts progress events dropped by the bounded emitter.
	DroppedEvents prometheus.Counter

	// ForcedSyntheses counts requests that hit the round cap.
	ForcedSyntheses prometheus.Counter

	// FallbackResponses counts requests served by the guaranteed-response
	// safety net.
	FallbackResponses prometheus.Counter
}

// NewMetrics creates and registers all metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_stage_duration_seconds",
				Help:    "Duration of pipeline stage execution in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage", "status"},
		),
		LoopRounds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_loop_rounds",
				Help:    "Tool-call loop rounds per request",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
			},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_executions_total",
				Help: "Total tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_tool_duration_seconds",
				Help:    "Duration of tool execution in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		ModelRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_model_requests_total",
				Help: "Total model completion requests by model and status",
			},
			[]string{"model", "status"},
		),
		ModelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_model_duration_seconds",
				Help:    "Duration of model completion calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tokens_total",
				Help: "Token usage by model and type",
			},
			[]string{"model", "type"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Pipeline errors by stage and code",
			},
			[]string{"stage", "code"},
		),
		DroppedEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_dropped_events_total",
				Help: "Progress events dropped because the event buffer was full",
			},
		),
		ForcedSyntheses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_forced_syntheses_total",
				Help: "Requests that hit the tool-call round cap",
			},
		),
		FallbackResponses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_fallback_responses_total",
				Help: "Requests answered by the guaranteed-response fallback",
			},
		),
	}
}
