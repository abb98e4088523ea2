// Package observability bundles the engine's operational surface: Prometheus
// metrics, OpenTelemetry tracing, and structured logging.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks turn, round, and tool activity. All recording methods are
// nil-safe so callers can run without a sink wired.
type Metrics struct {
	// TurnsStarted counts launched turns.
	// Labels: provider, model
	TurnsStarted *prometheus.CounterVec

	// TurnsEnded counts settled turns by terminal state.
	// Labels: state (done|aborted|error)
	TurnsEnded *prometheus.CounterVec

	// TurnDuration measures whole-turn latency in seconds.
	// Labels: state
	TurnDuration *prometheus.HistogramVec

	// TurnRounds observes completion rounds per turn.
	TurnRounds prometheus.Histogram

	// ToolExecutions counts settled tool calls.
	// Labels: tool, status (completed|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool settlement time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// TokensUsed counts tokens by direction.
	// Labels: type (input|output)
	TokensUsed *prometheus.CounterVec
}

// NewMetrics registers all metrics with reg, or with the default registry
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_turns_started_total",
				Help: "Total turns launched by provider and model",
			},
			[]string{"provider", "model"},
		),

		TurnsEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_turns_ended_total",
				Help: "Total turns settled by terminal state",
			},
			[]string{"state"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_turn_duration_seconds",
				Help:    "Whole-turn latency in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"state"},
		),

		TurnRounds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quill_turn_rounds",
				Help:    "Completion rounds per turn",
				Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
			},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_tool_executions_total",
				Help: "Settled tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_tool_duration_seconds",
				Help:    "Tool settlement time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_tokens_total",
				Help: "Tokens consumed by direction",
			},
			[]string{"type"},
		),
	}
}

// TurnStarted records a launched turn.
func (m *Metrics) TurnStarted(provider, model string) {
	if m == nil {
		return
	}
	m.TurnsStarted.WithLabelValues(provider, model).Inc()
}

// TurnEnded records a settled turn.
func (m *Metrics) TurnEnded(state string, rounds int, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsEnded.WithLabelValues(state).Inc()
	m.TurnDuration.WithLabelValues(state).Observe(seconds)
	m.TurnRounds.Observe(float64(rounds))
}

// ToolSettled records one settled tool call.
func (m *Metrics) ToolSettled(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

// Tokens records a turn's aggregate token counts.
func (m *Metrics) Tokens(input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.TokensUsed.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		m.TokensUsed.WithLabelValues("output").Add(float64(output))
	}
}
