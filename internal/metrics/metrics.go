// Package metrics exposes Prometheus collectors for the conversation pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes.
const (
	OutcomeWorkflow = "workflow"
	OutcomeFallback = "fallback"
	OutcomeStatic   = "static"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	turns           *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	routerDecisions *prometheus.CounterVec
	turnDuration    prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animalcare_turns_total",
				Help: "Conversation turns handled, by outcome",
			},
			[]string{"outcome"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animalcare_fallbacks_total",
				Help: "Fallback replies, by cause",
			},
			[]string{"cause"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animalcare_tool_calls_total",
				Help: "Executed tool calls, by kind and status",
			},
			[]string{"kind", "status"},
		),
		routerDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "animalcare_router_decisions_total",
				Help: "Routing decisions, by source",
			},
			[]string{"source"},
		),
		turnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "animalcare_turn_duration_seconds",
				Help:    "End-to-end turn latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
	}
	m.registry.MustRegister(
		m.turns,
		m.fallbacks,
		m.toolCalls,
		m.routerDecisions,
		m.turnDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// ObserveFallback records a fallback reply.
func (m *Metrics) ObserveFallback(cause string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(cause).Inc()
}

// ObserveToolCall records one executed tool call.
func (m *Metrics) ObserveToolCall(kind string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.toolCalls.WithLabelValues(kind, status).Inc()
}

// ObserveRouterDecision records where a decision came from.
func (m *Metrics) ObserveRouterDecision(source string) {
	if m == nil {
		return
	}
	m.routerDecisions.WithLabelValues(source).Inc()
}
