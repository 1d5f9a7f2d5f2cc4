package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveTurn(OutcomeFallback, 120*time.Millisecond)
	m.ObserveFallback("upstream_timeout")
	m.ObserveToolCall("dataQuery", true)
	m.ObserveToolCall("dataQuery", false)
	m.ObserveToolCall("dataQuery", false)
	m.ObserveRouterDecision("heuristic")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeFallback)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("upstream_timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("dataQuery", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routerDecisions.WithLabelValues("heuristic")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveTurn(OutcomeWorkflow, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `animalcare_turns_total{outcome="workflow"} 1`)
	assert.Contains(t, string(body), "animalcare_turn_duration_seconds_bucket")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn(OutcomeStatic, time.Millisecond)
		m.ObserveFallback("x")
		m.ObserveToolCall("x", true)
		m.ObserveRouterDecision("x")
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
