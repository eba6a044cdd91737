package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveRoutingDecision("new", true)
	rec.ObserveRoutingDecision("new", true)
	rec.ObserveRoutingDecision("modify", false)
	rec.IncPlanFallback("parse_error")
	rec.IncDeadAgent()
	rec.ObserveLLMCall("claude-haiku-4-5", 10*time.Millisecond, errors.New("x"))

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.routingDecisions.WithLabelValues("new", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.routingDecisions.WithLabelValues("modify", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.planFallbacks.WithLabelValues("parse_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.deadAgents))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.llmRequests.WithLabelValues("claude-haiku-4-5", "error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusRecorder(prometheus.NewRegistry())
		NewPrometheusRecorder(prometheus.NewRegistry())
	})
}

var _ Recorder = Nop{}
var _ Recorder = (*PrometheusRecorder)(nil)
