// Package metrics records routing and planning outcomes with Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the observability surface used by routing and planning.
type Recorder interface {
	ObserveRoutingDecision(decision string, coerced bool)
	ObserveRoutingExecution(decision string, err error, duration time.Duration)
	IncPlanFallback(cause string)
	IncReplan(tier string, checkpoint, changed bool)
	IncReplanFallback(cause string)
	IncDeadAgent()
	ObserveLockWait(duration time.Duration)
	ObserveLLMCall(model string, duration time.Duration, err error)
}

// PrometheusRecorder implements Recorder with collectors registered on a
// caller-supplied registry.
type PrometheusRecorder struct {
	routingDecisions  *prometheus.CounterVec
	routingExecutions *prometheus.CounterVec
	routingDuration   *prometheus.HistogramVec
	planFallbacks     *prometheus.CounterVec
	replans           *prometheus.CounterVec
	replanFallbacks   *prometheus.CounterVec
	deadAgents        prometheus.Counter
	lockWait          prometheus.Histogram
	llmRequests       *prometheus.CounterVec
	llmDuration       *prometheus.HistogramVec
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotbot_routing_decisions_total",
			Help: "Routing decisions by decision and whether validation coerced them to new",
		}, []string{"decision", "coerced"}),
		routingExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotbot_routing_executions_total",
			Help: "Routing decision executions by decision and status",
		}, []string{"decision", "status"}),
		routingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dotbot_routing_execution_duration_seconds",
			Help:    "Time spent executing a routing decision",
			Buckets: prometheus.DefBuckets,
		}, []string{"decision"}),
		planFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotbot_plan_fallbacks_total",
			Help: "Plans replaced by the single-step fallback, by cause",
		}, []string{"cause"}),
		replans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotbot_replans_total",
			Help: "Replan calls by tier, checkpoint and outcome",
		}, []string{"tier", "checkpoint", "changed"}),
		replanFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotbot_replan_fallbacks_total",
			Help: "Replans that kept the remaining steps because the reply was unusable",
		}, []string{"cause"}),
		deadAgents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dotbot_dead_agents_corrected_total",
			Help: "Agents recorded as live with no registered executor",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dotbot_routing_lock_wait_seconds",
			Help:    "Time spent waiting for the per-device routing lock",
			Buckets: prometheus.DefBuckets,
		}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dotbot_llm_requests_total",
			Help: "Model calls by model and status",
		}, []string{"model", "status"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dotbot_llm_request_duration_seconds",
			Help:    "Duration of model calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
	}

	reg.MustRegister(
		p.routingDecisions, p.routingExecutions, p.routingDuration,
		p.planFallbacks, p.replans, p.replanFallbacks,
		p.deadAgents, p.lockWait, p.llmRequests, p.llmDuration,
	)
	return p
}

func (p *PrometheusRecorder) ObserveRoutingDecision(decision string, coerced bool) {
	p.routingDecisions.WithLabelValues(decision, boolLabel(coerced)).Inc()
}

func (p *PrometheusRecorder) ObserveRoutingExecution(decision string, err error, duration time.Duration) {
	p.routingExecutions.WithLabelValues(decision, statusLabel(err)).Inc()
	p.routingDuration.WithLabelValues(decision).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncPlanFallback(cause string) {
	p.planFallbacks.WithLabelValues(cause).Inc()
}

func (p *PrometheusRecorder) IncReplan(tier string, checkpoint, changed bool) {
	p.replans.WithLabelValues(tier, boolLabel(checkpoint), boolLabel(changed)).Inc()
}

func (p *PrometheusRecorder) IncReplanFallback(cause string) {
	p.replanFallbacks.WithLabelValues(cause).Inc()
}

func (p *PrometheusRecorder) IncDeadAgent() {
	p.deadAgents.Inc()
}

func (p *PrometheusRecorder) ObserveLockWait(duration time.Duration) {
	p.lockWait.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveLLMCall(model string, duration time.Duration, err error) {
	p.llmRequests.WithLabelValues(model, statusLabel(err)).Inc()
	p.llmDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveRoutingDecision(string, bool) {}
func (Nop) ObserveRoutingExecution(string, error, time.Duration) {}
func (Nop) IncPlanFallback(string) {}
func (Nop) IncReplan(string, bool, bool) {}
func (Nop) IncReplanFallback(string) {}
func (Nop) IncDeadAgent() {}
func (Nop) ObserveLockWait(time.Duration) {}
func (Nop) ObserveLLMCall(string, time.Duration, error) {}
