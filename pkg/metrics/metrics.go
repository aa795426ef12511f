// Package metrics instruments the workflow core with Prometheus
// collectors and aggregates per-session usage from a Prometheus server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the core's collectors behind one registration point.
// Components receive a *Registry; nothing registers against the global
// default registerer.
type Registry struct {
	reg *prometheus.Registry

	toolInvocations  *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
	llmTokens        *prometheus.CounterVec
	llmErrors        *prometheus.CounterVec
	liveSessions     prometheus.Gauge
}

// NewRegistry creates the collector set on a fresh Prometheus registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_tool_invocations_total",
			Help: "Tool invocations through the gateway by tool, risk class, and outcome.",
		}, []string{"tool", "risk", "outcome"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_phase_transitions_total",
			Help: "Session phase transitions by workflow kind and edge.",
		}, []string{"kind", "from", "to"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kubepilot_llm_request_seconds",
			Help:    "Model service round-trip latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"model"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_llm_tokens_total",
			Help: "Tokens consumed by model and type (prompt or completion).",
		}, []string{"model", "type"}),
		llmErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubepilot_llm_errors_total",
			Help: "Model service failures by model and classified error type.",
		}, []string{"model", "error_type"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubepilot_live_sessions",
			Help: "Sessions currently persisted and unexpired.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.toolInvocations,
		r.phaseTransitions,
		r.llmLatency,
		r.llmTokens,
		r.llmErrors,
		r.liveSessions,
	)
	return r
}

// Handler returns the scrape endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordToolInvocation counts one gateway invocation outcome
// ("success", "error", "timeout", or "denied").
func (r *Registry) RecordToolInvocation(tool, risk, outcome string) {
	r.toolInvocations.WithLabelValues(tool, risk, outcome).Inc()
}

// RecordPhaseTransition counts one session phase edge.
func (r *Registry) RecordPhaseTransition(kind, from, to string) {
	r.phaseTransitions.WithLabelValues(kind, from, to).Inc()
}

// ObserveLLMLatency records one model round trip.
func (r *Registry) ObserveLLMLatency(model string, seconds float64) {
	r.llmLatency.WithLabelValues(model).Observe(seconds)
}

// RecordLLMUsage implements middleware.UsageRecorder.
func (r *Registry) RecordLLMUsage(model string, promptTokens, completionTokens int) {
	r.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	r.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordLLMError implements middleware.UsageRecorder.
func (r *Registry) RecordLLMError(model, errorType string) {
	r.llmErrors.WithLabelValues(model, errorType).Inc()
}

// SetLiveSessions reports the current unexpired session count.
func (r *Registry) SetLiveSessions(n int) {
	r.liveSessions.Set(float64(n))
}
