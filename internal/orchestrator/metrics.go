package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Metrics holds the Prometheus instruments of the engine.
type Metrics struct {
	PassesTotal      *prometheus.CounterVec
	PassDuration     prometheus.Histogram
	PhaseInvocations *prometheus.CounterVec
	PhaseJumps       *prometheus.CounterVec
	PluginTests      *prometheus.CounterVec
	PluginActions    *prometheus.CounterVec
	ArbiterDecisions *prometheus.CounterVec
}

// DefaultMetrics returns the engine metrics registered on the default
// registry. Registration happens once per process.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics registers the engine metrics on reg.
//
// Metrics:
//   - issueflow_passes_total{outcome}
//   - issueflow_pass_duration_seconds
//   - issueflow_phase_invocations_total{phase,policy}
//   - issueflow_phase_jumps_total{resolved}
//   - issueflow_plugin_tests_total{phase,kind,outcome}
//   - issueflow_plugin_actions_total{phase,kind,outcome}
//   - issueflow_arbiter_decisions_total{phase,outcome}
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PassesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "issueflow_passes_total",
			Help: "Issue passes completed, by outcome",
		}, []string{"outcome"}), // "ok" or "error"

		PassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "issueflow_pass_duration_seconds",
			Help:    "Duration of one issue pass in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		PhaseInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "issueflow_phase_invocations_total",
			Help: "Phase invocations, including re-entries after jumps",
		}, []string{"phase", "policy"}),

		PhaseJumps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "issueflow_phase_jumps_total",
			Help: "Plugin redirects, by whether the target phase exists",
		}, []string{"resolved"}),

		PluginTests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "issueflow_plugin_tests_total",
			Help: "Plugin test calls, by outcome",
		}, []string{"phase", "kind", "outcome"}), // "match", "nomatch" or "error"

		PluginActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "issueflow_plugin_actions_total",
			Help: "Plugin act calls, by outcome",
		}, []string{"phase", "kind", "outcome"}),

		ArbiterDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "issueflow_arbiter_decisions_total",
			Help: "Arbiter decisions in alternative phases, by outcome",
		}, []string{"phase", "outcome"}), // "ok", "error" or "invalid"
	}
}
