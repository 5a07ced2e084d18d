// Package metrics exports gate and lifecycle counters for Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/semgate/phase"
)

const namespace = "semgate"

// Recorder counts transition events. It implements phase.Observer.
type Recorder struct {
	registry *prometheus.Registry

	gates        *prometheus.CounterVec
	ruleFailures *prometheus.CounterVec
	missing      *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	candidates   *prometheus.CounterVec
	features     prometheus.Gauge
}

var _ phase.Observer = (*Recorder)(nil)

// New creates a recorder on its own registry. With process set, the Go
// runtime and process collectors are registered too.
func New(process bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		gates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_evaluations_total",
			Help:      "Gate evaluations by outcome.",
		}, []string{"outcome"}),
		ruleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_failures_total",
			Help:      "Failed rule outcomes by rule and severity.",
		}, []string{"rule", "severity", "accepted"}),
		missing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_sections_total",
			Help:      "Required sections missing at a gate.",
		}, []string{"section"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Phase transitions by target phase.",
		}, []string{"to"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_candidates_total",
			Help:      "Decision candidates surfaced at passed gates by verdict.",
		}, []string{"verdict"}),
		features: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "features_open",
			Help:      "Features opened and not yet done.",
		}),
	}
	r.registry.MustRegister(r.gates, r.ruleFailures, r.missing, r.transitions, r.candidates, r.features)
	if process {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveTransition updates the counters for ev.
func (r *Recorder) ObserveTransition(_ context.Context, ev phase.Event) error {
	if ev.Gate != nil || ev.Validation != nil {
		outcome := "blocked"
		if ev.Advanced {
			outcome = "passed"
		}
		r.gates.WithLabelValues(outcome).Inc()
	}
	if ev.Validation != nil {
		for _, s := range ev.Validation.Missing() {
			r.missing.WithLabelValues(s).Inc()
		}
	}
	if ev.Gate != nil {
		for _, o := range ev.Gate.Failures() {
			accepted := "false"
			if o.Accepted {
				accepted = "true"
			}
			r.ruleFailures.WithLabelValues(o.RuleID, string(o.Severity), accepted).Inc()
		}
	}
	if !ev.Advanced {
		return nil
	}

	r.transitions.WithLabelValues(string(ev.To)).Inc()
	switch ev.To {
	case phase.Research:
		r.features.Inc()
	case phase.Done:
		r.features.Dec()
	}
	for _, c := range ev.Candidates {
		r.candidates.WithLabelValues(string(c.Verdict)).Inc()
	}
	return nil
}
