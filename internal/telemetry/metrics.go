// Package telemetry provides Prometheus instrumentation for the orchestrator.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resilioctl"

// Metrics holds the collectors recorded by the orchestration services.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	workflowsTotal   *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	phaseTransitions *prometheus.CounterVec
	agentsKnown      prometheus.Gauge
	agentChanges     *prometheus.CounterVec
	remoteErrors     *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		workflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Finished orchestration workflows by kind and outcome.",
		}, []string{"kind", "outcome"}),
		workflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Wall time of orchestration workflows.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
		}, []string{"kind"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_phase_transitions_total",
			Help:      "Job phase transitions by job type and target phase.",
		}, []string{"type", "phase"}),
		agentsKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_known",
			Help:      "Agents in the latest registry snapshot.",
		}),
		agentChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_membership_changes_total",
			Help:      "Agents added to or removed from the fleet.",
		}, []string{"direction"}),
		remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_errors_total",
			Help:      "Failed management console operations by step.",
		}, []string{"step"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.workflowsTotal,
		m.workflowDuration,
		m.phaseTransitions,
		m.agentsKnown,
		m.agentChanges,
		m.remoteErrors,
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

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordWorkflow records a finished workflow.
func (m *Metrics) RecordWorkflow(kind string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.workflowsTotal.WithLabelValues(kind, outcome).Inc()
	m.workflowDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordPhase counts a job phase transition.
func (m *Metrics) RecordPhase(jobType, phase string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(jobType, phase).Inc()
}

// RecordAgents sets the fleet size and counts membership changes.
func (m *Metrics) RecordAgents(known, added, removed int) {
	if m == nil {
		return
	}
	m.agentsKnown.Set(float64(known))
	if added > 0 {
		m.agentChanges.WithLabelValues("added").Add(float64(added))
	}
	if removed > 0 {
		m.agentChanges.WithLabelValues("removed").Add(float64(removed))
	}
}

// RecordRemoteError counts a failed console operation.
func (m *Metrics) RecordRemoteError(step string) {
	if m == nil {
		return
	}
	m.remoteErrors.WithLabelValues(step).Inc()
}
