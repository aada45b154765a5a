// Package metrics collects engine and experiment counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	registry *prometheus.Registry

	StepsTotal     *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	ActionFailures *prometheus.CounterVec
	UnmappedEvents *prometheus.CounterVec
	VersionStarts  *prometheus.CounterVec
	VersionDone    *prometheus.CounterVec
	VersionErrors  *prometheus.CounterVec
}

// NewCollector registers all collectors on a private registry so independent
// instances (one per process, many in tests) never collide.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Collector{
		registry: registry,
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of executed conversation steps",
		}, []string{"flow", "result"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
		ActionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_failures_total",
			Help:      "Total number of action executions that failed after retries",
		}, []string{"executor"}),
		UnmappedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmapped_events_total",
			Help:      "Inbound events with no transition in the current state",
		}, []string{"flow", "state"}),
		VersionStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_starts_total",
			Help:      "Conversations started per flow version",
		}, []string{"version"}),
		VersionDone: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_completions_total",
			Help:      "Conversations completed per flow version",
		}, []string{"version"}),
		VersionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_errors_total",
			Help:      "Step errors per flow version",
		}, []string{"version"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
