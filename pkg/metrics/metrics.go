// Package metrics provides Prometheus metrics export for the motion control plane.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled         bool
	enabledMutex    sync.RWMutex
	defaultRegistry *Registry
)

// Init initializes the metrics system under namespace.
func Init(namespace string) {
	enabledMutex.Lock()
	defer enabledMutex.Unlock()
	enabled = true
	defaultRegistry = NewRegistry(namespace)
}

// Enabled returns true if metrics are enabled.
func Enabled() bool {
	enabledMutex.RLock()
	defer enabledMutex.RUnlock()
	return enabled
}

// Default returns the default metrics registry.
func Default() *Registry {
	enabledMutex.RLock()
	r := defaultRegistry
	enabledMutex.RUnlock()
	if r == nil {
		Init("motion")
		return Default()
	}
	return r
}

// Registry holds all motion metrics.
type Registry struct {
	reg *prometheus.Registry

	operations       *prometheus.CounterVec
	operationSeconds *prometheus.HistogramVec
	lockWaitSeconds  *prometheus.HistogramVec
	agentSeconds     *prometheus.HistogramVec
	rollbackErrors   *prometheus.CounterVec
	cacheObjects     *prometheus.CounterVec

	families []Family
}

// Family describes one exported metric family.
type Family struct {
	Name string `json:"name"`
	Help string `json:"help"`
	Type string `json:"type"`
}

// NewRegistry creates a new metrics registry.
func NewRegistry(namespace string) *Registry {
	var families []Family
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		families = append(families, Family{Name: prometheus.BuildFQName(namespace, "", name), Help: help, Type: "counter"})
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		families = append(families, Family{Name: prometheus.BuildFQName(namespace, "", name), Help: help, Type: "histogram"})
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	r := &Registry{
		reg: prometheus.NewRegistry(),
		operations: counter("operations_total",
			"Completed copy and migration operations by scenario and outcome.", "scenario", "outcome"),
		operationSeconds: histogram("operation_duration_seconds",
			"Wall time of copy and migration operations.", prometheus.ExponentialBuckets(0.5, 2, 14), "scenario"),
		lockWaitSeconds: histogram("lock_wait_seconds",
			"Time spent waiting for named storage locks.", prometheus.DefBuckets, "outcome"),
		agentSeconds: histogram("agent_round_trip_seconds",
			"Agent command round trips by command and outcome.", prometheus.ExponentialBuckets(0.05, 2, 16), "command", "outcome"),
		rollbackErrors: counter("rollback_errors_total",
			"Cleanup steps that failed during rollback, by phase.", "phase"),
		cacheObjects: counter("cache_objects_total",
			"Cache objects staged and released.", "action"),
	}
	r.families = families
	r.reg.MustRegister(r.operations, r.operationSeconds, r.lockWaitSeconds,
		r.agentSeconds, r.rollbackErrors, r.cacheObjects)
	return r
}

// Families lists the metric families of the registry, including those
// with no samples yet. Vectors only show up in a gather once a label set
// has been observed.
func (r *Registry) Families() []Family {
	return append([]Family(nil), r.families...)
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordOperation records a finished copy or migration.
func (r *Registry) RecordOperation(scenario string, success bool, duration time.Duration) {
	r.operations.WithLabelValues(scenario, outcome(success)).Inc()
	r.operationSeconds.WithLabelValues(scenario).Observe(duration.Seconds())
}

// RecordLockWait records how long an acquire waited and whether it got the lock.
func (r *Registry) RecordLockWait(acquired bool, duration time.Duration) {
	label := "acquired"
	if !acquired {
		label = "timeout"
	}
	r.lockWaitSeconds.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordAgentRoundTrip records one agent command exchange.
// outcome is one of "ok", "negative", "unavailable", "timeout".
func (r *Registry) RecordAgentRoundTrip(command, outcome string, duration time.Duration) {
	r.agentSeconds.WithLabelValues(command, outcome).Observe(duration.Seconds())
}

// RecordRollbackError counts a failed cleanup step.
func (r *Registry) RecordRollbackError(phase string) {
	r.rollbackErrors.WithLabelValues(phase).Inc()
}

// RecordCacheObject counts cache staging ("create") and release ("delete").
func (r *Registry) RecordCacheObject(action string) {
	r.cacheObjects.WithLabelValues(action).Inc()
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
