package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects Prometheus metrics for graph execution.
//
// Metrics exposed (all namespaced with "orcgraph_"):
//
//  1. step_latency_ms (histogram): node execution duration in milliseconds.
//     Labels: graph, node, status (success/error/interrupt/timeout).
//  2. runs_total (counter): invocations by outcome.
//     Labels: graph, outcome (completed/suspended/failed).
//  3. interrupts_total (counter): suspensions by pending node.
//     Labels: graph, node.
//  4. node_errors_total (counter): node errors, handled or not.
//     Labels: graph, node, handled (true/false).
//  5. active_runs (gauge): invocations currently executing.
//     Labels: graph.
//  6. checkpoints_total (counter): checkpoints written.
//     Labels: graph.
//
// Labels deliberately exclude thread ids to keep cardinality bounded.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(compiled, st, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Safe for concurrent use; one instance may be shared by several engines.
type PrometheusMetrics struct {
	stepLatency *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	interrupts  *prometheus.CounterVec
	nodeErrors  *prometheus.CounterVec
	activeRuns  *prometheus.GaugeVec
	checkpoints *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all graph execution metrics
// with the provided registry. A nil registry uses the default registerer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orcgraph",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"graph", "node", "status"})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orcgraph",
		Name:      "runs_total",
		Help:      "Run invocations by outcome",
	}, []string{"graph", "outcome"})

	pm.interrupts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orcgraph",
		Name:      "interrupts_total",
		Help:      "Runs suspended before a node",
	}, []string{"graph", "node"})

	pm.nodeErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orcgraph",
		Name:      "node_errors_total",
		Help:      "Node errors, split by whether an error handler absorbed them",
	}, []string{"graph", "node", "handled"})

	pm.activeRuns = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orcgraph",
		Name:      "active_runs",
		Help:      "Run invocations currently executing",
	}, []string{"graph"})

	pm.checkpoints = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orcgraph",
		Name:      "checkpoints_total",
		Help:      "Checkpoints written to the store",
	}, []string{"graph"})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency records the execution duration of a node.
func (pm *PrometheusMetrics) RecordStepLatency(graphName, node string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.stepLatency.WithLabelValues(graphName, node, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRuns counts an invocation outcome.
func (pm *PrometheusMetrics) IncrementRuns(graphName string, outcome RunStatus) {
	if !pm.on() {
		return
	}
	pm.runs.WithLabelValues(graphName, string(outcome)).Inc()
}

// IncrementInterrupts counts a suspension before node.
func (pm *PrometheusMetrics) IncrementInterrupts(graphName, node string) {
	if !pm.on() {
		return
	}
	pm.interrupts.WithLabelValues(graphName, node).Inc()
}

// IncrementNodeErrors counts a node error.
func (pm *PrometheusMetrics) IncrementNodeErrors(graphName, node string, handled bool) {
	if !pm.on() {
		return
	}
	label := "false"
	if handled {
		label = "true"
	}
	pm.nodeErrors.WithLabelValues(graphName, node, label).Inc()
}

// IncrementCheckpoints counts a checkpoint write.
func (pm *PrometheusMetrics) IncrementCheckpoints(graphName string) {
	if !pm.on() {
		return
	}
	pm.checkpoints.WithLabelValues(graphName).Inc()
}

// RunStarted increments the active run gauge. Pair with RunFinished.
func (pm *PrometheusMetrics) RunStarted(graphName string) {
	if !pm.on() {
		return
	}
	pm.activeRuns.WithLabelValues(graphName).Inc()
}

// RunFinished decrements the active run gauge.
func (pm *PrometheusMetrics) RunFinished(graphName string) {
	if !pm.on() {
		return
	}
	pm.activeRuns.WithLabelValues(graphName).Dec()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
