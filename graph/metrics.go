package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics.
//
// Metrics exposed (all namespaced with "solvegraph_"):
//
//  1. step_latency_ms (histogram): node execution time.
//     Labels: node, status (success/error).
//  2. checkpoints_total (counter): checkpoints appended.
//     Labels: source (node name, __input__ or __update__).
//  3. halts_total (counter): Start/Resume calls that returned control.
//     Labels: reason (terminal/interrupted).
//  4. active_threads (gauge): threads currently executing or waiting for
//     their thread lock.
//
// Thread ids are not labels: they are unbounded.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(g, reducer, st, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	stepLatency   *prometheus.HistogramVec
	checkpoints   *prometheus.CounterVec
	halts         *prometheus.CounterVec
	activeThreads prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the engine metrics with
// registry, or prometheus.DefaultRegisterer when registry is nil.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "solvegraph",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			// Generation and verification steps routinely take seconds.
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 30000, 120000},
		}, []string{"node", "status"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solvegraph",
			Name:      "checkpoints_total",
			Help:      "Checkpoints appended, by producing source",
		}, []string{"source"}),
		halts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solvegraph",
			Name:      "halts_total",
			Help:      "Runs that returned control to the caller, by halt reason",
		}, []string{"reason"}),
		activeThreads: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "solvegraph",
			Name:      "active_threads",
			Help:      "Threads currently executing or waiting for their lock",
		}),
	}
}

// RecordStepLatency observes one node execution.
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementCheckpoints counts an appended checkpoint.
func (pm *PrometheusMetrics) IncrementCheckpoints(source string) {
	if !pm.isEnabled() {
		return
	}
	pm.checkpoints.WithLabelValues(source).Inc()
}

// IncrementHalts counts a returned run.
func (pm *PrometheusMetrics) IncrementHalts(reason HaltReason) {
	if !pm.isEnabled() {
		return
	}
	pm.halts.WithLabelValues(string(reason)).Inc()
}

// UpdateActiveThreads sets the active thread gauge.
func (pm *PrometheusMetrics) UpdateActiveThreads(n int) {
	if !pm.isEnabled() {
		return
	}
	pm.activeThreads.Set(float64(n))
}

// Disable stops recording. Registered metrics keep their last values.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

func (pm *PrometheusMetrics) isEnabled() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}
