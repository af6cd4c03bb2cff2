package graph

import (
	"log/slog"
	"time"

	"github.com/dshills/solvegraph/graph/emit"
)

// DefaultMaxSteps bounds the nodes one Start or Resume call may execute.
const DefaultMaxSteps = 100

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(g, state.Merge, st,
//	    graph.WithEmitter(emit.NewSlogEmitter(logger)),
//	    graph.WithMetrics(metrics),
//	    graph.WithMaxSteps(50),
//	)
type Option func(*engineConfig)

type engineConfig struct {
	emitter  emit.Emitter
	metrics  *PrometheusMetrics
	logger   *slog.Logger
	maxSteps int
	locker   Locker
	lockTTL  time.Duration
}

// WithEmitter sets the observability emitter. Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) {
		cfg.emitter = e
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) {
		cfg.metrics = m
	}
}

// WithLogger sets the logger for engine-internal warnings. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) {
		cfg.logger = l
	}
}

// WithMaxSteps limits how many nodes a single Start or Resume call may run.
// A value <= 0 removes the limit. Default: DefaultMaxSteps.
//
// Cycles are expected in graphs with an interrupt point on the loop; the
// limit only trips when a cycle never reaches one.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) {
		cfg.maxSteps = n
	}
}

// WithLocker adds a distributed per-thread lock on top of the in-process
// one, for several processes sharing a store.
//
// ttl bounds how long a crashed holder can block a thread. It must exceed
// the slowest node. Zero keeps the default of five minutes.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.locker = l
		cfg.lockTTL = ttl
	}
}
