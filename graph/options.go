package graph

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dshills/orcgraph/graph/emit"
)

// DefaultMaxSteps bounds a single invocation when WithMaxSteps is not given.
const DefaultMaxSteps = 100

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(compiled, st,
//	    graph.WithEmitter(emit.NewLogEmitter(logger)),
//	    graph.WithMaxSteps(200),
//	    graph.WithDefaultNodeTimeout(2*time.Minute),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	maxSteps           int
	defaultNodeTimeout time.Duration
	emitter            emit.Emitter
	metrics            *PrometheusMetrics
	logger             *slog.Logger
	now                func() time.Time
}

func defaultConfig() engineConfig {
	return engineConfig{
		maxSteps: DefaultMaxSteps,
		emitter:  emit.NewNullEmitter(),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
}

// WithMaxSteps limits the number of node executions in one Start, Resume or
// Restart call. Loops in the graph (retry and approval cycles) are supported;
// MaxSteps stops a loop whose exit condition never fires.
//
// When exceeded the run fails with ErrMaxStepsExceeded (code MAX_STEPS_EXCEEDED).
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("max steps must be positive")
		}
		cfg.maxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout bounds every node execution that has no per-node
// timeout. Zero disables the default.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return errors.New("node timeout must not be negative")
		}
		cfg.defaultNodeTimeout = d
		return nil
	}
}

// WithEmitter sends run events to the emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics records Prometheus metrics for every step and run outcome.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithLogger sets the structured logger used for engine diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if l != nil {
			cfg.logger = l
		}
		return nil
	}
}

// WithClock overrides the checkpoint timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		cfg.now = now
		return nil
	}
}
