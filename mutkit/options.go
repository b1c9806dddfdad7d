package mutkit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	mutErrors "github.com/c0deZ3R0/go-mutation-kit/errors"
)

// Option is a functional option for configuring an Engine via NewEngine.
type Option func(*EngineBuilder) error

// NewEngine constructs an Engine using functional options on top of the
// builder. It keeps the builder for advanced use while offering a concise,
// discoverable API.
func NewEngine(opts ...Option) (*Engine, error) {
	b := NewEngineBuilder()

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, mutErrors.NewWithComponent(mutErrors.OpConfig, "mutkit", err)
		}
	}

	if b.executor == nil {
		return nil, mutErrors.NewMisuse(mutErrors.OpConfig,
			errors.New("executor is required (use WithExecutor(...))"))
	}

	e, err := b.Build()
	if err != nil {
		return nil, mutErrors.NewMisuse(mutErrors.OpConfig, err)
	}
	return e, nil
}

// WithExecutor injects the remote executor the engine reconciles against.
func WithExecutor(exec Executor) Option {
	return func(b *EngineBuilder) error {
		b.WithExecutor(exec)
		return nil
	}
}

// WithExecutorFunc is convenience for adapting a plain function.
func WithExecutorFunc(fn func(ctx context.Context, op Operation) Outcome) Option {
	return WithExecutor(ExecutorFunc(fn))
}

// WithRetryConfig replaces the whole retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(b *EngineBuilder) error {
		b.WithRetryConfig(cfg)
		return nil
	}
}

// WithMaxAttempts caps executor calls per operation, including the first.
func WithMaxAttempts(n int) Option {
	return func(b *EngineBuilder) error {
		b.WithMaxAttempts(n)
		return nil
	}
}

// WithBaseDelay sets the delay before the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(b *EngineBuilder) error {
		b.WithBaseDelay(d)
		return nil
	}
}

// WithMaxDelay caps the retry backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(b *EngineBuilder) error {
		b.WithMaxDelay(d)
		return nil
	}
}

// WithBackoffMultiplier sets the backoff growth factor.
func WithBackoffMultiplier(m float64) Option {
	return func(b *EngineBuilder) error {
		b.WithBackoffMultiplier(m)
		return nil
	}
}

// WithConflictVisibility chooses conflict presentation in projections.
func WithConflictVisibility(v ConflictVisibility) Option {
	return func(b *EngineBuilder) error {
		b.WithConflictVisibility(v)
		return nil
	}
}

// WithFrozenConflicts is convenience for the frozen presentation: a
// conflicted patch is held back from projections until resolved.
func WithFrozenConflicts() Option {
	return WithConflictVisibility(VisibilityFrozen)
}

// WithLogger sets a custom logger for the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(b *EngineBuilder) error {
		b.WithLogger(logger)
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(b *EngineBuilder) error {
		b.WithMetrics(m)
		return nil
	}
}

// WithJournal sets the audit journal; the engine closes it on Close.
func WithJournal(j OperationJournal) Option {
	return func(b *EngineBuilder) error {
		b.WithJournal(j)
		return nil
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(b *EngineBuilder) error {
		b.WithClock(clock)
		return nil
	}
}

// WithProjectionCacheSize sets the LRU capacity of the projection cache.
func WithProjectionCacheSize(n int) Option {
	return func(b *EngineBuilder) error {
		b.WithProjectionCacheSize(n)
		return nil
	}
}
