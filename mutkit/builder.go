package mutkit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// EngineBuilder provides a fluent interface for constructing Engine instances.
type EngineBuilder struct {
	executor   Executor
	retry      RetryConfig
	visibility ConflictVisibility
	logger     *slog.Logger
	metrics    MetricsCollector
	journal    OperationJournal
	clock      func() time.Time
	cacheSize  int
}

// NewEngineBuilder creates a new builder with default settings.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{
		retry:      DefaultRetryConfig(),
		visibility: VisibilityOptimistic,
		cacheSize:  defaultProjectionCacheSize,
	}
}

// WithExecutor sets the remote executor. Required.
func (b *EngineBuilder) WithExecutor(exec Executor) *EngineBuilder {
	b.executor = exec
	return b
}

// WithRetryConfig replaces the whole retry configuration.
func (b *EngineBuilder) WithRetryConfig(cfg RetryConfig) *EngineBuilder {
	b.retry = cfg
	return b
}

// WithMaxAttempts sets how many executor attempts a transient failure gets.
func (b *EngineBuilder) WithMaxAttempts(n int) *EngineBuilder {
	b.retry.MaxAttempts = n
	return b
}

// WithBaseDelay sets the first retry backoff delay.
func (b *EngineBuilder) WithBaseDelay(d time.Duration) *EngineBuilder {
	b.retry.BaseDelay = d
	return b
}

// WithMaxDelay caps the retry backoff delay.
func (b *EngineBuilder) WithMaxDelay(d time.Duration) *EngineBuilder {
	b.retry.MaxDelay = d
	return b
}

// WithBackoffMultiplier sets the backoff growth factor.
func (b *EngineBuilder) WithBackoffMultiplier(m float64) *EngineBuilder {
	b.retry.Multiplier = m
	return b
}

// WithConflictVisibility chooses whether a Conflicted operation's patch stays
// visible in projections (optimistic) or is held back (frozen).
func (b *EngineBuilder) WithConflictVisibility(v ConflictVisibility) *EngineBuilder {
	b.visibility = v
	return b
}

// WithLogger sets a custom logger for the Engine.
func (b *EngineBuilder) WithLogger(logger *slog.Logger) *EngineBuilder {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics collector.
func (b *EngineBuilder) WithMetrics(m MetricsCollector) *EngineBuilder {
	b.metrics = m
	return b
}

// WithJournal sets the audit journal. The engine owns it and closes it on
// Close.
func (b *EngineBuilder) WithJournal(j OperationJournal) *EngineBuilder {
	b.journal = j
	return b
}

// WithClock overrides the time source, mainly for tests.
func (b *EngineBuilder) WithClock(clock func() time.Time) *EngineBuilder {
	b.clock = clock
	return b
}

// WithProjectionCacheSize sets the LRU capacity of the projection cache.
func (b *EngineBuilder) WithProjectionCacheSize(n int) *EngineBuilder {
	b.cacheSize = n
	return b
}

// Build creates a new Engine instance with the configured options.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if b.retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", b.retry.MaxAttempts)
	}
	if b.retry.BaseDelay <= 0 {
		return nil, fmt.Errorf("base delay must be positive, got %s", b.retry.BaseDelay)
	}
	if b.retry.MaxDelay < b.retry.BaseDelay {
		return nil, fmt.Errorf("max delay %s is below base delay %s", b.retry.MaxDelay, b.retry.BaseDelay)
	}
	if b.retry.Multiplier < 1 {
		return nil, fmt.Errorf("backoff multiplier must be at least 1, got %g", b.retry.Multiplier)
	}
	if b.cacheSize <= 0 {
		return nil, fmt.Errorf("projection cache size must be positive, got %d", b.cacheSize)
	}
	switch b.visibility {
	case VisibilityOptimistic, VisibilityFrozen:
	default:
		return nil, fmt.Errorf("unknown conflict visibility %q", b.visibility)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := b.metrics
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	store := newEntityStore()
	log := newOperationLog()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		store:      store,
		log:        log,
		projector:  newProjector(store, log, b.visibility, b.cacheSize),
		notifier:   newNotifier(logger),
		journal:    b.journal,
		metrics:    metrics,
		logger:     logger,
		clock:      clock,
		queues:     xsync.NewMapOf[EntityID, *entityQueue](),
		runtimes:   xsync.NewMapOf[OperationID, *opRuntime](),
		conflicts:  xsync.NewMapOf[OperationID, *ConflictRecord](),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	e.retry = newRetryController(b.retry, b.executor, logger, metrics)
	return e, nil
}

// Reset clears the builder, allowing reuse.
func (b *EngineBuilder) Reset() *EngineBuilder {
	*b = *NewEngineBuilder()
	return b
}
