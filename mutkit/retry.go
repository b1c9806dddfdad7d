package mutkit

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	mutErrors "github.com/c0deZ3R0/go-mutation-kit/errors"
)

// RetryConfig controls the retry controller's backoff schedule.
type RetryConfig struct {
	// MaxAttempts caps the total number of executor calls per operation,
	// including the first. Must be at least 1.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration
	// Multiplier scales the delay between consecutive retries.
	Multiplier float64
}

// DefaultRetryConfig mirrors the recognized configuration defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func (eb *exponentialBackoff) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= eb.multiplier
	}

	result := time.Duration(delay)
	if result > eb.maxDelay {
		result = eb.maxDelay
	}

	return result
}

// retryController drives executor attempts for a single operation: success
// and conflict return immediately, transient failures retry with jittered
// exponential backoff, terminal failures return at once.
type retryController struct {
	config   RetryConfig
	executor Executor
	logger   *slog.Logger
	metrics  MetricsCollector

	mu  sync.Mutex
	rnd *rand.Rand
}

func newRetryController(config RetryConfig, executor Executor, logger *slog.Logger, metrics MetricsCollector) *retryController {
	return &retryController{
		config:   config,
		executor: executor,
		logger:   logger,
		metrics:  metrics,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// jittered spreads a delay over [delay/2, delay] to avoid thundering herds
// when many operations fail at once.
func (rc *retryController) jittered(delay time.Duration) time.Duration {
	if delay <= 1 {
		return delay
	}
	half := delay / 2
	rc.mu.Lock()
	n := rc.rnd.Int63n(int64(half) + 1)
	rc.mu.Unlock()
	return half + time.Duration(n)
}

// execute runs the executor for op until it produces a non-retryable outcome
// or attempts are exhausted. Retries reuse the same operation value: same
// opID, same forward patch, same snapshot. onAttempt is invoked before each
// executor call with the 1-based attempt number so the engine can record it.
//
// A closed stop channel aborts between attempts; the pending executor call
// itself is interrupted via ctx.
func (rc *retryController) execute(ctx context.Context, op Operation, stop <-chan struct{}, onAttempt func(int)) Outcome {
	eb := &exponentialBackoff{
		initialDelay: rc.config.BaseDelay,
		maxDelay:     rc.config.MaxDelay,
		multiplier:   rc.config.Multiplier,
	}

	maxAttempts := rc.config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var outcome Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt)
		}
		op.Attempt = attempt

		outcome = rc.executor.Execute(ctx, op)

		switch outcome.Kind {
		case OutcomeConfirmed, OutcomeConflict:
			return outcome
		}

		if !mutErrors.IsRetryable(outcome.Err) {
			rc.logger.Debug("executor failed with non-retryable error",
				"op_id", op.OpID,
				"attempt", attempt,
				"error", outcome.Err)
			return outcome
		}

		if attempt == maxAttempts {
			break
		}

		delay := rc.jittered(eb.nextDelay(attempt - 1))
		rc.logger.Warn("executor failed with retryable error, waiting before retry",
			"op_id", op.OpID,
			"attempt", attempt,
			"delay", delay,
			"error", outcome.Err)
		rc.metrics.RecordRetry(string(op.Kind))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Failed(mutErrors.NewTerminal(mutErrors.OpExecute, ctx.Err()))
		case <-stop:
			timer.Stop()
			return Failed(mutErrors.NewTerminal(mutErrors.OpExecute, context.Canceled))
		case <-timer.C:
		}
	}

	rc.logger.Error("all retry attempts exhausted",
		"op_id", op.OpID,
		"total_attempts", maxAttempts,
		"final_error", outcome.Err)
	return outcome
}
