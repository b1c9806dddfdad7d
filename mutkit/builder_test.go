package mutkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mutErrors "github.com/c0deZ3R0/go-mutation-kit/errors"
)

func TestEngineBuilder_Defaults(t *testing.T) {
	e, err := NewEngineBuilder().
		WithExecutor(newScriptedExecutor()).
		WithLogger(quietLogger()).
		Build()
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, VisibilityOptimistic, e.projector.visibility)
	assert.Equal(t, DefaultRetryConfig(), e.retry.config)
	assert.NotNil(t, e.metrics)
	assert.NotNil(t, e.clock)
	assert.Nil(t, e.journal)
}

func TestEngineBuilder_FluentConfiguration(t *testing.T) {
	j := NewMemoryJournal()
	metrics := &countingMetrics{}
	fixed := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	e, err := NewEngineBuilder().
		WithExecutor(newScriptedExecutor()).
		WithLogger(quietLogger()).
		WithMaxAttempts(7).
		WithBaseDelay(10 * time.Millisecond).
		WithMaxDelay(time.Second).
		WithBackoffMultiplier(3).
		WithConflictVisibility(VisibilityFrozen).
		WithMetrics(metrics).
		WithJournal(j).
		WithClock(func() time.Time { return fixed }).
		WithProjectionCacheSize(16).
		Build()
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 7, e.retry.config.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, e.retry.config.BaseDelay)
	assert.Equal(t, VisibilityFrozen, e.projector.visibility)
	assert.Equal(t, fixed, e.clock())
}

func TestEngineBuilder_ValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Engine, error)
	}{
		{"missing executor", func() (*Engine, error) {
			return NewEngineBuilder().Build()
		}},
		{"zero attempts", func() (*Engine, error) {
			return NewEngineBuilder().WithExecutor(newScriptedExecutor()).WithMaxAttempts(0).Build()
		}},
		{"zero base delay", func() (*Engine, error) {
			return NewEngineBuilder().WithExecutor(newScriptedExecutor()).WithBaseDelay(0).Build()
		}},
		{"max below base", func() (*Engine, error) {
			return NewEngineBuilder().WithExecutor(newScriptedExecutor()).
				WithBaseDelay(time.Second).WithMaxDelay(time.Millisecond).Build()
		}},
		{"multiplier below one", func() (*Engine, error) {
			return NewEngineBuilder().WithExecutor(newScriptedExecutor()).WithBackoffMultiplier(0.9).Build()
		}},
		{"bad cache size", func() (*Engine, error) {
			return NewEngineBuilder().WithExecutor(newScriptedExecutor()).WithProjectionCacheSize(0).Build()
		}},
		{"bad visibility", func() (*Engine, error) {
			return NewEngineBuilder().WithExecutor(newScriptedExecutor()).
				WithConflictVisibility(ConflictVisibility("pessimistic")).Build()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			assert.Error(t, err)
		})
	}
}

func TestEngineBuilder_Reset(t *testing.T) {
	b := NewEngineBuilder().WithExecutor(newScriptedExecutor()).WithMaxAttempts(9)
	b.Reset()

	assert.Nil(t, b.executor)
	assert.Equal(t, DefaultRetryConfig(), b.retry)
}

func TestNewEngine_RequiresExecutor(t *testing.T) {
	_, err := NewEngine(WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, mutErrors.IsMisuse(err))
	assert.Contains(t, err.Error(), "executor is required")
}

func TestNewEngine_ExecutorFuncOption(t *testing.T) {
	e, err := NewEngine(
		WithExecutorFunc(func(ctx context.Context, op Operation) Outcome {
			return Confirmed(EntityState{Version: 1})
		}),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	defer e.Close()

	_, results, err := e.Submit(context.Background(), "a", KindCreate, Patch{"v": 1})
	require.NoError(t, err)
	res := awaitResult(t, results)
	assert.Equal(t, StatusConfirmed, res.Status)
}
