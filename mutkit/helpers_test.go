package mutkit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mutErrors "github.com/c0deZ3R0/go-mutation-kit/errors"
)

// execCall is one in-flight executor invocation held open until the test
// replies.
type execCall struct {
	op    Operation
	reply chan Outcome
}

// scriptedExecutor hands every executor call to the test, which decides the
// outcome and when to deliver it. This makes outcome timing fully
// deterministic.
type scriptedExecutor struct {
	calls chan execCall
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{calls: make(chan execCall, 16)}
}

func (s *scriptedExecutor) Execute(ctx context.Context, op Operation) Outcome {
	call := execCall{op: op, reply: make(chan Outcome, 1)}
	s.calls <- call
	select {
	case out := <-call.reply:
		return out
	case <-ctx.Done():
		return Failed(mutErrors.NewTerminal(mutErrors.OpExecute, ctx.Err()))
	}
}

func (s *scriptedExecutor) next(t *testing.T) execCall {
	t.Helper()
	select {
	case call := <-s.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for executor call")
		return execCall{}
	}
}

func (s *scriptedExecutor) expectNoCall(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case call := <-s.calls:
		t.Fatalf("unexpected executor call for op %s", call.op.OpID)
	case <-time.After(within):
	}
}

// countingMetrics counts collector calls for assertions.
type countingMetrics struct {
	submits     atomic.Int64
	outcomes    atomic.Int64
	retries     atomic.Int64
	conflicts   atomic.Int64
	resolutions atomic.Int64
	discarded   atomic.Int64
}

func (m *countingMetrics) RecordSubmit(kind string)                            { m.submits.Add(1) }
func (m *countingMetrics) RecordOutcome(status string, duration time.Duration) { m.outcomes.Add(1) }
func (m *countingMetrics) RecordRetry(kind string)                             { m.retries.Add(1) }
func (m *countingMetrics) RecordConflict()                                     { m.conflicts.Add(1) }
func (m *countingMetrics) RecordResolution(decision string)                    { m.resolutions.Add(1) }
func (m *countingMetrics) RecordDiscardedOutcome()                             { m.discarded.Add(1) }

// eventRecorder collects change events in delivery order.
type eventRecorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *eventRecorder) handler(ev ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) reasons() []ChangeReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeReason, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Reason
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, exec Executor, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithExecutor(exec),
		WithLogger(quietLogger()),
		WithBaseDelay(1 * time.Millisecond),
		WithMaxDelay(5 * time.Millisecond),
	}
	e, err := NewEngine(append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func awaitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for operation result")
		return Result{}
	}
}

func expectNoResult(t *testing.T, ch <-chan Result, within time.Duration) {
	t.Helper()
	select {
	case res := <-ch:
		t.Fatalf("unexpected result: %+v", res)
	case <-time.After(within):
	}
}
