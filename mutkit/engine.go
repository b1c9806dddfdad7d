package mutkit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	mutErrors "github.com/c0deZ3R0/go-mutation-kit/errors"
)

// entityQueue serializes all structural work for a single entity. Everything
// that touches the entity's record or its slice of the operation log runs
// under mu; the executor call is the only suspension point and runs outside
// it. cond gates operations waiting for the head of the queue.
//
// Event emission is serialized by ticket: emitSeq hands out delivery turns
// under mu, emitDone tracks completed deliveries under emitMu. Handlers run
// with no engine lock held, so they can call the read APIs freely; taking
// the ticket under mu pins per-entity event order to mutation order.
type entityQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	emitSeq  uint64 // next emission ticket, guarded by mu
	emitMu   sync.Mutex
	emitCond *sync.Cond
	emitDone uint64 // completed emissions, guarded by emitMu
}

// opRuntime is the engine-internal companion of an Operation: its cancel
// switch and result future. Kept until the operation settles.
type opRuntime struct {
	op        *Operation
	stop      chan struct{}
	stopOnce  sync.Once
	result    chan Result
	settled   bool // guarded by the entity queue lock
	startedAt time.Time
}

func (rt *opRuntime) requestStop() {
	rt.stopOnce.Do(func() { close(rt.stop) })
}

// Engine is the reconciler: it owns the entity store and operation log,
// drives operation lifecycles through the retry controller, and publishes
// every effective-state change to subscribers.
type Engine struct {
	store     *entityStore
	log       *operationLog
	projector *projector
	retry     *retryController
	notifier  *notifier
	journal   OperationJournal
	metrics   MetricsCollector
	logger    *slog.Logger
	clock     func() time.Time

	queues    *xsync.MapOf[EntityID, *entityQueue]
	runtimes  *xsync.MapOf[OperationID, *opRuntime]
	conflicts *xsync.MapOf[OperationID, *ConflictRecord]

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closed     atomic.Bool
	wg         sync.WaitGroup
}

func (e *Engine) queueFor(id EntityID) *entityQueue {
	q, _ := e.queues.LoadOrCompute(id, func() *entityQueue {
		q := &entityQueue{}
		q.cond = sync.NewCond(&q.mu)
		q.emitCond = sync.NewCond(&q.emitMu)
		return q
	})
	return q
}

// Seed installs a server-acknowledged state for an entity, as loaded from
// the authority. It does not touch pending operations.
func (e *Engine) Seed(entityID EntityID, state EntityState) error {
	if e.closed.Load() {
		return mutErrors.NewMisuse(mutErrors.OpSubmit, fmt.Errorf("engine is closed"))
	}
	q := e.queueFor(entityID)
	q.mu.Lock()
	defer q.mu.Unlock()
	e.store.seed(entityID, state)
	e.projector.invalidate(entityID)
	return nil
}

// Submit applies patch optimistically and begins reconciliation. The read
// model reflects the patch before Submit returns; the returned channel
// settles exactly once, when the operation reaches a terminal status.
func (e *Engine) Submit(ctx context.Context, entityID EntityID, kind OperationKind, patch Patch) (OperationID, <-chan Result, error) {
	if e.closed.Load() {
		return "", nil, mutErrors.NewMisuse(mutErrors.OpSubmit, fmt.Errorf("engine is closed"))
	}
	switch kind {
	case KindCreate, KindUpdate, KindDelete:
	default:
		return "", nil, mutErrors.NewMisuse(mutErrors.OpSubmit, fmt.Errorf("unknown operation kind %q", kind))
	}
	if kind == KindUpdate && len(patch) == 0 {
		return "", nil, mutErrors.NewMisuse(mutErrors.OpSubmit, fmt.Errorf("update requires a non-empty patch"))
	}

	q := e.queueFor(entityID)
	q.mu.Lock()

	if e.store.isDeleted(entityID) && kind != KindCreate {
		q.mu.Unlock()
		return "", nil, mutErrors.NewMisuse(mutErrors.OpSubmit,
			fmt.Errorf("entity %s is deleted; recreate it before mutating", entityID))
	}

	rec := e.store.getOrCreate(entityID)

	prev, ok := e.projector.project(entityID)
	if !ok {
		prev = EntityState{Version: rec.confirmed.Version}
	}

	op := &Operation{
		OpID:             newOperationID(),
		EntityID:         entityID,
		Kind:             kind,
		ForwardPatch:     patch.Clone(),
		PreviousSnapshot: prev,
		Status:           StatusPending,
		SubmittedAt:      e.clock(),
	}
	rt := &opRuntime{
		op:        op,
		stop:      make(chan struct{}),
		result:    make(chan Result, 1),
		startedAt: op.SubmittedAt,
	}

	e.log.put(op)
	rec.pending = append(rec.pending, op.OpID)
	e.runtimes.Store(op.OpID, rt)
	e.projector.invalidate(entityID)

	state, _ := e.projector.project(entityID)

	e.metrics.RecordSubmit(string(kind))
	e.appendJournal(op, StatusPending, "")
	e.logger.Debug("operation submitted",
		"op_id", op.OpID,
		"entity_id", entityID,
		"kind", kind,
		"pending", len(rec.pending))

	e.wg.Add(1)
	go e.run(rt)

	e.emitLocked(q, ChangeEvent{
		EntityID: entityID,
		OpID:     op.OpID,
		Reason:   ReasonApplied,
		State:    state,
		Previous: prev,
	})

	return op.OpID, rt.result, nil
}

// Cancel aborts a Pending operation before its executor call resolves.
// Equivalent to an immediate terminal-failure rollback: effective state
// reverts to the snapshot-and-replay of the remaining queue, and a late
// executor response for the cancelled operation is discarded.
func (e *Engine) Cancel(opID OperationID) error {
	rt, ok := e.runtimes.Load(opID)
	if !ok {
		return mutErrors.NewMisuse(mutErrors.OpCancel, fmt.Errorf("unknown operation %s", opID))
	}

	q := e.queueFor(rt.op.EntityID)
	q.mu.Lock()

	if rt.op.Status != StatusPending {
		status := rt.op.Status
		q.mu.Unlock()
		return mutErrors.NewMisuse(mutErrors.OpCancel,
			fmt.Errorf("operation %s is %s, only pending operations can be cancelled", opID, status))
	}

	rt.requestStop()
	e.removeTerminalLocked(rt, StatusCancelled, "")

	state, _ := e.projector.project(rt.op.EntityID)
	e.settleLocked(rt, Result{OpID: opID, Status: StatusCancelled, State: state})
	q.cond.Broadcast()

	e.logger.Info("operation cancelled", "op_id", opID, "entity_id", rt.op.EntityID)

	e.emitLocked(q, ChangeEvent{
		EntityID: rt.op.EntityID,
		OpID:     opID,
		Reason:   ReasonCancelled,
		State:    state,
		Previous: rt.op.PreviousSnapshot,
	})
	return nil
}

// Resolve applies a resolution policy to a Conflicted operation. KeepLocal
// and Merge return the operation to Pending and resubmit it on the adopted
// remote base; KeepRemote discards the local patch and replays the rest of
// the queue against the remote state. Resolving an operation that is not
// Conflicted is misuse.
func (e *Engine) Resolve(ctx context.Context, opID OperationID, policy ResolutionPolicy) error {
	if policy == nil {
		return mutErrors.NewMisuse(mutErrors.OpResolve, fmt.Errorf("nil resolution policy"))
	}
	rt, ok := e.runtimes.Load(opID)
	if !ok {
		return mutErrors.NewMisuse(mutErrors.OpResolve, fmt.Errorf("unknown operation %s", opID))
	}

	q := e.queueFor(rt.op.EntityID)
	q.mu.Lock()

	if rt.op.Status != StatusConflicted {
		status := rt.op.Status
		q.mu.Unlock()
		return mutErrors.NewMisuse(mutErrors.OpResolve,
			fmt.Errorf("operation %s is %s, not conflicted", opID, status))
	}

	crec, _ := e.conflicts.Load(opID)
	if crec == nil {
		q.mu.Unlock()
		return mutErrors.NewMisuse(mutErrors.OpResolve,
			fmt.Errorf("no conflict record for operation %s", opID))
	}

	res, err := policy.Resolve(ctx, *crec)
	if err != nil {
		q.mu.Unlock()
		// The operation stays Conflicted; the caller may try another policy.
		return mutErrors.WrapOpComponent(err, mutErrors.OpResolve, "policy")
	}

	switch res.Action {
	case ActionResubmit, ActionDiscard:
	default:
		// Nothing has been mutated yet: the operation stays Conflicted and
		// its record stays resolvable with a well-behaved policy.
		q.mu.Unlock()
		return mutErrors.NewMisuse(mutErrors.OpResolve,
			fmt.Errorf("policy returned unknown action %q", res.Action))
	}

	rec := e.store.get(rt.op.EntityID)
	// Adopting the authority's snapshot is the one place besides Confirmed
	// where the confirmed version advances.
	rec.confirmed = crec.RemoteState.Clone()
	e.conflicts.Delete(opID)

	entityID := rt.op.EntityID

	if res.Action == ActionResubmit {
		if err := e.log.transition(rt.op, StatusPending); err != nil {
			q.mu.Unlock()
			return err
		}
		rt.op.ForwardPatch = res.Patch.Clone()
		rt.op.Attempt = 0
		e.projector.invalidate(entityID)
		state, _ := e.projector.project(entityID)

		e.metrics.RecordResolution(res.Decision)
		e.appendJournal(rt.op, StatusPending, res.Decision)
		e.logger.Info("conflict resolved, resubmitting",
			"op_id", opID,
			"entity_id", entityID,
			"decision", res.Decision,
			"base_version", rec.confirmed.Version)

		q.cond.Broadcast()
		e.wg.Add(1)
		go e.run(rt)

		e.emitLocked(q, ChangeEvent{
			EntityID: entityID,
			OpID:     opID,
			Reason:   ReasonResolved,
			State:    state,
			Decision: res.Decision,
		})
		return nil
	}

	e.removeTerminalLocked(rt, StatusRolledBack, res.Decision)
	state, _ := e.projector.project(entityID)

	e.metrics.RecordResolution(res.Decision)
	e.settleLocked(rt, Result{OpID: opID, Status: StatusRolledBack, State: state})
	q.cond.Broadcast()

	e.logger.Info("conflict resolved, local patch discarded",
		"op_id", opID,
		"entity_id", entityID,
		"decision", res.Decision,
		"base_version", rec.confirmed.Version)

	e.emitLocked(q, ChangeEvent{
		EntityID: entityID,
		OpID:     opID,
		Reason:   ReasonResolved,
		State:    state,
		Previous: rt.op.PreviousSnapshot,
		Decision: res.Decision,
	})
	return nil
}

// Project returns a snapshot copy of the entity's effective state. The
// boolean is false for unknown or deleted entities.
func (e *Engine) Project(entityID EntityID) (EntityState, bool) {
	q := e.queueFor(entityID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return e.projector.project(entityID)
}

// PendingCount reports how many operations are in flight (Pending or
// Conflicted) for the entity.
func (e *Engine) PendingCount(entityID EntityID) int {
	q := e.queueFor(entityID)
	q.mu.Lock()
	defer q.mu.Unlock()

	rec := e.store.get(entityID)
	if rec == nil {
		return 0
	}
	count := 0
	for _, opID := range rec.pending {
		if op := e.log.get(opID); op != nil && !op.Status.Terminal() {
			count++
		}
	}
	return count
}

// Conflict returns the conflict record for a Conflicted operation.
func (e *Engine) Conflict(opID OperationID) (ConflictRecord, bool) {
	crec, ok := e.conflicts.Load(opID)
	if !ok {
		return ConflictRecord{}, false
	}
	return *crec, true
}

// Subscribe registers a handler for effective-state changes of one entity.
// Handlers run synchronously after each operation log mutation, in queue
// order for that entity. A handler may call Project and the other read APIs,
// but must not call Submit, Cancel or Resolve synchronously; hand those off
// to another goroutine.
func (e *Engine) Subscribe(entityID EntityID, handler func(ChangeEvent)) SubscriptionID {
	return e.notifier.subscribe(entityID, false, handler)
}

// SubscribeAll registers a handler for changes of every entity.
func (e *Engine) SubscribeAll(handler func(ChangeEvent)) SubscriptionID {
	return e.notifier.subscribe("", true, handler)
}

// Unsubscribe removes a previously registered handler.
func (e *Engine) Unsubscribe(id SubscriptionID) {
	e.notifier.unsubscribe(id)
}

// Close stops accepting submissions, cancels the executor context, and waits
// for in-flight deliveries to finish. In-flight operations roll back with
// the close error.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("closing reconciliation engine")
	e.baseCancel()

	// Wake goroutines parked behind a conflict so they can observe shutdown.
	e.queues.Range(func(_ EntityID, q *entityQueue) bool {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
		return true
	})

	e.wg.Wait()

	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			return mutErrors.NewWithComponent(mutErrors.OpClose, "journal", err)
		}
	}
	return nil
}

// run executes one operation's remote effect. It waits until the operation
// reaches the head of its entity's queue, then hands it to the retry
// controller and delivers the outcome back into the entity queue.
func (e *Engine) run(rt *opRuntime) {
	defer e.wg.Done()

	q := e.queueFor(rt.op.EntityID)

	q.mu.Lock()
	for rt.op.Status == StatusPending && !e.headOfQueueLocked(rt.op) && !e.closed.Load() {
		q.cond.Wait()
	}
	if rt.op.Status != StatusPending {
		q.mu.Unlock()
		return
	}
	if rec := e.store.get(rt.op.EntityID); rec != nil {
		rt.op.BaseVersion = rec.confirmed.Version
	}
	opCopy := *rt.op
	opCopy.ForwardPatch = rt.op.ForwardPatch.Clone()
	opCopy.PreviousSnapshot = rt.op.PreviousSnapshot.Clone()
	q.mu.Unlock()

	outcome := e.retry.execute(e.baseCtx, opCopy, rt.stop, func(attempt int) {
		q.mu.Lock()
		rt.op.Attempt = attempt
		q.mu.Unlock()
	})

	e.deliver(rt, outcome)
}

// headOfQueueLocked reports whether op is the first operation in its
// entity's pending sequence. Operations execute strictly in submission
// order, one at a time per entity, and a Conflicted head holds everything
// behind it until resolved.
func (e *Engine) headOfQueueLocked(op *Operation) bool {
	rec := e.store.get(op.EntityID)
	if rec == nil || len(rec.pending) == 0 {
		return true
	}
	return rec.pending[0] == op.OpID
}

// deliver routes an executor outcome back into the entity queue. Outcomes
// for operations that already reached a terminal status (cancelled, closed)
// are discarded.
func (e *Engine) deliver(rt *opRuntime, outcome Outcome) {
	q := e.queueFor(rt.op.EntityID)
	q.mu.Lock()

	if rt.op.Status != StatusPending {
		status := rt.op.Status
		q.mu.Unlock()
		e.metrics.RecordDiscardedOutcome()
		e.logger.Debug("discarding late executor outcome",
			"op_id", rt.op.OpID,
			"status", status,
			"outcome", outcome.Kind.String())
		return
	}

	switch outcome.Kind {
	case OutcomeConfirmed:
		e.confirmLocked(q, rt, outcome.State)
	case OutcomeConflict:
		e.conflictLocked(q, rt, outcome.State)
	default:
		e.rollbackLocked(q, rt, outcome.Err)
	}
}

// confirmLocked commits an operation: the authority accepted it. Server
// canonical fields are merged into confirmed state, the version advances,
// and unaffected pending operations replay unchanged on the new base.
// Releases q.mu via emitLocked.
func (e *Engine) confirmLocked(q *entityQueue, rt *opRuntime, serverState EntityState) {
	op := rt.op
	entityID := op.EntityID
	rec := e.store.get(entityID)

	// transition from Pending to Confirmed cannot fail here; deliver
	// guards the precondition.
	_ = e.log.transition(op, StatusConfirmed)

	confirmed := rec.confirmed.Clone()
	if op.Kind == KindDelete {
		confirmed.Fields = nil
		confirmed.Deleted = true
	} else {
		confirmed.Deleted = false
		confirmed.ApplyPatch(op.ForwardPatch)
		for k, v := range serverState.Fields {
			confirmed.Fields[k] = v
		}
	}
	if serverState.Version > confirmed.Version {
		confirmed.Version = serverState.Version
	} else {
		confirmed.Version++
	}
	rec.confirmed = confirmed

	rec.dropPending(op.OpID)
	e.log.delete(op.OpID)

	removed := false
	if op.Kind == KindDelete && len(rec.pending) == 0 {
		e.store.remove(entityID)
		removed = true
	}
	e.projector.invalidate(entityID)

	state, ok := e.projector.project(entityID)
	if !ok && removed {
		state = EntityState{Version: confirmed.Version, Deleted: true}
	}

	e.metrics.RecordOutcome(string(StatusConfirmed), e.clock().Sub(rt.startedAt))
	e.appendJournal(op, StatusConfirmed, "")
	e.settleLocked(rt, Result{OpID: op.OpID, Status: StatusConfirmed, State: state})
	q.cond.Broadcast()

	e.logger.Info("operation confirmed",
		"op_id", op.OpID,
		"entity_id", entityID,
		"version", confirmed.Version,
		"attempt", op.Attempt)

	e.emitLocked(q, ChangeEvent{
		EntityID: entityID,
		OpID:     op.OpID,
		Reason:   ReasonConfirmed,
		State:    state,
	})
}

// rollbackLocked undoes a terminally failed operation. Effective state is
// recomputed from the current confirmed state and the remaining queue, so a
// sibling submitted after the failed operation keeps its effect. Releases
// q.mu via emitLocked.
func (e *Engine) rollbackLocked(q *entityQueue, rt *opRuntime, cause error) {
	op := rt.op
	entityID := op.EntityID

	e.removeTerminalLocked(rt, StatusRolledBack, "")

	state, _ := e.projector.project(entityID)

	e.settleLocked(rt, Result{OpID: op.OpID, Status: StatusRolledBack, State: state, Err: cause})
	q.cond.Broadcast()

	e.logger.Warn("operation rolled back",
		"op_id", op.OpID,
		"entity_id", entityID,
		"attempt", op.Attempt,
		"error", cause)

	e.emitLocked(q, ChangeEvent{
		EntityID: entityID,
		OpID:     op.OpID,
		Reason:   ReasonRolledBack,
		State:    state,
		Previous: op.PreviousSnapshot,
		Err:      cause,
	})
}

// conflictLocked parks an operation in Conflicted: it stays in the queue
// (projection keeps or freezes its patch per the configured visibility) and
// later siblings wait behind it. Releases q.mu via emitLocked.
func (e *Engine) conflictLocked(q *entityQueue, rt *opRuntime, remote EntityState) {
	op := rt.op
	entityID := op.EntityID

	_ = e.log.transition(op, StatusConflicted)

	crec := &ConflictRecord{
		OpID:        op.OpID,
		EntityID:    entityID,
		LocalPatch:  op.ForwardPatch.Clone(),
		RemoteState: remote.Clone(),
		DetectedAt:  e.clock(),
	}
	e.conflicts.Store(op.OpID, crec)
	e.projector.invalidate(entityID)

	state, _ := e.projector.project(entityID)

	e.metrics.RecordConflict()
	e.appendJournal(op, StatusConflicted, "")

	e.logger.Warn("operation conflicted",
		"op_id", op.OpID,
		"entity_id", entityID,
		"remote_version", remote.Version)

	e.emitLocked(q, ChangeEvent{
		EntityID: entityID,
		OpID:     op.OpID,
		Reason:   ReasonConflicted,
		State:    state,
		Conflict: crec,
	})
}

// removeTerminalLocked moves op to a terminal status, drops it from the
// pending queue and the log, and invalidates the projection. Caller holds
// the queue lock.
func (e *Engine) removeTerminalLocked(rt *opRuntime, status OperationStatus, decision string) {
	op := rt.op
	_ = e.log.transition(op, status)

	if rec := e.store.get(op.EntityID); rec != nil {
		rec.dropPending(op.OpID)
	}
	e.log.delete(op.OpID)
	e.projector.invalidate(op.EntityID)

	e.metrics.RecordOutcome(string(status), e.clock().Sub(rt.startedAt))
	e.appendJournal(op, status, decision)
}

// settleLocked delivers the terminal result exactly once. Caller holds the
// queue lock.
func (e *Engine) settleLocked(rt *opRuntime, res Result) {
	if rt.settled {
		return
	}
	rt.settled = true
	rt.result <- res
	close(rt.result)
	e.runtimes.Delete(rt.op.OpID)
}

// emitLocked publishes ev to subscribers. The caller must hold q.mu and must
// not touch entity state afterwards: emitLocked takes a delivery ticket under
// q.mu, releases it, waits its turn, and runs handlers with no engine lock
// held. Tickets drain in issue order, so per-entity events are delivered in
// mutation order, and a handler blocked on a read API never holds a lock a
// mutator needs.
func (e *Engine) emitLocked(q *entityQueue, ev ChangeEvent) {
	ticket := q.emitSeq
	q.emitSeq++
	q.mu.Unlock()

	q.emitMu.Lock()
	for q.emitDone != ticket {
		q.emitCond.Wait()
	}
	q.emitMu.Unlock()

	e.notifier.publish(ev)

	q.emitMu.Lock()
	q.emitDone++
	q.emitCond.Broadcast()
	q.emitMu.Unlock()
}

// appendJournal records a lifecycle transition, best effort.
func (e *Engine) appendJournal(op *Operation, status OperationStatus, decision string) {
	if e.journal == nil {
		return
	}
	rec := e.store.get(op.EntityID)
	var version int64
	if rec != nil {
		version = rec.confirmed.Version
	}
	entry := JournalEntry{
		ID:       NewJournalEntryID(),
		OpID:     op.OpID,
		EntityID: op.EntityID,
		Kind:     op.Kind,
		Status:   status,
		Attempt:  op.Attempt,
		Patch:    op.ForwardPatch.Clone(),
		Version:  version,
		Decision: decision,
		At:       e.clock(),
	}
	if err := e.journal.Append(context.Background(), entry); err != nil {
		e.logger.Error("failed to append journal entry",
			"op_id", op.OpID,
			"status", status,
			"error", err)
	}
}
