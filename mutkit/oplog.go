package mutkit

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	mutErrors "github.com/c0deZ3R0/go-mutation-kit/errors"
)

// operationLog holds every operation the engine has not forgotten yet,
// keyed by operation id. Ordering lives in the entity records' pending
// sequences; the log is the arena the ids point into.
type operationLog struct {
	ops *xsync.MapOf[OperationID, *Operation]
}

func newOperationLog() *operationLog {
	return &operationLog{ops: xsync.NewMapOf[OperationID, *Operation]()}
}

func (l *operationLog) put(op *Operation) {
	l.ops.Store(op.OpID, op)
}

func (l *operationLog) get(id OperationID) *Operation {
	op, _ := l.ops.Load(id)
	return op
}

func (l *operationLog) delete(id OperationID) {
	l.ops.Delete(id)
}

// transition moves op to next, enforcing the monotonic status machine:
// Pending may become any other status; Conflicted may only return to Pending
// (a resolution produced a new forward patch) or terminate; terminal
// statuses admit nothing. The caller must hold the entity queue lock.
func (l *operationLog) transition(op *Operation, next OperationStatus) error {
	from := op.Status
	ok := false
	switch from {
	case StatusPending:
		ok = next != StatusPending
	case StatusConflicted:
		ok = next == StatusPending || next == StatusRolledBack || next == StatusConfirmed
	}
	if !ok {
		return mutErrors.NewMisuse(mutErrors.OpResolve,
			fmt.Errorf("invalid status transition %s -> %s for operation %s", from, next, op.OpID))
	}
	op.Status = next
	return nil
}
