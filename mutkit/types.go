// Package mutkit implements an optimistic mutation reconciliation engine: a
// local entity cache that is updated immediately on submit, then reconciled
// (confirmed, rolled back, or placed into conflict) once the authoritative
// executor responds.
//
// The engine owns an entity store and a per-entity operation log. Consumers
// interact only through Submit/Cancel/Resolve/Project and the subscription
// interface; they never mutate engine state directly.
package mutkit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntityID identifies a record in the entity store.
type EntityID string

// OperationID identifies an in-flight operation. Globally unique, assigned
// at submission time.
type OperationID string

func newOperationID() OperationID {
	return OperationID(uuid.NewString())
}

// Patch is the set of fields a mutation intends to apply. A nil value for a
// key removes that field.
type Patch map[string]any

// Clone returns a shallow copy of the patch.
func (p Patch) Clone() Patch {
	if p == nil {
		return nil
	}
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// EntityState is a point-in-time field set for an entity plus its version
// token. The version advances only when the authority acknowledges a change;
// optimistic steps never touch it.
type EntityState struct {
	Fields  map[string]any `json:"fields"`
	Version int64          `json:"version"`
	Deleted bool           `json:"deleted,omitempty"`
}

// Clone returns a deep-enough copy: the field map is copied so callers can
// never mutate engine-owned state through a projection.
func (s EntityState) Clone() EntityState {
	out := EntityState{Version: s.Version, Deleted: s.Deleted}
	if s.Fields != nil {
		out.Fields = make(map[string]any, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// ApplyPatch folds a forward patch into the state, in place. Keys with nil
// values are removed.
func (s *EntityState) ApplyPatch(p Patch) {
	if s.Fields == nil {
		s.Fields = make(map[string]any, len(p))
	}
	for k, v := range p {
		if v == nil {
			delete(s.Fields, k)
			continue
		}
		s.Fields[k] = v
	}
}

// OperationKind is the shape of a mutation.
type OperationKind string

const (
	KindCreate OperationKind = "create"
	KindUpdate OperationKind = "update"
	KindDelete OperationKind = "delete"
)

// OperationStatus is the lifecycle state of an operation. Pending is the
// only non-terminal status besides Conflicted; Conflicted may return to
// Pending exactly once per resolution, everything else is terminal.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusConfirmed  OperationStatus = "confirmed"
	StatusRolledBack OperationStatus = "rolled_back"
	StatusConflicted OperationStatus = "conflicted"
	StatusCancelled  OperationStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusRolledBack, StatusCancelled:
		return true
	}
	return false
}

// Operation is one in-flight mutation against a single entity.
//
// PreviousSnapshot is an explicit copy of the entity's effective state taken
// immediately before the patch was applied; it is never recomputed from an
// inverse patch, and it is never re-taken on retry.
//
// BaseVersion is the confirmed version the operation is dispatched against,
// the token an executor should send for its if-match check. It is restamped
// when a resolved conflict resubmits on an adopted remote base; the snapshot
// is not.
type Operation struct {
	OpID             OperationID     `json:"op_id"`
	EntityID         EntityID        `json:"entity_id"`
	Kind             OperationKind   `json:"kind"`
	ForwardPatch     Patch           `json:"forward_patch"`
	PreviousSnapshot EntityState     `json:"previous_snapshot"`
	BaseVersion      int64           `json:"base_version"`
	Status           OperationStatus `json:"status"`
	SubmittedAt      time.Time       `json:"submitted_at"`
	Attempt          int             `json:"attempt"`
}

// OutcomeKind classifies an executor result.
type OutcomeKind int

const (
	// OutcomeConfirmed means the authority accepted the mutation.
	OutcomeConfirmed OutcomeKind = iota
	// OutcomeConflict means the authority rejected the mutation due to a
	// stale version or failed precondition.
	OutcomeConflict
	// OutcomeFailed means the mutation failed; the attached error's kind
	// decides whether the retry controller tries again.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeConflict:
		return "conflict"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the executor's verdict on a single attempt. Conflict and Failed
// are values, not panics or transport errors; the engine never receives a
// business failure as a Go error across the suspension boundary.
type Outcome struct {
	Kind OutcomeKind
	// State carries the server's canonical state: the accepted state for
	// OutcomeConfirmed, or the authority's current state for OutcomeConflict.
	State EntityState
	// Err is set only for OutcomeFailed. Classify it with the errors
	// package: transient errors are retried, anything else rolls back.
	Err error
}

// Confirmed builds a success outcome carrying the server's canonical state.
func Confirmed(state EntityState) Outcome {
	return Outcome{Kind: OutcomeConfirmed, State: state}
}

// Conflicted builds a conflict outcome carrying the authority's current state.
func Conflicted(remote EntityState) Outcome {
	return Outcome{Kind: OutcomeConflict, State: remote}
}

// Failed builds a failure outcome.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// Executor performs the remote effect for one operation attempt. It is
// caller-supplied and opaque to the engine: HTTP, RPC, or a test double,
// anything that eventually produces an Outcome. The context is cancelled
// when the operation is cancelled or the engine shuts down.
type Executor interface {
	Execute(ctx context.Context, op Operation) Outcome
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, op Operation) Outcome

func (f ExecutorFunc) Execute(ctx context.Context, op Operation) Outcome {
	return f(ctx, op)
}

// ConflictRecord exists only while an operation is Conflicted. It carries
// everything a resolution policy needs to produce the next action.
type ConflictRecord struct {
	OpID        OperationID `json:"op_id"`
	EntityID    EntityID    `json:"entity_id"`
	LocalPatch  Patch       `json:"local_patch"`
	RemoteState EntityState `json:"remote_state"`
	DetectedAt  time.Time   `json:"detected_at"`
}

// Result is the terminal settlement of an operation, delivered on the
// channel returned by Submit once the operation reaches a terminal status.
type Result struct {
	OpID   OperationID
	Status OperationStatus
	// State is the entity's projected effective state at settlement time.
	State EntityState
	// Err is set for rollbacks: the classified failure that caused them.
	Err error
}
