// Package errors provides custom error types for the mutation kit
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the engine's closed taxonomy. Every failure
// that crosses a package boundary carries exactly one Kind, which decides the
// propagation policy: transient errors are retried, terminal errors roll the
// operation back, conflicts are handed to a resolution policy, and misuse
// fails fast at the call site.
type Kind string

const (
	// KindTransient marks failures worth retrying (timeouts, connectivity
	// loss, 5xx-equivalent responses from the executor).
	KindTransient Kind = "TRANSIENT"

	// KindTerminal marks failures that will not succeed on retry
	// (validation, permission-equivalent rejections).
	KindTerminal Kind = "TERMINAL"

	// KindConflict marks a version/precondition mismatch reported by the
	// authority. Requires explicit resolution rather than retry or rollback.
	KindConflict Kind = "CONFLICT"

	// KindMisuse marks programmer errors: resolving an operation that is
	// not conflicted, submitting against a deleted entity, and so on.
	KindMisuse Kind = "MISUSE"
)

// Operation represents the type of engine operation
type Operation string

const (
	OpSubmit  Operation = "submit"
	OpCancel  Operation = "cancel"
	OpResolve Operation = "resolve"
	OpProject Operation = "project"
	OpExecute Operation = "execute"
	OpJournal Operation = "journal"
	OpConfig  Operation = "config"
	OpClose   Operation = "close"
)

// MutationError represents an error that occurred during reconciliation
type MutationError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "engine", "executor")
	Component string

	// Kind within the closed taxonomy
	Kind Kind

	// Underlying error
	Err error

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *MutationError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// New creates a new MutationError
func New(op Operation, err error) *MutationError {
	return &MutationError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new MutationError with component information
func NewWithComponent(op Operation, component string, err error) *MutationError {
	return &MutationError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewTransient creates a retryable MutationError
func NewTransient(op Operation, cause error) *MutationError {
	return &MutationError{
		Kind: KindTransient,
		Op:   op,
		Err:  cause,
	}
}

// NewTerminal creates a non-retryable MutationError
func NewTerminal(op Operation, cause error) *MutationError {
	return &MutationError{
		Kind: KindTerminal,
		Op:   op,
		Err:  cause,
	}
}

// NewConflict creates a conflict MutationError
func NewConflict(op Operation, cause error) *MutationError {
	return &MutationError{
		Kind:      KindConflict,
		Op:        op,
		Component: "executor",
		Err:       cause,
	}
}

// NewMisuse creates a programmer-misuse MutationError
func NewMisuse(op Operation, cause error) *MutationError {
	return &MutationError{
		Kind:      KindMisuse,
		Op:        op,
		Component: "engine",
		Err:       cause,
	}
}

// KindOf returns the Kind of err, or the empty Kind when err is not a
// MutationError anywhere in its chain.
func KindOf(err error) Kind {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// IsRetryable checks if an error is a transient MutationError
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsConflict checks if an error is a conflict MutationError
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsMisuse checks if an error is a misuse MutationError
func IsMisuse(err error) bool {
	return KindOf(err) == KindMisuse
}
