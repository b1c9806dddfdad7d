package mutkit

import (
	"context"
)

// ResolutionAction tells the engine what to do with a conflicted operation
// after a policy has run.
type ResolutionAction string

const (
	// ActionResubmit re-enters the operation as Pending with the patch the
	// policy produced, based on the remote version.
	ActionResubmit ResolutionAction = "resubmit"
	// ActionDiscard drops the local patch and treats the operation as
	// rolled back against the remote state.
	ActionDiscard ResolutionAction = "discard"
)

// Resolution is a policy's verdict on a conflicted operation.
type Resolution struct {
	Action ResolutionAction
	// Patch is the new forward patch for ActionResubmit.
	Patch Patch
	// Decision is a short label for events, journal entries and metrics,
	// e.g. "keep_local", "keep_remote", "merge".
	Decision string
}

// ResolutionPolicy is the Strategy interface for conflict resolution.
// Implementations must be side-effect free: the engine applies the returned
// Resolution under the entity's queue lock.
type ResolutionPolicy interface {
	Resolve(ctx context.Context, rec ConflictRecord) (Resolution, error)
}

// PolicyFunc adapts a plain function to the ResolutionPolicy interface.
type PolicyFunc func(ctx context.Context, rec ConflictRecord) (Resolution, error)

func (f PolicyFunc) Resolve(ctx context.Context, rec ConflictRecord) (Resolution, error) {
	return f(ctx, rec)
}

var (
	_ ResolutionPolicy = (*keepLocalPolicy)(nil)
	_ ResolutionPolicy = (*keepRemotePolicy)(nil)
	_ ResolutionPolicy = (*mergePolicy)(nil)
)

type keepLocalPolicy struct{}

func (keepLocalPolicy) Resolve(ctx context.Context, rec ConflictRecord) (Resolution, error) {
	return Resolution{
		Action:   ActionResubmit,
		Patch:    rec.LocalPatch.Clone(),
		Decision: "keep_local",
	}, nil
}

type keepRemotePolicy struct{}

func (keepRemotePolicy) Resolve(ctx context.Context, rec ConflictRecord) (Resolution, error) {
	return Resolution{
		Action:   ActionDiscard,
		Decision: "keep_remote",
	}, nil
}

// MergeFunc combines the local patch with the authority's current state into
// a new forward patch.
type MergeFunc func(local Patch, remote EntityState) (Patch, error)

type mergePolicy struct {
	fn MergeFunc
}

func (p *mergePolicy) Resolve(ctx context.Context, rec ConflictRecord) (Resolution, error) {
	merged, err := p.fn(rec.LocalPatch.Clone(), rec.RemoteState.Clone())
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Action:   ActionResubmit,
		Patch:    merged,
		Decision: "merge",
	}, nil
}

// KeepLocal adopts the remote version as the new base, keeps the local
// forward patch unchanged, and resubmits through the retry controller.
func KeepLocal() ResolutionPolicy { return keepLocalPolicy{} }

// KeepRemote discards the local forward patch and accepts the authority's
// state; remaining pending operations replay against the new base.
func KeepRemote() ResolutionPolicy { return keepRemotePolicy{} }

// Merge runs fn over the local patch and the remote state; the merged patch
// becomes the operation's new forward patch and the operation resubmits. If
// fn fails the operation stays Conflicted and the error is returned to the
// caller of Resolve.
func Merge(fn MergeFunc) ResolutionPolicy { return &mergePolicy{fn: fn} }
