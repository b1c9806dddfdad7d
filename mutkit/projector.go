package mutkit

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ConflictVisibility controls what a projection shows for an entity with a
// Conflicted operation in its queue.
type ConflictVisibility string

const (
	// VisibilityOptimistic keeps showing the local patch while the conflict
	// awaits resolution. This is the default.
	VisibilityOptimistic ConflictVisibility = "optimistic"
	// VisibilityFrozen excludes conflicted patches from projection, so the
	// entity appears at its confirmed state until the conflict is resolved.
	VisibilityFrozen ConflictVisibility = "frozen"
)

const defaultProjectionCacheSize = 1024

// projector computes the effective state a consumer should see: confirmed
// state folded with the forward patch of every non-terminal operation in
// submission order. Side-effect free and deterministic given the current
// log contents, which is what makes rollback-by-replay correct.
type projector struct {
	store      *entityStore
	log        *operationLog
	visibility ConflictVisibility
	cache      *lru.Cache[EntityID, EntityState]
}

func newProjector(store *entityStore, log *operationLog, visibility ConflictVisibility, cacheSize int) *projector {
	if cacheSize <= 0 {
		cacheSize = defaultProjectionCacheSize
	}
	// lru.New only errors on non-positive size, which is guarded above.
	cache, _ := lru.New[EntityID, EntityState](cacheSize)
	return &projector{
		store:      store,
		log:        log,
		visibility: visibility,
		cache:      cache,
	}
}

// project returns a copy of the entity's effective state. The boolean is
// false when the entity is unknown or deleted. The caller must hold the
// entity queue lock for a consistent read; the engine guarantees that.
func (p *projector) project(id EntityID) (EntityState, bool) {
	if cached, ok := p.cache.Get(id); ok {
		return cached.Clone(), true
	}

	rec := p.store.get(id)
	if rec == nil {
		return EntityState{}, false
	}

	state := rec.confirmed.Clone()
	for _, opID := range rec.pending {
		op := p.log.get(opID)
		if op == nil {
			continue
		}
		switch op.Status {
		case StatusPending:
		case StatusConflicted:
			if p.visibility == VisibilityFrozen {
				continue
			}
		default:
			// Terminal statuses linger in the queue only transiently,
			// between transition and removal; never replayed.
			continue
		}
		p.replay(&state, op)
	}

	p.cache.Add(id, state.Clone())
	return state, true
}

// replay applies one operation's effect to state, in list order.
func (p *projector) replay(state *EntityState, op *Operation) {
	switch op.Kind {
	case KindDelete:
		state.Fields = nil
		state.Deleted = true
	case KindCreate:
		state.Deleted = false
		state.ApplyPatch(op.ForwardPatch)
	default:
		state.ApplyPatch(op.ForwardPatch)
	}
}

// invalidate drops the cached projection for id. Called by the engine after
// every operation log mutation for that entity.
func (p *projector) invalidate(id EntityID) {
	p.cache.Remove(id)
}
