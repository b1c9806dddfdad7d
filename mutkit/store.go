package mutkit

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// entityRecord is the store's view of one entity: the last server-acknowledged
// state plus the ordered ids of in-flight operations. Records are referenced
// by id only; no live pointers escape the engine.
//
// All field mutation happens under the owning entity queue's lock, so the
// record itself carries no synchronization. The surrounding map is concurrent
// to keep entities independent of each other.
type entityRecord struct {
	id        EntityID
	confirmed EntityState
	pending   []OperationID
}

// entityStore holds confirmed entity state keyed by entity id. Pure data:
// every decision about what goes in lives in the engine.
type entityStore struct {
	records *xsync.MapOf[EntityID, *entityRecord]
	// tombstones remembers entities removed by a confirmed Delete, so a
	// later non-Create submission can be rejected as misuse rather than
	// silently resurrecting the entity.
	tombstones *xsync.MapOf[EntityID, struct{}]
}

func newEntityStore() *entityStore {
	return &entityStore{
		records:    xsync.NewMapOf[EntityID, *entityRecord](),
		tombstones: xsync.NewMapOf[EntityID, struct{}](),
	}
}

// get returns the record for id, or nil.
func (s *entityStore) get(id EntityID) *entityRecord {
	rec, _ := s.records.Load(id)
	return rec
}

// getOrCreate returns the record for id, creating an empty one (version 0)
// on first mutation. Creating clears any tombstone.
func (s *entityStore) getOrCreate(id EntityID) *entityRecord {
	rec, _ := s.records.LoadOrCompute(id, func() *entityRecord {
		return &entityRecord{id: id, confirmed: EntityState{Version: 0}}
	})
	s.tombstones.Delete(id)
	return rec
}

// remove drops the record and tombstones the id. Called only after a
// confirmed Delete with an empty pending queue.
func (s *entityStore) remove(id EntityID) {
	s.records.Delete(id)
	s.tombstones.Store(id, struct{}{})
}

// isDeleted reports whether id was removed by a confirmed Delete and has not
// been recreated since.
func (s *entityStore) isDeleted(id EntityID) bool {
	_, ok := s.tombstones.Load(id)
	return ok
}

// seed installs a server-acknowledged state for id, creating the record if
// needed. Used when the caller loads entities from the authority up front.
func (s *entityStore) seed(id EntityID, state EntityState) {
	rec := s.getOrCreate(id)
	rec.confirmed = state.Clone()
}

// dropPending removes opID from the record's pending sequence, preserving the
// order of the remaining operations.
func (r *entityRecord) dropPending(opID OperationID) {
	for i, id := range r.pending {
		if id == opID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}
