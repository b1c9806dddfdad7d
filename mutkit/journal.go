package mutkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JournalEntry records one lifecycle transition for audit purposes. Entries
// are serialization-friendly: patches and states are plain data.
type JournalEntry struct {
	ID       string          `json:"id"`
	OpID     OperationID     `json:"op_id"`
	EntityID EntityID        `json:"entity_id"`
	Kind     OperationKind   `json:"kind"`
	Status   OperationStatus `json:"status"`
	Attempt  int             `json:"attempt"`
	Patch    Patch           `json:"patch,omitempty"`
	Version  int64           `json:"version"`
	// Decision is set for resolution transitions ("keep_local" etc.).
	Decision string    `json:"decision,omitempty"`
	At       time.Time `json:"at"`
}

// NewJournalEntryID returns a unique id for a journal entry.
func NewJournalEntryID() string {
	return uuid.NewString()
}

// JournalCriteria defines search criteria for querying journal entries.
type JournalCriteria struct {
	EntityID EntityID
	OpID     OperationID
	Status   OperationStatus
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// OperationJournal is an audit sink for lifecycle transitions. Journal
// failures never fail reconciliation; the engine logs and counts them.
type OperationJournal interface {
	// Append stores one entry.
	Append(ctx context.Context, entry JournalEntry) error

	// List retrieves entries matching the criteria, oldest first.
	List(ctx context.Context, criteria JournalCriteria) ([]JournalEntry, error)

	// Trail returns the complete transition history for an entity, oldest first.
	Trail(ctx context.Context, entityID EntityID) ([]JournalEntry, error)

	// Close releases any resources held by the journal.
	Close() error
}

// MemoryJournal is an in-memory OperationJournal for tests and short-lived
// processes. For durable audit trails use the storage backends.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []JournalEntry
}

var _ OperationJournal = (*MemoryJournal)(nil)

// NewMemoryJournal creates a new in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(ctx context.Context, entry JournalEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("journal entry ID cannot be empty")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *MemoryJournal) List(ctx context.Context, criteria JournalCriteria) ([]JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var results []JournalEntry
	for _, e := range j.entries {
		if !matchesCriteria(e, criteria) {
			continue
		}
		results = append(results, e)
	}

	if criteria.Offset > 0 {
		if criteria.Offset >= len(results) {
			return nil, nil
		}
		results = results[criteria.Offset:]
	}
	if criteria.Limit > 0 && criteria.Limit < len(results) {
		results = results[:criteria.Limit]
	}

	return results, nil
}

func (j *MemoryJournal) Trail(ctx context.Context, entityID EntityID) ([]JournalEntry, error) {
	return j.List(ctx, JournalCriteria{EntityID: entityID})
}

func (j *MemoryJournal) Close() error { return nil }

func matchesCriteria(e JournalEntry, c JournalCriteria) bool {
	if c.EntityID != "" && e.EntityID != c.EntityID {
		return false
	}
	if c.OpID != "" && e.OpID != c.OpID {
		return false
	}
	if c.Status != "" && e.Status != c.Status {
		return false
	}
	if c.From != nil && e.At.Before(*c.From) {
		return false
	}
	if c.To != nil && e.At.After(*c.To) {
		return false
	}
	return true
}
