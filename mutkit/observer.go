package mutkit

import (
	"log/slog"
	"sync"
)

// ChangeReason says which lifecycle step produced a change event.
type ChangeReason string

const (
	// ReasonApplied is the optimistic moment: a patch became visible before
	// any network activity.
	ReasonApplied    ChangeReason = "applied"
	ReasonConfirmed  ChangeReason = "confirmed"
	ReasonRolledBack ChangeReason = "rolled_back"
	ReasonConflicted ChangeReason = "conflicted"
	ReasonResolved   ChangeReason = "resolved"
	ReasonCancelled  ChangeReason = "cancelled"
)

// ChangeEvent is delivered to subscribers whenever an entity's projected
// effective state changes. State is a snapshot copy, never a live reference.
type ChangeEvent struct {
	EntityID EntityID
	OpID     OperationID
	Reason   ChangeReason
	// State is the projected effective state after the change.
	State EntityState
	// Previous is the operation's previousSnapshot for rollback/cancel
	// events, so a UI can update without re-deriving anything.
	Previous EntityState
	// Decision is set on ReasonResolved events ("keep_local" etc.).
	Decision string
	// Err is set on ReasonRolledBack events: the classified failure.
	Err error
	// Conflict is set on ReasonConflicted events.
	Conflict *ConflictRecord
}

// SubscriptionID identifies one registered handler.
type SubscriptionID uint64

type subscription struct {
	id       SubscriptionID
	entityID EntityID
	all      bool
	handler  func(ChangeEvent)
}

// notifier fans change events out to subscribers. Emission is synchronous
// and in queue order relative to the entity's operation log mutations; a
// handler that blocks stalls that entity's queue, so handlers should hand
// off to their own machinery quickly.
type notifier struct {
	mu     sync.RWMutex
	subs   map[SubscriptionID]*subscription
	nextID SubscriptionID
	logger *slog.Logger
}

func newNotifier(logger *slog.Logger) *notifier {
	return &notifier{
		subs:   make(map[SubscriptionID]*subscription),
		logger: logger,
	}
}

func (n *notifier) subscribe(entityID EntityID, all bool, handler func(ChangeEvent)) SubscriptionID {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.subs[id] = &subscription{id: id, entityID: entityID, all: all, handler: handler}
	n.logger.Debug("subscriber added", "subscription_id", id, "entity_id", entityID, "all", all)
	return id
}

func (n *notifier) unsubscribe(id SubscriptionID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, id)
}

func (n *notifier) publish(ev ChangeEvent) {
	n.mu.RLock()
	matched := make([]*subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		if sub.all || sub.entityID == ev.EntityID {
			matched = append(matched, sub)
		}
	}
	n.mu.RUnlock()

	for _, sub := range matched {
		n.deliver(sub, ev)
	}
}

func (n *notifier) deliver(sub *subscription, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("subscriber panic recovered",
				"subscription_id", sub.id,
				"entity_id", ev.EntityID,
				"reason", ev.Reason,
				"panic", r)
		}
	}()
	sub.handler(ev)
}
