// Package broadcast fans out run and pipeline state-change events to
// subscribers. Every new subscription receives a full-state snapshot before
// any incremental event, so late subscribers never observe a partial view.
package broadcast

import (
	"sync"

	"github.com/hochfrequenz/run-orchestrator/internal/domain"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind is pruned rather than allowed to block the
// emitting entity.
const subscriberBuffer = 64

// SnapshotSource resolves an entity id to its current full state
type SnapshotSource interface {
	Snapshot(id string) (domain.Snapshot, error)
}

// Hub maintains the live subscriptions per entity id
type Hub struct {
	source SnapshotSource

	mu       sync.Mutex
	entities map[string]*entityChannel
}

// entityChannel guards the subscriber set of one entity. Snapshot reads and
// event deliveries for the entity serialize on its mutex, which is what
// keeps a subscription's snapshot a strict prefix of the events it then
// receives.
type entityChannel struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one observer's ordered event stream for a single entity.
// The channel is closed on unsubscribe, on pruning, or when the entity is
// evicted from the registry.
type Subscription struct {
	entityID string
	snapshot domain.Snapshot
	ch       chan domain.Event
	lastSeq  uint64
	closed   bool
}

// NewHub creates a hub backed by the given snapshot source
func NewHub(source SnapshotSource) *Hub {
	return &Hub{
		source:   source,
		entities: make(map[string]*entityChannel),
	}
}

func (h *Hub) entity(id string) *entityChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entities[id]
	if !ok {
		e = &entityChannel{subs: make(map[*Subscription]struct{})}
		h.entities[id] = e
	}
	return e
}

// Subscribe attaches a new observer to an entity. It returns ErrNotFound
// (wrapped) when the entity id is unknown; no stream is opened in that case.
func (h *Hub) Subscribe(id string) (*Subscription, error) {
	e := h.entity(id)
	e.mu.Lock()

	snap, err := h.source.Snapshot(id)
	if err != nil {
		empty := len(e.subs) == 0
		e.mu.Unlock()
		if empty {
			h.dropIfEmpty(id, e)
		}
		return nil, err
	}

	sub := &Subscription{
		entityID: id,
		snapshot: snap,
		ch:       make(chan domain.Event, subscriberBuffer),
		lastSeq:  snap.Seq,
	}
	e.subs[sub] = struct{}{}
	e.mu.Unlock()
	return sub, nil
}

// dropIfEmpty removes a subscriber-less entity entry created by a probe for
// an unknown id. Locks are taken in the same order as CloseEntity.
func (h *Hub) dropIfEmpty(id string, e *entityChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.entities[id]; ok && cur == e {
		e.mu.Lock()
		if len(e.subs) == 0 {
			delete(h.entities, id)
		}
		e.mu.Unlock()
	}
}

// Publish delivers an event to every current subscriber of its entity, in
// emission order. Events at or below a subscriber's last delivered sequence
// are skipped (snapshot replay already covered them). A subscriber whose
// buffer is full is pruned; it never blocks the others.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.Lock()
	e := h.entities[ev.EntityID]
	h.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for sub := range e.subs {
		if ev.Seq <= sub.lastSeq {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.lastSeq = ev.Seq
		default:
			delete(e.subs, sub)
			sub.closed = true
			close(sub.ch)
		}
	}
}

// CloseEntity terminates every subscription of an evicted entity
func (h *Hub) CloseEntity(id string) {
	h.mu.Lock()
	e := h.entities[id]
	delete(h.entities, id)
	h.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for sub := range e.subs {
		delete(e.subs, sub)
		sub.closed = true
		close(sub.ch)
	}
}

// SubscriberCount returns the number of live subscriptions for an entity
func (h *Hub) SubscriberCount(id string) int {
	h.mu.Lock()
	e := h.entities[id]
	h.mu.Unlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// TotalSubscribers returns the number of live subscriptions across all
// entities
func (h *Hub) TotalSubscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, e := range h.entities {
		e.mu.Lock()
		total += len(e.subs)
		e.mu.Unlock()
	}
	return total
}

// Snapshot returns the full state captured when the subscription attached
func (s *Subscription) Snapshot() domain.Snapshot { return s.snapshot }

// Events returns the ordered incremental event stream
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Unsubscribe detaches the subscription and closes its channel
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	e := h.entities[sub.entityID]
	h.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[sub]; !ok {
		return
	}
	delete(e.subs, sub)
	sub.closed = true
	close(sub.ch)
}
