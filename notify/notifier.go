package notify

import (
	"sync"
	"sync/atomic"
)

// defaultEventBufferSize is the buffer size for subscriber channels.
// Subscribers that can't keep up will have events dropped (non-blocking send).
const defaultEventBufferSize = 16

// EventKind identifies a publication lifecycle transition.
type EventKind uint8

const (
	PublicationAdded EventKind = iota + 1
	PublicationClosed
	MaxPositionReached
)

func (k EventKind) String() string {
	switch k {
	case PublicationAdded:
		return "added"
	case PublicationClosed:
		return "closed"
	case MaxPositionReached:
		return "max_position_reached"
	default:
		return "unknown"
	}
}

// Event describes a lifecycle transition of one publication.
type Event struct {
	Kind           EventKind
	RegistrationID int64
	Channel        string
	StreamID       int32
	SessionID      int32
}

// Filter restricts a subscription to certain streams. An empty filter matches everything.
type Filter struct {
	StreamIDs []int32
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan Event
	closed atomic.Bool
}

// matches checks if the stream matches this subscription's filter.
func (s *subscription) matches(streamID int32) bool {
	if len(s.filter.StreamIDs) == 0 {
		return true
	}

	for _, id := range s.filter.StreamIDs {
		if id == streamID {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub fans publication lifecycle events out to subscribers.
// Thread-safe; Signal never blocks.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends an event to all matching subscribers (non-blocking).
func (h *Hub) Signal(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(event.StreamID) {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscribe creates a new subscription and returns the event channel and cancel function.
// The cancel function is idempotent and closes the channel.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Event, defaultEventBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// Close removes every subscription and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
