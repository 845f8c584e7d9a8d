package streaming

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// subscriber is one registered consumer: a delivery channel plus the event
// types it wants (empty set means every type).
type subscriber struct {
	ch    chan StreamEvent
	types map[string]struct{}
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// MemoryHub is the in-process EventHub. Subscribers are indexed by the
// session they follow, so publishing an event touches only that session's
// fan-out list plus the wildcard watchers. Most subscribers here follow a
// single session (an SSE stream, an export wait); the index keeps those
// cheap no matter how many sessions are live.
type MemoryHub struct {
	mu        sync.RWMutex
	next      uint64
	bySession map[string]map[uint64]*subscriber // key "" holds wildcard watchers
}

// NewMemoryHub creates an empty MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{bySession: make(map[string]map[uint64]*subscriber)}
}

// Publish fans the event out to the session's subscribers and the wildcard
// watchers. Delivery is non-blocking: a subscriber whose channel is full
// misses the event.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver(h.bySession[event.SessionID], event)
	if event.SessionID != "" {
		deliver(h.bySession[""], event)
	}
	return nil
}

func deliver(subs map[uint64]*subscriber, event StreamEvent) {
	for _, sub := range subs {
		if !sub.wants(event.EventType) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// backpressure: drop event for slow subscriber
		}
	}
}

// Subscribe registers a consumer for the filter's session, or for every
// session when the filter leaves it unset. The returned cancel removes the
// registration; the channel is never closed, receivers stop via their own
// context.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscriber{ch: make(chan StreamEvent, subscriberBuffer)}
	if len(filter.EventTypes) > 0 {
		sub.types = make(map[string]struct{}, len(filter.EventTypes))
		for _, t := range filter.EventTypes {
			sub.types[t] = struct{}{}
		}
	}

	key := filter.SessionID
	h.mu.Lock()
	id := h.next
	h.next++
	subs, ok := h.bySession[key]
	if !ok {
		subs = make(map[uint64]*subscriber)
		h.bySession[key] = subs
	}
	subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.bySession[key]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.bySession, key)
			}
		}
		h.mu.Unlock()
	}

	return sub.ch, cancel, nil
}
