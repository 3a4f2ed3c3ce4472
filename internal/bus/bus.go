package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus fans events out to in-process subscribers. Subscribers register a
// namespace prefix ("job.", "bulk.") and receive only matching kinds.
// Delivery is best-effort: a subscriber with a full buffer misses the event
// rather than stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]*subscriber
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Emit publishes an event of the given kind stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribe registers a buffered channel for kinds matching the prefix.
// The returned func removes the subscription; the channel is not closed.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
