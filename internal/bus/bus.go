package bus

import (
	"strings"
	"sync"
)

// Bus fans out bridge progress events to namespace-prefixed subscribers:
// the webhook path publishes ingest.*, the reconciliation loop reply.*, and
// the status machine bridge.*. Publish never blocks, so a slow subscriber
// can't stall ingestion or the loop.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers evt to every subscriber whose namespace prefixes
// evt.Kind. A full subscriber buffer drops the event rather than blocking
// the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers interest in a Kind prefix ("ingest.", "reply.",
// "bridge.status_changed", or "" for everything) and returns the receiving
// channel with its unsubscribe function. bufSize bounds how far the
// subscriber may lag before events are dropped.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
