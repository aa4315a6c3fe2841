package syncqueue

import (
	"sync"

	"conti/internal/core"
)

const (
	EventDelivered      EventKind = "delivered"
	EventRetryScheduled EventKind = "retry_scheduled"
	EventAbandoned      EventKind = "abandoned"
	EventOnline         EventKind = "online"
	EventOffline        EventKind = "offline"
)

type EventKind string

// Event is published on the processor's status stream. Transient failures
// show up as retry_scheduled; abandoned is the only permanent delivery error
// surfaced to consumers.
type Event struct {
	Kind       EventKind
	Operation  core.Operation
	EntityType core.EntityType
	EntityID   int64
	RetryCount int
	Err        error
}

// broadcaster is a minimal typed pub/sub channel. Subscribers receive on a
// buffered channel and must call their cancel func when done; a slow
// subscriber loses events rather than blocking the drain loop.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
