package broadcast

import (
	"sync"
	"time"
)

// Kind discriminates refresh-coordination messages
type Kind string

const (
	// KindLock announces that a context is about to refresh
	KindLock Kind = "refresh-lock"

	// KindSuccess announces that the owner's refresh completed
	KindSuccess Kind = "refresh-success"

	// KindFailure announces that the owner's refresh failed
	KindFailure Kind = "refresh-failure"
)

// Message is the value payload shared across contexts. Messages carry values
// only, never references: the bus is message-passing, not shared memory.
type Message struct {
	Kind      Kind
	OwnerID   string
	Timestamp time.Time
}

// Bus fans messages out to every subscribed context. It is the process-side
// stand-in for a browser-level broadcast channel: best-effort, no delivery
// guarantees, no ordering across publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Message
	nextID int
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Message)}
}

// Subscribe registers a listener. The returned cancel func removes it.
// Subscribers that fall behind lose messages rather than blocking publishers.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Message, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers a message to all current subscribers, including the
// publisher's own subscription.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; drop rather than block
		}
	}
}

// Close shuts the bus down and closes all subscriptions
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
