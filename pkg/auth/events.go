package auth

import (
	"sync"
	"time"
)

// EventKind names an auth-state change
type EventKind string

const (
	EventSignedIn    EventKind = "signed_in"
	EventSignedOut   EventKind = "signed_out"
	EventRoleChanged EventKind = "role_changed"
	EventPlanChanged EventKind = "plan_changed"
)

// Event notifies subscribers that a user's auth state changed
type Event struct {
	Kind      EventKind
	UserID    string
	SessionID string
	At        time.Time
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Event)

// Bus fans auth events out to subscribers
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers h and returns a func that removes it
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev to every subscriber. A nil bus drops the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
