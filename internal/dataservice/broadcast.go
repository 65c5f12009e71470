package dataservice

import (
	"sync"

	"bizdash/internal/core"
)

// Broadcaster fans session changes out to registered listeners. Emit calls
// are serialized so every listener observes events in emission order.
type Broadcaster struct {
	mu        sync.Mutex
	emitMu    sync.Mutex
	nextID    int
	listeners map[int]SessionListener
	order     []int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[int]SessionListener)}
}

// Subscribe registers a listener. The returned func is idempotent.
func (b *Broadcaster) Subscribe(listener SessionListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit delivers the event to every listener registered at call time, in
// registration order.
func (b *Broadcaster) Emit(event SessionEvent, session *core.Session) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	targets := make([]SessionListener, 0, len(b.order))
	for _, id := range b.order {
		targets = append(targets, b.listeners[id])
	}
	b.mu.Unlock()

	for _, l := range targets {
		var s *core.Session
		if session != nil {
			cp := *session
			s = &cp
		}
		l(event, s)
	}
}

// Len returns the number of registered listeners.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
