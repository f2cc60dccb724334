package orderbook

import (
	"sync"
)

// Subscriber receives a read-only view after each committed update.
type Subscriber func(BookView)

// Handle identifies a registration for later removal.
type Handle uint64

type registration struct {
	handle Handle
	fn     Subscriber
}

// SubscriberRegistry is an ordered list of callbacks owned by one engine.
type SubscriberRegistry struct {
	mu   sync.RWMutex
	next Handle
	subs []registration
}

// Add appends fn and returns its handle.
func (r *SubscriberRegistry) Add(fn Subscriber) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.subs = append(r.subs, registration{handle: r.next, fn: fn})
	return r.next
}

// Remove drops the registration for h. It reports whether h was registered.
func (r *SubscriberRegistry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.handle == h {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered subscribers.
func (r *SubscriberRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Notify calls every subscriber in registration order. The list is copied
// first so a callback may add or remove registrations.
func (r *SubscriberRegistry) Notify(v BookView) {
	r.mu.RLock()
	subs := make([]registration, len(r.subs))
	copy(subs, r.subs)
	r.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}
