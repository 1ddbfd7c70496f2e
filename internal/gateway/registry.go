package gateway

import (
	"errors"
	"sync"
	"time"
)

var ErrDuplicateCorrelationID = errors.New("gateway: correlation id already registered")

// Registry maps correlation ids to their transient delivery targets. Entries
// are inserted at dispatch time, removed at terminal-chunk handling, and
// time-bounded so a terminal chunk that never arrives cannot leak a target
// forever.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	ttl     time.Duration
	onEvict func(correlationID string, target DeliveryTarget)
}

type registryEntry struct {
	target DeliveryTarget
	timer  *time.Timer
}

// NewRegistry builds a registry whose entries expire after ttl. onEvict runs
// outside the registry lock when an entry times out; nil disables the
// callback.
func NewRegistry(ttl time.Duration, onEvict func(string, DeliveryTarget)) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		ttl:     ttl,
		onEvict: onEvict,
	}
}

// Register inserts a target. A correlation id maps to at most one active
// entry, so re-registration is an error.
func (r *Registry) Register(correlationID string, target DeliveryTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[correlationID]; exists {
		return ErrDuplicateCorrelationID
	}

	entry := &registryEntry{target: target}
	if r.ttl > 0 {
		entry.timer = time.AfterFunc(r.ttl, func() {
			r.evict(correlationID)
		})
	}
	r.entries[correlationID] = entry
	return nil
}

// Lookup returns the target registered for the id, if any.
func (r *Registry) Lookup(correlationID string) (DeliveryTarget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[correlationID]
	if !ok {
		return nil, false
	}
	return entry.target, true
}

// Remove deletes the entry and stops its expiry timer, returning the target
// that was registered.
func (r *Registry) Remove(correlationID string) (DeliveryTarget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[correlationID]
	if !ok {
		return nil, false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(r.entries, correlationID)
	return entry.target, true
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) evict(correlationID string) {
	r.mu.Lock()
	entry, ok := r.entries[correlationID]
	if ok {
		delete(r.entries, correlationID)
	}
	r.mu.Unlock()

	if ok && r.onEvict != nil {
		r.onEvict(correlationID, entry.target)
	}
}
