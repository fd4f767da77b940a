package connection

import (
	"sync"

	"github.com/google/uuid"
)

// registration is one entity's subscription entry. Entries are deactivated
// on unsubscribe rather than deleted so a concurrent resubscribe pass never
// resurrects a callback the caller already gave up.
type registration struct {
	callback EventCallback
	active   bool
	handle   uuid.UUID
}

// Registry tracks which entities the application wants events for. It is the
// durable intent store: connections come and go, the registry survives.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registration
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Add records intent to receive events for entityID, replacing any previous
// registration for the same entity. The returned handle identifies this
// registration for Remove.
func (r *Registry) Add(entityID string, cb EventCallback) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle := uuid.New()
	if existing, ok := r.entries[entityID]; ok {
		existing.callback = cb
		existing.active = true
		existing.handle = handle
		return handle
	}
	r.entries[entityID] = &registration{callback: cb, active: true, handle: handle}
	r.order = append(r.order, entityID)
	return handle
}

// Remove deactivates the registration identified by handle. It is a no-op if
// the entity was re-registered since (the handle is stale) or the entry is
// already inactive. Returns true if this call performed the deactivation.
func (r *Registry) Remove(entityID string, handle uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[entityID]
	if !ok || !reg.active || reg.handle != handle {
		return false
	}
	reg.active = false
	return true
}

// Lookup returns the active callback for entityID, or false if the entity
// has no active registration. Events arriving for inactive entries are
// dropped by the caller.
func (r *Registry) Lookup(entityID string) (EventCallback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[entityID]
	if !ok || !reg.active {
		return nil, false
	}
	return reg.callback, true
}

// SnapshotActive returns the active entity IDs in registration order. The
// manager replays this snapshot after every reconnect.
func (r *Registry) SnapshotActive() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if reg := r.entries[id]; reg != nil && reg.active {
			out = append(out, id)
		}
	}
	return out
}

// ActiveCount returns the number of active registrations.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, reg := range r.entries {
		if reg.active {
			n++
		}
	}
	return n
}
