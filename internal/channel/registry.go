package channel

import "sync"

// Registry maps channel keys to sets of subscribed connections.
//
// All mutations are serialized under one mutex so that membership
// transitions (first subscriber in, last subscriber out) are observed
// exactly once by callers. Broadcast senders must copy the subscriber set
// via Subscribers or Snapshot and send outside the lock.
type Registry struct {
	mu       sync.RWMutex
	channels map[Key]map[Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[Key]map[Conn]struct{}),
	}
}

// Add inserts conn into key's set, creating the set if absent. Adding an
// existing member is a no-op. Returns true if this call created the set,
// i.e. conn is the key's first subscriber.
func (r *Registry) Add(key Key, conn Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[key]
	if !ok {
		set = make(map[Conn]struct{})
		r.channels[key] = set
		first = true
	}
	set[conn] = struct{}{}
	return first
}

// Remove deletes conn from key's set if present; removing a non-member is
// a no-op. Empty sets are dropped. Returns true if this call emptied the
// set — private-topic callers use that to release the upstream relay.
func (r *Registry) Remove(key Key, conn Conn) (emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[key]
	if !ok {
		return false
	}
	if _, member := set[conn]; !member {
		return false
	}

	delete(set, conn)
	if len(set) == 0 {
		delete(r.channels, key)
		return true
	}
	return false
}

// Subscribers returns a copy of key's current subscriber set.
func (r *Registry) Subscribers(key Key) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.channels[key]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Has reports whether key currently has any subscribers.
func (r *Registry) Has(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[key]
	return ok
}

// Snapshot returns a copy of the full key → subscriber-set mapping.
func (r *Registry) Snapshot() map[Key][]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Key][]Conn, len(r.channels))
	for key, set := range r.channels {
		conns := make([]Conn, 0, len(set))
		for c := range set {
			conns = append(conns, c)
		}
		out[key] = conns
	}
	return out
}

// Len returns the number of keys with at least one subscriber.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Reset clears every key and set. Connections are not closed; teardown
// side effects belong to the caller.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[Key]map[Conn]struct{})
}
