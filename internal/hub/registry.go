package hub

import (
	"errors"
	"sort"
	"sync"
)

// ErrAlreadyRegistered is returned when an identity is already bound to an
// open relay channel. The hub rejects the new channel instead of replacing
// the existing mapping.
var ErrAlreadyRegistered = errors.New("hub: identity already registered")

// registry owns the identity -> relay channel mapping. Every mutation goes
// through its mutex; readers take snapshots so a client disconnecting
// mid-broadcast cannot corrupt iteration.
type registry struct {
	mu      sync.Mutex
	entries map[string]*client
}

func newRegistry() *registry {
	return &registry{
		entries: make(map[string]*client),
	}
}

func (r *registry) add(identity string, c *client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[identity]; ok {
		return ErrAlreadyRegistered
	}
	r.entries[identity] = c
	return nil
}

// remove deletes the entry for identity only if it is still owned by the
// channel with the given connection id. A stale or duplicate channel closing
// must never evict a live registration.
func (r *registry) remove(identity, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[identity]
	if !ok || c.connID != connID {
		return false
	}
	delete(r.entries, identity)
	return true
}

func (r *registry) lookup(identity string) (*client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[identity]
	return c, ok
}

func (r *registry) identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *registry) snapshot() []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*client, 0, len(r.entries))
	for _, c := range r.entries {
		out = append(out, c)
	}
	return out
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
