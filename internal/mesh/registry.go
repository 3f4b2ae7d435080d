package mesh

import (
	"slices"
	"sync"

	"github.com/1ureka/meshroom/internal/media"
	"github.com/1ureka/meshroom/internal/room"
)

// Entry is the presentation view of one remote participant. Loading is true
// from link creation until the first remote track arrives.
type Entry struct {
	Stream  *media.RemoteStream
	Loading bool
}

// Change describes one registry mutation.
type Change struct {
	ID      room.ParticipantID
	Entry   Entry
	Removed bool
}

// Registry maps remote participants to their media. Only links mutate it;
// everything else reads.
type Registry struct {
	mu      sync.RWMutex
	entries map[room.ParticipantID]Entry
	subs    []func(Change)
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[room.ParticipantID]Entry)}
}

// OnChange subscribes fn to every later mutation. fn runs synchronously on
// the mutating goroutine and must not block.
func (r *Registry) OnChange(fn func(Change)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

func (r *Registry) Get(id room.ParticipantID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Snapshot returns a copy of all entries.
func (r *Registry) Snapshot() map[room.ParticipantID]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[room.ParticipantID]Entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}

// IDs returns the registered participants in ascending order.
func (r *Registry) IDs() []room.ParticipantID {
	r.mu.RLock()
	ids := make([]room.ParticipantID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) upsert(id room.ParticipantID, e Entry) {
	r.mu.Lock()
	r.entries[id] = e
	subs := r.subs
	r.mu.Unlock()

	r.notify(subs, Change{ID: id, Entry: e})
}

func (r *Registry) remove(id room.ParticipantID) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	subs := r.subs
	r.mu.Unlock()

	if ok {
		r.notify(subs, Change{ID: id, Entry: e, Removed: true})
	}
}

func (r *Registry) notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}
