package mesh

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/1ureka/meshroom/internal/room"
)

// ErrDuplicateLink is returned when a second link for the same remote
// participant is added.
var ErrDuplicateLink = errors.New("mesh: link already exists")

// linkTable is the route table from remote participant to link. Writes
// come from the coordinator loop only; reads may come from anywhere.
type linkTable struct {
	mu    sync.RWMutex
	links map[room.ParticipantID]*Link
}

func newLinkTable() *linkTable {
	return &linkTable{links: make(map[room.ParticipantID]*Link)}
}

// add registers l, refusing a second link for the same remote.
func (t *linkTable) add(l *Link) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.links[l.remote]; ok {
		return ErrDuplicateLink
	}
	t.links[l.remote] = l
	return nil
}

func (t *linkTable) get(id room.ParticipantID) *Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.links[id]
}

// remove deletes the entry for l.remote if it still points to l.
func (t *linkTable) remove(l *Link) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links[l.remote] != l {
		return false
	}
	delete(t.links, l.remote)
	return true
}

func (t *linkTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.links)
}

// list returns the links ordered by remote id.
func (t *linkTable) list() []*Link {
	t.mu.RLock()
	out := make([]*Link, 0, len(t.links))
	for _, l := range t.links {
		out = append(out, l)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Link) int {
		return cmp.Compare(a.remote, b.remote)
	})
	return out
}
