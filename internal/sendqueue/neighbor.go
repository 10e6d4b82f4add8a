package sendqueue

import (
	"sync"

	"github.com/sourcerouted/overlay/internal/link"
)

// NeighborTable is the shared, mutex-guarded NodeId -> Link map described in
// SPEC_FULL.md §3: mutated only by control commands (add/remove neighbor),
// read by the worker once per send.
type NeighborTable struct {
	mu    sync.RWMutex
	links map[uint8]link.Link
}

// NewNeighborTable returns an empty NeighborTable.
func NewNeighborTable() *NeighborTable {
	return &NeighborTable{links: make(map[uint8]link.Link)}
}

// Add installs or replaces the link to neighbor.
func (t *NeighborTable) Add(neighbor uint8, l link.Link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.links[neighbor] = l
}

// Remove drops the link to neighbor, if any, and returns it so the caller
// can Close it.
func (t *NeighborTable) Remove(neighbor uint8) (link.Link, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.links[neighbor]
	delete(t.links, neighbor)
	return l, ok
}

// Get returns the link to neighbor, if known.
func (t *NeighborTable) Get(neighbor uint8) (link.Link, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.links[neighbor]
	return l, ok
}

// Snapshot returns a read-only copy of the current neighbor set.
func (t *NeighborTable) Snapshot() map[uint8]link.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uint8]link.Link, len(t.links))
	for k, v := range t.links {
		out[k] = v
	}
	return out
}
