// Package routing holds the shared adjacency-map handle and the
// breadth-first router that computes source routes over it.
package routing

import "sync"

// Adjacency is a mutex-guarded NodeId -> ordered-list-of-NodeId map. It is
// replaced wholesale at the end of each discovery cycle and read via
// snapshot, matching the teacher's copy-on-read handle idiom so that lock
// hold time stays to a single read or a single wholesale replace. Neighbor
// lists are kept in first-seen order (not a map) specifically so that
// Router.Route's BFS visits a node's neighbors in a reproducible order.
type Adjacency struct {
	mu  sync.RWMutex
	adj map[uint8][]uint8
}

// NewAdjacency returns an empty Adjacency handle.
func NewAdjacency() *Adjacency {
	return &Adjacency{adj: make(map[uint8][]uint8)}
}

// Replace swaps in a brand-new adjacency map, discarding the old one.
func (a *Adjacency) Replace(next map[uint8][]uint8) {
	a.mu.Lock()
	a.adj = next
	a.mu.Unlock()
}

// Snapshot returns a read-only copy of the current adjacency map, suitable
// for a BFS search without holding the lock for the duration of the search.
// Each neighbor list is copied in the insertion order AdjacencyFromTraces
// (or a caller of Replace) built it in.
func (a *Adjacency) Snapshot() map[uint8][]uint8 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[uint8][]uint8, len(a.adj))
	for node, neighbors := range a.adj {
		list := make([]uint8, len(neighbors))
		copy(list, neighbors)
		out[node] = list
	}
	return out
}

// AdjacencyFromTraces folds a set of flood path traces into a fresh
// undirected adjacency map: for each trace, every adjacent pair of hops
// gets an edge in both directions. Neighbors are appended in the order
// traces introduce them, and a pair already recorded is never duplicated.
func AdjacencyFromTraces(traces [][]uint8) map[uint8][]uint8 {
	out := make(map[uint8][]uint8)
	seen := make(map[[2]uint8]bool)

	addEdge := func(a, b uint8) {
		if seen[[2]uint8{a, b}] {
			return
		}
		seen[[2]uint8{a, b}] = true
		out[a] = append(out[a], b)
	}

	for _, trace := range traces {
		for i := range trace {
			if i > 0 {
				addEdge(trace[i], trace[i-1])
			}
			if i+1 < len(trace) {
				addEdge(trace[i], trace[i+1])
			}
		}
	}

	return out
}
