package routing

// Router computes shortest-path source routes over an Adjacency snapshot.
type Router struct {
	self uint8
	adj  *Adjacency
}

// NewRouter returns a Router for the given self id, backed by adj.
func NewRouter(self uint8, adj *Adjacency) *Router {
	return &Router{self: self, adj: adj}
}

// Route performs a breadth-first search from self to target over the
// current adjacency snapshot. It returns the path inclusive of both
// endpoints, or (nil, false) if no path exists. Tie-breaking on equal
// length paths follows each node's neighbor list in the order
// AdjacencyFromTraces first recorded it, since Adjacency stores neighbors
// as ordered slices rather than maps.
func (r *Router) Route(target uint8) ([]uint8, bool) {
	if target == r.self {
		return []uint8{r.self}, true
	}

	snapshot := r.adj.Snapshot()

	visited := map[uint8]bool{r.self: true}
	prev := map[uint8]uint8{}
	queue := []uint8{r.self}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		for _, next := range snapshot[node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = node
			if next == target {
				return reconstructPath(prev, r.self, target), true
			}
			queue = append(queue, next)
		}
	}

	return nil, false
}

func reconstructPath(prev map[uint8]uint8, self, target uint8) []uint8 {
	path := []uint8{target}
	for path[len(path)-1] != self {
		path = append(path, prev[path[len(path)-1]])
	}
	// reverse in place
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
