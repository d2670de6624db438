package graph

import (
	"fmt"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

type pathKey struct {
	version  uint64
	from, to string
}

// ShortestPath returns a minimum-hop path from a to b, both endpoints included.
// Ties are broken by neighbour insertion order. The returned slice is owned by
// the caller.
func (g *Graph) ShortestPath(a, b string) ([]string, error) {
	if !g.HasNode(a) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, a)
	}
	if !g.HasNode(b) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, b)
	}

	key := pathKey{version: g.version, from: a, to: b}
	if g.paths != nil {
		if p, ok := g.paths.Get(key); ok {
			return clonePath(p), nil
		}
	}

	p, err := g.bfsPath(a, b)
	if err != nil {
		return nil, err
	}
	if g.paths != nil {
		g.paths.Add(key, clonePath(p))
	}
	return p, nil
}

func (g *Graph) bfsPath(a, b string) ([]string, error) {
	if a == b {
		return []string{a}, nil
	}

	parent := map[string]string{a: a}
	queue := linkedlistqueue.New()
	queue.Enqueue(a)

	for !queue.Empty() {
		v, _ := queue.Dequeue()
		current := v.(string)
		for _, n := range g.Neighbors(current) {
			if _, seen := parent[n]; seen {
				continue
			}
			parent[n] = current
			if n == b {
				return reconstruct(parent, a, b), nil
			}
			queue.Enqueue(n)
		}
	}
	return nil, fmt.Errorf("%w: %s and %s", ErrNoPath, a, b)
}

func reconstruct(parent map[string]string, a, b string) []string {
	path := make([]string, 0, 8)
	for at := b; ; at = parent[at] {
		path = append(path, at)
		if at == a {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func clonePath(p []string) []string {
	out := make([]string, len(p))
	copy(out, p)
	return out
}
