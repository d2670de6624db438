// Package graph is the undirected topology backend for the simulator. It stores
// nodes by string ID and answers the structural queries the simulation core needs:
// shortest paths, components, cut vertices, biconnected components and centrality.
//
// Every query that returns a collection of nodes returns them in insertion order,
// so results are reproducible for a given random seed. A Graph is owned by a
// single goroutine and is not safe for concurrent use.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrInvalidNode   = errors.New("graph: node id must not be empty")
	ErrDuplicateNode = errors.New("graph: node already exists")
	ErrUnknownNode   = errors.New("graph: unknown node")
	ErrSelfLoop      = errors.New("graph: self loops are not allowed")
	ErrEdgeExists    = errors.New("graph: edge already exists")
	ErrNoEdge        = errors.New("graph: edge does not exist")
	ErrNoPath        = errors.New("graph: nodes are disconnected")
)

// Graph is a simple undirected graph without self loops or parallel edges.
type Graph struct {
	ids   []string
	index map[string]int
	adj   map[string]map[string]struct{}
	edges int

	// version is bumped on every structural change and keys the path cache.
	version uint64
	paths   *lru.Cache[pathKey, []string]
}

// New returns an empty graph with no path cache.
func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		adj:   make(map[string]map[string]struct{}),
	}
}

// EnablePathCache memoises up to size shortest paths. Entries are keyed by the
// topology version, so a mutation implicitly invalidates everything cached before it.
func (g *Graph) EnablePathCache(size int) error {
	c, err := lru.New[pathKey, []string](size)
	if err != nil {
		return fmt.Errorf("create path cache: %w", err)
	}
	g.paths = c
	return nil
}

// AddNode inserts an isolated node.
func (g *Graph) AddNode(id string) error {
	if id == "" {
		return ErrInvalidNode
	}
	if _, ok := g.index[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	g.index[id] = len(g.ids)
	g.ids = append(g.ids, id)
	g.adj[id] = make(map[string]struct{})
	g.version++
	return nil
}

// HasNode reports whether id is part of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Nodes returns all node IDs in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.ids) }

// NumEdges returns the number of undirected edges.
func (g *Graph) NumEdges() int { return g.edges }

// Version changes whenever a node or edge is added or removed.
func (g *Graph) Version() uint64 { return g.version }

// AddEdge links a and b. Adding an edge that already exists is an error.
func (g *Graph) AddEdge(a, b string) error {
	if err := g.checkPair(a, b); err != nil {
		return err
	}
	if _, ok := g.adj[a][b]; ok {
		return fmt.Errorf("%w: %s-%s", ErrEdgeExists, a, b)
	}
	g.adj[a][b] = struct{}{}
	g.adj[b][a] = struct{}{}
	g.edges++
	g.version++
	return nil
}

// RemoveEdge unlinks a and b. Removing a missing edge is an error.
func (g *Graph) RemoveEdge(a, b string) error {
	if err := g.checkPair(a, b); err != nil {
		return err
	}
	if _, ok := g.adj[a][b]; !ok {
		return fmt.Errorf("%w: %s-%s", ErrNoEdge, a, b)
	}
	delete(g.adj[a], b)
	delete(g.adj[b], a)
	g.edges--
	g.version++
	return nil
}

func (g *Graph) checkPair(a, b string) error {
	if !g.HasNode(a) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, a)
	}
	if !g.HasNode(b) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, b)
	}
	if a == b {
		return fmt.Errorf("%w: %s", ErrSelfLoop, a)
	}
	return nil
}

// HasEdge reports whether a and b are adjacent.
func (g *Graph) HasEdge(a, b string) bool {
	nb, ok := g.adj[a]
	if !ok {
		return false
	}
	_, ok = nb[b]
	return ok
}

// Degree returns the number of neighbours of id, or 0 for unknown nodes.
func (g *Graph) Degree(id string) int { return len(g.adj[id]) }

// Neighbors returns the neighbours of id in insertion order.
func (g *Graph) Neighbors(id string) []string {
	nb := g.adj[id]
	out := make([]string, 0, len(nb))
	for n := range nb {
		out = append(out, n)
	}
	g.sortByIndex(out)
	return out
}

// Edges returns every edge once, endpoints ordered by insertion index.
func (g *Graph) Edges() [][2]string {
	out := make([][2]string, 0, g.edges)
	for _, a := range g.ids {
		for _, b := range g.Neighbors(a) {
			if g.index[a] < g.index[b] {
				out = append(out, [2]string{a, b})
			}
		}
	}
	return out
}

// RemoveNodes deletes the given nodes together with their incident edges.
// Unknown IDs are ignored.
func (g *Graph) RemoveNodes(ids ...string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if !g.HasNode(id) {
			continue
		}
		drop[id] = struct{}{}
		for n := range g.adj[id] {
			delete(g.adj[n], id)
			g.edges--
		}
		delete(g.adj, id)
	}
	if len(drop) == 0 {
		return
	}
	kept := g.ids[:0]
	for _, id := range g.ids {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	g.ids = kept
	g.index = make(map[string]int, len(kept))
	for i, id := range kept {
		g.index[id] = i
	}
	g.version++
}

// Copy returns a structural deep copy. The path cache is not carried over.
func (g *Graph) Copy() *Graph {
	c := New()
	for _, id := range g.ids {
		_ = c.AddNode(id)
	}
	for _, e := range g.Edges() {
		_ = c.AddEdge(e[0], e[1])
	}
	return c
}

// String renders the adjacency list, one node per line.
func (g *Graph) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Graph(%d nodes, %d edges)\n", len(g.ids), g.edges)
	for _, id := range g.ids {
		fmt.Fprintf(&sb, "  %s: %s\n", id, strings.Join(g.Neighbors(id), " "))
	}
	return sb.String()
}

func (g *Graph) sortByIndex(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return g.index[ids[i]] < g.index[ids[j]] })
}
