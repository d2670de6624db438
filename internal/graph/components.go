package graph

import (
	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"gonum.org/v1/gonum/graph/topo"
)

// ConnectedComponents partitions the nodes into connected components. Components
// are ordered by their first member's insertion index.
func (g *Graph) ConnectedComponents() [][]string {
	visited := make(map[string]bool, len(g.ids))
	var out [][]string
	for _, start := range g.ids {
		if visited[start] {
			continue
		}
		out = append(out, g.reach(start, visited))
	}
	return out
}

// NodeComponent returns every node reachable from id, id included.
func (g *Graph) NodeComponent(id string) []string {
	if !g.HasNode(id) {
		return nil
	}
	return g.reach(id, make(map[string]bool))
}

// NumComponents returns the number of connected components.
func (g *Graph) NumComponents() int {
	return len(topo.ConnectedComponents(g.undirected()))
}

// IsConnected reports whether the graph is non-empty and has a single component.
func (g *Graph) IsConnected() bool {
	return len(g.ids) > 0 && g.NumComponents() == 1
}

func (g *Graph) reach(start string, visited map[string]bool) []string {
	component := []string{start}
	visited[start] = true
	queue := linkedlistqueue.New()
	queue.Enqueue(start)
	for !queue.Empty() {
		v, _ := queue.Dequeue()
		for _, n := range g.Neighbors(v.(string)) {
			if visited[n] {
				continue
			}
			visited[n] = true
			component = append(component, n)
			queue.Enqueue(n)
		}
	}
	g.sortByIndex(component)
	return component
}

// ArticulationPoints returns the cut vertices of the graph in insertion order.
func (g *Graph) ArticulationPoints() []string {
	_, cut := g.tarjan()
	return cut
}

// BiconnectedComponents returns the maximal biconnected subgraphs as node sets.
// A bridge forms a two-node component; isolated nodes belong to none.
func (g *Graph) BiconnectedComponents() [][]string {
	comps, _ := g.tarjan()
	return comps
}

// tarjan runs the Hopcroft-Tarjan edge-stack DFS once and yields both the
// biconnected components and the articulation points.
func (g *Graph) tarjan() ([][]string, []string) {
	disc := make(map[string]int, len(g.ids))
	low := make(map[string]int, len(g.ids))
	isCut := make(map[string]bool)
	var stack [][2]string
	var comps [][]string
	clock := 0

	var visit func(u, parent string, root bool)
	visit = func(u, parent string, root bool) {
		clock++
		disc[u] = clock
		low[u] = clock
		children := 0

		for _, v := range g.Neighbors(u) {
			if !root && v == parent {
				continue
			}
			if _, seen := disc[v]; !seen {
				children++
				stack = append(stack, [2]string{u, v})
				visit(v, u, false)
				low[u] = min(low[u], low[v])

				if low[v] >= disc[u] {
					if !root {
						isCut[u] = true
					}
					comps = append(comps, g.popComponent(&stack, u, v))
				}
			} else if disc[v] < disc[u] {
				stack = append(stack, [2]string{u, v})
				low[u] = min(low[u], disc[v])
			}
		}
		if root && children > 1 {
			isCut[u] = true
		}
	}

	for _, id := range g.ids {
		if _, seen := disc[id]; !seen {
			visit(id, "", true)
		}
	}

	cut := make([]string, 0, len(isCut))
	for id := range isCut {
		cut = append(cut, id)
	}
	g.sortByIndex(cut)
	return comps, cut
}

func (g *Graph) popComponent(stack *[][2]string, u, v string) []string {
	members := make(map[string]struct{})
	s := *stack
	for len(s) > 0 {
		e := s[len(s)-1]
		s = s[:len(s)-1]
		members[e[0]] = struct{}{}
		members[e[1]] = struct{}{}
		if e[0] == u && e[1] == v {
			break
		}
	}
	*stack = s

	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	g.sortByIndex(out)
	return out
}
