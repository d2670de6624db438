package graph

import (
	"gonum.org/v1/gonum/graph/simple"
)

// undirected copies the topology into a gonum graph. Node i of the copy is
// g.ids[i].
func (g *Graph) undirected() *simple.UndirectedGraph {
	u := simple.NewUndirectedGraph()
	pos := make(map[string]int64, len(g.ids))
	for i, id := range g.ids {
		pos[id] = int64(i)
		u.AddNode(simple.Node(i))
	}
	for _, e := range g.Edges() {
		u.SetEdge(simple.Edge{F: simple.Node(pos[e[0]]), T: simple.Node(pos[e[1]])})
	}
	return u
}
