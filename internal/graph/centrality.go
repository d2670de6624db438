package graph

import (
	"gonum.org/v1/gonum/graph/network"
)

// BetweennessCentrality computes normalised node betweenness. Scores are
// divided by (n-1)(n-2), so the hub of a star scores 1.
func (g *Graph) BetweennessCentrality() map[string]float64 {
	bc := make(map[string]float64, len(g.ids))
	for _, id := range g.ids {
		bc[id] = 0
	}

	scale := 1.0
	if n := len(g.ids); n > 2 {
		scale = 1 / float64((n-1)*(n-2))
	}
	// gonum sums over ordered source/target pairs and omits zero scores.
	for i, v := range network.Betweenness(g.undirected()) {
		bc[g.ids[i]] = v * scale
	}
	return bc
}
