// Package balkan measures how fragmented a topology has become.
package balkan

import (
	"errors"
	"fmt"

	"github.com/gustycube/balkansim/internal/graph"
)

// ErrUncapturedComponent is returned by Relative when removing the subset's cut
// vertices leaves a component that no subset member touches.
var ErrUncapturedComponent = errors.New("balkan: component has no subset member")

// Absolute returns 1 - |largest biconnected component| / |V|. A graph where every
// node survives any single failure scores 0. A graph without edges scores 1 and
// an empty graph scores 0.
func Absolute(g *graph.Graph) float64 {
	n := g.Len()
	if n == 0 {
		return 0
	}
	largest := 0
	for _, c := range g.BiconnectedComponents() {
		if len(c) > largest {
			largest = len(c)
		}
	}
	return 1 - float64(largest)/float64(n)
}

// Relative returns the share of nodes that sit behind a single subset member.
//
// Subset members that are cut vertices are removed. Each remaining component is
// extended with the removed members adjacent to it. A component then holding
// exactly one subset member is captured by it, and every other node in it
// counts as balkanised. The count is divided by |V|.
func Relative(g *graph.Graph, subset []string) (float64, error) {
	n := g.Len()
	if n == 0 {
		return 0, nil
	}

	members := make(map[string]struct{}, len(subset))
	for _, id := range subset {
		members[id] = struct{}{}
	}
	var gates []string
	isGate := make(map[string]bool)
	for _, id := range g.ArticulationPoints() {
		if _, ok := members[id]; ok {
			gates = append(gates, id)
			isGate[id] = true
		}
	}

	rest := g.Copy()
	rest.RemoveNodes(gates...)
	comps := rest.ConnectedComponents()
	owner := make(map[string]int, rest.Len())
	for i, c := range comps {
		for _, id := range c {
			owner[id] = i
		}
	}

	attached := make([]map[string]struct{}, len(comps))
	for _, gate := range gates {
		for _, nb := range g.Neighbors(gate) {
			if isGate[nb] {
				continue
			}
			i := owner[nb]
			if attached[i] == nil {
				attached[i] = make(map[string]struct{})
			}
			attached[i][gate] = struct{}{}
		}
	}

	balkanised := 0
	for i, c := range comps {
		count := len(attached[i])
		for _, id := range c {
			if _, ok := members[id]; ok {
				count++
			}
		}
		switch count {
		case 0:
			return 0, fmt.Errorf("%w: component of %s (%d nodes)", ErrUncapturedComponent, c[0], len(c))
		case 1:
			balkanised += len(c) + len(attached[i]) - 1
		}
	}
	return float64(balkanised) / float64(n), nil
}
