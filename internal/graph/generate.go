package graph

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrGeneratorParams = errors.New("graph: edges per node must satisfy 1 <= m < n")

// BarabasiAlbert grows a scale-free graph over ids by preferential attachment.
// It starts from a star on the first m+1 ids and attaches every later node to m
// distinct existing nodes drawn proportionally to their degree. With m == 1 the
// result is a tree.
func BarabasiAlbert(ids []string, m int, rng *rand.Rand) (*Graph, error) {
	n := len(ids)
	if m < 1 || m >= n {
		return nil, fmt.Errorf("%w: m=%d n=%d", ErrGeneratorParams, m, n)
	}

	g := New()
	for _, id := range ids {
		if err := g.AddNode(id); err != nil {
			return nil, err
		}
	}

	// Each node appears in repeated once per incident edge.
	repeated := make([]string, 0, 2*m*n)
	hub := ids[0]
	for _, leaf := range ids[1 : m+1] {
		if err := g.AddEdge(hub, leaf); err != nil {
			return nil, err
		}
		repeated = append(repeated, hub, leaf)
	}

	for _, source := range ids[m+1:] {
		targets := randomSubset(repeated, m, rng)
		for _, t := range targets {
			if err := g.AddEdge(source, t); err != nil {
				return nil, err
			}
		}
		repeated = append(repeated, targets...)
		for i := 0; i < m; i++ {
			repeated = append(repeated, source)
		}
	}
	return g, nil
}

// randomSubset draws m distinct values from seq, in draw order.
func randomSubset(seq []string, m int, rng *rand.Rand) []string {
	seen := make(map[string]struct{}, m)
	out := make([]string, 0, m)
	for len(out) < m {
		x := seq[rng.Intn(len(seq))]
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}

// PreferentialNode picks a node outside exclude with probability proportional
// to its degree. It reports false when every node is excluded.
func (g *Graph) PreferentialNode(exclude map[string]struct{}, rng *rand.Rand) (string, bool) {
	eligible := make([]string, 0, len(g.ids))
	total := 0
	for _, id := range g.ids {
		if _, skip := exclude[id]; skip {
			continue
		}
		eligible = append(eligible, id)
		total += g.Degree(id)
	}
	if len(eligible) == 0 {
		return "", false
	}

	r := rng.Float64() * float64(total)
	for _, id := range eligible {
		r -= float64(g.Degree(id))
		if r <= 0 {
			return id, true
		}
	}
	// Float rounding can leave a sliver of weight unconsumed.
	return eligible[len(eligible)-1], true
}
