// Package exposure scores how much unblocked threat traffic would reach a node
// if it were linked to a given peer. The score is only meaningful when compared
// against another score for the same origin.
package exposure

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

var (
	ErrSameNode        = errors.New("exposure: second node is the origin")
	ErrAlreadyAdjacent = errors.New("exposure: second node is already a neighbour of the origin")
	ErrUnknownNode     = errors.New("exposure: unknown node")
)

// Topology is the read-only view of the graph the estimator walks.
type Topology interface {
	HasNode(id string) bool
	HasEdge(a, b string) bool
	Neighbors(id string) []string
}

// DetectionFunc returns the probability that node id blocks a threat.
type DetectionFunc func(id string) float64

type visit struct {
	dist    int
	contrib []float64
}

// Estimate returns the exposure of origin under a hypothetical edge to second.
//
// Nodes are visited breadth first from origin. Every direct neighbour and second
// start at distance 1 with contribution 1. A visited node's exposure is the mean
// of the contributions handed to it by its shortest-path predecessors, discounted
// by its own detection probability, and it hands that value on to its successors.
// The result is the sum of all node exposures.
func Estimate(g Topology, detect DetectionFunc, origin, second string) (float64, error) {
	if !g.HasNode(origin) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownNode, origin)
	}
	if !g.HasNode(second) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownNode, second)
	}
	if origin == second {
		return 0, fmt.Errorf("%w: %s", ErrSameNode, origin)
	}
	if g.HasEdge(origin, second) {
		return 0, fmt.Errorf("%w: %s-%s", ErrAlreadyAdjacent, origin, second)
	}

	state := map[string]*visit{origin: {dist: 0}}
	queue := linkedlistqueue.New()
	for _, n := range append(g.Neighbors(origin), second) {
		state[n] = &visit{dist: 1, contrib: []float64{1}}
		queue.Enqueue(n)
	}

	total := 0.0
	for !queue.Empty() {
		x, _ := queue.Dequeue()
		id := x.(string)
		s := state[id]

		e := mean(s.contrib) * (1 - detect(id))
		total += e

		next := s.dist + 1
		for _, n := range g.Neighbors(id) {
			ns, seen := state[n]
			switch {
			case !seen:
				state[n] = &visit{dist: next, contrib: []float64{e}}
				queue.Enqueue(n)
			case ns.dist == next:
				ns.contrib = append(ns.contrib, e)
			}
		}
	}
	return total, nil
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
