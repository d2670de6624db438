// Package rewire implements how an end user replaces the link that let a threat
// through. The policy severs the link, asks for a degree-weighted replacement that
// keeps the network connected, and keeps whichever of the two peers exposes the
// user to less threat traffic.
package rewire

import (
	"fmt"
	"math/rand"

	"github.com/gustycube/balkansim/internal/exposure"
	"github.com/gustycube/balkansim/internal/graph"
)

// Outcome describes which link survived a rewiring attempt.
type Outcome int

const (
	// OutcomeRestored means a candidate existed but was not strictly better.
	OutcomeRestored Outcome = iota
	// OutcomeRewired means the link moved to the candidate.
	OutcomeRewired
	// OutcomeNoCandidate means no eligible replacement existed and the link was restored.
	OutcomeNoCandidate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRestored:
		return "restored"
	case OutcomeRewired:
		return "rewired"
	case OutcomeNoCandidate:
		return "no_candidate"
	default:
		return "unknown"
	}
}

// Result records one rewiring decision.
type Result struct {
	Outcome           Outcome `json:"outcome"`
	Server            string  `json:"server"`
	Candidate         string  `json:"candidate,omitempty"`
	CandidateExposure float64 `json:"candidate_exposure"`
	ServerExposure    float64 `json:"server_exposure"`
}

// Linked returns the peer self is connected to after the decision.
func (r Result) Linked() string {
	if r.Outcome == OutcomeRewired {
		return r.Candidate
	}
	return r.Server
}

// Policy rewires links on a graph it shares with the rest of the simulation.
type Policy struct {
	graph  *graph.Graph
	rng    *rand.Rand
	detect exposure.DetectionFunc
}

// New returns a policy drawing candidates from rng and scoring them with detect.
func New(g *graph.Graph, rng *rand.Rand, detect exposure.DetectionFunc) *Policy {
	return &Policy{graph: g, rng: rng, detect: detect}
}

// Candidate proposes a replacement peer for self after its link to old was cut.
// If the cut split the graph, only nodes outside self's component qualify, so
// linking to the candidate reconnects it. Otherwise self's current neighbours are
// excluded to avoid parallel edges.
func (p *Policy) Candidate(self, old string) (string, bool) {
	exclude := map[string]struct{}{self: {}, old: {}}
	var skip []string
	if p.graph.NumComponents() > 1 {
		skip = p.graph.NodeComponent(self)
	} else {
		skip = p.graph.Neighbors(self)
	}
	for _, id := range skip {
		exclude[id] = struct{}{}
	}
	return p.graph.PreferentialNode(exclude, p.rng)
}

// Rewire severs self-server and links self to either a better candidate or back
// to server. On return self has exactly one of the two links. If scoring fails
// the original link is restored before the error is returned.
func (p *Policy) Rewire(self, server string) (Result, error) {
	if err := p.graph.RemoveEdge(self, server); err != nil {
		return Result{}, fmt.Errorf("sever %s-%s: %w", self, server, err)
	}

	res := Result{Outcome: OutcomeNoCandidate, Server: server}
	candidate, ok := p.Candidate(self, server)
	if ok && candidate != server {
		res.Candidate = candidate
		res.Outcome = OutcomeRestored

		var err error
		res.ServerExposure, err = exposure.Estimate(p.graph, p.detect, self, server)
		if err == nil {
			res.CandidateExposure, err = exposure.Estimate(p.graph, p.detect, self, candidate)
		}
		if err != nil {
			if rerr := p.graph.AddEdge(self, server); rerr != nil {
				return res, fmt.Errorf("restore %s-%s after %v: %w", self, server, err, rerr)
			}
			return res, fmt.Errorf("score candidate %s for %s: %w", candidate, self, err)
		}
		if res.CandidateExposure < res.ServerExposure {
			res.Outcome = OutcomeRewired
		}
	}

	if err := p.graph.AddEdge(self, res.Linked()); err != nil {
		return res, fmt.Errorf("link %s-%s: %w", self, res.Linked(), err)
	}
	return res, nil
}
