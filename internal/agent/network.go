package agent

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gustycube/balkansim/internal/graph"
	"github.com/gustycube/balkansim/internal/rewire"
)

// ThreatMode decides whether an originated packet is a threat.
type ThreatMode string

const (
	// ThreatAlways marks every packet as a threat.
	ThreatAlways ThreatMode = "always"
	// ThreatAlpha marks a packet as a threat with the origin's Alpha probability.
	ThreatAlpha ThreatMode = "alpha"
)

// Observer receives notifications about packet handling. Calls are synchronous
// and nothing they do feeds back into the simulation.
type Observer interface {
	PacketCreated(p *Packet)
	ThreatBlocked(at string, p *Packet, atDestination bool)
	ThreatReceived(at, from string, p *Packet)
	Rewired(at string, res rewire.Result)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) PacketCreated(*Packet)                  {}
func (NopObserver) ThreatBlocked(string, *Packet, bool)    {}
func (NopObserver) ThreatReceived(string, string, *Packet) {}
func (NopObserver) Rewired(string, rewire.Result)          {}

// Rewirer replaces the link between self and the server a threat came from.
type Rewirer interface {
	Rewire(self, server string) (rewire.Result, error)
}

// Network binds the node set to the shared topology and random source.
type Network struct {
	graph    *graph.Graph
	nodes    map[string]*Node
	order    []string
	position map[string]int
	rng      *rand.Rand
	mode     ThreatMode
	observer Observer
	rewirer  Rewirer
	log      *zap.SugaredLogger
}

// Option configures a Network.
type Option func(*Network)

// WithObserver registers o for packet notifications.
func WithObserver(o Observer) Option {
	return func(n *Network) { n.observer = o }
}

// WithThreatMode sets how originated packets are classified.
func WithThreatMode(m ThreatMode) Option {
	return func(n *Network) { n.mode = m }
}

// WithRewirer overrides the default rewiring policy.
func WithRewirer(r Rewirer) Option {
	return func(n *Network) { n.rewirer = r }
}

// WithLogger sets the logger used for per-packet debug output.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(n *Network) { n.log = l }
}

// NewNetwork validates nodes against g. Every node must already be in g and
// every node of g must be described. rng is shared with the default rewiring
// policy so a single seed reproduces a whole run.
func NewNetwork(g *graph.Graph, nodes []*Node, rng *rand.Rand, opts ...Option) (*Network, error) {
	n := &Network{
		graph:    g,
		nodes:    make(map[string]*Node, len(nodes)),
		position: make(map[string]int, len(nodes)),
		rng:      rng,
		mode:     ThreatAlways,
		observer: NopObserver{},
		log:      zap.NewNop().Sugar(),
	}
	for _, node := range nodes {
		if err := node.validate(); err != nil {
			return nil, err
		}
		if !g.HasNode(node.ID) {
			return nil, fmt.Errorf("%w: %s is not in the graph", ErrUnknownNode, node.ID)
		}
		if _, dup := n.nodes[node.ID]; dup {
			return nil, fmt.Errorf("%w: %s", graph.ErrDuplicateNode, node.ID)
		}
		n.position[node.ID] = len(n.order)
		n.nodes[node.ID] = node
		n.order = append(n.order, node.ID)
	}
	if len(n.order) != g.Len() {
		return nil, fmt.Errorf("%w: graph has %d nodes, %d described", ErrUnknownNode, g.Len(), len(n.order))
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.mode != ThreatAlways && n.mode != ThreatAlpha {
		return nil, fmt.Errorf("agent: unknown threat mode %q", n.mode)
	}
	if n.rewirer == nil {
		n.rewirer = rewire.New(g, rng, n.DetectionProbability)
	}
	return n, nil
}

// Node returns the node with the given id.
func (n *Network) Node(id string) (*Node, bool) {
	node, ok := n.nodes[id]
	return node, ok
}

// Nodes returns node ids in creation order.
func (n *Network) Nodes() []string {
	return append([]string(nil), n.order...)
}

// OfKind returns the ids of every node of kind k in creation order.
func (n *Network) OfKind(k Kind) []string {
	var out []string
	for _, id := range n.order {
		if n.nodes[id].Kind == k {
			out = append(out, id)
		}
	}
	return out
}

// DetectionProbability returns the detection probability of id, or 0 when id
// is unknown.
func (n *Network) DetectionProbability(id string) float64 {
	if node, ok := n.nodes[id]; ok {
		return node.DetectionProbability
	}
	return 0
}

// Graph returns the shared topology.
func (n *Network) Graph() *graph.Graph { return n.graph }

func (n *Network) bernoulli(p float64) bool {
	return n.rng.Float64() < p
}

// Originate creates a packet at id addressed to a uniformly chosen other node
// and forwards it along the current shortest path.
func (n *Network) Originate(id string) (*Packet, error) {
	node, ok := n.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if len(n.order) < 2 {
		return nil, ErrTooFewNodes
	}
	threat := n.mode == ThreatAlways || n.bernoulli(node.Alpha)

	i := n.rng.Intn(len(n.order) - 1)
	if i >= n.position[id] {
		i++
	}
	return n.Dispatch(id, n.order[i], threat)
}

// Dispatch sends a packet from origin to destination. The origin never
// processes its own packet: handling starts at the first hop.
func (n *Network) Dispatch(origin, destination string, threat bool) (*Packet, error) {
	if _, ok := n.nodes[origin]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, origin)
	}
	if _, ok := n.nodes[destination]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, destination)
	}
	if origin == destination {
		return nil, fmt.Errorf("agent: packet from %s to itself", origin)
	}
	route, err := n.graph.ShortestPath(origin, destination)
	if err != nil {
		return nil, fmt.Errorf("route %s to %s: %w", origin, destination, err)
	}

	p := &Packet{
		ID:          uuid.NewString(),
		Origin:      origin,
		Destination: destination,
		Path:        route,
		Threat:      threat,
	}
	n.observer.PacketCreated(p)
	n.log.Debugw("Packet created", "packet", p.ID, "origin", origin, "destination", destination, "threat", threat, "hops", len(route)-1)

	p.Path = p.Path[1:]
	next, err := p.pop()
	if err != nil {
		return p, err
	}
	return p, n.Process(p, next, origin)
}

// Process handles p arriving at node at from its neighbour from.
func (n *Network) Process(p *Packet, at, from string) error {
	for {
		node, ok := n.nodes[at]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, at)
		}

		if at == p.Destination {
			if !p.Threat {
				return nil
			}
			if n.bernoulli(node.DetectionProbability) {
				n.observer.ThreatBlocked(at, p, true)
				n.log.Debugw("Threat blocked at destination", "packet", p.ID, "node", at)
				return nil
			}
			return n.leak(node, from, p)
		}

		if p.Threat && n.bernoulli(node.DetectionProbability) {
			n.observer.ThreatBlocked(at, p, false)
			n.log.Debugw("Threat blocked in transit", "packet", p.ID, "node", at)
			return nil
		}

		next, err := p.pop()
		if err != nil {
			return err
		}
		at, from = next, at
	}
}

func (n *Network) leak(node *Node, from string, p *Packet) error {
	if !node.Kind.Rewires() {
		n.log.Debugw("Threat leaked to authority", "packet", p.ID, "node", node.ID)
		return nil
	}
	n.observer.ThreatReceived(node.ID, from, p)

	res, err := n.rewirer.Rewire(node.ID, from)
	if err != nil {
		return fmt.Errorf("rewire %s away from %s: %w", node.ID, from, err)
	}
	n.observer.Rewired(node.ID, res)
	n.log.Debugw("Rewired after leak", "node", node.ID, "server", from, "outcome", res.Outcome.String(),
		"candidate", res.Candidate, "candidate_exposure", res.CandidateExposure, "server_exposure", res.ServerExposure)
	return nil
}
