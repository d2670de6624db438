// Package sim drives a balkanisation run. It builds the population and the
// initial scale-free topology, originates one packet per step from a random
// node and samples the fragmentation measures as the network rewires itself.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gustycube/balkansim/internal/agent"
	"github.com/gustycube/balkansim/internal/balkan"
	"github.com/gustycube/balkansim/internal/config"
	"github.com/gustycube/balkansim/internal/graph"
	"github.com/gustycube/balkansim/internal/metrics"
	"github.com/gustycube/balkansim/internal/rate"
	"github.com/gustycube/balkansim/internal/types"
)

// Params fixes the population and randomness of a run.
type Params struct {
	RunID            string
	Users            int
	Countries        int
	UserDetection    float64
	CountryDetection float64
	UserAlpha        float64
	CountryAlpha     float64
	EdgesPerNode     int
	Seed             int64
	ThreatMode       agent.ThreatMode
	TrackCentrality  bool
	PathCacheSize    int
}

// ParamsFromConfig extracts the simulation parameters from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		RunID:            cfg.Run,
		Users:            cfg.Users,
		Countries:        cfg.Countries,
		UserDetection:    cfg.UserDetection,
		CountryDetection: cfg.CountryDetection,
		UserAlpha:        cfg.UserAlpha,
		CountryAlpha:     cfg.CountryAlpha,
		EdgesPerNode:     cfg.EdgesPerNode,
		Seed:             cfg.Seed,
		ThreatMode:       agent.ThreatMode(cfg.ThreatMode),
		TrackCentrality:  cfg.TrackCentrality,
		PathCacheSize:    cfg.PathCacheSize,
	}
}

// Status is a point-in-time view of a run that is safe to read from other goroutines.
type Status struct {
	Step       int          `json:"step"`
	Target     int          `json:"target"`
	Components int          `json:"components"`
	Absolute   float64      `json:"absolute"`
	Relative   float64      `json:"relative"`
	Events     types.Events `json:"events"`
}

// Connected reports whether the last sampled topology was a single component.
func (s Status) Connected() bool { return s.Components == 1 }

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the logger. Per-packet events are logged at debug level.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Simulation) { s.log = l }
}

// WithPacer throttles Run to the pacer's step rate.
func WithPacer(p *rate.Pacer) Option {
	return func(s *Simulation) { s.pacer = p }
}

// WithTracer overrides the tracer used for step spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Simulation) { s.tracer = t }
}

// WithSampleEvery makes Run sample every n steps instead of every step.
func WithSampleEvery(n int) Option {
	return func(s *Simulation) {
		if n > 0 {
			s.sampleEvery = n
		}
	}
}

// Simulation owns the topology and the single random source of a run. Only
// Status may be called concurrently with Step, Sample or Run.
type Simulation struct {
	params      Params
	rng         *rand.Rand
	graph       *graph.Graph
	net         *agent.Network
	nodes       []string
	authorities []string
	rec         *recorder
	step        int

	log         *zap.SugaredLogger
	tracer      trace.Tracer
	pacer       *rate.Pacer
	sampleEvery int

	mu     sync.RWMutex
	status Status
}

// New builds the population and its initial Barabási-Albert topology. End
// users are named U0..Un and created before authorities C0..Cm.
func New(p Params, opts ...Option) (*Simulation, error) {
	if p.ThreatMode == "" {
		p.ThreatMode = agent.ThreatAlways
	}
	s := &Simulation{
		params:      p,
		rng:         rand.New(rand.NewSource(p.Seed)),
		rec:         &recorder{},
		log:         zap.NewNop().Sugar(),
		tracer:      otel.Tracer("github.com/gustycube/balkansim/internal/sim"),
		sampleEvery: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	var nodes []*agent.Node
	for i := 0; i < p.Users; i++ {
		nodes = append(nodes, &agent.Node{ID: fmt.Sprintf("U%d", i), Kind: agent.KindEndUser, DetectionProbability: p.UserDetection, Alpha: p.UserAlpha})
	}
	for i := 0; i < p.Countries; i++ {
		nodes = append(nodes, &agent.Node{ID: fmt.Sprintf("C%d", i), Kind: agent.KindAuthority, DetectionProbability: p.CountryDetection, Alpha: p.CountryAlpha})
	}
	for _, n := range nodes {
		s.nodes = append(s.nodes, n.ID)
	}

	g, err := graph.BarabasiAlbert(s.nodes, p.EdgesPerNode, s.rng)
	if err != nil {
		return nil, fmt.Errorf("generate topology: %w", err)
	}
	if p.PathCacheSize > 0 {
		if err := g.EnablePathCache(p.PathCacheSize); err != nil {
			return nil, err
		}
	}
	s.graph = g

	s.net, err = agent.NewNetwork(g, nodes, s.rng,
		agent.WithObserver(s.rec),
		agent.WithThreatMode(p.ThreatMode),
		agent.WithLogger(s.log),
	)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	s.authorities = s.net.OfKind(agent.KindAuthority)
	s.status.Components = g.NumComponents()

	s.log.Infow("Network built",
		"run", p.RunID,
		"users", p.Users,
		"countries", p.Countries,
		"edges", g.NumEdges(),
		"seed", p.Seed,
		"threat_mode", string(p.ThreatMode),
	)
	return s, nil
}

// Graph returns the live topology. It must not be used concurrently with Step.
func (s *Simulation) Graph() *graph.Graph { return s.graph }

// Network returns the node state machine.
func (s *Simulation) Network() *agent.Network { return s.net }

// Steps returns the number of steps taken so far.
func (s *Simulation) Steps() int { return s.step }

// Status returns the latest progress view.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Step originates one packet from a uniformly chosen node and carries it to
// completion, including any rewiring it triggers.
func (s *Simulation) Step(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "Step", trace.WithAttributes(attribute.Int("step", s.step+1)))
	defer span.End()

	origin := s.nodes[s.rng.Intn(len(s.nodes))]
	p, err := s.net.Originate(origin)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("step %d from %s: %w", s.step+1, origin, err)
	}
	span.SetAttributes(
		attribute.String("origin", origin),
		attribute.String("destination", p.Destination),
		attribute.Bool("threat", p.Threat),
	)

	s.step++
	metrics.StepsTotal.Inc()
	s.mu.Lock()
	s.status.Step = s.step
	s.mu.Unlock()
	return nil
}

// Sample measures the current topology.
func (s *Simulation) Sample() (types.Sample, error) {
	sample := types.Sample{
		RunID:      s.params.RunID,
		Step:       s.step,
		Absolute:   balkan.Absolute(s.graph),
		Components: s.graph.NumComponents(),
		Edges:      s.graph.NumEdges(),
		Events:     s.rec.snapshot(),
		ObservedAt: time.Now().UTC(),
	}
	// Without authorities there is nothing to be captured by.
	if len(s.authorities) > 0 {
		rel, err := balkan.Relative(s.graph, s.authorities)
		if err != nil {
			return types.Sample{}, fmt.Errorf("relative balkanisation at step %d: %w", s.step, err)
		}
		sample.Relative = rel
	}
	if s.params.TrackCentrality {
		sample.CentralNode, sample.MaxBetweenness = mostCentral(s.graph)
		metrics.MaxBetweenness.Set(sample.MaxBetweenness)
	}
	metrics.Balkanisation.WithLabelValues("absolute").Set(sample.Absolute)
	metrics.Balkanisation.WithLabelValues("relative").Set(sample.Relative)

	s.mu.Lock()
	s.status.Components = sample.Components
	s.status.Absolute = sample.Absolute
	s.status.Relative = sample.Relative
	s.status.Events = sample.Events
	s.mu.Unlock()
	return sample, nil
}

// Run takes steps more steps, handing a sample to emit at the start, every
// sampling interval and after the last step. It stops between steps when ctx
// is cancelled and aborts on the first error from the core or from emit.
func (s *Simulation) Run(ctx context.Context, steps int, emit func(types.Sample) error) error {
	s.mu.Lock()
	s.status.Target = s.step + steps
	s.mu.Unlock()

	record := func() error {
		sample, err := s.Sample()
		if err != nil {
			return err
		}
		if emit == nil {
			return nil
		}
		return emit(sample)
	}

	if s.step == 0 {
		if err := record(); err != nil {
			return err
		}
	}
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.pacer.Wait(ctx); err != nil {
			return err
		}
		if err := s.Step(ctx); err != nil {
			return err
		}
		if s.step%s.sampleEvery == 0 || i == steps-1 {
			if err := record(); err != nil {
				return err
			}
		}
	}

	st := s.Status()
	s.log.Infow("Run finished",
		"run", s.params.RunID,
		"steps", s.step,
		"absolute", st.Absolute,
		"relative", st.Relative,
		"components", st.Components,
		"threats", st.Events.Threats,
		"blocked", st.Events.Blocked(),
		"leaked", st.Events.Received,
		"rewired", st.Events.Rewired,
	)
	return nil
}

// tieTolerance absorbs summation-order noise in betweenness scores.
const tieTolerance = 1e-12

// mostCentral returns the node with the highest betweenness, preferring the
// earliest created on ties.
func mostCentral(g *graph.Graph) (string, float64) {
	bc := g.BetweennessCentrality()
	best, top := "", -1.0
	for _, id := range g.Nodes() {
		if bc[id] > top+tieTolerance {
			best, top = id, bc[id]
		}
	}
	if best == "" {
		return "", 0
	}
	return best, top
}
