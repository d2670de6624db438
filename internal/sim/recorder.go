package sim

import (
	"sync"

	"github.com/gustycube/balkansim/internal/agent"
	"github.com/gustycube/balkansim/internal/metrics"
	"github.com/gustycube/balkansim/internal/rewire"
	"github.com/gustycube/balkansim/internal/types"
)

// recorder turns packet notifications into running counts and Prometheus metrics.
type recorder struct {
	mu     sync.RWMutex
	events types.Events
}

func (r *recorder) PacketCreated(p *agent.Packet) {
	kind := "clean"
	if p.Threat {
		kind = "threat"
	}
	metrics.PacketsTotal.WithLabelValues(kind).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.Packets++
	if p.Threat {
		r.events.Threats++
	}
}

func (r *recorder) ThreatBlocked(_ string, _ *agent.Packet, atDestination bool) {
	where := "transit"
	if atDestination {
		where = "destination"
	}
	metrics.ThreatsBlocked.WithLabelValues(where).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	if atDestination {
		r.events.BlockedDestination++
	} else {
		r.events.BlockedTransit++
	}
}

func (r *recorder) ThreatReceived(string, string, *agent.Packet) {
	metrics.ThreatsLeaked.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events.Received++
}

func (r *recorder) Rewired(_ string, res rewire.Result) {
	metrics.RewiresTotal.WithLabelValues(res.Outcome.String()).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	switch res.Outcome {
	case rewire.OutcomeRewired:
		r.events.Rewired++
	case rewire.OutcomeRestored:
		r.events.Restored++
	case rewire.OutcomeNoCandidate:
		r.events.NoCandidate++
	}
}

func (r *recorder) snapshot() types.Events {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events
}
