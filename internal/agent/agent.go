// Package agent implements the per-node packet state machine. Packets travel
// hop by hop along a precomputed shortest path, every hop may stop a threat, and
// a threat that reaches an end user unblocked makes that user rewire.
package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPathExhausted = errors.New("agent: packet path exhausted before reaching destination")
	ErrUnknownNode   = errors.New("agent: unknown node")
	ErrTooFewNodes   = errors.New("agent: need at least two nodes to route a packet")
	ErrProbability   = errors.New("agent: probability must be within [0, 1]")
)

// Kind selects how a node reacts to a threat it failed to stop.
type Kind int

const (
	// KindEndUser nodes rewire the link a leaked threat arrived on.
	KindEndUser Kind = iota
	// KindAuthority nodes ignore leaked threats.
	KindAuthority
)

func (k Kind) String() string {
	switch k {
	case KindEndUser:
		return "user"
	case KindAuthority:
		return "country"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Rewires reports whether a leaked threat triggers rewiring for this kind.
func (k Kind) Rewires() bool { return k == KindEndUser }

// Node is one simulated participant.
type Node struct {
	ID                   string  `json:"id"`
	Kind                 Kind    `json:"kind"`
	DetectionProbability float64 `json:"detection_probability"`
	Alpha                float64 `json:"alpha"`
}

func (n *Node) validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownNode)
	}
	if n.DetectionProbability < 0 || n.DetectionProbability > 1 {
		return fmt.Errorf("%w: %s detection %v", ErrProbability, n.ID, n.DetectionProbability)
	}
	if n.Alpha < 0 || n.Alpha > 1 {
		return fmt.Errorf("%w: %s alpha %v", ErrProbability, n.ID, n.Alpha)
	}
	return nil
}

// Packet is a message in flight. Path holds the hops still ahead of the current
// holder and always ends with Destination.
type Packet struct {
	ID          string   `json:"id"`
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	Path        []string `json:"path"`
	Threat      bool     `json:"threat"`
}

func (p *Packet) pop() (string, error) {
	if len(p.Path) == 0 {
		return "", fmt.Errorf("%w: packet %s from %s to %s", ErrPathExhausted, p.ID, p.Origin, p.Destination)
	}
	next := p.Path[0]
	p.Path = p.Path[1:]
	return next, nil
}

func (p *Packet) String() string {
	kind := "clean"
	if p.Threat {
		kind = "threat"
	}
	return fmt.Sprintf("%s %s %s->%s via [%s]", kind, p.ID, p.Origin, p.Destination, strings.Join(p.Path, " "))
}
