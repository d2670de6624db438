package types

import "time"

// Events counts what happened to packets since the start of a run.
type Events struct {
	Packets            int `json:"packets"`
	Threats            int `json:"threats"`
	BlockedTransit     int `json:"blocked_transit"`
	BlockedDestination int `json:"blocked_destination"`
	Received           int `json:"received"`
	Rewired            int `json:"rewired"`
	Restored           int `json:"restored"`
	NoCandidate        int `json:"no_candidate"`
}

// Blocked returns the number of threats stopped anywhere.
func (e Events) Blocked() int { return e.BlockedTransit + e.BlockedDestination }

// Sample is the state of the network after a step
type Sample struct {
	RunID          string    `json:"run_id"`
	Step           int       `json:"step"`
	Absolute       float64   `json:"absolute"`
	Relative       float64   `json:"relative"`
	Components     int       `json:"components"`
	Edges          int       `json:"edges"`
	MaxBetweenness float64   `json:"max_betweenness,omitempty"`
	CentralNode    string    `json:"central_node,omitempty"`
	Events         Events    `json:"events"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Batch represents a collection of samples shipped together
type Batch struct {
	RunID     string    `json:"run_id"`
	BatchID   string    `json:"batch_id"`
	Timestamp time.Time `json:"timestamp"`
	Samples   []Sample  `json:"samples"`
}
