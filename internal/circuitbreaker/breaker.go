package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrOpenState       = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold uint32

	// Timeout is how long the circuit stays open before letting a probe through
	Timeout time.Duration

	// HalfOpenSuccesses is the number of successful probes that close the circuit
	HalfOpenSuccesses uint32

	// OnStateChange is called whenever a breaker changes state
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:  3,
		Timeout:           30 * time.Second,
		HalfOpenSuccesses: 1,
	}
}

// Breaker guards calls to one sink
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	inFlight  bool
	openedAt  time.Time
}

// New creates a breaker for the named sink
func New(name string, config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	c := *config
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 1
	}
	if c.HalfOpenSuccesses == 0 {
		c.HalfOpenSuccesses = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return &Breaker{name: name, config: c, now: time.Now}
}

// State returns the current state, moving an expired open circuit to half-open
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Execute runs fn unless the circuit is open
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err == nil)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	switch b.state {
	case StateOpen:
		return ErrOpenState
	case StateHalfOpen:
		// one probe at a time
		if b.inFlight {
			return ErrTooManyRequests
		}
		b.inFlight = true
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight = false

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		if !success {
			b.transition(StateOpen)
			return
		}
		b.successes++
		if b.successes >= b.config.HalfOpenSuccesses {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) refresh() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Timeout {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if b.config.OnStateChange != nil && from != to {
		b.config.OnStateChange(b.name, from, to)
	}
}

// SinkBreaker manages one circuit breaker per sink
type SinkBreaker struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   *Config
}

// NewSinkBreaker creates a new per-sink circuit breaker
func NewSinkBreaker(config *Config) *SinkBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	return &SinkBreaker{
		breakers: make(map[string]*Breaker),
		config:   config,
	}
}

// Execute runs the function with the circuit breaker of the given sink
func (sb *SinkBreaker) Execute(sink string, fn func() error) error {
	return sb.get(sink).Execute(fn)
}

func (sb *SinkBreaker) get(sink string) *Breaker {
	sb.mu.RLock()
	b, ok := sb.breakers[sink]
	sb.mu.RUnlock()
	if ok {
		return b
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if b, ok := sb.breakers[sink]; ok {
		return b
	}
	b = New(sink, sb.config)
	sb.breakers[sink] = b
	return b
}

// State returns the state for a specific sink
func (sb *SinkBreaker) State(sink string) State {
	return sb.get(sink).State()
}

// Stats returns the state of every sink seen so far
func (sb *SinkBreaker) Stats() map[string]string {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	out := make(map[string]string, len(sb.breakers))
	for name, b := range sb.breakers {
		out[name] = b.State().String()
	}
	return out
}

// Reset forgets the breaker of a specific sink
func (sb *SinkBreaker) Reset(sink string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	delete(sb.breakers, sink)
}
