package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg *Config) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	b := New("test", cfg)
	b.now = c.now
	return b, c
}

var errSink = errors.New("sink error")

func fail() error    { return errSink }
func succeed() error { return nil }

func TestBreaker_ClosedState(t *testing.T) {
	b, _ := newTestBreaker(&Config{FailureThreshold: 3, Timeout: time.Second})

	if b.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", b.State())
	}
	for i := 0; i < 5; i++ {
		if err := b.Execute(succeed); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	// Failures separated by a success never accumulate.
	for i := 0; i < 5; i++ {
		_ = b.Execute(fail)
		_ = b.Execute(fail)
		_ = b.Execute(succeed)
	}
	if b.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", b.State())
	}
}

func TestBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(&Config{FailureThreshold: 3, Timeout: time.Second})

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	if b.State() != StateClosed {
		t.Errorf("expected StateClosed below threshold, got %v", b.State())
	}
	if err := b.Execute(fail); !errors.Is(err, errSink) {
		t.Errorf("expected the sink error to pass through, got %v", err)
	}
	if b.State() != StateOpen {
		t.Errorf("expected StateOpen, got %v", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpenState) || called {
		t.Errorf("expected ErrOpenState without a call, got %v (called=%v)", err, called)
	}
}

func TestBreaker_HalfOpen(t *testing.T) {
	b, c := newTestBreaker(&Config{FailureThreshold: 1, Timeout: time.Minute, HalfOpenSuccesses: 2})

	_ = b.Execute(fail)
	c.advance(59 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen before the timeout, got %v", b.State())
	}
	c.advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen after the timeout, got %v", b.State())
	}

	// A failed probe reopens the circuit.
	_ = b.Execute(fail)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen after a failed probe, got %v", b.State())
	}

	c.advance(time.Minute)
	_ = b.Execute(succeed)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen after one success, got %v", b.State())
	}
	_ = b.Execute(succeed)
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", b.State())
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, c := newTestBreaker(&Config{FailureThreshold: 1, Timeout: time.Second})
	_ = b.Execute(fail)
	c.advance(time.Second)

	var inner error
	err := b.Execute(func() error {
		inner = b.Execute(succeed)
		return nil
	})
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if !errors.Is(inner, ErrTooManyRequests) {
		t.Errorf("expected ErrTooManyRequests for a concurrent probe, got %v", inner)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var changes []string
	b, c := newTestBreaker(&Config{
		FailureThreshold: 1,
		Timeout:          time.Second,
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(fail)
	c.advance(time.Second)
	_ = b.Execute(succeed)

	want := []string{"test:closed->open", "test:open->half-open", "test:half-open->closed"}
	if len(changes) != len(want) {
		t.Fatalf("expected %v, got %v", want, changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], changes[i])
		}
	}
}

func TestSinkBreaker(t *testing.T) {
	sb := NewSinkBreaker(&Config{FailureThreshold: 2, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		_ = sb.Execute("http", fail)
	}
	if sb.State("http") != StateOpen {
		t.Errorf("expected http open, got %v", sb.State("http"))
	}
	if err := sb.Execute("redis", succeed); err != nil {
		t.Errorf("redis must be unaffected: %v", err)
	}

	stats := sb.Stats()
	if stats["http"] != "open" || stats["redis"] != "closed" {
		t.Errorf("unexpected stats: %v", stats)
	}

	sb.Reset("http")
	if sb.State("http") != StateClosed {
		t.Errorf("expected a fresh breaker after reset, got %v", sb.State("http"))
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
