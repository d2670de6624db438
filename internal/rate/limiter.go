package rate

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer spaces simulation steps out in wall-clock time so a run can be
// watched live. A nil Pacer or one built with a non-positive rate never waits.
type Pacer struct {
	limiter *rate.Limiter
}

func NewPacer(stepsPerSecond float64) *Pacer {
	if stepsPerSecond <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(stepsPerSecond), 1)}
}

// Wait blocks until the next step may run or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// Unlimited reports whether the pacer never waits.
func (p *Pacer) Unlimited() bool {
	return p == nil || p.limiter == nil
}
