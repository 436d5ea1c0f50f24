// Package pace spaces out calls to external services with a fixed minimum
// delay. The first call never waits.
package pace

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum interval between successive Wait returns.
type Pacer struct {
	limiter *rate.Limiter
}

// New returns a Pacer that lets one call through every delay. A zero or
// negative delay disables pacing.
func New(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next call is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
