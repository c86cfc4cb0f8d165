// Package retry paces a bounded-attempt resend loop at a constant
// interval, built on golang.org/x/time/rate.
package retry

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Schedule paces a bounded number of attempts at a constant interval.
type Schedule struct {
	limiter *rate.Limiter
	budget  int
}

// NewSchedule returns a Schedule that allows one attempt immediately and
// then one every interval, up to budget attempts total.
func NewSchedule(interval time.Duration, budget int) *Schedule {
	return &Schedule{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		budget:  budget,
	}
}

// Attempts returns the configured attempt budget.
func (s *Schedule) Attempts() int {
	return s.budget
}

// Wait blocks until the next attempt is due, honouring ctx cancellation.
// Callers drive the attempt count themselves (see session's invite loop);
// Wait only paces the interval between sends.
func (s *Schedule) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}
