package gateway

import (
	"context"
	"log"
	"time"
)

const emergencyThreshold = 10

// Gateway funnels every remote API call through a shared rate budget. It
// never fails a call on its own account; it only delays, and a cancelled
// wait propagates the caller's context error.
type Gateway struct {
	budget *RateBudget
}

func New(budget *RateBudget) *Gateway {
	return &Gateway{budget: budget}
}

func (g *Gateway) Budget() *RateBudget {
	return g.budget
}

// Do records the call against the budget and then runs fn. Recording
// happens first: when fn feeds the server's own rate headers back into
// the budget, that figure already counts this call and must stand. The
// only suspension point is the wait for the budget reset when the
// remaining allowance has dropped to the emergency threshold.
func (g *Gateway) Do(ctx context.Context, fn func() error) error {
	remaining, ceiling, resetAt := g.budget.Snapshot()

	if ceiling > 0 && remaining <= ceiling/5 {
		log.Printf("Rate budget low: %d/%d remaining, resets at %s", remaining, ceiling, resetAt.Format(time.RFC3339))
	}

	if remaining <= emergencyThreshold {
		if wait := resetAt.Sub(g.budget.now()); wait > 0 {
			log.Printf("Rate budget exhausted, waiting %s for reset", wait.Round(time.Second))
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		}
	}

	if delay := g.budget.paceDelay(); delay > 0 {
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	g.budget.Record()
	return fn()
}

// Call wraps Do for invocations that produce a result.
func Call[T any](ctx context.Context, g *Gateway, fn func() (T, error)) (T, error) {
	var result T
	err := g.Do(ctx, func() error {
		var callErr error
		result, callErr = fn()
		return callErr
	})
	return result, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
