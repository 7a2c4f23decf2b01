// Package resilience adapts the teacher monorepo's shared resilience
// primitives (github.com/swarmguard/libs/go/core/resilience) to the
// supervisor's needs: a generic retry helper and a token-bucket rate
// limiter. The adaptive circuit breaker is deliberately not carried
// forward here — see DESIGN.md for why.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Retry runs fn until it succeeds, attempts is exhausted, or ctx is
// cancelled, sleeping an exponentially growing, jittered delay between
// attempts (capped at 60s), matching libs/go/core/resilience/retry.go.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	cur := delay
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			jittered := time.Duration(rand.Int63n(int64(cur) + 1))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			cur *= 2
			if cur > 60*time.Second {
				cur = 60 * time.Second
			}
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
