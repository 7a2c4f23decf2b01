// Package payload defines the opaque work contract every service executes
// while RUNNING, plus the reference "sleep and print" demo implementation
// described in spec §4.5.
package payload

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Func is the user-supplied capability a service runs once all of its
// dependencies are RUNNING. stopRequested is polled cooperatively; the
// engine never forcibly kills a payload goroutine. The payload may also
// observe ctx cancellation as an equivalent stop signal.
type Func func(ctx context.Context, stopRequested func() bool) error

// Demo returns the reference payload: it sleeps a uniformly random
// [0,1000)ms interval and logs once per iteration, looping until
// stopRequested reports true.
func Demo(logger *slog.Logger, id string) Func {
	return func(ctx context.Context, stopRequested func() bool) error {
		for !stopRequested() {
			d := time.Duration(rand.Intn(1000)) * time.Millisecond
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil
			}
			logger.Debug("payload tick", "service", id)
		}
		return nil
	}
}
