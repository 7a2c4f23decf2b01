// Package dispatcher implements the single-threaded command loop described
// in spec §4.4: it drains a bounded FIFO of textual commands, rate-limits
// and audits each one, then translates it into a Manager operation.
package dispatcher

import (
	"context"
	"log/slog"
	"strings"

	"github.com/swarmguard/supervisor/internal/auditlog"
	"github.com/swarmguard/supervisor/internal/resilience"
	"github.com/swarmguard/supervisor/internal/supervisor"
	"github.com/swarmguard/supervisor/internal/telemetry"
)

// QueueCapacity bounds the command FIFO; producers (stdin, NATS, tests)
// block on Enqueue once it is full, providing natural back-pressure.
const QueueCapacity = 256

// Dispatcher owns the command queue and the single goroutine that drains
// it. It is not safe to call Run more than once.
type Dispatcher struct {
	mgr     *supervisor.Manager
	queue   chan string
	logger  *slog.Logger
	limiter *resilience.RateLimiter
	audit   *auditlog.Log
	metrics telemetry.Metrics
}

// New builds a Dispatcher over mgr. limiter and audit may be nil, in which
// case rate limiting and journaling are skipped.
func New(mgr *supervisor.Manager, logger *slog.Logger, limiter *resilience.RateLimiter, audit *auditlog.Log, metrics telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		mgr:     mgr,
		queue:   make(chan string, QueueCapacity),
		logger:  logger,
		limiter: limiter,
		audit:   audit,
		metrics: metrics,
	}
}

// Enqueue pushes a command line onto the bounded queue, blocking if full or
// until ctx is cancelled.
func (d *Dispatcher) Enqueue(ctx context.Context, line string) error {
	select {
	case d.queue <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue to completion, one command at a time, until EXIT is
// processed or ctx is cancelled (an interrupt delivered to the dispatcher
// is treated as an implicit EXIT, per spec §5 Cancellation).
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case line := <-d.queue:
			if d.handle(ctx, line) {
				return nil
			}
		case <-ctx.Done():
			d.logger.Warn("dispatcher interrupted, forcing implicit EXIT")
			return d.mgr.Exit(context.Background())
		}
	}
}

// handle processes one command line and reports whether the dispatcher
// should stop (true only for EXIT).
func (d *Dispatcher) handle(ctx context.Context, line string) bool {
	if d.limiter != nil && !d.limiter.Allow() {
		d.logger.Warn("command dropped by rate limiter", "command", line)
		if d.metrics.CommandsDrops != nil {
			d.metrics.CommandsDrops.Add(ctx, 1)
		}
		return false
	}
	if d.audit != nil {
		d.audit.Append("dispatch", "dispatcher", line, "")
	}
	if d.metrics.Commands != nil {
		d.metrics.Commands.Add(ctx, 1)
	}

	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch verb {
	case "RESUME-ALL", "START-ALL":
		d.mgr.ResumeAll()
	case "STOP-ALL":
		d.mgr.StopAll()
	case "RESUME-SERVICE", "START-SERVICE":
		if err := d.mgr.ResumeByID(arg); err != nil {
			d.logger.Warn("resume target unknown", "error", err)
		}
	case "STOP-SERVICE":
		if err := d.mgr.StopByID(arg); err != nil {
			d.logger.Warn("stop target unknown", "error", err)
		}
	case "EXIT":
		if err := d.mgr.Exit(ctx); err != nil {
			d.logger.Warn("exit join interrupted", "error", err)
		}
		return true
	case "":
		// blank line on stdin; ignored, matches the graph loader's
		// tolerance of blank separators.
	default:
		d.logger.Warn("malformed command, ignoring", "command", line)
	}
	return false
}
