// Package reporter periodically logs a snapshot of how many services sit
// in each lifecycle state. It is purely observational: it never issues a
// resume or stop command itself, which would amount to scheduling based on
// resource utilisation — an explicit non-goal of the supervisor. Grounded
// on services/orchestrator/scheduler.go's cron.New(cron.WithSeconds())
// usage and its GetScheduleStats reporting style.
package reporter

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/supervisor/internal/supervisor"
)

// Reporter wraps a cron schedule that logs a state-count snapshot.
type Reporter struct {
	cron   *cron.Cron
	mgr    *supervisor.Manager
	logger *slog.Logger
}

// New builds a Reporter that will log a snapshot on the given cron
// expression (seconds-enabled, e.g. "*/10 * * * * *" for every 10s) once
// Start is called.
func New(mgr *supervisor.Manager, logger *slog.Logger, cronExpr string) (*Reporter, error) {
	r := &Reporter{
		cron:   cron.New(cron.WithSeconds()),
		mgr:    mgr,
		logger: logger,
	}
	if _, err := r.cron.AddFunc(cronExpr, r.snapshot); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the periodic snapshot schedule; it returns immediately.
func (r *Reporter) Start() {
	r.cron.Start()
}

// Stop halts the schedule, waiting for any in-flight run to finish or ctx
// to be cancelled.
func (r *Reporter) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

func (r *Reporter) snapshot() {
	counts := make(map[string]int, 5)
	for _, id := range r.mgr.IDs() {
		svc, ok := r.mgr.Get(id)
		if !ok {
			continue
		}
		counts[svc.State().String()]++
	}
	r.logger.Info("service state snapshot",
		"created", counts["CREATED"],
		"waiting_run", counts["WAITING_RUN"],
		"running", counts["RUNNING"],
		"waiting_stop", counts["WAITING_STOP"],
		"terminated", counts["TERMINATED"],
	)
}
