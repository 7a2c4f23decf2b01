// Command supervisor loads a dependency-file describing a fleet of
// long-running services and runs the command dispatcher against it until
// EXIT (or an interrupt) tears the whole graph down.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/swarmguard/supervisor/internal/auditlog"
	"github.com/swarmguard/supervisor/internal/dispatcher"
	"github.com/swarmguard/supervisor/internal/graph"
	"github.com/swarmguard/supervisor/internal/logging"
	"github.com/swarmguard/supervisor/internal/natsbus"
	"github.com/swarmguard/supervisor/internal/reporter"
	"github.com/swarmguard/supervisor/internal/resilience"
	"github.com/swarmguard/supervisor/internal/supervisor"
	"github.com/swarmguard/supervisor/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	auditDB := flag.String("audit-db", "", "optional bbolt path to mirror the command journal to")
	reportCron := flag.String("report-cron", "*/10 * * * * *", "cron expression (seconds-enabled) for the state-snapshot reporter")
	rateLimit := flag.Float64("rate-limit", 50, "max dispatcher commands per second")
	natsURL := flag.String("nats-url", os.Getenv("SUPERVISOR_NATS_URL"), "optional NATS URL for a secondary command source")
	natsSubject := flag.String("nats-subject", "supervisor.commands", "NATS subject to subscribe to when -nats-url is set")
	flag.Parse()

	depFile := "services.txt"
	if flag.NArg() > 0 {
		depFile = flag.Arg(0)
	}

	logger := logging.Init("supervisor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceShutdown := telemetry.InitTracer(ctx, "supervisor")
	metricsShutdown, metrics := telemetry.InitMetrics(ctx, "supervisor")
	defer func() {
		telemetry.Flush(context.Background(), traceShutdown)
		telemetry.Flush(context.Background(), metricsShutdown)
	}()

	g, err := graph.Load(ctx, depFile)
	if err != nil {
		logger.Error("failed to load dependency graph", "file", depFile, "error", err)
		return 1
	}
	logger.Info("dependency graph loaded", "file", depFile, "services", len(g.Nodes))

	audit, err := auditlog.New(*auditDB)
	if err != nil {
		logger.Error("failed to open audit journal", "error", err)
		return 1
	}
	defer audit.Close()

	mgr := supervisor.NewManager(g, logger, metrics)

	limiter := resilience.NewRateLimiter(*rateLimit, *rateLimit, 0, 0)
	disp := dispatcher.New(mgr, logger, limiter, audit, metrics)

	rep, err := reporter.New(mgr, logger, *reportCron)
	if err != nil {
		logger.Warn("reporter disabled: invalid cron expression", "error", err)
	} else {
		rep.Start()
		defer rep.Stop(context.Background())
	}

	if *natsURL != "" {
		bus, err := natsbus.Subscribe(ctx, *natsURL, *natsSubject, logger, disp.Enqueue)
		if err != nil {
			logger.Warn("natsbus disabled: subscribe failed", "error", err)
		} else {
			defer bus.Close()
		}
	}

	go readStdinCommands(ctx, disp, logger)

	if err := disp.Run(ctx); err != nil {
		logger.Error("dispatcher exited with error", "error", err)
		return 1
	}
	logger.Info("supervisor exited cleanly")
	return 0
}

// readStdinCommands feeds stdin lines into the dispatcher queue, one
// command per line per spec §6; EOF is equivalent to sending EXIT.
func readStdinCommands(ctx context.Context, disp *dispatcher.Dispatcher, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := disp.Enqueue(ctx, scanner.Text()); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stdin read error, treating as EOF", "error", err)
	}
	_ = disp.Enqueue(ctx, "EXIT")
}
