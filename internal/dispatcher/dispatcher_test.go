package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmguard/supervisor/internal/auditlog"
	"github.com/swarmguard/supervisor/internal/graph"
	"github.com/swarmguard/supervisor/internal/resilience"
	"github.com/swarmguard/supervisor/internal/supervisor"
	"github.com/swarmguard/supervisor/internal/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildManager(t *testing.T) *supervisor.Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "services.txt")
	if err := os.WriteFile(path, []byte("d b c\nb a\nc a\ne\n"), 0o600); err != nil {
		t.Fatalf("write dependency file: %v", err)
	}
	g, err := graph.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("graph.Load: %v", err)
	}
	return supervisor.NewManager(g, discardLogger(), telemetry.Metrics{})
}

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestHandleResumeAllAndStopAll(t *testing.T) {
	mgr := buildManager(t)
	d := New(mgr, discardLogger(), nil, nil, telemetry.Metrics{})

	if done := d.handle(context.Background(), "RESUME-ALL"); done {
		t.Fatal("RESUME-ALL should not signal dispatcher shutdown")
	}
	svc, _ := mgr.Get("e")
	if !eventually(2*time.Second, func() bool { return svc.State() == supervisor.Running }) {
		t.Fatalf("RESUME-ALL did not bring e to RUNNING")
	}

	d.handle(context.Background(), "STOP-ALL")
	if !eventually(2*time.Second, func() bool { return svc.State() == supervisor.WaitingRun }) {
		t.Fatalf("STOP-ALL did not return e to WAITING_RUN")
	}
}

func TestHandleStartIsSynonymForResume(t *testing.T) {
	mgr := buildManager(t)
	d := New(mgr, discardLogger(), nil, nil, telemetry.Metrics{})

	d.handle(context.Background(), "START-SERVICE e")
	svc, _ := mgr.Get("e")
	if !eventually(2*time.Second, func() bool { return svc.State() == supervisor.Running }) {
		t.Fatalf("START-SERVICE should behave exactly like RESUME-SERVICE")
	}
}

func TestHandleUnknownServiceIsLoggedNotFatal(t *testing.T) {
	mgr := buildManager(t)
	d := New(mgr, discardLogger(), nil, nil, telemetry.Metrics{})

	if done := d.handle(context.Background(), "RESUME-SERVICE ghost"); done {
		t.Fatal("an unknown target must not be treated as EXIT")
	}
}

func TestHandleBlankAndMalformedLinesAreIgnored(t *testing.T) {
	mgr := buildManager(t)
	d := New(mgr, discardLogger(), nil, nil, telemetry.Metrics{})

	if done := d.handle(context.Background(), ""); done {
		t.Fatal("blank line must not stop the dispatcher")
	}
	if done := d.handle(context.Background(), "DANCE-ALL"); done {
		t.Fatal("an unrecognised verb must not stop the dispatcher")
	}
}

func TestHandleExitTerminatesAndReportsDone(t *testing.T) {
	mgr := buildManager(t)
	d := New(mgr, discardLogger(), nil, nil, telemetry.Metrics{})

	d.handle(context.Background(), "RESUME-ALL")
	svc, _ := mgr.Get("e")
	eventually(2*time.Second, func() bool { return svc.State() == supervisor.Running })

	done := d.handle(context.Background(), "EXIT")
	if !done {
		t.Fatal("EXIT must signal the dispatcher to stop")
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s, _ := mgr.Get(id)
		if s.State() != supervisor.Terminated {
			t.Errorf("service %s not TERMINATED after EXIT, got %v", id, s.State())
		}
	}
}

// Regression: EXIT as the very first command (mirroring EOF on stdin
// immediately after startup, spec §6) must still terminate and join
// every service, not just ones a RESUME happened to reach first.
func TestHandleExitWithNoPriorResumeTerminatesEverything(t *testing.T) {
	mgr := buildManager(t)
	d := New(mgr, discardLogger(), nil, nil, telemetry.Metrics{})

	done := d.handle(context.Background(), "EXIT")
	if !done {
		t.Fatal("EXIT must signal the dispatcher to stop")
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s, _ := mgr.Get(id)
		if s.State() != supervisor.Terminated {
			t.Errorf("service %s not TERMINATED after an EXIT with no prior RESUME, got %v", id, s.State())
		}
	}
}

func TestRunStopsAfterEnqueuedExit(t *testing.T) {
	mgr := buildManager(t)
	d := New(mgr, discardLogger(), nil, nil, telemetry.Metrics{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.Enqueue(ctx, "RESUME-ALL"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := d.Enqueue(ctx, "EXIT"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned after EXIT was enqueued")
	}
}

func TestRateLimiterDropsExcessCommands(t *testing.T) {
	mgr := buildManager(t)
	limiter := resilience.NewRateLimiter(1, 0, 0, 0)
	d := New(mgr, discardLogger(), limiter, nil, telemetry.Metrics{})

	if done := d.handle(context.Background(), "RESUME-ALL"); done {
		t.Fatal("unexpected EXIT signal")
	}
	svc, _ := mgr.Get("e")
	if !eventually(2*time.Second, func() bool { return svc.State() == supervisor.Running }) {
		t.Fatalf("first command should have been allowed through")
	}

	d.handle(context.Background(), "STOP-ALL")
	// The rate limiter's single token was already spent; this command
	// should be dropped rather than applied, so e stays RUNNING.
	time.Sleep(50 * time.Millisecond)
	if svc.State() != supervisor.Running {
		t.Fatalf("second command should have been dropped by the rate limiter, got state %v", svc.State())
	}
}

func TestDispatchAppendsAuditEntries(t *testing.T) {
	mgr := buildManager(t)
	audit, err := auditlog.New("")
	if err != nil {
		t.Fatalf("auditlog.New: %v", err)
	}
	defer audit.Close()

	d := New(mgr, discardLogger(), nil, audit, telemetry.Metrics{})
	d.handle(context.Background(), "RESUME-ALL")

	latest, ok := audit.Latest()
	if !ok {
		t.Fatal("expected an audit entry after dispatching a command")
	}
	if latest.Resource != "RESUME-ALL" {
		t.Errorf("want audited resource RESUME-ALL, got %q", latest.Resource)
	}
}
