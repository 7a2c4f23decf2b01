package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmguard/supervisor/internal/latch"
	"github.com/swarmguard/supervisor/internal/payload"
	"github.com/swarmguard/supervisor/internal/telemetry"
)

const defaultStopTimeout = 1500 * time.Millisecond

// Service is a single node of the dependency graph together with its
// worker task. Dependencies and Dependents are immutable after the
// Manager wires the graph; every other field is owned by the service's
// own monitor (mu/cond), matching the "never hold two monitors at once"
// locking discipline in spec §5.
type Service struct {
	ID           string
	Dependencies []*Service
	Dependents   []*Service

	mu   sync.Mutex
	cond *sync.Cond

	state State

	// runningDeps is the start-barrier: populated fresh on every start
	// attempt, one entry per dependency that has notified us it reached
	// RUNNING for this attempt.
	runningDeps map[string]struct{}
	// runningDependents tracks which of our dependents have registered
	// interest in us (via resumeFor) and have not yet left running; the
	// stop handshake cascades to, and drains against, this set.
	runningDependents map[string]*Service

	stopRequested      bool
	terminateRequested bool
	resumeRequested    bool
	workerSpawned      bool

	stopTimeout time.Duration
	stopDeadlineSet bool
	stopDeadline    time.Time

	isBad bool

	payload payload.Func
	logger  *slog.Logger
	metrics telemetry.Metrics

	done chan struct{}
}

func newService(id string, logger *slog.Logger, metrics telemetry.Metrics) *Service {
	s := &Service{
		ID:                id,
		runningDeps:       make(map[string]struct{}),
		runningDependents: make(map[string]*Service),
		stopTimeout:       defaultStopTimeout,
		logger:            logger,
		metrics:           metrics,
		done:              make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetPayload installs the work function the service runs while RUNNING.
// Not safe to call once the worker has been spawned.
func (s *Service) SetPayload(p payload.Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = p
}

// SetBad toggles the test hook that makes the service ignore stop
// requests entirely, used to exercise the stop-timeout path (spec §8 S6).
func (s *Service) SetBad(bad bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isBad = bad
}

// IsBad reports the current bad-payload test hook value.
func (s *Service) IsBad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isBad
}

// SetStopTimeout configures the bound on the local dependents-drain wait.
// Negative durations are rejected; engine state is left unchanged.
func (s *Service) SetStopTimeout(d time.Duration) error {
	if d < 0 {
		return &InvalidTimeoutError{Value: d.String()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimeout = d
	return nil
}

// State returns the current lifecycle state (for assertions/tests).
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Resume is the public resume(self) operation: transitions
// CREATED/WAITING_STOP (idle) toward WAITING_RUN and ensures a worker is
// running. Idempotent.
func (s *Service) Resume() {
	s.resumeFor(nil)
}

// resumeFor implements resume_for(parent) from the start handshake: it
// registers dependent (if non-nil) into s.runningDependents and ensures
// s's worker exists, notifying dependent immediately if s is already
// RUNNING.
func (s *Service) resumeFor(dependent *Service) {
	s.mu.Lock()
	if dependent != nil {
		s.runningDependents[dependent.ID] = dependent
	}
	s.resumeRequested = true
	spawn := false
	if !s.workerSpawned && s.state != Terminated {
		s.workerSpawned = true
		spawn = true
	}
	alreadyRunning := s.state == Running
	s.cond.Broadcast()
	s.mu.Unlock()

	if spawn {
		go s.workerLoop()
	}
	if alreadyRunning && dependent != nil {
		dependent.notifyDependencyRunning(s)
	}
}

// notifyDependencyRunning marks dep as satisfied in s's start-barrier.
func (s *Service) notifyDependencyRunning(dep *Service) {
	s.mu.Lock()
	s.runningDeps[dep.ID] = struct{}{}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// removeDependent drops dependent from s.runningDependents, letting s's
// own drain wait (if any) observe one fewer outstanding dependent.
func (s *Service) removeDependent(dependent *Service) {
	s.mu.Lock()
	delete(s.runningDependents, dependent.ID)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Stop requests an orderly, non-terminating stop. Idempotent.
func (s *Service) Stop() {
	s.requestStop(false)
}

// Terminate requests a stop that, once the local drain wait concludes,
// moves the service to TERMINATED instead of back to WAITING_RUN.
func (s *Service) Terminate() {
	s.requestStop(true)
}

// requestStop is the synchronous, one-way half of the stop handshake: it
// flips state/flags under s's own monitor, then (outside the lock)
// cascades the request to s's own registered dependents. It does not
// unregister s from its dependencies; workerLoop does that once s's
// payload has returned. This runs in the caller's goroutine so
// that the cascade propagates even through a service whose worker is stuck
// in a non-cooperative ("bad") payload — the cascade never waits on the
// target's own worker to make progress.
func (s *Service) requestStop(terminate bool) {
	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		return
	}
	if terminate {
		s.terminateRequested = true
	}
	// resumeRequested stays true for the whole of a live attempt, from the
	// moment resumeFor starts it until finishStopping resets it once the
	// attempt is fully wound down; it is false both before a service's
	// first resume and again once it has settled back to idle. Only set
	// stopRequested when it is true: a worker only ever consults
	// stopRequested while an attempt is in flight, so setting it on an
	// idle service would just linger unconsumed and wrongly abort that
	// service's *next* start attempt instead of this (nonexistent) one.
	if s.resumeRequested {
		s.stopRequested = true
	}
	if s.state == Running {
		s.state = WaitingStop
		if !s.stopDeadlineSet {
			s.stopDeadline = time.Now().Add(s.stopTimeout)
			s.stopDeadlineSet = true
		}
	}
	spawn := false
	if terminate && !s.workerSpawned {
		s.workerSpawned = true
		spawn = true
	}
	propagateTerminate := s.terminateRequested
	s.cond.Broadcast()
	s.mu.Unlock()

	if spawn {
		go s.workerLoop()
	}

	// Note: s does NOT unregister itself from its own dependencies here.
	// Per the stop handshake, that happens only once s's own payload has
	// actually returned (see the removeDependent loop in workerLoop) — so a dependency
	// waiting on a stuck ("bad") dependent genuinely observes no drain and
	// times out, rather than the drain completing the instant the stop
	// request merely arrives.

	s.mu.Lock()
	snapshot := make([]*Service, 0, len(s.runningDependents))
	for _, dpt := range s.runningDependents {
		snapshot = append(snapshot, dpt)
	}
	s.mu.Unlock()

	for _, dpt := range snapshot {
		dpt.requestStop(propagateTerminate)
	}
}

// Join blocks until the service reaches TERMINATED or ctx is cancelled.
func (s *Service) Join(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// workerLoop is the single long-lived goroutine that drives a service
// through repeated WAITING_RUN -> RUNNING -> WAITING_STOP cycles until it
// is asked to terminate. At most one instance runs per service, guarded
// by the workerSpawned compare-and-swap in resumeFor/requestStop.
func (s *Service) workerLoop() {
	for {
		s.mu.Lock()
		for !s.resumeRequested && !s.terminateRequested {
			s.cond.Wait()
		}
		if s.terminateRequested && !s.resumeRequested {
			s.state = Terminated
			s.mu.Unlock()
			s.finalize()
			return
		}
		s.state = WaitingRun
		s.runningDeps = make(map[string]struct{})
		s.mu.Unlock()

		for _, dep := range s.Dependencies {
			dep.resumeFor(s)
		}

		s.mu.Lock()
		for !s.depsSatisfiedLocked() && !s.stopRequested && !s.terminateRequested {
			s.cond.Wait()
		}
		aborted := s.stopRequested || s.terminateRequested
		reachedRunning := false
		if !aborted {
			s.state = Running
			s.stopRequested = false
			reachedRunning = true
			s.recordTransition("running")
		}
		s.mu.Unlock()

		if reachedRunning {
			for _, dpt := range s.Dependents {
				dpt.notifyDependencyRunning(s)
			}
			s.runPayload()
		}

		// Leaving running (or abandoning the running attempt): unregister
		// from each dependency now that our own payload has returned (or,
		// if we never started it, immediately). This is what lets a
		// dependency's drain-wait (finishStopping, below, on the
		// dependency's own worker) observe us gone.
		for _, dep := range s.Dependencies {
			dep.removeDependent(s)
		}

		terminate := s.finishStopping()
		if terminate {
			s.finalize()
			return
		}
	}
}

func (s *Service) depsSatisfiedLocked() bool {
	return len(s.runningDeps) == len(s.Dependencies)
}

func (s *Service) runPayload() {
	if s.payload == nil {
		return
	}
	stopRequested := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.isBad {
			return false
		}
		return s.stopRequested || s.terminateRequested
	}
	if err := s.payload(context.Background(), stopRequested); err != nil {
		s.logger.Warn("payload returned error", "service", s.ID, "error", err)
	}
}

// finishStopping performs the remainder of the stop handshake once the
// service's own payload has returned (or the start attempt was aborted
// before ever running): it waits, bounded by the deadline fixed when
// WAITING_STOP was entered, for s.runningDependents to drain, then decides
// whether to terminate or loop back to idle WAITING_RUN.
func (s *Service) finishStopping() (terminate bool) {
	s.mu.Lock()
	if !s.stopDeadlineSet {
		// Aborted before ever reaching RUNNING: no real drain to wait for,
		// but still honour the configured timeout against "now" so a
		// pathological dependent-registration race cannot block forever.
		s.stopDeadline = time.Now().Add(s.stopTimeout)
	}
	deadline := s.stopDeadline
	drained := latch.WaitUntil(&s.mu, s.cond, deadline, func() bool {
		return len(s.runningDependents) == 0
	})
	if !drained {
		s.recordStopTimeout()
	}

	s.stopRequested = false
	s.resumeRequested = false
	s.stopDeadlineSet = false
	terminate = s.terminateRequested
	if terminate {
		s.state = Terminated
	} else {
		s.state = WaitingRun
	}
	s.mu.Unlock()
	return terminate
}

func (s *Service) finalize() {
	close(s.done)
	s.recordTransition("terminated")
}

func (s *Service) recordTransition(to string) {
	if s.metrics.Transitions != nil {
		s.metrics.Transitions.Add(context.Background(), 1)
	}
	s.logger.Info("state transition", "service", s.ID, "to", to)
}

func (s *Service) recordStopTimeout() {
	if s.metrics.StopTimeouts != nil {
		s.metrics.StopTimeouts.Add(context.Background(), 1)
	}
	s.logger.Warn("stop timeout elapsed, proceeding without full drain", "service", s.ID)
}
