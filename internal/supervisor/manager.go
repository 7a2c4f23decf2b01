package supervisor

import (
	"context"
	"log/slog"

	"github.com/swarmguard/supervisor/internal/graph"
	"github.com/swarmguard/supervisor/internal/payload"
	"github.com/swarmguard/supervisor/internal/telemetry"
)

// Manager owns the read-only service registry built from a validated
// graph.Graph and exposes the graph-level operations the dispatcher
// translates commands into: ResumeAll, StopAll, ResumeByID, StopByID, Exit.
type Manager struct {
	services map[string]*Service
	order    []string
	logger   *slog.Logger
}

// NewManager wires a Service object for every graph node, installing
// Dependencies/Dependents pointer links from the graph's edges, and
// attaches the demo payload from internal/payload to each.
func NewManager(g *graph.Graph, logger *slog.Logger, metrics telemetry.Metrics) *Manager {
	m := &Manager{
		services: make(map[string]*Service, len(g.Nodes)),
		order:    append([]string(nil), g.Order...),
		logger:   logger,
	}
	for _, id := range g.Order {
		m.services[id] = newService(id, logger, metrics)
	}
	for _, id := range g.Order {
		node := g.Nodes[id]
		svc := m.services[id]
		for _, depID := range node.DependsOn {
			svc.Dependencies = append(svc.Dependencies, m.services[depID])
		}
		for _, dpID := range node.DependedOnBy {
			svc.Dependents = append(svc.Dependents, m.services[dpID])
		}
		svc.SetPayload(payload.Demo(logger, id))
	}
	return m
}

// Get fetches a service handle by id (for tests and the dispatcher).
func (m *Manager) Get(id string) (*Service, bool) {
	s, ok := m.services[id]
	return s, ok
}

// IDs returns every registered service id in first-declaration order.
func (m *Manager) IDs() []string {
	return append([]string(nil), m.order...)
}

// ResumeAll resumes every source service (indegree 0).
func (m *Manager) ResumeAll() {
	for _, id := range m.order {
		svc := m.services[id]
		if len(svc.Dependents) == 0 {
			svc.Resume()
		}
	}
}

// StopAll stops every sink service (no dependencies).
func (m *Manager) StopAll() {
	for _, id := range m.order {
		svc := m.services[id]
		if len(svc.Dependencies) == 0 {
			svc.Stop()
		}
	}
}

// ResumeByID resumes a single named service, returning UnknownServiceError
// if the id was never declared.
func (m *Manager) ResumeByID(id string) error {
	svc, ok := m.services[id]
	if !ok {
		return &UnknownServiceError{ID: id}
	}
	svc.Resume()
	return nil
}

// StopByID stops a single named service, returning UnknownServiceError if
// the id was never declared.
func (m *Manager) StopByID(id string) error {
	svc, ok := m.services[id]
	if !ok {
		return &UnknownServiceError{ID: id}
	}
	svc.Stop()
	return nil
}

// Exit implements the dispatcher's EXIT verb: terminate every registered
// service, then join every service in the registry. This is the reading
// of spec §9 Open Question 2 ("stop-all, then join-all, then terminate")
// that actually lets join-all complete: plain Stop() alone only returns
// services to WAITING_RUN, so every service is driven with Terminate()
// instead.
//
// Terminate() is called on every service, not just the sinks: a sink-only
// Terminate() relies on the stop cascade reaching the rest of the graph
// through running_dependents, but that set only contains services that
// already registered via resumeFor — i.e. already began a start attempt.
// EOF on stdin (spec §6, equivalent to EXIT) can arrive before any service
// was ever resumed, or after only a partial RESUME-SERVICE, leaving
// non-sink services with no worker ever spawned and no way for the
// cascade to reach them. Terminating every service directly guarantees
// each one's worker is spawned (requestStop spawns on terminate if one
// isn't running yet) and each one's done channel is eventually closed, so
// the join loop below can never block forever on a service nothing ever
// reached.
func (m *Manager) Exit(ctx context.Context) error {
	for _, id := range m.order {
		m.services[id].Terminate()
	}
	for _, id := range m.order {
		if err := m.services[id].Join(ctx); err != nil {
			return err
		}
	}
	return nil
}
