// Package graph parses the dependency file and validates the resulting
// dependency relation before any service worker is started.
package graph

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/swarmguard/supervisor/internal/resilience"
)

// Node is a single parsed declaration: id plus the ids it depends on.
// DependsOn and DependedOnBy are populated symmetrically once the whole
// file has been read; both are read-only after Load returns.
type Node struct {
	ID           string
	DependsOn    []string
	DependedOnBy []string
}

// Graph is the validated, read-only registry produced by Load.
type Graph struct {
	Nodes map[string]*Node
	// Order preserves first-declaration order, useful for deterministic
	// logging and for tests that want a stable iteration order.
	Order []string
}

// color values used by the three-colour DFS cycle check.
type color int

const (
	white color = iota
	grey
	black
)

// Load reads the dependency file at path and returns a validated Graph.
// The initial file open is retried (transient I/O only); parse errors and
// cycles are never retried and always abort the load.
func Load(ctx context.Context, path string) (*Graph, error) {
	var body []byte
	_, err := resilience.Retry(ctx, 3, 50*time.Millisecond, func() (struct{}, error) {
		b, openErr := readFile(path)
		if openErr != nil {
			return struct{}{}, openErr
		}
		body = b
		return struct{}{}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: open %s: %w", path, err)
	}

	g, err := parse(body)
	if err != nil {
		return nil, fmt.Errorf("graph: parse %s: %w", path, err)
	}

	if cyc := findCycle(g); cyc != "" {
		return nil, fmt.Errorf("graph: %s: %w", path, &CyclicGraphError{Through: cyc})
	}

	return g, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func parse(body []byte) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]*Node)}

	ensure := func(id string) *Node {
		n, ok := g.Nodes[id]
		if !ok {
			n = &Node{ID: id}
			g.Nodes[id] = n
			g.Order = append(g.Order, id)
		}
		return n
	}

	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			// Empty lines are ignored rather than rejected; resolves the
			// open question in favour of the more permissive reading.
			continue
		}
		fields := strings.Fields(line)
		parent := ensure(fields[0])
		for _, dep := range fields[1:] {
			ensure(dep)
			parent.DependsOn = append(parent.DependsOn, dep)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", lineNo, err)
	}

	for _, n := range g.Nodes {
		for _, depID := range n.DependsOn {
			dep := g.Nodes[depID]
			dep.DependedOnBy = append(dep.DependedOnBy, n.ID)
		}
	}

	return g, nil
}

// findCycle runs a three-colour DFS over the registry and returns the id of
// a node on a cycle (one reached again while still grey), or "" if the
// graph is acyclic.
func findCycle(g *Graph) string {
	state := make(map[string]color, len(g.Nodes))
	through := ""

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case black:
			return false
		case grey:
			through = id
			return true
		}
		state[id] = grey
		for _, depID := range g.Nodes[id].DependsOn {
			if visit(depID) {
				return true
			}
		}
		state[id] = black
		return false
	}

	for _, id := range g.Order {
		if state[id] == white {
			if visit(id) {
				return through
			}
		}
	}
	return ""
}

// Sources returns every node with indegree 0 (nothing depends on it).
func (g *Graph) Sources() []string {
	var out []string
	for _, id := range g.Order {
		if len(g.Nodes[id].DependedOnBy) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Sinks returns every node with no dependencies of its own.
func (g *Graph) Sinks() []string {
	var out []string
	for _, id := range g.Order {
		if len(g.Nodes[id].DependsOn) == 0 {
			out = append(out, id)
		}
	}
	return out
}
