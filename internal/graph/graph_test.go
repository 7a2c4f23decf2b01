package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "services.txt")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadExampleGraph(t *testing.T) {
	path := writeTemp(t, "d b c\nb a\nc a\ne\n")
	g, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(g.Nodes) != 5 {
		t.Fatalf("want 5 nodes, got %d", len(g.Nodes))
	}
	if got := g.Nodes["a"].DependsOn; len(got) != 0 {
		t.Errorf("a should have no dependencies, got %v", got)
	}
	if got := g.Nodes["d"].DependsOn; len(got) != 2 {
		t.Errorf("d should depend on 2 services, got %v", got)
	}

	sources := g.Sources()
	if !containsAll(sources, "d", "e") || len(sources) != 2 {
		t.Errorf("sources = %v, want {d, e}", sources)
	}
	sinks := g.Sinks()
	if !containsAll(sinks, "a", "e") || len(sinks) != 2 {
		t.Errorf("sinks = %v, want {a, e}", sinks)
	}
}

func TestLoadIgnoresBlankLines(t *testing.T) {
	path := writeTemp(t, "a\n\n\nb a\n\n")
	g, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("want 2 nodes, got %d", len(g.Nodes))
	}
}

func TestLoadDetectsCycle(t *testing.T) {
	path := writeTemp(t, "a b\nb a\n")
	_, err := Load(context.Background(), path)
	if err == nil {
		t.Fatal("expected CyclicGraphError, got nil")
	}
	var cyc *CyclicGraphError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicGraphError, got %v", err)
	}
}

func TestLoadDetectsSelfCycle(t *testing.T) {
	path := writeTemp(t, "a a\n")
	_, err := Load(context.Background(), path)
	if err == nil {
		t.Fatal("expected CyclicGraphError for self-loop, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "does-not-exist.txt"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func containsAll(set []string, want ...string) bool {
	m := make(map[string]bool, len(set))
	for _, s := range set {
		m[s] = true
	}
	for _, w := range want {
		if !m[w] {
			return false
		}
	}
	return true
}
