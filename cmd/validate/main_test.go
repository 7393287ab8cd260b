package main

import (
	"context"
	"testing"

	"github.com/nexuscore/nexus/engine/graph"
)

type fakeGraphReader struct {
	nodes []graph.Node
	edges map[string]map[graph.EdgeType][]graph.Edge
}

func (f *fakeGraphReader) ListByType(_ context.Context, typ graph.NodeType) ([]graph.Node, error) {
	var out []graph.Node
	for _, n := range f.nodes {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeGraphReader) GetEdgesFrom(_ context.Context, id string, typ graph.EdgeType) ([]graph.Edge, error) {
	return f.edges[id][typ], nil
}

func intentNode(id string, lifecycle graph.Lifecycle) graph.Node {
	return graph.Node{
		ID:   id,
		Type: graph.NodeIntent,
		Data: map[string]any{"lifecycle": string(lifecycle)},
	}
}

func TestLifecycleOf(t *testing.T) {
	n := intentNode("i1", graph.FROZEN)
	if lifecycleOf(n) != graph.FROZEN {
		t.Fatalf("expected FROZEN, got %s", lifecycleOf(n))
	}

	noData := graph.Node{ID: "i2", Type: graph.NodeIntent}
	if lifecycleOf(noData) != "" {
		t.Fatalf("expected empty lifecycle for node with no data, got %q", lifecycleOf(noData))
	}
}

func TestValidateOrphans_FindsMissingSource(t *testing.T) {
	store := &fakeGraphReader{
		nodes: []graph.Node{
			intentNode("i1", graph.LOOSE),
			intentNode("i2", graph.LOOSE),
		},
		edges: map[string]map[graph.EdgeType][]graph.Edge{
			"i1": {graph.EdgeDerivedFrom: {{Source: "i1", Target: "src1", Type: graph.EdgeDerivedFrom}}},
		},
	}

	orphans, err := validateOrphans(context.Background(), store)
	if err != nil {
		t.Fatalf("validateOrphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "i2" {
		t.Fatalf("expected [i2], got %v", orphans)
	}
}

func TestValidateOrphans_NoneWhenAllHaveSource(t *testing.T) {
	store := &fakeGraphReader{
		nodes: []graph.Node{intentNode("i1", graph.LOOSE)},
		edges: map[string]map[graph.EdgeType][]graph.Edge{
			"i1": {graph.EdgeDerivedFrom: {{Source: "i1", Target: "src1", Type: graph.EdgeDerivedFrom}}},
		},
	}

	orphans, err := validateOrphans(context.Background(), store)
	if err != nil {
		t.Fatalf("validateOrphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected no orphans, got %v", orphans)
	}
}

func TestValidateFrozenScope_FindsMissingScope(t *testing.T) {
	store := &fakeGraphReader{
		nodes: []graph.Node{
			intentNode("i1", graph.FROZEN),
			intentNode("i2", graph.LOOSE),
		},
		edges: map[string]map[graph.EdgeType][]graph.Edge{},
	}

	violations, err := validateFrozenScope(context.Background(), store)
	if err != nil {
		t.Fatalf("validateFrozenScope: %v", err)
	}
	if len(violations) != 1 || violations[0] != "i1" {
		t.Fatalf("expected [i1], got %v", violations)
	}
}

func TestValidateFrozenScope_SatisfiedWhenScoped(t *testing.T) {
	store := &fakeGraphReader{
		nodes: []graph.Node{intentNode("i1", graph.FROZEN)},
		edges: map[string]map[graph.EdgeType][]graph.Edge{
			"i1": {graph.EdgeAppliesTo: {{Source: "i1", Target: "scope1", Type: graph.EdgeAppliesTo}}},
		},
	}

	violations, err := validateFrozenScope(context.Background(), store)
	if err != nil {
		t.Fatalf("validateFrozenScope: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestValidateNoCycles_DetectsCycle(t *testing.T) {
	store := &fakeGraphReader{
		nodes: []graph.Node{
			intentNode("i1", graph.FROZEN),
			intentNode("i2", graph.FROZEN),
			intentNode("i3", graph.FROZEN),
		},
		edges: map[string]map[graph.EdgeType][]graph.Edge{
			"i1": {graph.EdgeOverrides: {{Source: "i1", Target: "i2", Type: graph.EdgeOverrides}}},
			"i2": {graph.EdgeOverrides: {{Source: "i2", Target: "i3", Type: graph.EdgeOverrides}}},
			"i3": {graph.EdgeOverrides: {{Source: "i3", Target: "i1", Type: graph.EdgeOverrides}}},
		},
	}

	cycle, err := validateNoCycles(context.Background(), store)
	if err != nil {
		t.Fatalf("validateNoCycles: %v", err)
	}
	if len(cycle) != 3 {
		t.Fatalf("expected a 3-node cycle, got %v", cycle)
	}
}

func TestValidateNoCycles_AcyclicGraph(t *testing.T) {
	store := &fakeGraphReader{
		nodes: []graph.Node{
			intentNode("i1", graph.FROZEN),
			intentNode("i2", graph.FROZEN),
		},
		edges: map[string]map[graph.EdgeType][]graph.Edge{
			"i1": {graph.EdgeOverrides: {{Source: "i1", Target: "i2", Type: graph.EdgeOverrides}}},
		},
	}

	cycle, err := validateNoCycles(context.Background(), store)
	if err != nil {
		t.Fatalf("validateNoCycles: %v", err)
	}
	if len(cycle) != 0 {
		t.Fatalf("expected no cycle, got %v", cycle)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_VALIDATE_VAR", "custom")
	if v := envOr("TEST_VALIDATE_VAR", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VALIDATE_VAR", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}
