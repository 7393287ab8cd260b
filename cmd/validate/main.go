// Command validate runs offline batch checks over the knowledge graph that
// complement, rather than replace, the real-time cycle guard enforced on
// every write: orphaned intents, FROZEN intents missing scope, and any
// OVERRIDES cycle that predates the guard (e.g. from a direct data import).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nexuscore/nexus/engine/audit"
	"github.com/nexuscore/nexus/engine/graph"
)

// graphReader is the slice of graph.GraphStore these checks need, kept
// local so they can run against a hand-written fake in tests instead of a
// live Neo4j instance.
type graphReader interface {
	ListByType(ctx context.Context, typ graph.NodeType) ([]graph.Node, error)
	GetEdgesFrom(ctx context.Context, id string, typ graph.EdgeType) ([]graph.Edge, error)
}

func main() {
	var (
		neo4jURL  = flag.String("neo4j-url", envOr("NEO4J_URL", "neo4j://localhost:7687"), "Neo4j bolt URL")
		neo4jUser = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass = flag.String("neo4j-pass", envOr("NEO4J_PASS", ""), "Neo4j password")
		auditPath = flag.String("audit-log", envOr("AUDIT_LOG_PATH", "/tmp/nexus-data/audit.jsonl"), "path to the audit JSONL log")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ok, err := runValidate(*neo4jURL, *neo4jUser, *neo4jPass, *auditPath, logger)
	if err != nil {
		logger.Error("validation aborted", "err", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runValidate(neo4jURL, neo4jUser, neo4jPass, auditPath string, logger *slog.Logger) (bool, error) {
	ctx := context.Background()

	auditLog, err := audit.Open(auditPath)
	if err != nil {
		return false, fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	driver, err := neo4j.NewDriverWithContext(neo4jURL, neo4j.BasicAuth(neo4jUser, neo4jPass, ""))
	if err != nil {
		return false, fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)

	var store graphReader = graph.New(driver, auditLog)

	logger.Info("running graph validation")

	cycle, err := validateNoCycles(ctx, store)
	if err != nil {
		return false, fmt.Errorf("cycle check: %w", err)
	}
	if len(cycle) > 0 {
		logger.Warn("cycle detected in OVERRIDES", "cycle", cycle)
	} else {
		logger.Info("no cycles in OVERRIDES")
	}

	orphans, err := validateOrphans(ctx, store)
	if err != nil {
		return false, fmt.Errorf("orphan check: %w", err)
	}
	if len(orphans) > 0 {
		logger.Warn("orphaned intents found", "count", len(orphans), "intent_ids", orphans)
	} else {
		logger.Info("no orphaned intents")
	}

	scopeViolations, err := validateFrozenScope(ctx, store)
	if err != nil {
		return false, fmt.Errorf("frozen scope check: %w", err)
	}
	if len(scopeViolations) > 0 {
		logger.Warn("FROZEN intents without scope found", "count", len(scopeViolations), "intent_ids", scopeViolations)
	} else {
		logger.Info("all FROZEN intents have scope")
	}

	return len(cycle) == 0 && len(orphans) == 0 && len(scopeViolations) == 0, nil
}

// validateOrphans returns the IDs of Intent nodes with no outgoing
// DERIVED_FROM edge, i.e. a claim with no recorded source.
func validateOrphans(ctx context.Context, store graphReader) ([]string, error) {
	intents, err := store.ListByType(ctx, graph.NodeIntent)
	if err != nil {
		return nil, err
	}

	var violations []string
	for _, intent := range intents {
		edges, err := store.GetEdgesFrom(ctx, intent.ID, graph.EdgeDerivedFrom)
		if err != nil {
			return nil, fmt.Errorf("edges for %s: %w", intent.ID, err)
		}
		if len(edges) == 0 {
			violations = append(violations, intent.ID)
		}
	}
	return violations, nil
}

// validateFrozenScope returns the IDs of FROZEN intents with no outgoing
// APPLIES_TO edge, violating the invariant the real-time guard enforces at
// promotion time — this check catches drift from data imported outside it.
func validateFrozenScope(ctx context.Context, store graphReader) ([]string, error) {
	intents, err := store.ListByType(ctx, graph.NodeIntent)
	if err != nil {
		return nil, err
	}

	var violations []string
	for _, intent := range intents {
		if lifecycleOf(intent) != graph.FROZEN {
			continue
		}
		edges, err := store.GetEdgesFrom(ctx, intent.ID, graph.EdgeAppliesTo)
		if err != nil {
			return nil, fmt.Errorf("edges for %s: %w", intent.ID, err)
		}
		if len(edges) == 0 {
			violations = append(violations, intent.ID)
		}
	}
	return violations, nil
}

// validateNoCycles walks OVERRIDES edges from every intent and returns the
// node IDs of the first cycle found, or nil if the graph is acyclic. The
// real-time guard (graph.AddTypedEdge) already refuses to create a cycle;
// this exists to catch one introduced by a path that bypassed it.
func validateNoCycles(ctx context.Context, store graphReader) ([]string, error) {
	intents, err := store.ListByType(ctx, graph.NodeIntent)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]bool)
	for _, intent := range intents {
		if visited[intent.ID] {
			continue
		}
		cycle, err := findCycle(ctx, store, intent.ID, nil, visited)
		if err != nil {
			return nil, err
		}
		if len(cycle) > 0 {
			return cycle, nil
		}
	}
	return nil, nil
}

func findCycle(ctx context.Context, store graphReader, nodeID string, path []string, visited map[string]bool) ([]string, error) {
	for i, id := range path {
		if id == nodeID {
			return path[i:], nil
		}
	}
	if visited[nodeID] {
		return nil, nil
	}
	visited[nodeID] = true
	path = append(path, nodeID)

	edges, err := store.GetEdgesFrom(ctx, nodeID, graph.EdgeOverrides)
	if err != nil {
		return nil, fmt.Errorf("edges for %s: %w", nodeID, err)
	}
	for _, e := range edges {
		cycle, err := findCycle(ctx, store, e.Target, path, visited)
		if err != nil {
			return nil, err
		}
		if len(cycle) > 0 {
			return cycle, nil
		}
	}
	return nil, nil
}

// lifecycleOf reads the lifecycle field out of an Intent node's public Data
// map; graph.Node keeps the typed accessor private to its own package.
func lifecycleOf(n graph.Node) graph.Lifecycle {
	v, ok := n.Data["lifecycle"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return graph.Lifecycle(s)
}
