package graph

import "context"

// NodeCounts returns the number of nodes of each type, generalized from the
// teacher's label-count query to the six fixed NodeType labels this graph
// actually holds.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (n:Node) RETURN n.type AS type, count(*) AS count`, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, result.Err()
}

// RelationshipCounts returns the number of edges of each type.
func (g *GraphStore) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, result.Err()
}

// LifecycleCounts returns the number of Intent nodes in each lifecycle
// state, the graph-health figure the snapshot endpoint surfaces. Lifecycle
// lives inside each node's JSON-encoded data blob rather than a top-level
// property, so this aggregates client-side over ListByType rather than in
// Cypher.
func (g *GraphStore) LifecycleCounts(ctx context.Context) (map[string]int64, error) {
	nodes, err := g.ListByType(ctx, NodeIntent)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, n := range nodes {
		counts[string(n.lifecycleOf())]++
	}
	return counts, nil
}
