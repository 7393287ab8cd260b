package graph

import (
	"context"
	"time"
)

// TopicStats summarizes how much has accumulated under one topic.
type TopicStats struct {
	TopicID string `json:"topic_id"`
	Bricks  int64  `json:"bricks"`
}

// ArtifactStats describes a recently assembled cognition artifact.
type ArtifactStats struct {
	ArtifactID string `json:"artifact_id"`
	TopicID    string `json:"topic_id"`
	CreatedAt  string `json:"created_at"`
}

// GraphSnapshot is the aggregate statistics the /api/graph/snapshot
// endpoint reports.
type GraphSnapshot struct {
	NodeCounts         map[string]int64 `json:"node_counts"`
	RelationshipCounts map[string]int64 `json:"relationship_counts"`
	TopTopics          []TopicStats     `json:"top_topics"`
	RecentArtifacts    []ArtifactStats  `json:"recent_artifacts"`
}

// Snapshot assembles the full graph statistics view in one call.
func (g *GraphStore) Snapshot(ctx context.Context, limit int) (GraphSnapshot, error) {
	nodes, err := g.NodeCounts(ctx)
	if err != nil {
		return GraphSnapshot{}, err
	}
	rels, err := g.RelationshipCounts(ctx)
	if err != nil {
		return GraphSnapshot{}, err
	}
	topics, err := g.TopTopics(ctx, limit)
	if err != nil {
		return GraphSnapshot{}, err
	}
	artifacts, err := g.RecentArtifacts(ctx, limit)
	if err != nil {
		return GraphSnapshot{}, err
	}
	return GraphSnapshot{
		NodeCounts:         nodes,
		RelationshipCounts: rels,
		TopTopics:          topics,
		RecentArtifacts:    artifacts,
	}, nil
}

// NodeCounts returns node counts grouped by type (intent, source, scope,
// topic, artifact, brick).
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
	return counts, nil
}

// RelationshipCounts returns relationship counts grouped by edge type.
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
	return counts, nil
}

// TopTopics returns the topics with the most ASSEMBLED_IN bricks.
func (g *GraphStore) TopTopics(ctx context.Context, limit int) ([]TopicStats, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (t:Node {type: $topicType})
		OPTIONAL MATCH (t)-[:ASSEMBLED_IN]->(b:Node {type: $brickType})
		RETURN t.id AS topic_id, count(DISTINCT b) AS bricks
		ORDER BY bricks DESC LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"topicType": string(NodeTopic),
		"brickType": string(NodeBrick),
		"limit":     int64(limit),
	})
	if err != nil {
		return nil, err
	}
	var out []TopicStats
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("topic_id")
		cnt, _ := rec.Get("bricks")
		s := TopicStats{}
		if idStr, ok := id.(string); ok {
			s.TopicID = idStr
		}
		if c, ok := cnt.(int64); ok {
			s.Bricks = c
		}
		out = append(out, s)
	}
	return out, nil
}

// RecentArtifacts returns the most recently registered artifact nodes.
func (g *GraphStore) RecentArtifacts(ctx context.Context, limit int) ([]ArtifactStats, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a:Node {type: $artifactType})
		OPTIONAL MATCH (t:Node {type: $topicType})-[:ASSEMBLED_IN]->(a)
		RETURN a.id AS artifact_id, t.id AS topic_id, a.created_at AS created_at
		ORDER BY a.created_at DESC LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"artifactType": string(NodeArtifact),
		"topicType":    string(NodeTopic),
		"limit":        int64(limit),
	})
	if err != nil {
		return nil, err
	}
	var out []ArtifactStats
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("artifact_id")
		topic, _ := rec.Get("topic_id")
		created, _ := rec.Get("created_at")
		s := ArtifactStats{}
		if idStr, ok := id.(string); ok {
			s.ArtifactID = idStr
		}
		if t, ok := topic.(string); ok {
			s.TopicID = t
		}
		switch c := created.(type) {
		case string:
			s.CreatedAt = c
		case time.Time:
			s.CreatedAt = c.Format(time.RFC3339)
		}
		out = append(out, s)
	}
	return out, nil
}
