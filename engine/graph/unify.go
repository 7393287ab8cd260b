package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/nexuscore/nexus/engine/domain"
)

// bricksSource is the minimal surface Unify needs from the relational
// layer, letting tests substitute a fake instead of a live pgstore.Store.
type bricksSource interface {
	ListTopics(ctx context.Context) ([]domain.Topic, error)
	BricksForTopic(ctx context.Context, topicID string) ([]domain.Brick, error)
}

// UnifyBricks migrates every Brick absent from the nodes table into a
// type='brick' node, merges a corresponding topic node, and links them
// with an ASSEMBLED_IN edge. Bricks already present in the graph are left
// untouched, so repeated calls (startup, or on demand) only copy new rows.
func (g *GraphStore) UnifyBricks(ctx context.Context, store bricksSource) (int, error) {
	topics, err := store.ListTopics(ctx)
	if err != nil {
		return 0, fmt.Errorf("unify: list topics: %w", err)
	}

	copied := 0
	for _, topic := range topics {
		if _, err := g.RegisterNode(ctx, NodeTopic, topic.ID, map[string]any{
			"slug":           topic.ID,
			"original_query": topic.DisplayName,
		}, true); err != nil {
			return copied, fmt.Errorf("unify: register topic %s: %w", topic.ID, err)
		}

		bricks, err := store.BricksForTopic(ctx, topic.ID)
		if err != nil {
			return copied, fmt.Errorf("unify: bricks for topic %s: %w", topic.ID, err)
		}

		for _, b := range bricks {
			if _, found, err := g.nodeExists(ctx, b.ID); err != nil {
				return copied, err
			} else if found {
				continue
			}

			if _, err := g.RegisterNode(ctx, NodeBrick, b.ID, map[string]any{
				"topic_id":    b.TopicID,
				"content":     b.Content,
				"fingerprint": b.Fingerprint,
				"state":       string(b.State),
				"run_id":      b.SourceAddress.RunID,
				"json_path":   b.SourceAddress.JSONPath,
			}, false); err != nil {
				return copied, fmt.Errorf("unify: register brick %s: %w", b.ID, err)
			}

			if _, err := g.RegisterEdge(ctx, topic.ID, b.ID, EdgeAssembledIn, nil); err != nil {
				return copied, fmt.Errorf("unify: link topic %s to brick %s: %w", topic.ID, b.ID, err)
			}
			copied++
		}
	}
	return copied, nil
}

func (g *GraphStore) nodeExists(ctx context.Context, id string) (Node, bool, error) {
	n, err := g.GetNode(ctx, id)
	if err == nil {
		return n, true, nil
	}
	if errors.Is(err, domain.ErrNodeNotFound) {
		return Node{}, false, nil
	}
	return Node{}, false, err
}
