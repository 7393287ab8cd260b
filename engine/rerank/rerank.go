// Package rerank is the 3-stage reranker chain the recall engine hands its
// ACL-filtered candidates to: an LLM scorer, then a cross-encoder service,
// then an always-available heuristic. Each stage is tried in order; any
// stage's failure falls through to the next rather than failing the
// request, so only the heuristic stage is required to never fail.
package rerank

import (
	"context"
	"log/slog"

	"github.com/nexuscore/nexus/engine/vector"
)

// Scored is one candidate after a reranking stage has scored it.
type Scored struct {
	Candidate    vector.Candidate
	FinalScore   float64
	RerankerUsed string
}

// Stage scores and orders a candidate set for query. Implementations sort
// descending by FinalScore before returning.
type Stage interface {
	Rank(ctx context.Context, query string, candidates []vector.Candidate) ([]Scored, error)
}

// Orchestrator runs the fallback chain: primary, then secondary, then
// tertiary. Primary and secondary are optional — a deployment with neither
// configured still reranks via the heuristic stage alone.
type Orchestrator struct {
	primary   Stage
	secondary Stage
	tertiary  Stage
	logger    *slog.Logger
}

// NewOrchestrator builds the chain. primary/secondary may be nil; tertiary
// always resolves to a HeuristicStage regardless of what's passed.
func NewOrchestrator(primary, secondary Stage, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		primary:   primary,
		secondary: secondary,
		tertiary:  NewHeuristicStage(),
		logger:    logger,
	}
}

// Rerank tries each configured stage in order, falling through to the next
// on error, and always succeeds by the time it reaches the heuristic stage.
func (o *Orchestrator) Rerank(ctx context.Context, query string, candidates []vector.Candidate) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	if o.primary != nil {
		if scored, err := o.primary.Rank(ctx, query, candidates); err == nil {
			return scored, nil
		} else {
			o.logger.WarnContext(ctx, "rerank: primary stage failed, falling back", "error", err)
		}
	}

	if o.secondary != nil {
		if scored, err := o.secondary.Rank(ctx, query, candidates); err == nil {
			return scored, nil
		} else {
			o.logger.WarnContext(ctx, "rerank: secondary stage failed, falling back", "error", err)
		}
	}

	return o.tertiary.Rank(ctx, query, candidates)
}
