package rerank

import (
	"context"

	"github.com/nexuscore/nexus/engine/vector"
)

// CandidateReranker adapts *Orchestrator to vector.Reranker, so the recall
// engine can depend on the rerank chain without this package's existing
// dependency on engine/vector becoming a cycle.
type CandidateReranker struct {
	orchestrator *Orchestrator
}

// NewCandidateReranker wraps orchestrator for use as a vector.Reranker.
func NewCandidateReranker(orchestrator *Orchestrator) *CandidateReranker {
	return &CandidateReranker{orchestrator: orchestrator}
}

// Rerank runs the fallback chain and flattens the result back down to
// vector.Candidate, folding each stage's FinalScore into Confidence.
func (c *CandidateReranker) Rerank(ctx context.Context, query string, candidates []vector.Candidate) ([]vector.Candidate, error) {
	scored, err := c.orchestrator.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	out := make([]vector.Candidate, len(scored))
	for i, s := range scored {
		out[i] = s.Candidate
		out[i].Confidence = s.FinalScore
	}
	return out, nil
}
