package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/nexuscore/nexus/engine/embed"
	"github.com/nexuscore/nexus/engine/graph"
)

// oversampleFactor widens the k-NN search so the ACL filter below and the
// reranker downstream both have real headroom instead of starving on the
// first pass.
const oversampleFactor = 5

// rerankWindowFactor bounds how many ACL-admitted candidates are handed to
// the reranker, mirroring the original's candidates_to_rerank[:k*2] cutoff.
const rerankWindowFactor = 2

// ScopeResolver walks the scope hierarchy graph, resolving the transitive
// closure of a set of allowed scopes. engine/graph.GraphStore satisfies this.
type ScopeResolver interface {
	EffectiveScopes(ctx context.Context, allowed []string) (map[string]bool, error)
}

// Reranker is the rerank chain's read-side, scoped to Candidate so this
// package never has to import engine/rerank (which itself imports this
// package for Candidate). engine/rerank.CandidateReranker adapts
// *rerank.Orchestrator to this interface.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)
}

// QueryRewriter optionally rewrites query text before embedding, per the
// Recall contract's use_rewrite flag.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string) (string, error)
}

// Candidate is one ACL-admitted recall hit, not yet reranked.
type Candidate struct {
	BrickID    string
	TopicID    string
	Content    string
	Scope      string
	Confidence float64
}

// Recaller is the vector index + recall engine: embed the query, resolve
// effective scopes, oversample, filter by ACL, hand a bounded candidate
// window to the reranker, and return the top k. Reranker and rewriter are
// both optional; a nil Reranker leaves the ACL-filtered, confidence-ordered
// window untouched, and a nil QueryRewriter makes useRewrite a no-op.
type Recaller struct {
	store    *Store
	embedder embed.Embedder
	scopes   ScopeResolver
	reranker Reranker
	rewriter QueryRewriter
}

// NewRecaller builds a Recaller over store, embedder, scopes, and the
// optional reranker/rewriter dependencies the Recall contract wires in.
func NewRecaller(store *Store, embedder embed.Embedder, scopes ScopeResolver, reranker Reranker, rewriter QueryRewriter) *Recaller {
	return &Recaller{store: store, embedder: embedder, scopes: scopes, reranker: reranker, rewriter: rewriter}
}

// Recall optionally rewrites query, embeds it, searches k*oversampleFactor
// nearest points, drops anything the caller's effective scopes don't admit,
// hands the top k*rerankWindowFactor of those to the reranker, and returns
// the top k. Ties break on ascending brick id for determinism.
func (r *Recaller) Recall(ctx context.Context, query string, k int, allowedScopes []string, useRewrite bool) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	if useRewrite && r.rewriter != nil {
		rewritten, err := r.rewriter.Rewrite(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("vector: rewrite query: %w", err)
		}
		query = rewritten
	}

	effective, err := r.scopes.EffectiveScopes(ctx, allowedScopes)
	if err != nil {
		return nil, fmt.Errorf("vector: resolve effective scopes: %w", err)
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector: embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, queryVec, k*oversampleFactor)
	if err != nil {
		return nil, fmt.Errorf("vector: search: %w", err)
	}

	var candidates []Candidate
	for _, h := range hits {
		if !graph.ScopeAllows(h.Scope, effective) {
			continue
		}
		candidates = append(candidates, Candidate{
			BrickID:    h.ID,
			TopicID:    h.TopicID,
			Content:    h.Content,
			Scope:      h.Scope,
			Confidence: confidenceFromL2(h.Distance),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].BrickID < candidates[j].BrickID
	})

	window := k * rerankWindowFactor
	if window > len(candidates) {
		window = len(candidates)
	}
	candidates = candidates[:window]

	if r.reranker != nil {
		reranked, err := r.reranker.Rerank(ctx, query, candidates)
		if err != nil {
			return nil, fmt.Errorf("vector: rerank: %w", err)
		}
		candidates = reranked
	}

	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// confidenceFromL2 maps an L2 distance of 0 (identical) to confidence 1.0,
// and a distance of 2 or more (the practical ceiling for normalized
// embedding vectors) to confidence 0.0.
func confidenceFromL2(distance float32) float64 {
	confidence := 1.0 - float64(distance)/2.0
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
