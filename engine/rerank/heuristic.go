package rerank

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/nexuscore/nexus/engine/vector"
)

// tokenPattern splits on word boundaries the same way the original's
// token-overlap heuristic does.
var tokenPattern = regexp.MustCompile(`\w+`)

// HeuristicReranker is the always-available safety net: token overlap,
// exact-phrase boost, and a small weight toward the vector recall's own
// confidence. It has no external dependencies by design — it is the stage
// every deployment falls back to when no model-backed stage is configured
// or every configured one has failed.
type HeuristicReranker struct{}

// NewHeuristicStage builds the zero-dependency fallback stage.
func NewHeuristicStage() *HeuristicReranker { return &HeuristicReranker{} }

// Rank never returns an error.
func (h *HeuristicReranker) Rank(_ context.Context, query string, candidates []vector.Candidate) ([]Scored, error) {
	queryTokens := tokenSet(query)
	queryLower := strings.ToLower(query)

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		textLower := strings.ToLower(c.Content)
		score := 0.0

		if len(queryTokens) > 0 {
			overlap := 0
			for t := range tokenSet(c.Content) {
				if queryTokens[t] {
					overlap++
				}
			}
			score += (float64(overlap) / float64(len(queryTokens))) * 0.5
		}

		if queryLower != "" && strings.Contains(textLower, queryLower) {
			score += 0.4
		}

		score += c.Confidence * 0.1

		scored[i] = Scored{
			Candidate:    c,
			FinalScore:   clamp01(score),
			RerankerUsed: "heuristic",
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})
	return scored, nil
}

func tokenSet(s string) map[string]bool {
	tokens := tokenPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
