package rerank

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscore/nexus/engine/vector"
	"github.com/nexuscore/nexus/pkg/fn"
	"github.com/nexuscore/nexus/pkg/resilience"
)

// scorePattern extracts the first relevance score the model printed, the
// same tolerant float-or-bare-digit match the original's regex used.
var scorePattern = regexp.MustCompile(`0\.\d+|1\.0|[01]`)

// maxScoredChars bounds how much of a candidate's content is sent per
// scoring call.
const maxScoredChars = 800

// LLMStage is the primary reranker stage: one small, deterministic scoring
// call to Claude per candidate. Each call is wrapped in the shared circuit
// breaker so a struggling upstream degrades the whole stage to secondary
// rather than hanging every request on it one at a time.
type LLMStage struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	breaker   *resilience.Breaker
}

// NewLLMStage builds the primary stage against apiKey.
func NewLLMStage(apiKey string, model anthropic.Model, breaker *resilience.Breaker) *LLMStage {
	if model == "" {
		model = anthropic.ModelClaude3_7SonnetLatest
	}
	return &LLMStage{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 6,
		breaker:   breaker,
	}
}

// Rank scores every candidate independently and sorts descending. Any
// per-candidate scoring failure falls back to that candidate's own vector
// confidence rather than failing the whole stage.
func (s *LLMStage) Rank(ctx context.Context, query string, candidates []vector.Candidate) ([]Scored, error) {
	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		score, err := s.score(ctx, query, c)
		if err != nil {
			score = c.Confidence
		}
		scored[i] = Scored{Candidate: c, FinalScore: clamp01(score), RerankerUsed: "llm_reranker"}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})
	return scored, nil
}

func (s *LLMStage) score(ctx context.Context, query string, c vector.Candidate) (float64, error) {
	text := c.Content
	if len(text) > maxScoredChars {
		text = text[:maxScoredChars]
	}
	prompt := fmt.Sprintf("Query: %s\nText: %s\nRate relevance (0.0-1.0):", query, text)

	call := func(ctx context.Context) fn.Result[string] {
		msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return fn.Err[string](err)
		}
		var raw string
		for _, block := range msg.Content {
			if block.Type == "text" {
				raw += block.Text
			}
		}
		return fn.Ok(raw)
	}

	var res fn.Result[string]
	if s.breaker != nil {
		res = resilience.CallResult(s.breaker, ctx, call)
	} else {
		res = call(ctx)
	}

	raw, err := res.Unwrap()
	if err != nil {
		return 0, err
	}

	match := scorePattern.FindString(raw)
	if match == "" {
		return 0, fmt.Errorf("rerank: llm stage returned no parseable score: %q", raw)
	}
	return strconv.ParseFloat(match, 64)
}
