package vector

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscore/nexus/engine/prompts"
	"github.com/nexuscore/nexus/pkg/fn"
	"github.com/nexuscore/nexus/pkg/resilience"
)

// rewritePromptSlug is the governed prompt the recall engine's optional
// query rewrite step loads its system prompt from.
const rewritePromptSlug = "nexus-recall-query-rewrite"

// fallbackRewritePrompt is used when the governed store has no row yet, an
// approved, non-critical slug like the synthesis prompt's own fallback.
const fallbackRewritePrompt = `You rewrite a short search query into a clearer, more specific version for an embedding-based nearest-neighbor search over a knowledge base. Keep it short. Reply with the rewritten query only, no commentary, no quotes.`

// LLMQueryRewriter is the default QueryRewriter: one governed call to Claude
// per recall request with use_rewrite set.
type LLMQueryRewriter struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	prompts   *prompts.Manager
	breaker   *resilience.Breaker
}

// NewLLMQueryRewriter builds a QueryRewriter using apiKey, the governed
// prompt manager, and an optional shared circuit breaker.
func NewLLMQueryRewriter(apiKey string, model anthropic.Model, prompts *prompts.Manager, breaker *resilience.Breaker) *LLMQueryRewriter {
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}
	return &LLMQueryRewriter{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 256,
		prompts:   prompts,
		breaker:   breaker,
	}
}

// Rewrite loads the governed rewrite prompt and returns the model's rewrite
// of query. A blank reply falls back to the original query rather than
// sending an empty string on to embed().
func (w *LLMQueryRewriter) Rewrite(ctx context.Context, query string) (string, error) {
	system, err := w.prompts.GetPrompt(ctx, rewritePromptSlug, nil, fallbackRewritePrompt)
	if err != nil {
		return "", err
	}

	call := func(ctx context.Context) fn.Result[string] {
		msg, err := w.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     w.model,
			MaxTokens: w.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
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
	if w.breaker != nil {
		res = resilience.CallResult(w.breaker, ctx, call)
	} else {
		res = call(ctx)
	}

	raw, err := res.Unwrap()
	if err != nil {
		return "", err
	}

	rewritten := strings.TrimSpace(raw)
	if rewritten == "" {
		return query, nil
	}
	return rewritten, nil
}
