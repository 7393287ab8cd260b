package cognition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscore/nexus/engine/prompts"
	"github.com/nexuscore/nexus/pkg/fn"
	"github.com/nexuscore/nexus/pkg/resilience"
)

// synthesisPromptSlug is the governed prompt the external cognitive
// extractor call loads its system prompt from.
const synthesisPromptSlug = "nexus-cognition-synthesis"

// fallbackSynthesisPrompt is used when the governed store has no row yet,
// matching the compiler's own fail-open-with-fallback pattern for an
// approved, non-critical slug.
const fallbackSynthesisPrompt = `You are a synthesis engine. Given a set of raw conversation excerpts about one topic, extract:
- facts: short, standalone factual statements the excerpts support
- decisions: explicit choices made
- constraints: explicit limits or requirements
- edge_cases: explicitly named exceptions or caveats
- mermaid: an optional Mermaid diagram summarizing the relationships between the facts, or an empty string
- latex: an optional LaTeX fragment for any formula present, or an empty string

Respond with JSON only: {"facts": [...], "decisions": [...], "constraints": [...], "edge_cases": [...], "mermaid": "...", "latex": "..."}`

// maxExcerptChars bounds how much raw excerpt text is sent per synthesis
// call, the same defensive truncation the rerank LLM stage applies per
// candidate.
const maxExcerptChars = 6000

// LLMSynthesizer is the default Synthesizer: one governed call to Claude
// per topic, given the deduplicated raw excerpts assembled for it.
type LLMSynthesizer struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	prompts   *prompts.Manager
	breaker   *resilience.Breaker
}

// NewLLMSynthesizer builds a Synthesizer using apiKey, the governed prompt
// manager, and an optional shared circuit breaker.
func NewLLMSynthesizer(apiKey string, model anthropic.Model, prompts *prompts.Manager, breaker *resilience.Breaker) *LLMSynthesizer {
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}
	return &LLMSynthesizer{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 2048,
		prompts:   prompts,
		breaker:   breaker,
	}
}

type synthesisReply struct {
	Facts       []string `json:"facts"`
	Decisions   []string `json:"decisions"`
	Constraints []string `json:"constraints"`
	EdgeCases   []string `json:"edge_cases"`
	Mermaid     string   `json:"mermaid"`
	Latex       string   `json:"latex"`
}

// Synthesize loads the governed synthesis prompt, builds a user prompt from
// excerpts, and parses the model's JSON reply. A reply that fails to parse
// is returned as an error; AssembleTopic then emits LLM_CALL_SKIPPED and
// keeps the provenanced artifact it already has, with empty synthesis fields.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, query string, excerpts []Excerpt) (SynthesisResult, error) {
	system, err := s.prompts.GetPrompt(ctx, synthesisPromptSlug, nil, fallbackSynthesisPrompt)
	if err != nil {
		return SynthesisResult{}, err
	}

	userPrompt := buildSynthesisPrompt(query, excerpts)

	call := func(ctx context.Context) fn.Result[string] {
		msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
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
		return SynthesisResult{}, err
	}

	var parsed synthesisReply
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return SynthesisResult{}, fmt.Errorf("cognition: synthesis reply did not parse as JSON: %w", err)
	}

	return SynthesisResult{
		Facts:       parsed.Facts,
		Decisions:   parsed.Decisions,
		Constraints: parsed.Constraints,
		EdgeCases:   parsed.EdgeCases,
		Mermaid:     parsed.Mermaid,
		Latex:       parsed.Latex,
	}, nil
}

func buildSynthesisPrompt(query string, excerpts []Excerpt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", query)
	for _, ex := range excerpts {
		fmt.Fprintf(&b, "--- run %s ---\n", ex.RunID)
		for _, doc := range ex.Conversation {
			for _, block := range doc.Blocks {
				fmt.Fprintf(&b, "[%s] %s\n", doc.Role, block.Text)
			}
		}
	}
	text := b.String()
	if len(text) > maxExcerptChars {
		text = text[:maxExcerptChars]
	}
	return text
}
