// Package extract is the Extractor Adapter: it invokes an external
// text-in/JSON-out model and returns proposed Pointer objects. The compiler
// treats everything this package returns as unverified until the zero-trust
// validation gate checks it against the raw source.
package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscore/nexus/engine/audit"
	"github.com/nexuscore/nexus/engine/domain"
)

// Result bundles the proposed pointers with the cost/token accounting the
// economic invariant requires the caller to attach to its audit event.
type Result struct {
	Pointers []domain.Pointer
	Cost     audit.Cost
	Parsed   bool // false when the model's output was not valid JSON
}

// Extractor calls an external model with a system prompt and a user prompt
// built from the topic definition and the filtered message window, and
// returns its proposed pointers.
type Extractor interface {
	Extract(ctx context.Context, systemPrompt, userPrompt string) (Result, error)
}

// extractedPointers is the JSON shape the system prompt instructs the model
// to respond with: {"extracted_pointers": Pointer[]}.
type extractedPointers struct {
	ExtractedPointers []domain.Pointer `json:"extracted_pointers"`
}

// AnthropicExtractor is the default Extractor, backed by the Anthropic
// Messages API.
type AnthropicExtractor struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicExtractor builds an Extractor using apiKey. model selects the
// Claude model used for pointer extraction; if empty, ClaudeSonnet4_5 is used.
func NewAnthropicExtractor(apiKey string, model anthropic.Model, maxTokens int64) *AnthropicExtractor {
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicExtractor{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Extract sends systemPrompt/userPrompt to the model and parses its reply as
// {"extracted_pointers": [...]}. A reply that fails to parse is not an error:
// it is reported back as an empty, unparsed Result so the caller can emit
// LLM_CALL_EXECUTED with decision=REJECTED, reason=parse-error and continue.
func (a *AnthropicExtractor) Extract(ctx context.Context, systemPrompt, userPrompt string) (Result, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrExtractorFailure, err)
	}

	cost := audit.Cost{
		USD:       estimateCostUSD(a.model, int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)),
		TokensIn:  int(msg.Usage.InputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
	}

	var raw string
	for _, block := range msg.Content {
		if block.Type == "text" {
			raw += block.Text
		}
	}

	var parsed extractedPointers
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Result{Cost: cost, Parsed: false}, nil
	}
	return Result{Pointers: parsed.ExtractedPointers, Cost: cost, Parsed: true}, nil
}

// estimateCostUSD applies one fixed rate pair (3 USD per million input
// tokens, 15 USD per million output tokens) to the token counts; the model
// argument does not change the rate. Rates are approximate and only used to satisfy the economic invariant's
// requirement that paid calls carry a nonzero cost estimate.
func estimateCostUSD(model anthropic.Model, tokensIn, tokensOut int) float64 {
	const (
		inPerMillion  = 3.00
		outPerMillion = 15.00
	)
	return float64(tokensIn)/1_000_000*inPerMillion + float64(tokensOut)/1_000_000*outPerMillion
}
