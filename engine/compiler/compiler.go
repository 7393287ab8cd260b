// Package compiler turns a Source Run's new messages into materialized
// Bricks for one Topic. It is the zero-trust boundary between an external
// model's proposals and the governed graph: nothing a model returns is
// trusted until it is checked against the exact bytes of the source.
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nexuscore/nexus/engine/audit"
	"github.com/nexuscore/nexus/engine/domain"
	"github.com/nexuscore/nexus/engine/extract"
	"github.com/nexuscore/nexus/engine/prompts"
	"github.com/nexuscore/nexus/pkg/fn"
	"github.com/nexuscore/nexus/pkg/resilience"
)

// systemPromptSlug is the governed prompt slug the extractor's instructions
// are loaded from. It is both approved and critical in prompts.DefaultPolicy.
const systemPromptSlug = "nexus-compiler-system"

// fallbackSystemPrompt is used only if the governed store has no row for
// systemPromptSlug yet (e.g. a fresh deployment before seeding).
const fallbackSystemPrompt = `You are a deterministic extraction engine, not a chat assistant.

Scan the Source JSON below and identify text spans belonging to the target
Topic. Return ONLY a JSON object of the shape:

{"extracted_pointers": [{"topic_id": "...", "json_path": "...", "verbatim_quote": "..."}]}

Rules:
- verbatim_quote must be copied exactly from the source, never paraphrased.
- json_path must address one message using dotted-index notation, e.g.
  "messages.3.content" or "messages.3.content_blocks.0.text".
- one Pointer per distinct fact; never merge unrelated statements.
- only extract explicit statements, never inferred ones.`

// Store is the persistence surface the Compiler needs from pgstore.Store.
type Store interface {
	GetRun(ctx context.Context, id string) (domain.SourceRun, error)
	GetTopic(ctx context.Context, id string) (domain.Topic, error)
	AdvanceBoundary(ctx context.Context, runID string, newIndex int) error
	SaveBrick(ctx context.Context, b domain.Brick) error
	FingerprintsForTopic(ctx context.Context, topicID string) (map[string]bool, error)
}

// Deps wires the Compiler's collaborators.
type Deps struct {
	Store     Store
	Prompts   *prompts.Manager
	Extractor extract.Extractor
	Audit     *audit.Logger
	Breaker   *resilience.Breaker
	Logger    *slog.Logger
}

// Compiler runs compile_run: fetch resources, scan the new window, call the
// extractor, validate every proposed pointer against the raw source, and
// materialize what survives.
type Compiler struct {
	deps Deps
}

// New builds a Compiler over deps.
func New(deps Deps) *Compiler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Compiler{deps: deps}
}

// CompileRun compiles runID's unprocessed messages against topicID,
// returning the count of newly materialized Bricks.
func (c *Compiler) CompileRun(ctx context.Context, runID, topicID string) (int, error) {
	run, err := c.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("compiler: get run %s: %w", runID, err)
	}
	topic, err := c.deps.Store.GetTopic(ctx, topicID)
	if err != nil {
		return 0, fmt.Errorf("compiler: get topic %s: %w", topicID, err)
	}

	lastProcessed := run.LastProcessedIndex
	c.emit(audit.RunCompileStarted, runID, topicID, audit.ActionAccepted, "",
		map[string]any{"last_processed_index": lastProcessed})

	window, scannedIndices, maxIndex := scanWindow(run.RawContent, lastProcessed)
	if len(window) == 0 {
		c.emit(audit.LLMCallSkipped, runID, topicID, audit.ActionSkipped,
			"no new messages beyond last_processed_index", nil)
		return 0, nil
	}

	pointers, cost, parsed, err := c.extractPointers(ctx, topic, window)
	if err != nil {
		return 0, fmt.Errorf("compiler: extract pointers: %w", err)
	}
	c.emitExtraction(runID, topicID, cost, parsed)

	c.emit(audit.PointersExtracted, runID, topicID, audit.ActionAccepted,
		fmt.Sprintf("extracted %d candidate pointers", len(pointers)),
		map[string]any{"pointer_count": len(pointers)})

	seenFingerprints, err := c.deps.Store.FingerprintsForTopic(ctx, topicID)
	if err != nil {
		return 0, fmt.Errorf("compiler: fingerprints for topic %s: %w", topicID, err)
	}

	rawJSON, err := json.Marshal(run.RawContent)
	if err != nil {
		return 0, fmt.Errorf("compiler: marshal raw content: %w", err)
	}

	newBricks := 0
	for _, ptr := range pointers {
		brick, ok := c.materialize(rawJSON, runID, topicID, ptr, scannedIndices, seenFingerprints)
		if !ok {
			continue
		}
		if err := c.deps.Store.SaveBrick(ctx, brick); err != nil {
			return newBricks, fmt.Errorf("compiler: save brick %s: %w", brick.ID, err)
		}
		seenFingerprints[brick.Fingerprint] = true
		c.emit(audit.BrickMaterialized, runID, topicID, audit.ActionAccepted, "",
			map[string]any{"brick_id": brick.ID})
		newBricks++
	}

	if maxIndex > lastProcessed {
		if err := c.deps.Store.AdvanceBoundary(ctx, runID, maxIndex); err != nil {
			return newBricks, fmt.Errorf("compiler: advance boundary: %w", err)
		}
		c.emit(audit.BoundaryAdvanced, runID, topicID, audit.ActionAccepted, "",
			map[string]any{"before": lastProcessed, "after": maxIndex})
	}

	c.emit(audit.RunCompileCompleted, runID, topicID, audit.ActionAccepted,
		fmt.Sprintf("created %d bricks", newBricks),
		map[string]any{"new_bricks": newBricks})
	return newBricks, nil
}

// scanWindow returns the messages past lastProcessed, the set of their
// indices (the incremental boundary guard's allow-list for json_path
// resolution), and the highest index seen.
func scanWindow(raw domain.RawContent, lastProcessed int) ([]domain.NormalizedMessage, map[int]bool, int) {
	var window []domain.NormalizedMessage
	indices := map[int]bool{}
	maxIndex := lastProcessed
	for _, m := range raw.Messages {
		if m.Index > lastProcessed {
			window = append(window, m)
			indices[m.Index] = true
			if m.Index > maxIndex {
				maxIndex = m.Index
			}
		}
	}
	return window, indices, maxIndex
}

// extractPointers loads the governed system prompt, builds the user prompt
// from the scan window, and calls the extractor behind the circuit breaker.
func (c *Compiler) extractPointers(ctx context.Context, topic domain.Topic, window []domain.NormalizedMessage) ([]domain.Pointer, audit.Cost, bool, error) {
	systemPrompt, err := c.deps.Prompts.GetPrompt(ctx, systemPromptSlug, nil, fallbackSystemPrompt)
	if err != nil {
		return nil, audit.Cost{}, false, err
	}
	userPrompt, err := buildUserPrompt(topic, window)
	if err != nil {
		return nil, audit.Cost{}, false, err
	}

	call := func(ctx context.Context) fn.Result[extract.Result] {
		return fn.FromPair(c.deps.Extractor.Extract(ctx, systemPrompt, userPrompt))
	}

	var res fn.Result[extract.Result]
	if c.deps.Breaker != nil {
		res = resilience.CallResult(c.deps.Breaker, ctx, call)
	} else {
		res = call(ctx)
	}

	result, err := res.Unwrap()
	if err != nil {
		return nil, audit.Cost{}, false, err
	}
	if !result.Parsed {
		return nil, result.Cost, false, nil
	}
	return result.Pointers, result.Cost, true, nil
}

func buildUserPrompt(topic domain.Topic, window []domain.NormalizedMessage) (string, error) {
	windowJSON, err := json.Marshal(window)
	if err != nil {
		return "", err
	}
	exclusions, err := json.Marshal(topic.Definition.ExclusionCriteria)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TARGET TOPIC: %q\n\n", topic.ID)
	fmt.Fprintf(&b, "DEFINITION:\n%s\n\n", topic.Definition.ScopeDescription)
	fmt.Fprintf(&b, "EXCLUSIONS (do not extract):\n%s\n\n", exclusions)
	fmt.Fprintf(&b, "SOURCE MESSAGES TO SCAN:\n{\"messages\":%s}\n", windowJSON)
	return b.String(), nil
}

// materialize is the zero-trust validation gate. It returns ok=false for
// any pointer that fails one of the trust boundaries, each of which is
// separately audited except the raw path-resolution failure (a malformed
// or non-message path is simply discarded, matching an LLM that pointed
// somewhere structurally meaningless rather than fabricated content).
func (c *Compiler) materialize(rawJSON []byte, runID, topicID string, ptr domain.Pointer, scannedIndices map[int]bool, seenFingerprints map[string]bool) (domain.Brick, bool) {
	if ptr.TopicID != topicID {
		c.emit(audit.LLMPointerMismatch, runID, topicID, audit.ActionRejected,
			fmt.Sprintf("extractor proposed topic %q for a %q run", ptr.TopicID, topicID),
			map[string]any{"json_path": ptr.JSONPath})
		return domain.Brick{}, false
	}

	if idx, ok := messageIndex(ptr.JSONPath); ok && !scannedIndices[idx] {
		c.emit(audit.LLMPathOutOfBounds, runID, topicID, audit.ActionRejected,
			fmt.Sprintf("json_path points to message %d outside the current scan window", idx),
			map[string]any{"json_path": ptr.JSONPath})
		return domain.Brick{}, false
	}

	result := gjson.GetBytes(rawJSON, ptr.JSONPath)
	if !result.Exists() {
		return domain.Brick{}, false
	}
	nodeText := result.String()

	startIdx := strings.Index(nodeText, ptr.VerbatimQuote)
	if startIdx == -1 {
		c.emit(audit.LLMHallucinationFound, runID, topicID, audit.ActionRejected,
			fmt.Sprintf("verbatim quote not found at %s", ptr.JSONPath),
			map[string]any{"json_path": ptr.JSONPath})
		return domain.Brick{}, false
	}
	endIdx := startIdx + len(ptr.VerbatimQuote)

	fingerprint := fingerprintOf(ptr.VerbatimQuote)
	if seenFingerprints[fingerprint] {
		return domain.Brick{}, false
	}

	return domain.Brick{
		ID:          brickID(topicID, fingerprint),
		TopicID:     topicID,
		Content:     ptr.VerbatimQuote,
		Fingerprint: fingerprint,
		State:       domain.BrickImprovise,
		SourceAddress: domain.SourceAddress{
			RunID:      runID,
			JSONPath:   ptr.JSONPath,
			StartIndex: startIdx,
			EndIndex:   endIdx,
			Checksum:   checksumOf(nodeText),
		},
		CreatedAt: time.Now().UTC(),
	}, true
}

// messageIndex extracts the message index from a "messages.N..." path. A
// path with no such prefix returns ok=false, exempting it from the bounds
// check instead of rejecting it outright.
func messageIndex(path string) (int, bool) {
	const prefix = "messages."
	if !strings.HasPrefix(path, prefix) {
		return 0, false
	}
	rest := path[len(prefix):]
	end := strings.IndexByte(rest, '.')
	if end == -1 {
		end = len(rest)
	}
	idx, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return idx, true
}

func fingerprintOf(quote string) string {
	norm := strings.ToLower(strings.TrimSpace(quote))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

func checksumOf(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func brickID(topicID, fingerprint string) string {
	sum := sha256.Sum256([]byte(topicID + fingerprint))
	return hex.EncodeToString(sum[:])
}

func (c *Compiler) emit(t audit.EventType, runID, topicID string, action audit.DecisionAction, reason string, metadata map[string]any) {
	if c.deps.Audit == nil {
		return
	}
	_ = c.deps.Audit.Emit(audit.Event{
		EventType: t,
		Component: "compiler",
		Agent:     "compiler.Compiler",
		RunID:     runID,
		TopicID:   topicID,
		Decision:  audit.Decision{Action: action, Reason: reason},
		Metadata:  metadata,
	})
}

// emitExtraction records the paid extraction call, attaching Cost so the
// economic invariant Logger.Emit enforces on L2/L3 events is satisfied.
func (c *Compiler) emitExtraction(runID, topicID string, cost audit.Cost, parsed bool) {
	if c.deps.Audit == nil {
		return
	}
	action := audit.ActionLLMCall
	reason := "extraction call"
	if !parsed {
		action = audit.ActionRejected
		reason = "extractor reply failed to parse as JSON"
	}
	_ = c.deps.Audit.Emit(audit.Event{
		EventType: audit.LLMCallExecuted,
		Component: "compiler",
		Agent:     "compiler.Compiler",
		RunID:     runID,
		TopicID:   topicID,
		ModelTier: audit.TierL2,
		Cost:      &cost,
		Decision:  audit.Decision{Action: action, Reason: reason},
	})
}
