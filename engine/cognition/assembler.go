package cognition

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nexuscore/nexus/engine/audit"
	"github.com/nexuscore/nexus/engine/domain"
	"github.com/nexuscore/nexus/engine/graph"
	"github.com/nexuscore/nexus/engine/vector"
)

// Recaller is the read-only recall surface the Assembler pulls candidate
// evidence from.
type Recaller interface {
	Recall(ctx context.Context, query string, k int, allowedScopes []string, useRewrite bool) ([]vector.Candidate, error)
}

// BrickStore loads the materialized Brick a recalled Candidate points at, so
// its Source Address can be followed back to the originating run.
type BrickStore interface {
	GetBrick(ctx context.Context, id string) (domain.Brick, error)
}

// RunStore loads the full Source Run a Brick was materialized from.
type RunStore interface {
	GetRun(ctx context.Context, id string) (domain.SourceRun, error)
}

// Embedder is the minimal surface the conflict-resolution pass needs to
// compare a newly extracted fact against existing intents.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Synthesizer turns normalized excerpts into the facts (and, optionally,
// visuals) an artifact's payload carries. It is optional: an Assembler with
// a nil Synthesizer still produces a fully provenanced artifact with empty
// ExtractedFacts, matching the original's placeholder fields.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, excerpts []Excerpt) (SynthesisResult, error)
}

// SynthesisResult is everything an external cognitive extractor can
// contribute to a topic's artifact.
type SynthesisResult struct {
	Facts       []string
	Decisions   []string
	Constraints []string
	EdgeCases   []string
	Mermaid     string
	Latex       string
}

// GraphStore is the provenance-registration and conflict-resolution surface
// the Assembler writes to.
type GraphStore interface {
	RegisterNode(ctx context.Context, typ graph.NodeType, id string, attrs map[string]any, merge bool) (graph.Node, error)
	RegisterEdge(ctx context.Context, srcID, dstID string, typ graph.EdgeType, attrs map[string]any) (graph.Edge, error)
	AddTypedEdge(ctx context.Context, srcID, dstID string, typ graph.EdgeType, attrs map[string]any) (graph.Edge, error)
	ListByType(ctx context.Context, typ graph.NodeType) ([]graph.Node, error)
}

// recallK mirrors the original's "boost k slightly for coverage" comment:
// pulling more candidates than a normal recall request gives an artifact
// room to aggregate evidence across several source runs.
const recallK = 15

// defaultConflictSimilarityThreshold is the cosine-similarity cutoff above
// which a freshly extracted fact is treated as restating an existing
// intent rather than introducing a new one. See SPEC_FULL.md's resolved
// open question #2.
const defaultConflictSimilarityThreshold = 0.85

// Deps wires the Assembler's collaborators. Recaller, BrickStore, and
// RunStore are required; Synthesizer, Embedder, GraphStore, and Audit are
// optional — omitting them degrades gracefully (no facts extracted, no
// conflict resolution, no graph provenance) rather than failing closed,
// since none of those are needed to produce a valid, content-addressed
// artifact file.
type Deps struct {
	Recaller    Recaller
	Bricks      BrickStore
	Runs        RunStore
	Synthesizer Synthesizer
	Embedder    Embedder
	Graph       GraphStore
	Audit       *audit.Logger

	// OutputDir is where artifact JSON files are written. Defaults to
	// "output/artifacts" if empty.
	OutputDir string
	// ConflictSimilarityThreshold defaults to 0.85 if zero.
	ConflictSimilarityThreshold float64
}

// Assembler is the Cognition Assembler: it turns a topic query into a
// persisted, content-addressed artifact with full provenance back to the
// Bricks and Source Runs it was built from.
type Assembler struct {
	deps Deps
}

// New builds an Assembler. deps.OutputDir and deps.ConflictSimilarityThreshold
// are defaulted if left zero.
func New(deps Deps) *Assembler {
	if deps.OutputDir == "" {
		deps.OutputDir = filepath.Join("output", "artifacts")
	}
	if deps.ConflictSimilarityThreshold == 0 {
		deps.ConflictSimilarityThreshold = defaultConflictSimilarityThreshold
	}
	return &Assembler{deps: deps}
}

type unmatchedDoc struct {
	runID string
	docs  []NormalizedDoc
	spans []Span
	bricks map[string]bool
}

// AssembleTopic runs the full recall -> expand -> dedup -> synthesize ->
// persist -> provenance pipeline for query and returns the resulting
// artifact.
func (a *Assembler) AssembleTopic(ctx context.Context, query string) (Artifact, error) {
	a.emit(audit.QueryReceived, query, audit.ActionAccepted, "")

	candidates, err := a.deps.Recaller.Recall(ctx, query, recallK, nil, false)
	if err != nil {
		return Artifact{}, fmt.Errorf("cognition: recall: %w", err)
	}

	if len(candidates) == 0 {
		return a.persistAndRegister(ctx, query, Payload{
			Topic:          query,
			Provenance:     Provenance{BrickIDs: []string{}, RunIDs: []string{}},
			RawExcerpts:    []Excerpt{},
			CoverageStatus: StatusNoRecallMatches,
			ExtractedFacts: []string{},
			Decisions:      []string{},
			Constraints:    []string{},
			EdgeCases:      []string{},
			ArtifactType:   ArtifactType,
		}, nil)
	}

	docsByHash := map[string]*unmatchedDoc{}
	var hashOrder []string

	for _, cand := range candidates {
		brick, err := a.deps.Bricks.GetBrick(ctx, cand.BrickID)
		if err != nil {
			continue
		}
		run, err := a.deps.Runs.GetRun(ctx, brick.SourceAddress.RunID)
		if err != nil {
			continue
		}

		docHash, err := contentHash(run.RawContent)
		if err != nil {
			continue
		}

		entry, ok := docsByHash[docHash]
		if !ok {
			entry = &unmatchedDoc{runID: run.ID, docs: normalizeRun(run), bricks: map[string]bool{}}
			docsByHash[docHash] = entry
			hashOrder = append(hashOrder, docHash)
		}
		entry.bricks[cand.BrickID] = true

		msgIdx, blockIdx := locateSpan(run, brick)
		if msgIdx >= 0 {
			entry.spans = append(entry.spans, Span{
				MessageID:  run.RawContent.Messages[msgIdx].MessageID,
				BlockIndex: blockIdx,
			})
		}
	}

	var excerpts []Excerpt
	brickSet := map[string]bool{}
	var runIDs []string

	for _, h := range hashOrder {
		entry := docsByHash[h]
		excerpts = append(excerpts, Excerpt{
			RunID:        entry.runID,
			Coverage:     Coverage{Spans: entry.spans},
			Conversation: entry.docs,
		})
		runIDs = append(runIDs, entry.runID)
		for id := range entry.bricks {
			brickSet[id] = true
		}
	}

	brickIDs := make([]string, 0, len(brickSet))
	for id := range brickSet {
		brickIDs = append(brickIDs, id)
	}
	sort.Strings(brickIDs)
	sort.Strings(runIDs)

	payload := Payload{
		Topic:          query,
		Provenance:     Provenance{BrickIDs: brickIDs, RunIDs: runIDs},
		RawExcerpts:    excerpts,
		CoverageStatus: StatusAssembled,
		ExtractedFacts: []string{},
		Decisions:      []string{},
		Constraints:    []string{},
		EdgeCases:      []string{},
		ArtifactType:   ArtifactType,
	}

	if a.deps.Synthesizer != nil {
		result, err := a.deps.Synthesizer.Synthesize(ctx, query, excerpts)
		if err == nil {
			payload.ExtractedFacts = result.Facts
			payload.Decisions = result.Decisions
			payload.Constraints = result.Constraints
			payload.EdgeCases = result.EdgeCases
			payload.Visuals = Visuals{Mermaid: result.Mermaid, Latex: result.Latex}
		} else {
			a.emit(audit.LLMCallSkipped, query, audit.ActionSkipped, err.Error())
		}
	}

	return a.persistAndRegister(ctx, query, payload, brickIDs)
}

// persistAndRegister hashes payload, writes the artifact file, and — when a
// GraphStore is configured and recall returned candidates — registers
// provenance and runs conflict resolution over the extracted facts. An
// artifact with coverage_status NO_RECALL_MATCHES is written but not
// registered in the graph.
func (a *Assembler) persistAndRegister(ctx context.Context, query string, payload Payload, brickIDs []string) (Artifact, error) {
	hash, err := contentHash(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("cognition: hashing payload: %w", err)
	}

	artifact := Artifact{
		ArtifactID:  hash,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Query:       query,
		DerivedFrom: brickIDs,
		Payload:     payload,
	}
	if artifact.DerivedFrom == nil {
		artifact.DerivedFrom = []string{}
	}

	if err := a.writeArtifact(artifact); err != nil {
		return Artifact{}, err
	}

	slug := slugify(query)
	if a.deps.Graph != nil && payload.CoverageStatus != StatusNoRecallMatches {
		a.registerProvenance(ctx, slug, artifact)
		if err := a.resolveConflicts(ctx, slug, artifact.Payload.ExtractedFacts); err != nil {
			a.emit(audit.EdgeRejected, query, audit.ActionRejected, err.Error())
		}
	}

	a.emit(audit.SynthesisTriggered, query, audit.ActionAccepted, string(payload.CoverageStatus))
	return artifact, nil
}

func (a *Assembler) writeArtifact(artifact Artifact) error {
	if err := os.MkdirAll(a.deps.OutputDir, 0o755); err != nil {
		return fmt.Errorf("cognition: creating output dir: %w", err)
	}
	slug := slugify(artifact.Query)
	filename := fmt.Sprintf("%s_%s_%d.json", slug, artifact.ArtifactID[:12], time.Now().Unix())

	body, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("cognition: marshaling artifact: %w", err)
	}
	if err := os.WriteFile(filepath.Join(a.deps.OutputDir, filename), body, 0o644); err != nil {
		return fmt.Errorf("cognition: writing artifact: %w", err)
	}
	return nil
}

func (a *Assembler) registerProvenance(ctx context.Context, slug string, artifact Artifact) {
	topicNodeID := "topic_" + slug
	if _, err := a.deps.Graph.RegisterNode(ctx, graph.NodeArtifact, artifact.ArtifactID, map[string]any{
		"topic":      artifact.Query,
		"created_at": artifact.CreatedAt,
		"type":       ArtifactType,
	}, false); err != nil {
		return
	}
	if _, err := a.deps.Graph.RegisterNode(ctx, graph.NodeTopic, topicNodeID, map[string]any{
		"topic_slug":     slug,
		"original_query": artifact.Query,
	}, true); err != nil {
		return
	}
	_, _ = a.deps.Graph.RegisterEdge(ctx, topicNodeID, artifact.ArtifactID, graph.EdgeAssembledIn, nil)

	for _, brickID := range artifact.DerivedFrom {
		_, _ = a.deps.Graph.RegisterNode(ctx, graph.NodeBrick, brickID, map[string]any{}, false)
		_, _ = a.deps.Graph.RegisterEdge(ctx, artifact.ArtifactID, brickID, graph.EdgeDerivedFrom, nil)
	}
}

// resolveConflicts implements the monotonic conflict-resolution pass: each
// newly extracted fact is compared against every existing intent for this
// topic. A close match to a FROZEN intent leaves the anchor in place and
// files the new fact underneath it (anchor wins); a close match to a
// FORMING intent supersedes it outright; anything else becomes a fresh
// FORMING intent. Facts are registered independently of each other — one
// failing does not block the rest.
func (a *Assembler) resolveConflicts(ctx context.Context, slug string, facts []string) error {
	if a.deps.Embedder == nil || len(facts) == 0 {
		return nil
	}

	existing, err := a.deps.Graph.ListByType(ctx, graph.NodeIntent)
	if err != nil {
		return err
	}
	topicIntents := make([]graph.Node, 0, len(existing))
	for _, n := range existing {
		if topicSlug, _ := n.Data["topic_slug"].(string); topicSlug == slug {
			topicIntents = append(topicIntents, n)
		}
	}

	threshold := a.deps.ConflictSimilarityThreshold
	var lastErr error
	for i, fact := range facts {
		factVec, err := a.deps.Embedder.Embed(ctx, fact)
		if err != nil {
			lastErr = err
			continue
		}

		bestSim := -1.0
		var bestMatch graph.Node
		for _, n := range topicIntents {
			stmt, _ := n.Data["statement"].(string)
			if stmt == "" {
				continue
			}
			vec, err := a.deps.Embedder.Embed(ctx, stmt)
			if err != nil {
				continue
			}
			if sim := cosineSimilarity(factVec, vec); sim > bestSim {
				bestSim = sim
				bestMatch = n
			}
		}

		newID := fmt.Sprintf("intent_%s_%d", slug, i)
		newAttrs := map[string]any{
			"lifecycle": string(graph.FORMING),
			"statement": fact,
			"topic_slug": slug,
		}

		switch {
		case bestSim >= threshold && nodeLifecycle(bestMatch) == graph.FROZEN:
			if _, err := a.deps.Graph.RegisterNode(ctx, graph.NodeIntent, newID, newAttrs, false); err != nil {
				lastErr = err
				continue
			}
			if _, err := a.deps.Graph.AddTypedEdge(ctx, bestMatch.ID, newID, graph.EdgeOverrides, map[string]any{"reason": "frozen-anchor"}); err != nil {
				lastErr = err
			}
		case bestSim >= threshold && nodeLifecycle(bestMatch) == graph.FORMING:
			if _, err := a.deps.Graph.RegisterNode(ctx, graph.NodeIntent, newID, newAttrs, false); err != nil {
				lastErr = err
				continue
			}
			if _, err := a.deps.Graph.RegisterEdge(ctx, newID, bestMatch.ID, graph.EdgeOverrides, map[string]any{"reason": "superseded-forming"}); err != nil {
				lastErr = err
				continue
			}
			if _, err := a.deps.Graph.RegisterNode(ctx, graph.NodeIntent, bestMatch.ID, map[string]any{"lifecycle": string(graph.SUPERSEDED)}, true); err != nil {
				lastErr = err
			}
		default:
			if _, err := a.deps.Graph.RegisterNode(ctx, graph.NodeIntent, newID, newAttrs, false); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// nodeLifecycle reads the lifecycle field out of an intent node's Data,
// mirroring graph.Node's own unexported lifecycleOf since that accessor
// isn't exported across package boundaries.
func nodeLifecycle(n graph.Node) graph.Lifecycle {
	v, _ := n.Data["lifecycle"].(string)
	return graph.Lifecycle(v)
}

func (a *Assembler) emit(t audit.EventType, query string, action audit.DecisionAction, reason string) {
	if a.deps.Audit == nil {
		return
	}
	_ = a.deps.Audit.Emit(audit.Event{
		EventType: t,
		Component: "cognition",
		Decision:  audit.Decision{Action: action, Reason: reason},
		Metadata:  map[string]any{"query": query},
	})
}

// normalizeRun flattens a run's messages into blocks split the same way the
// original split them: on blank lines.
func normalizeRun(run domain.SourceRun) []NormalizedDoc {
	docs := make([]NormalizedDoc, 0, len(run.RawContent.Messages))
	for _, m := range run.RawContent.Messages {
		var blocks []Block
		idx := 0
		for _, part := range strings.Split(m.Content, "\n\n") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			blocks = append(blocks, Block{Index: idx, Text: trimmed})
			idx++
		}
		docs = append(docs, NormalizedDoc{
			MessageID: m.MessageID,
			Role:      m.Role,
			CreatedAt: m.CreatedAt,
			Blocks:    blocks,
		})
	}
	return docs
}

// locateSpan resolves a Brick's SourceAddress back to the message index it
// came from and the block within that message containing the verbatim
// quote. Returns msgIdx=-1 if the address cannot be resolved.
func locateSpan(run domain.SourceRun, brick domain.Brick) (msgIdx, blockIdx int) {
	idx, ok := messageIndexFromPath(brick.SourceAddress.JSONPath)
	if !ok || idx < 0 || idx >= len(run.RawContent.Messages) {
		return -1, 0
	}
	msg := run.RawContent.Messages[idx]
	block := 0
	for _, part := range strings.Split(msg.Content, "\n\n") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if strings.Contains(trimmed, brick.Content) {
			return idx, block
		}
		block++
	}
	return idx, 0
}

var messagePathPattern = regexp.MustCompile(`^messages\.(\d+)`)

func messageIndexFromPath(path string) (int, bool) {
	m := messagePathPattern.FindStringSubmatch(path)
	if m == nil {
		return 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(m[1], "%d", &idx); err != nil {
		return 0, false
	}
	return idx, true
}

// contentHash hashes the canonical JSON encoding of v. Go's encoder emits
// struct fields in declaration order and sorts map keys, so this is
// deterministic for the same logical value.
func contentHash(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

var slugPattern = regexp.MustCompile(`[^\w\s-]`)
var slugWhitespace = regexp.MustCompile(`[-\s]+`)

// slugify mirrors the original's filename-safe slug: lowercase, strip
// non-word characters, collapse whitespace/dashes, trim, cap at 64 bytes.
func slugify(text string) string {
	s := strings.ToLower(text)
	s = slugPattern.ReplaceAllString(s, "")
	s = slugWhitespace.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
