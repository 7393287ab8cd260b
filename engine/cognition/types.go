// Package cognition implements the Assembler: for a topic query, recall
// relevant Bricks, expand them back to their originating Source Runs,
// deduplicate and normalize the evidence, and emit a content-addressed
// artifact with provenance registered in the knowledge graph.
package cognition

// Block is one paragraph-level span of a normalized message.
type Block struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Span pins a recalled Brick to the message/block it was found in, used to
// build the per-document coverage map.
type Span struct {
	MessageID  string `json:"message_id"`
	BlockIndex int    `json:"block_index"`
}

// NormalizedDoc is one Source Run message, flattened into addressable
// blocks of text.
type NormalizedDoc struct {
	MessageID string  `json:"message_id"`
	Role      string  `json:"role"`
	CreatedAt string  `json:"created_at,omitempty"`
	Blocks    []Block `json:"blocks"`
}

// Coverage is the set of spans a recalled Brick set touched within one
// Source Run.
type Coverage struct {
	Spans []Span `json:"spans"`
}

// Excerpt is one deduplicated Source Run, normalized and annotated with
// the coverage the recalled Bricks gave it.
type Excerpt struct {
	RunID        string          `json:"run_id"`
	Coverage     Coverage        `json:"coverage"`
	Conversation []NormalizedDoc `json:"conversation"`
}

// Provenance names every Brick and Source Run an artifact's payload was
// built from.
type Provenance struct {
	BrickIDs []string `json:"brick_ids"`
	RunIDs   []string `json:"run_ids"`
}

// Visuals holds the optional diagram/formula output an external cognitive
// extractor may contribute alongside the extracted facts.
type Visuals struct {
	Mermaid string `json:"mermaid,omitempty"`
	Latex   string `json:"latex,omitempty"`
}

// CoverageStatus classifies whether recall found anything to assemble.
type CoverageStatus string

const (
	StatusAssembled       CoverageStatus = "ASSEMBLED"
	StatusNoRecallMatches CoverageStatus = "NO_RECALL_MATCHES"
)

// Payload is the content-addressed body of a cognition artifact. It must
// stay strictly time-independent — no timestamps inside — so that an
// unchanged corpus and query always hash to the same artifact_id.
type Payload struct {
	Topic          string         `json:"topic"`
	Provenance     Provenance     `json:"provenance"`
	RawExcerpts    []Excerpt      `json:"raw_excerpts"`
	CoverageStatus CoverageStatus `json:"coverage_status"`
	ExtractedFacts []string       `json:"extracted_facts"`
	Visuals        Visuals        `json:"visuals"`
	Decisions      []string       `json:"decisions"`
	Constraints    []string       `json:"constraints"`
	EdgeCases      []string       `json:"edge_cases"`
	ArtifactType   string         `json:"artifact_type"`
}

// ArtifactType is the one artifact kind this Assembler currently produces.
const ArtifactType = "TOPIC_COGNITION_V1"

// Artifact is the persisted envelope around a content-addressed Payload.
type Artifact struct {
	ArtifactID  string   `json:"artifact_id"`
	CreatedAt   string   `json:"created_at"`
	Query       string   `json:"query"`
	DerivedFrom []string `json:"derived_from"`
	Payload     Payload  `json:"payload"`
}
