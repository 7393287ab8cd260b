// Package domain defines core domain types, constants, and validation for the
// Nexus engine pipeline. It acts as the validation gate at pipeline entry points.
package domain

import "time"

// ContentBlockType distinguishes the typed parts of a message.
type ContentBlockType string

const (
	BlockText ContentBlockType = "text"
	BlockCode ContentBlockType = "code"
	BlockTool ContentBlockType = "tool_output"
	BlockOther ContentBlockType = "other"
)

// ContentBlock is one typed part of a message's content, kept alongside the
// flat text rendering so the compiler's validator always works on the exact
// bytes the extractor saw.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`
	Text string           `json:"text"`
}

// Message is one node's payload within a Conversation mapping.
type Message struct {
	ID          string         `json:"id"`
	Role        string         `json:"role"`
	ContentType string         `json:"content_type"`
	Parts       []any          `json:"parts"`
	CreateTime  *float64       `json:"create_time,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ModelName   string         `json:"model,omitempty"`
}

// ConversationNode is one entry in a Conversation's id->node mapping.
type ConversationNode struct {
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`
	Message  *Message `json:"message,omitempty"`
}

// Conversation is the raw, immutable input unit: a tree of messages keyed by
// node id. Identity is the conversation id; it is never mutated after ingest.
type Conversation struct {
	ID         string                      `json:"id"`
	Title      string                      `json:"title,omitempty"`
	CreateTime *float64                    `json:"create_time,omitempty"`
	Mapping    map[string]ConversationNode `json:"mapping"`
}

// NormalizedMessage is one flattened, path-stable entry of a Source Run.
// Rich-ingest mode keeps ContentBlocks; legacy mode leaves it nil and relies
// only on Content.
type NormalizedMessage struct {
	Index         int            `json:"index"`
	MessageID     string         `json:"message_id"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	CreatedAt     string         `json:"created_at,omitempty"`
	ModelName     string         `json:"model_name,omitempty"`
	Provenance    Provenance     `json:"provenance"`
}

// Provenance records where a normalized message came from in the original tree.
type Provenance struct {
	ConversationID string `json:"conversation_id"`
	MappingID      string `json:"mapping_id"`
	PathID         string `json:"path_id"`
	BranchDepth    int    `json:"branch_depth"`
}

// RawContent is the persisted body of a Source Run.
type RawContent struct {
	Messages []NormalizedMessage `json:"messages"`
}

// SourceRunStatus tracks whether a run is still receiving new messages.
type SourceRunStatus string

const (
	RunOpen   SourceRunStatus = "OPEN"
	RunClosed SourceRunStatus = "CLOSED"
)

// SourceRun is one DFS root-to-leaf linearization of a Conversation.
type SourceRun struct {
	ID                 string          `json:"id"`
	RawContent         RawContent      `json:"raw_content"`
	LastProcessedIndex int             `json:"last_processed_index"`
	Status             SourceRunStatus `json:"status"`
}

// TopicDefinition is the extraction contract a Topic hands to the Compiler.
type TopicDefinition struct {
	ScopeDescription  string   `json:"scope_description"`
	ExclusionCriteria []string `json:"exclusion_criteria,omitempty"`
}

// Topic names an extraction contract bricks are materialized against.
type Topic struct {
	ID           string          `json:"id"`
	DisplayName  string          `json:"display_name"`
	Definition   TopicDefinition `json:"definition"`
	OrderingRule string          `json:"ordering_rule"`
	State        string          `json:"state"`
}

// Topic.State values, matching what pgstore's topics.state column stores.
// Archived topics are kept for their existing Bricks but are skipped by new
// compile triggers.
const (
	TopicActive   = "ACTIVE"
	TopicArchived = "ARCHIVED"
)

// Pointer is an extractor's unverified proposal. It is never persisted as-is
// — only a Brick materialized from a verified Pointer is.
type Pointer struct {
	TopicID       string `json:"topic_id"`
	JSONPath      string `json:"json_path"`
	VerbatimQuote string `json:"verbatim_quote"`
}

// BrickState is the materialization lifecycle of a Brick (distinct from the
// graph Intent lifecycle in engine/graph).
type BrickState string

const (
	BrickImprovise  BrickState = "IMPROVISE"
	BrickForming    BrickState = "FORMING"
	BrickFinal      BrickState = "FINAL"
	BrickSuperseded BrickState = "SUPERSEDED"
)

// SourceAddress pins a Brick to the exact byte span it was extracted from.
type SourceAddress struct {
	RunID      string `json:"run_id"`
	JSONPath   string `json:"json_path"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Checksum   string `json:"checksum"`
}

// Brick is a materialized atomic claim, verbatim and source-addressed.
type Brick struct {
	ID            string        `json:"id"`
	TopicID       string        `json:"topic_id"`
	Content       string        `json:"content"`
	Fingerprint   string        `json:"fingerprint"`
	State         BrickState    `json:"state"`
	SourceAddress SourceAddress `json:"source_address"`
	CreatedAt     time.Time     `json:"created_at"`
}
