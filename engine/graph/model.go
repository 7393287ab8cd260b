// Package graph implements the governed knowledge graph: typed nodes and
// edges, a lifecycle state machine, real-time cycle prevention, and the
// combined promote/kill/supersede write operations, all backed by Neo4j.
package graph

import "time"

// NodeType is one of the six node kinds the knowledge graph holds.
type NodeType string

const (
	NodeIntent   NodeType = "intent"
	NodeSource   NodeType = "source"
	NodeScope    NodeType = "scope"
	NodeTopic    NodeType = "topic"
	NodeArtifact NodeType = "artifact"
	NodeBrick    NodeType = "brick"
)

// EdgeType is one of the eight relationship kinds the graph allows.
type EdgeType string

const (
	EdgeDerivedFrom   EdgeType = "DERIVED_FROM"
	EdgeAppliesTo     EdgeType = "APPLIES_TO"
	EdgeOverrides     EdgeType = "OVERRIDES"
	EdgeConflictsWith EdgeType = "CONFLICTS_WITH"
	EdgeRefines       EdgeType = "REFINES"
	EdgeDependsOn     EdgeType = "DEPENDS_ON"
	EdgeAssembledIn   EdgeType = "ASSEMBLED_IN"
	EdgeSupersededBy  EdgeType = "SUPERSEDED_BY"
)

// Lifecycle is the 5-state intent lifecycle.
type Lifecycle string

const (
	LOOSE      Lifecycle = "LOOSE"
	FORMING    Lifecycle = "FORMING"
	FROZEN     Lifecycle = "FROZEN"
	SUPERSEDED Lifecycle = "SUPERSEDED"
	KILLED     Lifecycle = "KILLED"
)

// transitions enumerates the allowed moves out of each lifecycle state.
// A move not listed here is rejected by canTransition (and so by
// PromoteIntent); KILLED lists no targets, so nothing leaves it.
var transitions = map[Lifecycle]map[Lifecycle]bool{
	LOOSE:      {FORMING: true, KILLED: true},
	FORMING:    {FROZEN: true, KILLED: true},
	FROZEN:     {SUPERSEDED: true, KILLED: true},
	SUPERSEDED: {KILLED: true},
	KILLED:     {},
}

// canTransition reports whether from->to is allowed. A self-transition is
// always an idempotent no-op, never a failure.
func canTransition(from, to Lifecycle) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}

// cyclicEdgeTypes are the only edge types subject to the real-time
// cycle guard.
var cyclicEdgeTypes = map[EdgeType]bool{
	EdgeOverrides:    true,
	EdgeSupersededBy: true,
}

// Node is one row of the logical nodes(id, type, data, created_at) relation.
type Node struct {
	ID        string
	Type      NodeType
	Data      map[string]any
	CreatedAt time.Time
}

// Edge is one row of the logical edges(source, target, type, data,
// created_at) relation, keyed by the composite (source, target, type).
type Edge struct {
	Source    string
	Target    string
	Type      EdgeType
	Data      map[string]any
	CreatedAt time.Time
}

// lifecycleOf reads the lifecycle field out of an Intent node's Data. Nodes
// of other types have no lifecycle and report the zero value.
func (n Node) lifecycleOf() Lifecycle {
	v, ok := n.Data["lifecycle"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return Lifecycle(s)
}
