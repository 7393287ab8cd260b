package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/nexuscore/nexus/engine/audit"
	"github.com/nexuscore/nexus/engine/domain"
	"github.com/nexuscore/nexus/pkg/repo"
)

// CypherRunner is the transaction handle every write path in this package
// takes, so a single managed transaction can carry out a combined operation
// (e.g. supersede_node's edge-plus-two-lifecycle-writes) atomically instead
// of opening a transaction per statement.
type CypherRunner = neo4j.ManagedTransaction

// GraphStore is the governed knowledge graph: nodes, edges, the lifecycle
// state machine and the invariants that guard mutation of both.
type GraphStore struct {
	driver neo4j.DriverWithContext
	nodes  *repo.Neo4jRepo[Node, string]
	audit  *audit.Logger
}

// New builds a GraphStore over driver. auditLog may be nil in tests that
// don't care about emitted events.
func New(driver neo4j.DriverWithContext, auditLog *audit.Logger) *GraphStore {
	return &GraphStore{
		driver: driver,
		nodes:  newNodeRepo(driver),
		audit:  auditLog,
	}
}

func (g *GraphStore) newSession(ctx context.Context) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{})
}

func (g *GraphStore) emit(e audit.Event) {
	if g.audit == nil {
		return
	}
	_ = g.audit.Emit(e)
}

// GetNode returns a node by id, or domain.ErrNodeNotFound.
func (g *GraphStore) GetNode(ctx context.Context, id string) (Node, error) {
	n, err := g.nodes.Get(ctx, id)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
	}
	return n, nil
}

// ListByType returns every node of the given type.
func (g *GraphStore) ListByType(ctx context.Context, typ NodeType) ([]Node, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (n:Node {type: $type}) RETURN n`, map[string]any{"type": string(typ)})
	if err != nil {
		return nil, err
	}
	return collectNodes(ctx, result)
}

// RegisterNode idempotently inserts a node. With merge=true, attrs are
// shallow-merged into any existing Data instead of replacing it.
func (g *GraphStore) RegisterNode(ctx context.Context, typ NodeType, id string, attrs map[string]any, merge bool) (Node, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		existing, found, err := getNodeTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}

		if found && !merge {
			return existing, nil
		}

		data := attrs
		createdAt := time.Now().UTC()
		if found {
			createdAt = existing.CreatedAt
			if merge {
				merged := make(map[string]any, len(existing.Data)+len(attrs))
				for k, v := range existing.Data {
					merged[k] = v
				}
				for k, v := range attrs {
					merged[k] = v
				}
				data = merged
			}
		}

		n := Node{ID: id, Type: typ, Data: data, CreatedAt: createdAt}
		if err := putNodeTx(ctx, tx, n); err != nil {
			return nil, err
		}
		return n, nil
	})
	if err != nil {
		return Node{}, err
	}
	return result.(Node), nil
}

// RegisterEdge idempotently inserts an edge. For OVERRIDES/SUPERSEDED_BY it
// first runs a same-type-only DFS from dst; if dst can already reach src,
// the edge would close a cycle and is rejected.
func (g *GraphStore) RegisterEdge(ctx context.Context, srcID, dstID string, typ EdgeType, attrs map[string]any) (Edge, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		return registerEdgeTx(ctx, tx, srcID, dstID, typ, attrs)
	})
	if err != nil {
		g.emit(audit.Event{EventType: audit.EdgeRejected, Component: "graph",
			Decision: audit.Decision{Action: audit.ActionRejected, Reason: err.Error()},
			Metadata: map[string]any{"source": srcID, "target": dstID, "type": string(typ)}})
		return Edge{}, err
	}
	g.emit(audit.Event{EventType: audit.EdgeCreated, Component: "graph",
		Decision: audit.Decision{Action: audit.ActionAccepted},
		Metadata: map[string]any{"source": srcID, "target": dstID, "type": string(typ)}})
	return result.(Edge), nil
}

func registerEdgeTx(ctx context.Context, tx CypherRunner, srcID, dstID string, typ EdgeType, attrs map[string]any) (Edge, error) {
	if cyclicEdgeTypes[typ] {
		reachable, err := reachesTx(ctx, tx, dstID, srcID, typ, map[string]bool{})
		if err != nil {
			return Edge{}, err
		}
		if reachable {
			return Edge{}, fmt.Errorf("%w: %s -%s-> %s would close a cycle", domain.ErrCycleDetected, srcID, typ, dstID)
		}
	}

	existing, found, err := getEdgeTx(ctx, tx, srcID, dstID, typ)
	if err != nil {
		return Edge{}, err
	}
	if found {
		return existing, nil
	}

	e := Edge{Source: srcID, Target: dstID, Type: typ, Data: attrs, CreatedAt: time.Now().UTC()}
	if err := putEdgeTx(ctx, tx, e); err != nil {
		return Edge{}, err
	}
	return e, nil
}

// reachesTx reports whether a same-type-only DFS from `from` can reach `to`.
func reachesTx(ctx context.Context, tx CypherRunner, from, to string, typ EdgeType, visited map[string]bool) (bool, error) {
	if from == to {
		return true, nil
	}
	if visited[from] {
		return false, nil
	}
	visited[from] = true

	targets, err := edgeTargetsTx(ctx, tx, from, typ)
	if err != nil {
		return false, err
	}
	for _, t := range targets {
		ok, err := reachesTx(ctx, tx, t, to, typ, visited)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// AddTypedEdge wraps RegisterEdge with the write-time rules: an OVERRIDES
// edge requires a FROZEN source, and a target may not carry an OVERRIDES
// edge from a second, different source (retrying with the same source is a
// no-op).
func (g *GraphStore) AddTypedEdge(ctx context.Context, srcID, dstID string, typ EdgeType, attrs map[string]any) (Edge, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		if typ == EdgeOverrides {
			src, found, err := getNodeTx(ctx, tx, srcID)
			if err != nil {
				return nil, err
			}
			if !found || src.lifecycleOf() != FROZEN {
				return nil, fmt.Errorf("%w: OVERRIDES source %s is not FROZEN", domain.ErrInvariantViolation, srcID)
			}

			incoming, err := incomingEdgesTx(ctx, tx, dstID, EdgeOverrides)
			if err != nil {
				return nil, err
			}
			for _, e := range incoming {
				if e.Source != srcID {
					return nil, fmt.Errorf("%w: %s already has an OVERRIDES edge from %s", domain.ErrInvariantViolation, dstID, e.Source)
				}
			}
		}
		return registerEdgeTx(ctx, tx, srcID, dstID, typ, attrs)
	})
	if err != nil {
		g.emit(audit.Event{EventType: audit.EdgeRejected, Component: "graph",
			Decision: audit.Decision{Action: audit.ActionRejected, Reason: err.Error()},
			Metadata: map[string]any{"source": srcID, "target": dstID, "type": string(typ)}})
		return Edge{}, err
	}
	g.emit(audit.Event{EventType: audit.EdgeCreated, Component: "graph",
		Decision: audit.Decision{Action: audit.ActionAccepted},
		Metadata: map[string]any{"source": srcID, "target": dstID, "type": string(typ)}})
	return result.(Edge), nil
}

// PromoteIntent enforces the lifecycle transition table and, for a move
// into FROZEN, requires at least one outgoing APPLIES_TO edge.
func (g *GraphStore) PromoteIntent(ctx context.Context, id string, next Lifecycle) (Node, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		n, found, err := getNodeTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
		}

		current := n.lifecycleOf()
		if !canTransition(current, next) {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, next)
		}
		if current == next {
			return n, nil
		}

		if next == FROZEN {
			outgoing, err := outgoingEdgesTx(ctx, tx, id, EdgeAppliesTo)
			if err != nil {
				return nil, err
			}
			if len(outgoing) == 0 {
				return nil, fmt.Errorf("%w: %s cannot freeze without an APPLIES_TO edge", domain.ErrInvariantViolation, id)
			}
		}

		n.Data["lifecycle"] = string(next)
		if err := putNodeTx(ctx, tx, n); err != nil {
			return nil, err
		}
		return n, nil
	})
	if err != nil {
		return Node{}, err
	}
	n := result.(Node)
	evt := audit.NodePromoted
	if next == FROZEN {
		evt = audit.NodeFrozen
	}
	g.emit(audit.Event{EventType: evt, Component: "graph",
		Decision: audit.Decision{Action: audit.ActionPromoted},
		Metadata: map[string]any{"node_id": id, "lifecycle": string(next)}})
	return n, nil
}

// KillNode idempotently transitions id to KILLED, recording the reason and
// actor. Killing an already-KILLED node is a no-op success.
func (g *GraphStore) KillNode(ctx context.Context, id, reason, actor string) (Node, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		n, found, err := getNodeTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
		}
		if n.lifecycleOf() == KILLED {
			return n, nil
		}

		n.Data["lifecycle"] = string(KILLED)
		n.Data["kill_reason"] = reason
		n.Data["killed_by"] = actor
		n.Data["killed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		if err := putNodeTx(ctx, tx, n); err != nil {
			return nil, err
		}
		return n, nil
	})
	if err != nil {
		return Node{}, err
	}
	g.emit(audit.Event{EventType: audit.NodeKilled, Component: "graph",
		Decision: audit.Decision{Action: audit.ActionBlocked, Reason: reason},
		Metadata: map[string]any{"node_id": id, "actor": actor}})
	return result.(Node), nil
}

// SupersedeNode requires old and new to both be FROZEN and distinct. It
// creates a SUPERSEDED_BY edge (subject to the cycle guard), marks old as
// SUPERSEDED and records cross-references on both nodes' Data, all inside
// one managed transaction.
func (g *GraphStore) SupersedeNode(ctx context.Context, oldID, newID, reason, actor string) error {
	if oldID == newID {
		return fmt.Errorf("%w: cannot supersede a node with itself", domain.ErrInvariantViolation)
	}
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		oldNode, found, err := getNodeTx(ctx, tx, oldID)
		if err != nil {
			return nil, err
		}
		if !found || oldNode.lifecycleOf() != FROZEN {
			return nil, fmt.Errorf("%w: supersede source %s is not FROZEN", domain.ErrInvariantViolation, oldID)
		}
		newNode, found, err := getNodeTx(ctx, tx, newID)
		if err != nil {
			return nil, err
		}
		if !found || newNode.lifecycleOf() != FROZEN {
			return nil, fmt.Errorf("%w: supersede target %s is not FROZEN", domain.ErrInvariantViolation, newID)
		}

		if _, err := registerEdgeTx(ctx, tx, oldID, newID, EdgeSupersededBy, map[string]any{"reason": reason, "actor": actor}); err != nil {
			return nil, err
		}

		oldNode.Data["lifecycle"] = string(SUPERSEDED)
		oldNode.Data["superseded_by"] = newID
		if err := putNodeTx(ctx, tx, oldNode); err != nil {
			return nil, err
		}

		newNode.Data["supersedes"] = oldID
		if err := putNodeTx(ctx, tx, newNode); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	g.emit(audit.Event{EventType: audit.NodeSuperseded, Component: "graph",
		Decision: audit.Decision{Action: audit.ActionSuperseded, Reason: reason},
		Metadata: map[string]any{"old": oldID, "new": newID, "actor": actor}})
	return nil
}

// GetEdgesFrom returns every edge of typ whose source is id.
func (g *GraphStore) GetEdgesFrom(ctx context.Context, id string, typ EdgeType) ([]Edge, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)
	result, err := sess.ExecuteRead(ctx, func(tx CypherRunner) (any, error) {
		return outgoingEdgesTx(ctx, tx, id, typ)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Edge), nil
}

// GetEdgesTo returns every edge of typ whose target is id.
func (g *GraphStore) GetEdgesTo(ctx context.Context, id string, typ EdgeType) ([]Edge, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)
	result, err := sess.ExecuteRead(ctx, func(tx CypherRunner) (any, error) {
		return incomingEdgesTx(ctx, tx, id, typ)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Edge), nil
}

// --- transaction-scoped helpers ---

func getNodeTx(ctx context.Context, tx CypherRunner, id string) (Node, bool, error) {
	result, err := tx.Run(ctx, `MATCH (n:Node {id: $id}) RETURN n`, map[string]any{"id": id})
	if err != nil {
		return Node{}, false, err
	}
	if !result.Next(ctx) {
		return Node{}, false, nil
	}
	raw, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
	if err != nil {
		return Node{}, false, err
	}
	n, err := nodeFromProps(raw.Props)
	if err != nil {
		return Node{}, false, err
	}
	return n, true, nil
}

func putNodeTx(ctx context.Context, tx CypherRunner, n Node) error {
	props := nodeToProps(n)
	_, err := tx.Run(ctx, `MERGE (n:Node {id: $id}) SET n.type = $type, n.data = $data, n.created_at = $created_at`, props)
	return err
}

func getEdgeTx(ctx context.Context, tx CypherRunner, srcID, dstID string, typ EdgeType) (Edge, bool, error) {
	cypher := fmt.Sprintf(`MATCH (a:Node {id: $src})-[r:%s]->(b:Node {id: $dst}) RETURN r`, sanitizeRelType(typ))
	result, err := tx.Run(ctx, cypher, map[string]any{"src": srcID, "dst": dstID})
	if err != nil {
		return Edge{}, false, err
	}
	if !result.Next(ctx) {
		return Edge{}, false, nil
	}
	rel, _, err := neo4j.GetRecordValue[dbtype.Relationship](result.Record(), "r")
	if err != nil {
		return Edge{}, false, err
	}
	return edgeFromProps(srcID, dstID, typ, rel.Props)
}

func putEdgeTx(ctx context.Context, tx CypherRunner, e Edge) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	cypher := fmt.Sprintf(
		`MATCH (a:Node {id: $src}), (b:Node {id: $dst})
		 MERGE (a)-[r:%s]->(b)
		 SET r.data = $data, r.created_at = $created_at`,
		sanitizeRelType(e.Type))
	_, err = tx.Run(ctx, cypher, map[string]any{
		"src":        e.Source,
		"dst":        e.Target,
		"data":       string(data),
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	return err
}

func outgoingEdgesTx(ctx context.Context, tx CypherRunner, id string, typ EdgeType) ([]Edge, error) {
	cypher := fmt.Sprintf(`MATCH (a:Node {id: $id})-[r:%s]->(b:Node) RETURN b.id AS target, r`, sanitizeRelType(typ))
	result, err := tx.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var out []Edge
	for result.Next(ctx) {
		target, _ := result.Record().Get("target")
		rel, _, err := neo4j.GetRecordValue[dbtype.Relationship](result.Record(), "r")
		if err != nil {
			return nil, err
		}
		e, err := edgeFromProps(id, target.(string), typ, rel.Props)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func incomingEdgesTx(ctx context.Context, tx CypherRunner, id string, typ EdgeType) ([]Edge, error) {
	cypher := fmt.Sprintf(`MATCH (a:Node)-[r:%s]->(b:Node {id: $id}) RETURN a.id AS source, r`, sanitizeRelType(typ))
	result, err := tx.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var out []Edge
	for result.Next(ctx) {
		source, _ := result.Record().Get("source")
		rel, _, err := neo4j.GetRecordValue[dbtype.Relationship](result.Record(), "r")
		if err != nil {
			return nil, err
		}
		e, err := edgeFromProps(source.(string), id, typ, rel.Props)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func edgeTargetsTx(ctx context.Context, tx CypherRunner, id string, typ EdgeType) ([]string, error) {
	cypher := fmt.Sprintf(`MATCH (a:Node {id: $id})-[:%s]->(b:Node) RETURN b.id AS target`, sanitizeRelType(typ))
	result, err := tx.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var out []string
	for result.Next(ctx) {
		target, _ := result.Record().Get("target")
		out = append(out, target.(string))
	}
	return out, nil
}

func edgeFromProps(src, dst string, typ EdgeType, props map[string]any) (Edge, error) {
	e := Edge{Source: src, Target: dst, Type: typ}
	if raw := strProp(props, "data"); raw != "" {
		data := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return Edge{}, err
		}
		e.Data = data
	}
	if ts := strProp(props, "created_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.CreatedAt = t
		}
	}
	return e, nil
}

func collectNodes(ctx context.Context, result neo4j.ResultWithContext) ([]Node, error) {
	var out []Node
	for result.Next(ctx) {
		raw, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		n, err := nodeFromProps(raw.Props)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// sanitizeRelType ensures a relationship type is a safe, uppercase Cypher
// identifier even though callers only ever pass the fixed EdgeType set.
func sanitizeRelType(t EdgeType) string {
	safe := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			if c >= 'a' && c <= 'z' {
				c -= 32
			}
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	return string(safe)
}
