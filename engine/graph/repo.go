package graph

import (
	"encoding/json"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/nexuscore/nexus/pkg/repo"
)

// newNodeRepo builds a generic Neo4j-backed repository over Node, used by
// the plain get/list read accessors. Writes that must enforce invariants
// (cycle guard, lifecycle transitions) bypass this and run their own
// managed transactions in graph.go instead.
func newNodeRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Node, string] {
	return repo.NewNeo4jRepo[Node, string](
		driver,
		"Node",
		nodeToProps,
		nodeFromRecord,
	)
}

func nodeToProps(n Node) map[string]any {
	data, _ := json.Marshal(n.Data)
	return map[string]any{
		"id":         n.ID,
		"type":       string(n.Type),
		"data":       string(data),
		"created_at": n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func nodeFromRecord(rec *neo4j.Record) (Node, error) {
	raw, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Node{}, err
	}
	return nodeFromProps(raw.Props)
}

func nodeFromProps(props map[string]any) (Node, error) {
	n := Node{
		ID:   strProp(props, "id"),
		Type: NodeType(strProp(props, "type")),
	}
	if ts := strProp(props, "created_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			n.CreatedAt = t
		}
	}
	data := map[string]any{}
	if raw := strProp(props, "data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return Node{}, err
		}
	}
	n.Data = data
	return n, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
