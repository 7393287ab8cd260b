package graph

import (
	"testing"
	"time"
)

func TestNodeToPropsRoundTrip(t *testing.T) {
	n := Node{
		ID:        "brick-1",
		Type:      NodeBrick,
		Data:      map[string]any{"content": "use Postgres", "topic_id": "t1"},
		CreatedAt: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	props := nodeToProps(n)
	back, err := nodeFromProps(props)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.ID != n.ID || back.Type != n.Type {
		t.Fatalf("round trip mismatch: got %+v", back)
	}
	if back.Data["content"] != "use Postgres" {
		t.Fatalf("expected content preserved, got %v", back.Data["content"])
	}
	if !back.CreatedAt.Equal(n.CreatedAt) {
		t.Fatalf("expected created_at preserved, got %v", back.CreatedAt)
	}
}

func TestNodeFromPropsEmptyData(t *testing.T) {
	n, err := nodeFromProps(map[string]any{"id": "x", "type": string(NodeScope)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Data == nil || len(n.Data) != 0 {
		t.Fatalf("expected empty non-nil data map, got %v", n.Data)
	}
}

func TestStrProp(t *testing.T) {
	props := map[string]any{"a": "hello", "b": 42, "c": nil}
	if strProp(props, "a") != "hello" {
		t.Fatal("expected hello")
	}
	if strProp(props, "b") != "" {
		t.Fatal("non-string should return empty")
	}
	if strProp(props, "missing") != "" {
		t.Fatal("missing key should return empty")
	}
}
