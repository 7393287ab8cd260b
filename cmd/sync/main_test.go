package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nexuscore/nexus/engine/domain"
)

func TestLoadConversations_Array(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.json")
	data := `[{"id":"conv-1","mapping":{}},{"id":"conv-2","mapping":{}}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	convs, err := loadConversations(path)
	if err != nil {
		t.Fatalf("loadConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != "conv-1" || convs[1].ID != "conv-2" {
		t.Errorf("unexpected conversation IDs: %v", convs)
	}
}

func TestLoadConversations_SingleObject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.json")
	data := `{"id":"conv-solo","mapping":{}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	convs, err := loadConversations(path)
	if err != nil {
		t.Fatalf("loadConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "conv-solo" {
		t.Fatalf("unexpected result: %v", convs)
	}
}

func TestLoadConversations_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.json")
	if err := os.WriteFile(path, []byte("{not valid"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := loadConversations(path); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestLoadConversations_MissingFile(t *testing.T) {
	if _, err := loadConversations("/nonexistent/path/dump.json"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_SYNC_VAR", "custom")
	if v := envOr("TEST_SYNC_VAR", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_SYNC_VAR", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestDefaultTopicDefinition_RoundTrips(t *testing.T) {
	topic := domain.Topic{
		ID:          defaultTopicID,
		DisplayName: defaultTopicName,
		Definition:  defaultTopicDefinition,
	}
	data, err := json.Marshal(topic)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded domain.Topic
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Definition.ScopeDescription != defaultTopicDefinition.ScopeDescription {
		t.Errorf("scope description mismatch after round trip")
	}
	if len(decoded.Definition.ExclusionCriteria) != len(defaultTopicDefinition.ExclusionCriteria) {
		t.Errorf("exclusion criteria mismatch after round trip")
	}
}
