package audit

import (
	"path/filepath"
	"testing"
)

func TestEmitAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	if err := log.Emit(Event{EventType: BrickMaterialized, Component: "compiler", RunID: "r1", Decision: Decision{Action: ActionAccepted}}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := log.Emit(Event{EventType: LLMHallucinationFound, Component: "compiler", RunID: "r1", Decision: Decision{Action: ActionRejected}}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	events, err := Read(path, Filter{RunID: "r1"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// newest first
	if events[0].EventType != LLMHallucinationFound {
		t.Fatalf("expected newest-first ordering, got %v", events[0].EventType)
	}
}

func TestEmitWithoutCostLogsInvariantViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	if err := log.Emit(Event{EventType: LLMCallExecuted, Component: "extract", ModelTier: TierL2, Decision: Decision{Action: ActionLLMCall}}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	events, err := Read(path, Filter{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected original event plus invariant violation, got %d", len(events))
	}
}
