package prompts

import (
	"context"
	"errors"
	"testing"

	"github.com/nexuscore/nexus/engine/domain"
	"github.com/nexuscore/nexus/engine/pgstore"
)

type fakeStore struct {
	records map[string]pgstore.PromptRecord // key slug -> latest
}

func (f *fakeStore) GetPrompt(_ context.Context, slug string, _ *int) (pgstore.PromptRecord, error) {
	rec, ok := f.records[slug]
	if !ok {
		return pgstore.PromptRecord{}, pgstore.ErrPromptNotFound
	}
	return rec, nil
}

func (f *fakeStore) SavePrompt(_ context.Context, slug, content, role, description string, _ map[string]any) (int, error) {
	next := 1
	if rec, ok := f.records[slug]; ok {
		next = rec.Version + 1
	}
	if f.records == nil {
		f.records = make(map[string]pgstore.PromptRecord)
	}
	f.records[slug] = pgstore.PromptRecord{Slug: slug, Version: next, Content: content, Role: role, Description: description}
	return next, nil
}

func TestGetPromptHit(t *testing.T) {
	fs := &fakeStore{records: map[string]pgstore.PromptRecord{
		"nexus-compiler-system": {Slug: "nexus-compiler-system", Version: 1, Content: "extract bricks"},
	}}
	m := New(fs, DefaultPolicy(), nil)

	got, err := m.GetPrompt(context.Background(), "nexus-compiler-system", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "extract bricks" {
		t.Fatalf("got %q", got)
	}
}

func TestGetPromptMissingCriticalNoFallbackFailsClosed(t *testing.T) {
	fs := &fakeStore{}
	m := New(fs, DefaultPolicy(), nil)

	_, err := m.GetPrompt(context.Background(), "nexus-compiler-system", nil, "")
	if !errors.Is(err, domain.ErrGovernanceViolation) {
		t.Fatalf("got %v, want ErrGovernanceViolation", err)
	}
}

func TestGetPromptMissingWithFallbackSucceeds(t *testing.T) {
	fs := &fakeStore{}
	m := New(fs, DefaultPolicy(), nil)

	got, err := m.GetPrompt(context.Background(), "nexus-compiler-system", nil, "fallback text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fallback text" {
		t.Fatalf("got %q", got)
	}
}

func TestSavePromptInvalidatesCache(t *testing.T) {
	fs := &fakeStore{records: map[string]pgstore.PromptRecord{
		"s": {Slug: "s", Version: 1, Content: "v1"},
	}}
	m := New(fs, DefaultPolicy(), nil)

	if _, err := m.GetPrompt(context.Background(), "s", nil, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.SavePrompt(context.Background(), "s", "v2", "system", "", nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.GetPrompt(context.Background(), "s", nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "v2" {
		t.Fatalf("expected cache invalidation to surface v2, got %q", got)
	}
}
