package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/nexuscore/nexus/engine/domain"
	"github.com/nexuscore/nexus/engine/extract"
	"github.com/nexuscore/nexus/engine/pgstore"
	"github.com/nexuscore/nexus/engine/prompts"
)

// --- fakes ---

type fakeStore struct {
	runs         map[string]domain.SourceRun
	topics       map[string]domain.Topic
	saved        []domain.Brick
	fingerprints map[string]bool
	advancedTo   int
	advanceErr   error
}

func (f *fakeStore) GetRun(_ context.Context, id string) (domain.SourceRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return domain.SourceRun{}, domain.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeStore) GetTopic(_ context.Context, id string) (domain.Topic, error) {
	topic, ok := f.topics[id]
	if !ok {
		return domain.Topic{}, domain.ErrNodeNotFound
	}
	return topic, nil
}

func (f *fakeStore) AdvanceBoundary(_ context.Context, _ string, newIndex int) error {
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.advancedTo = newIndex
	return nil
}

func (f *fakeStore) SaveBrick(_ context.Context, b domain.Brick) error {
	f.saved = append(f.saved, b)
	return nil
}

func (f *fakeStore) FingerprintsForTopic(_ context.Context, _ string) (map[string]bool, error) {
	if f.fingerprints == nil {
		return map[string]bool{}, nil
	}
	return f.fingerprints, nil
}

type promptStore struct {
	content string
}

func (p *promptStore) GetPrompt(_ context.Context, slug string, _ *int) (pgstore.PromptRecord, error) {
	if p.content == "" {
		return pgstore.PromptRecord{}, pgstore.ErrPromptNotFound
	}
	return pgstore.PromptRecord{Slug: slug, Version: 1, Content: p.content}, nil
}

func (p *promptStore) SavePrompt(_ context.Context, slug, content, _, _ string, _ map[string]any) (int, error) {
	p.content = content
	return 1, nil
}

type fakeExtractor struct {
	result extract.Result
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, _, _ string) (extract.Result, error) {
	return f.result, f.err
}

// --- fixtures ---

func topicFixture() domain.Topic {
	return domain.Topic{
		ID:          "topic-1",
		DisplayName: "Database choice",
		Definition: domain.TopicDefinition{
			ScopeDescription: "decisions about which database to use",
		},
	}
}

func runFixture(lastProcessed int) domain.SourceRun {
	return domain.SourceRun{
		ID: "run-1",
		RawContent: domain.RawContent{
			Messages: []domain.NormalizedMessage{
				{Index: 0, Role: "user", Content: "what database should we use"},
				{Index: 1, Role: "assistant", Content: "We decided to use Postgres for the ledger service."},
			},
		},
		LastProcessedIndex: lastProcessed,
		Status:             domain.RunOpen,
	}
}

func newCompiler(store *fakeStore, ex extract.Extractor) *Compiler {
	ps := &promptStore{content: "scan for decisions"}
	pm := prompts.New(ps, prompts.DefaultPolicy(), nil)
	return New(Deps{
		Store:     store,
		Prompts:   pm,
		Extractor: ex,
	})
}

// --- tests ---

func TestCompileRunSkipsWhenNoNewMessages(t *testing.T) {
	store := &fakeStore{
		runs:   map[string]domain.SourceRun{"run-1": runFixture(1)},
		topics: map[string]domain.Topic{"topic-1": topicFixture()},
	}
	c := newCompiler(store, &fakeExtractor{})

	n, err := c.CompileRun(context.Background(), "run-1", "topic-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d bricks, want 0", n)
	}
	if len(store.saved) != 0 {
		t.Fatalf("expected no bricks saved")
	}
}

func TestCompileRunMaterializesVerifiedPointer(t *testing.T) {
	store := &fakeStore{
		runs:   map[string]domain.SourceRun{"run-1": runFixture(0)},
		topics: map[string]domain.Topic{"topic-1": topicFixture()},
	}
	ex := &fakeExtractor{
		result: extract.Result{
			Parsed: true,
			Pointers: []domain.Pointer{
				{TopicID: "topic-1", JSONPath: "messages.1.content", VerbatimQuote: "use Postgres for the ledger service"},
			},
		},
	}
	c := newCompiler(store, ex)

	n, err := c.CompileRun(context.Background(), "run-1", "topic-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d bricks, want 1", n)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected 1 brick saved, got %d", len(store.saved))
	}
	if store.saved[0].Content != "use Postgres for the ledger service" {
		t.Fatalf("unexpected brick content: %q", store.saved[0].Content)
	}
	if store.advancedTo != 1 {
		t.Fatalf("expected boundary advanced to 1, got %d", store.advancedTo)
	}
}

func TestCompileRunRejectsHallucinatedQuote(t *testing.T) {
	store := &fakeStore{
		runs:   map[string]domain.SourceRun{"run-1": runFixture(0)},
		topics: map[string]domain.Topic{"topic-1": topicFixture()},
	}
	ex := &fakeExtractor{
		result: extract.Result{
			Parsed: true,
			Pointers: []domain.Pointer{
				{TopicID: "topic-1", JSONPath: "messages.1.content", VerbatimQuote: "we decided to use MongoDB instead"},
			},
		},
	}
	c := newCompiler(store, ex)

	n, err := c.CompileRun(context.Background(), "run-1", "topic-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d bricks, want 0 for a fabricated quote", n)
	}
	if len(store.saved) != 0 {
		t.Fatalf("expected no brick saved for a hallucinated quote")
	}
	// the boundary still advances: the scan itself succeeded, only the
	// proposed pointer was rejected.
	if store.advancedTo != 1 {
		t.Fatalf("expected boundary advanced to 1, got %d", store.advancedTo)
	}
}

func TestCompileRunRejectsTopicMismatch(t *testing.T) {
	store := &fakeStore{
		runs:   map[string]domain.SourceRun{"run-1": runFixture(0)},
		topics: map[string]domain.Topic{"topic-1": topicFixture()},
	}
	ex := &fakeExtractor{
		result: extract.Result{
			Parsed: true,
			Pointers: []domain.Pointer{
				{TopicID: "topic-2", JSONPath: "messages.1.content", VerbatimQuote: "use Postgres for the ledger service"},
			},
		},
	}
	c := newCompiler(store, ex)

	n, err := c.CompileRun(context.Background(), "run-1", "topic-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d bricks, want 0 for a topic_id mismatch", n)
	}
}

func TestCompileRunRejectsPathOutsideScanWindow(t *testing.T) {
	store := &fakeStore{
		runs:   map[string]domain.SourceRun{"run-1": runFixture(1)},
		topics: map[string]domain.Topic{"topic-1": topicFixture()},
	}
	run := store.runs["run-1"]
	run.RawContent.Messages = append(run.RawContent.Messages,
		domain.NormalizedMessage{Index: 2, Role: "assistant", Content: "More detail on Postgres."})
	store.runs["run-1"] = run

	ex := &fakeExtractor{
		result: extract.Result{
			Parsed: true,
			Pointers: []domain.Pointer{
				// points at message 1, which is before the scan window (last
				// processed was 1, so only message 2 is new).
				{TopicID: "topic-1", JSONPath: "messages.1.content", VerbatimQuote: "We decided to use Postgres for the ledger service."},
			},
		},
	}
	c := newCompiler(store, ex)

	n, err := c.CompileRun(context.Background(), "run-1", "topic-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d bricks, want 0 for an out-of-window path", n)
	}
}

func TestCompileRunSkipsDuplicateFingerprint(t *testing.T) {
	store := &fakeStore{
		runs:   map[string]domain.SourceRun{"run-1": runFixture(0)},
		topics: map[string]domain.Topic{"topic-1": topicFixture()},
	}
	dupFingerprint := fingerprintOf("use Postgres for the ledger service")
	store.fingerprints = map[string]bool{dupFingerprint: true}

	ex := &fakeExtractor{
		result: extract.Result{
			Parsed: true,
			Pointers: []domain.Pointer{
				{TopicID: "topic-1", JSONPath: "messages.1.content", VerbatimQuote: "use Postgres for the ledger service"},
			},
		},
	}
	c := newCompiler(store, ex)

	n, err := c.CompileRun(context.Background(), "run-1", "topic-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d bricks, want 0 for an already-materialized fingerprint", n)
	}
}

func TestCompileRunPropagatesExtractorError(t *testing.T) {
	store := &fakeStore{
		runs:   map[string]domain.SourceRun{"run-1": runFixture(0)},
		topics: map[string]domain.Topic{"topic-1": topicFixture()},
	}
	wantErr := errors.New("upstream unavailable")
	c := newCompiler(store, &fakeExtractor{err: wantErr})

	_, err := c.CompileRun(context.Background(), "run-1", "topic-1")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestMessageIndex(t *testing.T) {
	tests := []struct {
		path    string
		wantIdx int
		wantOK  bool
	}{
		{"messages.3.content", 3, true},
		{"messages.0.content_blocks.1.text", 0, true},
		{"topic.description", 0, false},
		{"messages.abc.content", 0, false},
	}
	for _, tt := range tests {
		idx, ok := messageIndex(tt.path)
		if ok != tt.wantOK || idx != tt.wantIdx {
			t.Errorf("messageIndex(%q) = (%d, %v), want (%d, %v)", tt.path, idx, ok, tt.wantIdx, tt.wantOK)
		}
	}
}
