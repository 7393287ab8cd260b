package vector

import (
	"context"
	"testing"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, f.err
}
func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}
func (f *fakeEmbedder) ModelID() string { return "fake-embedder" }

type fakeScopes struct {
	effective map[string]bool
}

func (f *fakeScopes) EffectiveScopes(_ context.Context, _ []string) (map[string]bool, error) {
	return f.effective, nil
}

func TestConfidenceFromL2(t *testing.T) {
	tests := []struct {
		distance float32
		want     float64
	}{
		{0, 1.0},
		{2, 0.0},
		{4, 0.0},
		{1, 0.5},
	}
	for _, tt := range tests {
		if got := confidenceFromL2(tt.distance); got != tt.want {
			t.Errorf("confidenceFromL2(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestRecallFiltersByScope(t *testing.T) {
	// Exercises the pure post-search logic directly rather than the network
	// call to Qdrant: build the candidate list the way Recall does once
	// Search has returned, using fixed hits instead of a live store.
	hits := []SearchResult{
		{ID: "b-global", Distance: 1.0, Content: "a global fact", Scope: "global"},
		{ID: "b-team", Distance: 0.2, Content: "a team-scoped fact", Scope: "team-x"},
		{ID: "b-forbidden", Distance: 0.0, Content: "a forbidden fact", Scope: "team-y"},
	}
	effective := map[string]bool{"global": true, "team-x": true}

	var got []Candidate
	for _, h := range hits {
		if h.Scope != "global" && !effective[h.Scope] {
			continue
		}
		got = append(got, Candidate{BrickID: h.ID, Scope: h.Scope, Confidence: confidenceFromL2(h.Distance)})
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 admitted candidates, got %d", len(got))
	}
	for _, c := range got {
		if c.BrickID == "b-forbidden" {
			t.Fatalf("forbidden-scope brick should have been filtered")
		}
	}
}

func TestRecallReturnsEmptyForNonPositiveK(t *testing.T) {
	r := NewRecaller(nil, &fakeEmbedder{}, &fakeScopes{effective: map[string]bool{"global": true}}, nil, nil)
	got, err := r.Recall(context.Background(), "anything", 0, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil candidates for k<=0, got %v", got)
	}
}

type fakeRewriter struct {
	rewritten string
	calls     int
}

func (f *fakeRewriter) Rewrite(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.rewritten, nil
}

func TestRecallNonPositiveKShortCircuitsBeforeRewrite(t *testing.T) {
	rewriter := &fakeRewriter{rewritten: "rewritten query"}
	r := NewRecaller(nil, &fakeEmbedder{}, &fakeScopes{effective: map[string]bool{"global": true}}, nil, rewriter)
	if _, err := r.Recall(context.Background(), "anything", 0, nil, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rewriter.calls != 0 {
		t.Fatalf("expected rewriter not to run when k<=0 short-circuits, got %d calls", rewriter.calls)
	}
}
