package extract

import (
	"encoding/json"
	"testing"

	"github.com/nexuscore/nexus/engine/domain"
)

func TestExtractedPointersRoundTrip(t *testing.T) {
	raw := `{"extracted_pointers":[{"topic_id":"t1","json_path":"$.messages[0].content","verbatim_quote":"hello"}]}`

	var parsed extractedPointers
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(parsed.ExtractedPointers) != 1 {
		t.Fatalf("expected 1 pointer, got %d", len(parsed.ExtractedPointers))
	}
	want := domain.Pointer{TopicID: "t1", JSONPath: "$.messages[0].content", VerbatimQuote: "hello"}
	if parsed.ExtractedPointers[0] != want {
		t.Fatalf("got %+v, want %+v", parsed.ExtractedPointers[0], want)
	}
}

func TestExtractedPointersMalformedJSONDoesNotPanic(t *testing.T) {
	var parsed extractedPointers
	err := json.Unmarshal([]byte("not json"), &parsed)
	if err == nil {
		t.Fatal("expected unmarshal error for malformed JSON")
	}
}

func TestEstimateCostUSDScalesWithTokens(t *testing.T) {
	cheap := estimateCostUSD("claude", 100, 100)
	expensive := estimateCostUSD("claude", 100_000, 100_000)
	if expensive <= cheap {
		t.Fatalf("expected cost to scale with token counts: cheap=%f expensive=%f", cheap, expensive)
	}
}
