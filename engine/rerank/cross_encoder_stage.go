package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/nexuscore/nexus/engine/vector"
)

// CrossEncoderStage is the secondary reranker stage: a batch call to a local
// cross-encoder scoring service, grounded the same way engine/embed's
// Ollama client is — a small JSON-over-HTTP request/response shape rather
// than a model SDK, since cross-encoder serving has no SDK in the pack.
type CrossEncoderStage struct {
	baseURL string
	client  *http.Client
}

// NewCrossEncoderStage builds the secondary stage against a scoring service
// at baseURL (expected to expose POST /score).
func NewCrossEncoderStage(baseURL string) *CrossEncoderStage {
	return &CrossEncoderStage{baseURL: baseURL, client: &http.Client{}}
}

type crossEncoderReq struct {
	Query  string   `json:"query"`
	Texts  []string `json:"texts"`
}

type crossEncoderResp struct {
	Scores []float64 `json:"scores"`
}

// Rank batches every candidate's content into one request, then min-max
// normalizes the returned logits into [0,1] the same way the original's
// per-batch normalization did — cross-encoder logits are unbounded, so
// normalizing relative to the batch keeps scores comparable within a
// single recall request.
func (s *CrossEncoderStage) Rank(ctx context.Context, query string, candidates []vector.Candidate) ([]Scored, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}

	body, err := json.Marshal(crossEncoderReq{Query: query, Texts: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: cross encoder request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank: cross encoder status %d", resp.StatusCode)
	}

	var parsed crossEncoderResp
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("rerank: cross encoder decode: %w", err)
	}
	if len(parsed.Scores) != len(candidates) {
		return nil, fmt.Errorf("rerank: cross encoder returned %d scores for %d candidates", len(parsed.Scores), len(candidates))
	}

	minS, maxS := parsed.Scores[0], parsed.Scores[0]
	for _, v := range parsed.Scores {
		if v < minS {
			minS = v
		}
		if v > maxS {
			maxS = v
		}
	}
	rangeS := maxS - minS

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		norm := 0.5
		if rangeS > 0 {
			norm = (parsed.Scores[i] - minS) / rangeS
		}
		scored[i] = Scored{Candidate: c, FinalScore: clamp01(norm), RerankerUsed: "cross_encoder"}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})
	return scored, nil
}
