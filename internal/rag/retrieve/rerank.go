package retrieve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// Reranker optionally reorders retrieved items (e.g., via a cross-encoder).
// Implementations should not drop items and should preserve Metadata fields.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []RetrievedItem) ([]RetrievedItem, error)
}

// NoopReranker is the default implementation that leaves ordering unchanged.
type NoopReranker struct{}

func (NoopReranker) Rerank(_ context.Context, _ string, items []RetrievedItem) ([]RetrievedItem, error) {
	return items, nil
}

// HTTPRerankerConfig configures an HTTPReranker.
type HTTPRerankerConfig struct {
	URL       string
	Model     string
	TimeoutMS int
}

// HTTPReranker scores (query, candidate) pairs with a remote cross-encoder
// endpoint. It is interchangeable with any other Reranker implementation
// (in-process model, mock) because the contract is fixed: re-score, re-sort
// descending, and never drop an item.
type HTTPReranker struct {
	cfg HTTPRerankerConfig
}

// NewHTTPReranker constructs a cross-encoder reranker backed by an HTTP
// endpoint accepting {"model","query","documents"} and returning
// {"scores":[...]} aligned by index to the documents sent.
func NewHTTPReranker(cfg HTTPRerankerConfig) *HTTPReranker {
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 5_000
	}
	return &HTTPReranker{cfg: cfg}
}

type rerankReq struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResp struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores every item against query and returns them re-sorted by
// rerankerScore, descending. The original fusion score is preserved under
// Explanation["fusionScore"] so callers can still inspect the pre-rerank
// ranking.
func (h *HTTPReranker) Rerank(ctx context.Context, query string, items []RetrievedItem) ([]RetrievedItem, error) {
	if len(items) == 0 {
		return items, nil
	}
	docs := make([]string, len(items))
	for i, it := range items {
		if it.Text != "" {
			docs[i] = it.Text
		} else {
			docs[i] = it.Snippet
		}
	}

	reqBody, err := json.Marshal(rerankReq{Model: h.cfg.Model, Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, time.Duration(h.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, h.cfg.URL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("rerank error: %s: %s", resp.Status, string(body))
	}

	var rr rerankResp
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}
	if len(rr.Scores) != len(items) {
		return nil, fmt.Errorf("rerank score count mismatch: got %d, want %d", len(rr.Scores), len(items))
	}

	out := make([]RetrievedItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].Explanation == nil {
			out[i].Explanation = map[string]any{}
		}
		out[i].Explanation["fusionScore"] = out[i].Score
		out[i].Explanation["rerankerScore"] = rr.Scores[i]
		out[i].Score = rr.Scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
