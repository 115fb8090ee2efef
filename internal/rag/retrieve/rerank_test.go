package retrieve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPReranker_ReordersByScoreDescending(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Documents) != 3 {
			t.Fatalf("expected 3 documents, got %d", len(req.Documents))
		}
		// Score the documents out of arrival order (b, c, a) so the reranker
		// must actually reorder them.
		scores := []float64{0.1, 0.9, 0.5}
		_ = json.NewEncoder(w).Encode(rerankResp{Scores: scores})
	}))
	defer ts.Close()

	rr := NewHTTPReranker(HTTPRerankerConfig{URL: ts.URL, Model: "cross-encoder"})
	items := []RetrievedItem{
		{ID: "a", Score: 3, Text: "first"},
		{ID: "b", Score: 2, Text: "second"},
		{ID: "c", Score: 1, Text: "third"},
	}
	out, err := rr.Rerank(context.Background(), "query", items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 items, got %d", len(out))
	}
	if out[0].ID != "b" || out[1].ID != "c" || out[2].ID != "a" {
		t.Fatalf("expected order [b,c,a], got [%s,%s,%s]", out[0].ID, out[1].ID, out[2].ID)
	}
	if out[0].Explanation["fusionScore"] != float64(2) {
		t.Fatalf("expected original fusion score preserved, got %v", out[0].Explanation["fusionScore"])
	}
}

func TestHTTPReranker_ScoreCountMismatchErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResp{Scores: []float64{1}})
	}))
	defer ts.Close()

	rr := NewHTTPReranker(HTTPRerankerConfig{URL: ts.URL})
	_, err := rr.Rerank(context.Background(), "q", []RetrievedItem{{ID: "a"}, {ID: "b"}})
	if err == nil {
		t.Fatalf("expected error on score count mismatch")
	}
}

// failingReranker always errors, simulating an unreachable cross-encoder.
type failingReranker struct{}

func (failingReranker) Rerank(context.Context, string, []RetrievedItem) ([]RetrievedItem, error) {
	return nil, errors.New("cross-encoder unreachable")
}

func TestAssembleResults_RerankFailureIsNonFatal(t *testing.T) {
	items := []RetrievedItem{{ID: "a", Score: 1}, {ID: "b", Score: 2}}
	out, debug, err := AssembleResults(context.Background(), failingReranker{}, QueryPlan{Query: "q"}, RetrieveOptions{Rerank: true, K: 10}, items)
	if err != nil {
		t.Fatalf("expected rerank failure to be non-fatal, got error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected fused results passed through unchanged, got %d items", len(out))
	}
	if _, ok := debug["rerank_warning"]; !ok {
		t.Fatalf("expected rerank_warning recorded in debug, got %+v", debug)
	}
}

func TestAssembleResults_NoopRerankerLeavesOrderUnchanged(t *testing.T) {
	items := []RetrievedItem{{ID: "a", Score: 1}, {ID: "b", Score: 2}}
	out, _, err := AssembleResults(context.Background(), NoopReranker{}, QueryPlan{Query: "q"}, RetrieveOptions{Rerank: true, K: 10}, items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].ID != "a" || out[1].ID != "b" {
		t.Fatalf("expected unchanged order, got [%s,%s]", out[0].ID, out[1].ID)
	}
}
