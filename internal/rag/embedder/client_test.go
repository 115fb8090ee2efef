package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cwrag/ragcore/internal/config"
)

// fixedDimServer returns one unit vector [1, 0] per input text, regardless of content.
func fixedDimServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{1, 0}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestEmbedBatch_FitsAsIsGoesDirect(t *testing.T) {
	ts := fixedDimServer(t)
	defer ts.Close()

	cfg := config.EmbeddingConfig{URL: ts.URL, Model: "m", MaxTokens: 100, SafetyMargin: 0.1, BatchSize: 8}
	emb := NewClient(cfg, 2)

	vecs, err := emb.EmbedBatch(context.Background(), []string{"short text", "another short text"})
	if err != nil {
		t.Fatalf("embed error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 2 {
			t.Fatalf("vector %d: expected dim 2, got %d", i, len(v))
		}
	}
}

func TestEmbedBatch_OversizedTextReturnsMeanVector(t *testing.T) {
	ts := fixedDimServer(t)
	defer ts.Close()

	cfg := config.EmbeddingConfig{URL: ts.URL, Model: "m", MaxTokens: 10, SafetyMargin: 0.1, BatchSize: 8}
	emb := NewClient(cfg, 2)

	oversized := strings.Repeat("word ", 200)
	vecs, err := emb.EmbedBatch(context.Background(), []string{oversized})
	if err != nil {
		t.Fatalf("embed error: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
	if len(vecs[0]) != 2 {
		t.Fatalf("expected mean vector of dim 2, got %d", len(vecs[0]))
	}
	// Every underlying chunk embeds to [1, 0]; the unit-normalized mean of
	// identical unit vectors is that same vector.
	if vecs[0][0] < 0.99 || vecs[0][1] != 0 {
		t.Fatalf("expected mean vector ~[1, 0], got %v", vecs[0])
	}
}

func TestEmbedBatch_PreservesInputOrderAcrossPartitions(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i, in := range req.Input {
			v := float32(0)
			if strings.Contains(in, "big") {
				v = 1
			}
			data[i] = map[string]any{"embedding": []float32{v, 0}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{URL: ts.URL, Model: "m", MaxTokens: 10, SafetyMargin: 0.1, BatchSize: 8}
	emb := NewClient(cfg, 2)

	oversized := strings.Repeat("big ", 200)
	vecs, err := emb.EmbedBatch(context.Background(), []string{"small one", oversized, "small two"})
	if err != nil {
		t.Fatalf("embed error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	if calls == 0 {
		t.Fatalf("expected at least one embedding call")
	}
}

func TestEmbedWithChunking_ReturnsPerChunkMetadataInBatches(t *testing.T) {
	ts := fixedDimServer(t)
	defer ts.Close()

	cfg := config.EmbeddingConfig{URL: ts.URL, Model: "m", MaxTokens: 10, SafetyMargin: 0.1, BatchSize: 8}
	emb := NewClient(cfg, 2)
	ce, ok := emb.(ChunkingEmbedder)
	if !ok {
		t.Fatalf("expected client embedder to implement ChunkingEmbedder")
	}

	doc := "# Intro\n\n" + strings.Repeat("word ", 100) + "\n\n## Details\n\n" + strings.Repeat("more words ", 100)
	chunks, err := ce.EmbedWithChunking(context.Background(), doc, "doc:1")
	if err != nil {
		t.Fatalf("embed with chunking error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkID == "" {
			t.Fatalf("chunk %d: missing chunk id", i)
		}
		if c.TokenCount <= 0 {
			t.Fatalf("chunk %d: expected positive token count", i)
		}
		if len(c.Vector) != 2 {
			t.Fatalf("chunk %d: expected vector of dim 2, got %d", i, len(c.Vector))
		}
		if c.EndIndex <= c.StartIndex && c.StartIndex >= 0 {
			t.Fatalf("chunk %d: expected EndIndex > StartIndex, got [%d,%d]", i, c.StartIndex, c.EndIndex)
		}
	}
	foundDetails := false
	for _, c := range chunks {
		if strings.Contains(c.SectionPath, "Details") {
			foundDetails = true
		}
	}
	if !foundDetails {
		t.Fatalf("expected at least one chunk's sectionPath to include the Details heading, chunks: %+v", chunks)
	}
}
