package service

import (
	"context"
	"testing"

	"github.com/cwrag/ragcore/internal/persistence/databases"
	"github.com/cwrag/ragcore/internal/rag/ingest"
)

func TestIngest_ChunksIndexesAndEmbeds(t *testing.T) {
	mgr := databases.Manager{Search: databases.NewMemorySearch(), Vector: databases.NewMemoryVector()}
	s := New(mgr)

	ctx := context.Background()
	req := ingest.IngestRequest{
		ID:     "doc:1",
		Tenant: "t1",
		Text:   "Hello world. This is the first paragraph.\n\nAnd this is a second paragraph about golang testing.",
		Options: ingest.IngestOptions{
			Chunking:  ingest.ChunkingOptions{Strategy: "paragraph", MaxTokens: 50},
			Embedding: ingest.EmbeddingOptions{Enabled: true},
		},
	}

	resp, err := s.Ingest(ctx, req)
	if err != nil {
		t.Fatalf("ingest error: %v", err)
	}
	if resp.Stats.NumChunks == 0 {
		t.Fatalf("expected at least one chunk")
	}
	if len(resp.ChunkIDs) != resp.Stats.NumChunks {
		t.Fatalf("expected %d chunk ids, got %d", resp.Stats.NumChunks, len(resp.ChunkIDs))
	}
	if resp.Stats.VectorUpserts == 0 {
		t.Fatalf("expected vector upserts since embedding was enabled")
	}
}

func TestIngest_TombstoneRemovesAndSkipsChunking(t *testing.T) {
	mgr := databases.Manager{Search: databases.NewMemorySearch(), Vector: databases.NewMemoryVector()}
	s := New(mgr)

	ctx := context.Background()
	seed := ingest.IngestRequest{
		ID:     "doc:2",
		Tenant: "t1",
		Text:   "content to be removed later",
		Options: ingest.IngestOptions{
			Chunking:  ingest.ChunkingOptions{Strategy: "paragraph", MaxTokens: 50},
			Embedding: ingest.EmbeddingOptions{Enabled: true},
		},
	}
	if _, err := s.Ingest(ctx, seed); err != nil {
		t.Fatalf("seed ingest error: %v", err)
	}

	resp, err := s.Ingest(ctx, ingest.IngestRequest{ID: "doc:2", Tenant: "t1", Deleted: true})
	if err != nil {
		t.Fatalf("tombstone ingest error: %v", err)
	}
	if resp.DocID != "doc:2" {
		t.Fatalf("expected doc id doc:2, got %s", resp.DocID)
	}
	if resp.Stats.VectorUpserts == 0 {
		t.Fatalf("expected tombstone to report removed chunk count via VectorUpserts")
	}
}
