package ingest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cwrag/ragcore/internal/persistence/databases"
)

// Tombstone removes every chunk and vector belonging to docID,
// then removes the document row itself. It is idempotent: tombstoning an
// already-removed or never-ingested document is a no-op, not an error.
func Tombstone(ctx context.Context, search databases.FullTextSearch, vector databases.VectorStore, docID string) (int, error) {
	doc, ok, err := search.GetByID(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("tombstone lookup %s: %w", docID, err)
	}
	if !ok {
		return 0, nil
	}

	count := 0
	if raw, ok := doc.Metadata["chunk_count"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			count = n
		}
	}

	removed := 0
	for i := 0; i < count; i++ {
		cid := chunkID(docID, i)
		if err := search.Remove(ctx, cid); err != nil {
			return removed, fmt.Errorf("remove chunk %s from search: %w", cid, err)
		}
		if vector != nil {
			if err := vector.Delete(ctx, cid); err != nil {
				return removed, fmt.Errorf("remove chunk %s from vector store: %w", cid, err)
			}
		}
		removed++
	}

	if err := search.Remove(ctx, docID); err != nil {
		return removed, fmt.Errorf("remove document %s: %w", docID, err)
	}
	return removed, nil
}
