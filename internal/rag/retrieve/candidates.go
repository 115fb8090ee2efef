package retrieve

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwrag/ragcore/internal/persistence/databases"
)

// SourceDiagnostics carries per-source retrieval timings and counts.
type SourceDiagnostics struct {
	FtLatency  time.Duration
	VecLatency time.Duration
	FtCount    int
	VecCount   int
}

// chunkSearcher is implemented by FullTextSearch backends that can search at
// chunk granularity instead of whole-document granularity.
type chunkSearcher interface {
	SearchChunks(ctx context.Context, query string, lang string, limit int, filter map[string]string) ([]databases.SearchResult, error)
}

// ParallelCandidates queries FTS and vector stores in parallel according to
// the plan and joins before returning, so a keyword-search error cancels the
// still-running vector search (and vice versa) instead of leaking it.
func ParallelCandidates(ctx context.Context, search databases.FullTextSearch, vector databases.VectorStore, plan QueryPlan, embVec []float32) ([]databases.SearchResult, []databases.VectorResult, SourceDiagnostics, error) {
	var (
		fts       []databases.SearchResult
		vrs       []databases.VectorResult
		ftLatency time.Duration
		vecLatency time.Duration
	)

	g, gctx := errgroup.WithContext(ctx)

	if plan.FtK > 0 && search != nil {
		g.Go(func() error {
			t0 := time.Now()
			var res []databases.SearchResult
			var err error
			if cs, ok := search.(chunkSearcher); ok {
				res, err = cs.SearchChunks(gctx, plan.Query, plan.Lang, plan.FtK, plan.Filters)
			} else {
				res, err = search.Search(gctx, plan.Query, plan.FtK)
			}
			ftLatency = time.Since(t0)
			fts = res
			return err
		})
	}

	if plan.VecK > 0 && vector != nil && len(embVec) > 0 {
		g.Go(func() error {
			t0 := time.Now()
			res, err := vector.SimilaritySearch(gctx, embVec, plan.VecK, plan.Filters)
			vecLatency = time.Since(t0)
			vrs = res
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, SourceDiagnostics{}, err
	}

	diag := SourceDiagnostics{FtLatency: ftLatency, VecLatency: vecLatency, FtCount: len(fts), VecCount: len(vrs)}
	return fts, vrs, diag, nil
}

