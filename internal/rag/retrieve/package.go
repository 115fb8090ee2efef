package retrieve

import (
	"context"
	"time"
)

// AssembleResults runs the post-fusion pipeline: optional reranking, then
// final pruning to K.
func AssembleResults(ctx context.Context, rr Reranker, plan QueryPlan, opt RetrieveOptions, fused []RetrievedItem) ([]RetrievedItem, map[string]any, error) {
	debug := map[string]any{}
	items := fused

	if opt.Rerank {
		if rr == nil {
			rr = NoopReranker{}
		}
		t0 := time.Now()
		out, err := rr.Rerank(ctx, plan.Query, items)
		debug["rerank_ms"] = time.Since(t0).Milliseconds()
		if err != nil {
			// Reranking is a best-effort stage: a broken or unreachable
			// cross-encoder must not turn an otherwise-answerable query into a
			// hard failure. Fall through with the fused ordering and surface
			// the failure for observability instead.
			debug["rerank_warning"] = err.Error()
		} else {
			items = out
		}
	}

	k := opt.K
	if k <= 0 {
		k = 10
	}
	if len(items) > k {
		items = items[:k]
	}
	return items, debug, nil
}
