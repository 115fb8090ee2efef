package embedder

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// healthCacheTTL matches the embedding manager's "caches the result for 5
// minutes keyed by URL" health-check contract.
const healthCacheTTL = 5 * time.Minute

// cachedHealthEmbedder wraps an Embedder so Ping results are memoized in
// Redis, shared across replicas, instead of every process re-probing the
// embedding endpoint on every request.
type cachedHealthEmbedder struct {
	Embedder
	rdb *redis.Client
	key string
}

// WithHealthCache wraps inner so Ping results are cached in Redis for
// healthCacheTTL, keyed by the embedding endpoint URL. If rdb is nil the
// wrapper is a pass-through (useful when Redis isn't configured).
func WithHealthCache(inner Embedder, rdb *redis.Client, endpointURL string) Embedder {
	if rdb == nil {
		return inner
	}
	return &cachedHealthEmbedder{Embedder: inner, rdb: rdb, key: "ragcore:embed:health:" + endpointURL}
}

func (c *cachedHealthEmbedder) Ping(ctx context.Context) error {
	if v, err := c.rdb.Get(ctx, c.key).Result(); err == nil {
		if v == "ok" {
			return nil
		}
		return errCachedUnhealthy
	}

	err := c.Embedder.Ping(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	// Best-effort: a cache-write failure must not mask the real Ping result.
	_ = c.rdb.Set(ctx, c.key, status, healthCacheTTL).Err()
	return err
}

var errCachedUnhealthy = cachedUnhealthyError{}

type cachedUnhealthyError struct{}

func (cachedUnhealthyError) Error() string {
	return "embedding endpoint reported unhealthy (cached)"
}
