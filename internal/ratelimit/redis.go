package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the same sliding-window semantics as Limiter but
// shares counters across replicas via a Redis sorted set per (scope,
// identity) key: members are request timestamps, scored by themselves, so
// ZREMRANGEBYSCORE evicts everything older than the window before ZCARD
// counts what remains.
type RedisLimiter struct {
	rdb    *redis.Client
	limits Limits
	clock  func() time.Time
}

// NewRedis constructs a RedisLimiter. A zero Window defaults to one minute.
func NewRedis(rdb *redis.Client, limits Limits) *RedisLimiter {
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	return &RedisLimiter{rdb: rdb, limits: limits, clock: time.Now}
}

func (l *RedisLimiter) limitFor(scope Scope) int {
	switch scope {
	case ScopeIP:
		return l.limits.PerIP
	case ScopeUser:
		return l.limits.PerUser
	case ScopeTenant:
		return l.limits.PerTenant
	default:
		return 0
	}
}

// Allow records one request for (scope, identity) against the shared Redis
// counter. On any Redis error it fails open (allows the request) so a cache
// outage never takes the whole service down with it.
func (l *RedisLimiter) Allow(scope Scope, identity string) Decision {
	limit := l.limitFor(scope)
	if limit <= 0 {
		return Decision{Allowed: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	now := l.clock()
	key := "ragcore:ratelimit:" + string(scope) + ":" + identity
	cutoff := now.Add(-l.limits.Window)
	member := now.UnixNano()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(member), Member: member})
	pipe.Expire(ctx, key, l.limits.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true}
	}

	if int(card.Val()) >= limit {
		// The just-added member pushed us over; undo it and report the trip.
		l.rdb.ZRem(ctx, key, member)
		return Decision{Allowed: false, Scope: scope, RetryAfter: l.limits.Window}
	}
	return Decision{Allowed: true}
}

