package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cwrag/ragcore/internal/ratelimit"
)

// clientIP extracts the caller's address, preferring X-Forwarded-For's first
// hop since the service is expected to sit behind a reverse proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withRateLimit enforces the IP-scoped limit for every request and, when the
// caller identifies itself via x-user-id/x-tenant-id, the user/tenant scopes
// too. Any tripped scope produces a 429 with Retry-After and X-RateLimit-Reset.
func withRateLimit(limiter ratelimit.Allower, _ ratelimit.Scope, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter == nil {
			next(w, r)
			return
		}

		checks := []struct {
			scope    ratelimit.Scope
			identity string
		}{
			{ratelimit.ScopeIP, clientIP(r)},
		}
		if u := r.Header.Get("x-user-id"); u != "" {
			checks = append(checks, struct {
				scope    ratelimit.Scope
				identity string
			}{ratelimit.ScopeUser, u})
		}
		if t := r.Header.Get("x-tenant-id"); t != "" {
			checks = append(checks, struct {
				scope    ratelimit.Scope
				identity string
			}{ratelimit.ScopeTenant, t})
		}

		for _, c := range checks {
			d := limiter.Allow(c.scope, c.identity)
			if !d.Allowed {
				writeRateLimited(w, d)
				return
			}
		}
		next(w, r)
	}
}

func writeRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	retryAfter := int(d.RetryAfter / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.RetryAfter).Unix(), 10))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:      "RateLimited",
		Message:    "rate limit exceeded for scope " + string(d.Scope),
		Code:       http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	})
}

// withIngestAuth requires a matching x-ingest-token header, compared in
// constant time to avoid leaking the token through timing.
func withIngestAuth(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "ingest token not configured")
			return
		}
		got := r.Header.Get("x-ingest-token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid ingest token")
			return
		}
		next(w, r)
	}
}

func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
