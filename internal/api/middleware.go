package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// ClientIDHeader optionally identifies the caller for rate limiting.
const ClientIDHeader = "X-Client-ID"

// AdminAuthMiddleware guards coefficient writes with a static bearer token.
// An empty token leaves the routes open.
func AdminAuthMiddleware(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="railkpi"`)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chiMiddleware.GetReqID(r.Context()),
				"client", clientKey(r),
			)
		})
	}
}

// sweepEvery is how many admitted requests pass between idle-client sweeps.
const sweepEvery = 1024

// rateLimiter is a per-client sliding window.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	calls    int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{requests: make(map[string][]time.Time), limit: limit, window: window}
}

// RateLimitMiddleware allows requestsPerMinute per client. Rejections carry
// Retry-After in whole seconds. A non-positive limit disables the check.
func RateLimitMiddleware(requestsPerMinute int) func(http.Handler) http.Handler {
	rl := newRateLimiter(requestsPerMinute, time.Minute)
	return func(next http.Handler) http.Handler {
		if rl.limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, retry := rl.take(clientKey(r), time.Now())
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if retry > 0 {
				secs := int((retry + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ClientIDHeader)); id != "" {
		return id
	}
	return r.RemoteAddr
}

// take records a request for key at now. It returns the requests left in the
// window and, when the request is rejected, how long until a slot frees up.
func (rl *rateLimiter) take(key string, now time.Time) (int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	valid := rl.prune(key, now)
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return 0, valid[0].Add(rl.window).Sub(now)
	}
	rl.requests[key] = append(valid, now)

	rl.calls++
	if rl.calls%sweepEvery == 0 {
		rl.sweep(now)
	}
	return rl.limit - len(valid) - 1, 0
}

func (rl *rateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	hits := rl.requests[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// sweep forgets clients with no request inside the window.
func (rl *rateLimiter) sweep(now time.Time) {
	for key := range rl.requests {
		if len(rl.prune(key, now)) == 0 {
			delete(rl.requests, key)
		}
	}
}
