package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, client, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/", nil)
	if client != "" {
		req.Header.Set(ClientIDHeader, client)
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(3)(okHandler())

	for i := 0; i < 3; i++ {
		w := hit(handler, "dashboard", "")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
	}

	w := hit(handler, "dashboard", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimitMiddleware_KeysByClient(t *testing.T) {
	handler := RateLimitMiddleware(2)(okHandler())

	hit(handler, "survey-import", "")
	hit(handler, "survey-import", "")

	assert.Equal(t, http.StatusOK, hit(handler, "dashboard", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "survey-import", "").Code)
}

func TestRateLimitMiddleware_FallsBackToRemoteAddr(t *testing.T) {
	handler := RateLimitMiddleware(1)(okHandler())

	hit(handler, "", "10.0.0.1:5000")
	assert.Equal(t, http.StatusOK, hit(handler, "", "10.0.0.2:5000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "", "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "  ", "10.0.0.1:5000").Code)
}

func TestRateLimitMiddleware_DisabledWhenZero(t *testing.T) {
	handler := RateLimitMiddleware(0)(okHandler())
	for i := 0; i < 10; i++ {
		w := hit(handler, "dashboard", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, retry := rl.take("a", t0)
	assert.Zero(t, retry)
	_, retry = rl.take("a", t0.Add(20*time.Second))
	assert.Zero(t, retry)

	_, retry = rl.take("a", t0.Add(30*time.Second))
	assert.Equal(t, 30*time.Second, retry)

	remaining, retry := rl.take("a", t0.Add(61*time.Second))
	assert.Zero(t, retry)
	assert.Equal(t, 0, remaining)
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	rl := newRateLimiter(2*sweepEvery, time.Minute)
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	rl.take("idle", t0)
	later := t0.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		rl.take("busy", later.Add(time.Duration(i)*time.Millisecond))
	}

	assert.NotContains(t, rl.requests, "idle")
	assert.Contains(t, rl.requests, "busy")
}

func TestAdminAuthMiddleware(t *testing.T) {
	handler := AdminAuthMiddleware("secret")(okHandler())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "Bearer secreT", http.StatusUnauthorized},
		{"prefix of token", "Bearer secre", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("PUT", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}

	w := httptest.NewRecorder()
	AdminAuthMiddleware("")(okHandler()).ServeHTTP(w, httptest.NewRequest("PUT", "/", nil))
	assert.Equal(t, http.StatusOK, w.Code, "no token configured leaves routes open")
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	req := httptest.NewRequest("GET", "/api/v1/catalog", nil)
	req.Header.Set(ClientIDHeader, "test-client")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "status=202")
	assert.Contains(t, out, "bytes=2")
	assert.Contains(t, out, "client=test-client")
	assert.Contains(t, out, "path=/api/v1/catalog")

	buf.Reset()
	failing := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	failing.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Contains(t, buf.String(), "level=WARN")
}
