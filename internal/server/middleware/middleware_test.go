package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)

	cases := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{"missing", "/api/submissions", "", "", http.StatusUnauthorized},
		{"bearer", "/api/submissions", "Authorization", "Bearer secret", http.StatusNoContent},
		{"api key", "/api/submissions", "X-API-Key", "secret", http.StatusNoContent},
		{"wrong", "/api/submissions", "X-API-Key", "nope", http.StatusUnauthorized},
		{"public", "/api/health", "", "", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/submissions", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoggingAssignsRequestID(t *testing.T) {
	var seen string
	h := Logging(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

type countingLimiter struct {
	keys []string
	err  error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.keys = append(l.keys, key)
	return len(l.keys) <= limit, nil
}

func TestRateLimitWritesOnly(t *testing.T) {
	lim := &countingLimiter{}
	h := RateLimit(lim, 1, 10*time.Second, slog.New(slog.DiscardHandler))(ok)

	serve := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/baskets/x/bids", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, serve(http.MethodGet).Code)
	assert.Equal(t, http.StatusNoContent, serve(http.MethodPost).Code)
	rec := serve(http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"api:203.0.113.7", "api:203.0.113.7"}, lim.keys)

	lim.err = errors.New("redis down")
	assert.Equal(t, http.StatusNoContent, serve(http.MethodDelete).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://ops.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/submissions", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/submissions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
