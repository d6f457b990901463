package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"pricewatch/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyMiddleware(t *testing.T) {
	h := APIKeyMiddleware("s3cret-key")(ok)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		target string
		want   int
	}{
		{"missing", func(*http.Request) {}, "/api/v1/items", http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret-key") }, "/api/v1/items", http.StatusNoContent},
		{"apikey scheme", func(r *http.Request) { r.Header.Set("Authorization", "ApiKey s3cret-key") }, "/api/v1/items", http.StatusNoContent},
		{"header", func(r *http.Request) { r.Header.Set("X-API-Key", "s3cret-key") }, "/api/v1/items", http.StatusNoContent},
		{"query", func(*http.Request) {}, "/api/v1/items?api_key=s3cret-key", http.StatusNoContent},
		{"wrong", func(r *http.Request) { r.Header.Set("X-API-Key", "guess") }, "/api/v1/items", http.StatusUnauthorized},
		{"health is open", func(*http.Request) {}, "/health", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.setup(req)
			assert.Equal(t, tt.want, serve(h, req).Code)
		})
	}
}

func TestAPIKeyMiddleware_DisabledWithoutKey(t *testing.T) {
	h := APIKeyMiddleware("")(ok)
	assert.Equal(t, http.StatusNoContent, serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(1)(ok)

	first := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/items", nil))
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/items", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "Rate limit exceeded")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Options{Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	t.Cleanup(func() { logger.Init(logger.Options{}) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	out := buf.String()
	assert.Contains(t, out, "api request")
	assert.Contains(t, out, "path=/api/v1/runs")
	assert.Contains(t, out, "status=418")
}
