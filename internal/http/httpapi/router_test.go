package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"cardgen/internal/http/handlers"
	"cardgen/internal/infra"
	"cardgen/internal/middleware"
	"cardgen/internal/providers/prompt"
)

type echoPrompts struct{}

func (echoPrompts) Improve(_ context.Context, req prompt.ImproveRequest) (string, error) {
	return req.Locale + ":" + req.Prompt, nil
}

func (echoPrompts) Available() bool { return true }

func newTestRouter(limit int) http.Handler {
	cfg := &infra.Config{
		RateLimitPerMin: limit,
		CORSOrigins:     []string{"*"},
		DefaultLocale:   "ru",
	}
	app := handlers.NewApp(cfg, nil, echoPrompts{}, nil)
	return NewRouter(app, Options{Counter: middleware.NewMemoryCounter()})
}

func TestRouterHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(10).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouterImprovePromptUsesLocaleAndRateLimit(t *testing.T) {
	router := newTestRouter(2)
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/improve-prompt", strings.NewReader(`{"prompt":"cafe"}`))
		req.RemoteAddr = "203.0.113.5:1234"
		req.Header.Set("Accept-Language", "en-GB")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, `{"improved_prompt":"en:cafe"}`, first.Body.String())
	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, http.StatusTooManyRequests, send().Code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health is not rate limited")
}

func TestRouterRateLimitIgnoresForwardedFor(t *testing.T) {
	router := newTestRouter(2)
	codes := make([]int, 0, 3)
	for _, forwarded := range []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"} {
		req := httptest.NewRequest(http.MethodPost, "/improve-prompt", strings.NewReader(`{"prompt":"cafe"}`))
		req.RemoteAddr = "203.0.113.9:4321"
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRouterCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/generate-card", nil)
	req.Header.Set("Origin", "https://shop.example")
	rec := httptest.NewRecorder()
	newTestRouter(10).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterUnknownRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(10).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
