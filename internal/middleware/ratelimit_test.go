package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIPForRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		peer       string
		want       string
	}{
		{
			name:       "forwarded header ignored",
			header:     "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "empty forwarded uses remote host",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "recorded peer wins over rewritten remote",
			header:     "203.0.113.1",
			remoteAddr: "203.0.113.1",
			peer:       "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 remote",
			header:     "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::2",
		},
		{
			name:       "remote without port",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if tc.peer != "" {
				req = req.WithContext(context.WithValue(req.Context(), peerAddrKey{}, tc.peer))
			}
			if got := clientIPForRateLimit(req); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}

type failingCounter struct{}

func (failingCounter) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generate-card", nil)
	req.RemoteAddr = ip + ":5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	h := RateLimit(NewMemoryCounter(), 2, time.Minute, nil)(okHandler())

	assert.Equal(t, http.StatusNoContent, hit(h, "203.0.113.7").Code)
	assert.Equal(t, http.StatusNoContent, hit(h, "203.0.113.7").Code)
	rec := hit(h, "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests, try again later","code":"rate_limited"}`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, hit(h, "198.51.100.1").Code, "other clients are unaffected")
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(failingCounter{}, 1, time.Minute, nil)(okHandler())
	for range 3 {
		assert.Equal(t, http.StatusNoContent, hit(h, "203.0.113.7").Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(NewMemoryCounter(), 0, time.Minute, nil)(okHandler())
	for range 5 {
		assert.Equal(t, http.StatusNoContent, hit(h, "203.0.113.7").Code)
	}
}

func TestMemoryCounterWindowExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCounter()
	c.now = func() time.Time { return now }

	n, _ := c.IncrWithExpiry(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(1), n)
	n, _ = c.IncrWithExpiry(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(2), n)

	now = now.Add(61 * time.Second)
	n, _ = c.IncrWithExpiry(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(1), n)
}

func TestRateLimitKeyChangesPerWindow(t *testing.T) {
	at := time.Unix(120, 0)
	assert.Equal(t, "ratelimit:203.0.113.7:2", rateLimitKey("203.0.113.7", time.Minute, at))
	assert.Equal(t, "ratelimit:203.0.113.7:3", rateLimitKey("203.0.113.7", time.Minute, at.Add(time.Minute)))
	assert.Equal(t, "ratelimit:x:120", rateLimitKey("x", 0, at))
}

func TestRedisCounterUnreachable(t *testing.T) {
	_, err := NewRedisCounter("not a url")
	assert.Error(t, err)

	c, err := NewRedisCounter("redis://127.0.0.1:1/0?dial_timeout=200ms&max_retries=-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.IncrWithExpiry(context.Background(), "ratelimit:test", time.Minute)
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))

	h := RateLimit(c, 1, time.Minute, nil)(okHandler())
	assert.Equal(t, http.StatusNoContent, hit(h, "203.0.113.7").Code)
}
