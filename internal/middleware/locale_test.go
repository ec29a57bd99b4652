package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		fallback string
		country  string
		want     string
	}{
		{
			name: "x-locale overrides",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "RU")
				r.Header.Set("Accept-Language", "en-US")
			},
			country: "US",
			want:    "ru",
		},
		{
			name: "accept-language used",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-US,en;q=0.9")
			},
			want: "en",
		},
		{
			name: "accept-language weights respected",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en;q=0.3,ru-RU;q=0.9")
			},
			want: "ru",
		},
		{
			name: "unsupported language falls through to country",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "ja-JP")
			},
			country: "KZ",
			want:    "ru",
		},
		{
			name:    "other country falls back",
			country: "US",
			want:    "en",
		},
		{
			name:     "configured fallback",
			fallback: "ru",
			want:     "ru",
		},
		{
			name:     "garbage fallback defaults to en",
			fallback: "???",
			want:     "en",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.setup != nil {
				tc.setup(req)
			}
			assert.Equal(t, tc.want, detectLocale(req, tc.fallback, tc.country))
		})
	}
}

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		resolver CountryLookup
		want     string
	}{
		{
			name: "header precedence",
			setup: func(r *http.Request) {
				r.Header.Set("X-Country-Code", "us")
				r.Header.Set("CF-IPCountry", "ru")
			},
			want: "US",
		},
		{
			name: "cloudflare unknown marker ignored",
			setup: func(r *http.Request) {
				r.Header.Set("CF-IPCountry", "XX")
				r.Header.Set("Accept-Language", "ru-BY")
			},
			want: "BY",
		},
		{
			name: "locale region",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "en-AU")
			},
			want: "AU",
		},
		{
			name: "accept-language region",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-GB,en;q=0.9")
			},
			want: "GB",
		},
		{
			name: "language without region is not a country",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "ru")
			},
			want: "",
		},
		{
			name: "resolver fallback",
			resolver: func(ip string) (string, error) {
				if ip != "203.0.113.4" {
					return "", errors.New("unexpected ip " + ip)
				}
				return "kg", nil
			},
			want: "KG",
		},
		{
			name: "resolver error returns empty",
			resolver: func(string) (string, error) {
				return "", errors.New("boom")
			},
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.4:80"
			if tc.setup != nil {
				tc.setup(req)
			}
			assert.Equal(t, tc.want, ResolveCountry(req, tc.resolver))
		})
	}
}

func TestLocaleMiddlewareStoresValues(t *testing.T) {
	var gotLocale, gotCountry string
	h := Locale("en", func(string) (string, error) { return "ru", nil })(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotLocale = LocaleFromContext(r.Context())
		gotCountry = CountryFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "ru", gotLocale)
	assert.Equal(t, "RU", gotCountry)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.2:443"
	assert.Equal(t, "198.51.100.2", ClientIP(req))
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
	assert.Empty(t, ClientIP(nil))
}

func TestContextDefaults(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "en", LocaleFromContext(ctx))
	assert.Empty(t, CountryFromContext(ctx))
	ctx = context.WithValue(ctx, LocaleKey, "ru")
	assert.Equal(t, "ru", LocaleFromContext(ctx))
}
