package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/middleware"
	"cardgen/internal/providers/prompt"
)

type stubCards struct {
	req      domain.CardRequest
	calls    int
	deadline bool
	res      *domain.CardResult
	err      error
}

func (s *stubCards) GenerateCard(ctx context.Context, req domain.CardRequest) (*domain.CardResult, error) {
	s.calls++
	s.req = req
	_, s.deadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	if s.res != nil {
		return s.res, nil
	}
	return &domain.CardResult{PNG: []byte("\x89PNG-card"), Width: 1032, Height: 648}, nil
}

type stubPrompts struct {
	available bool
	req       prompt.ImproveRequest
	reply     string
	err       error
}

func (s *stubPrompts) Improve(_ context.Context, req prompt.ImproveRequest) (string, error) {
	s.req = req
	return s.reply, s.err
}

func (s *stubPrompts) Available() bool { return s.available }

type stubJobs struct {
	job *domain.GenerationJob
	err error
}

func (s *stubJobs) GetByID(context.Context, string) (*domain.GenerationJob, error) {
	return s.job, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func testConfig() *infra.Config {
	return &infra.Config{
		MaxUploadBytes:    1 << 20,
		RequestTimeout:    time.Minute,
		AllowedExtensions: []string{"png", "jpg", "jpeg", "webp"},
	}
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/generate-card", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGenerateCardUpload(t *testing.T) {
	cards := &stubCards{res: &domain.CardResult{PNG: []byte("png!"), JobID: ""}}
	app := NewApp(testConfig(), cards, nil, nil)

	req := multipartRequest(t,
		map[string]string{"mode": "Upload", "logoX": "0.25", "logoY": "0.75", "logoScale": "1.2"},
		formFile{"logo", "brand.PNG", []byte("logo-bytes")},
		formFile{"background", "bg.jpg", []byte("bg-bytes")},
	)
	rec := httptest.NewRecorder()
	app.GenerateCard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Header().Get("X-Job-ID"))
	assert.Equal(t, "png!", rec.Body.String())

	assert.True(t, cards.deadline)
	assert.Equal(t, domain.ModeUpload, cards.req.Mode)
	assert.Equal(t, []byte("logo-bytes"), cards.req.Logo)
	assert.Equal(t, "brand.PNG", cards.req.LogoFilename)
	assert.Equal(t, []byte("bg-bytes"), cards.req.Background)
	assert.Equal(t, domain.Placement{CenterX: 0.25, CenterY: 0.75, Scale: 1.2}, cards.req.Placement)
}

func TestGenerateCardGenerateDefaults(t *testing.T) {
	cards := &stubCards{res: &domain.CardResult{PNG: []byte("png"), JobID: "fb-1"}}
	app := NewApp(testConfig(), cards, nil, nil)

	req := multipartRequest(t,
		map[string]string{"mode": "generate", "prompt": "  coffee beans  ", "style": "ANIME"},
		formFile{"logo", "logo.webp", []byte("l")},
	)
	rec := httptest.NewRecorder()
	app.GenerateCard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fb-1", rec.Header().Get("X-Job-ID"))
	assert.Equal(t, domain.GenerationParams{Prompt: "coffee beans", Style: "ANIME"}, cards.req.Generation)
	assert.Equal(t, domain.DefaultPlacement(), cards.req.Placement)
	assert.Nil(t, cards.req.Background)
}

func TestGenerateCardRequestErrors(t *testing.T) {
	logo := formFile{"logo", "logo.png", []byte("l")}
	cases := []struct {
		name   string
		fields map[string]string
		files  []formFile
	}{
		{"missing logo", map[string]string{"mode": "upload"}, nil},
		{"empty logo", map[string]string{"mode": "upload"}, []formFile{{"logo", "logo.png", nil}}},
		{"bad extension", map[string]string{"mode": "upload"}, []formFile{{"logo", "logo.exe", []byte("MZ")}}},
		{"bad mode", map[string]string{"mode": "paint"}, []formFile{logo}},
		{"bad logoX", map[string]string{"mode": "upload", "logoX": "left"}, []formFile{logo}},
		{"bad logoScale", map[string]string{"mode": "upload", "logoScale": "big"}, []formFile{logo}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cards := &stubCards{}
			app := NewApp(testConfig(), cards, nil, nil)
			rec := httptest.NewRecorder()
			app.GenerateCard(rec, multipartRequest(t, tc.fields, tc.files...))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation", decodeBody(t, rec)["code"])
			assert.Zero(t, cards.calls)
		})
	}
}

func TestGenerateCardRejectsNonMultipart(t *testing.T) {
	app := NewApp(testConfig(), &stubCards{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/generate-card", strings.NewReader(`{"mode":"upload"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.GenerateCard(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateCardTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 1 << 10
	app := NewApp(cfg, &stubCards{}, nil, nil)

	req := multipartRequest(t, map[string]string{"mode": "upload"},
		formFile{"logo", "logo.png", bytes.Repeat([]byte("x"), 4<<10)})
	rec := httptest.NewRecorder()
	app.GenerateCard(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "too_large", decodeBody(t, rec)["code"])
}

func TestGenerateCardErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"safety", domain.E(domain.ErrSafetyBlocked, "logo_safety", "the uploaded logo was flagged as inappropriate", nil), 400, "safety_blocked"},
		{"validation", domain.E(domain.ErrValidation, "validate", "prompt is required for generate mode", nil), 400, "validation"},
		{"unavailable", domain.E(domain.ErrUnavailable, "generate_background", "image generation is not configured", nil), 503, "unavailable"},
		{"timeout", domain.E(domain.ErrTimeout, "generate_background", "no result", context.DeadlineExceeded), 504, "timeout"},
		{"network", domain.E(domain.ErrNetwork, "remove_background", "dial", nil), 502, "network"},
		{"auth upstream", domain.E(domain.ErrAuth, "token", "bad creds", nil).WithStatus(401), 401, "auth"},
		{"chat without status", domain.E(domain.ErrChatAPI, "complete", "", nil), 502, "chat_api"},
		{"generation", domain.E(domain.ErrGeneration, "generate_background", "censored", nil), 500, "generation"},
		{"composition", domain.E(domain.ErrComposition, "compose", "logo has no alpha channel", nil), 500, "composition"},
		{"untyped", errors.New("boom"), 500, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := NewApp(testConfig(), &stubCards{err: tc.err}, nil, nil)
			rec := httptest.NewRecorder()
			app.GenerateCard(rec, multipartRequest(t,
				map[string]string{"mode": "generate", "prompt": "p"},
				formFile{"logo", "logo.png", []byte("l")},
			))

			assert.Equal(t, tc.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["error"])
			if tc.code == "safety_blocked" {
				assert.Equal(t, true, body["nsfw_detected"])
				assert.Equal(t, "the uploaded logo was flagged as inappropriate", body["error"])
			} else {
				assert.NotContains(t, body, "nsfw_detected")
			}
			if tc.code == "internal" {
				assert.Equal(t, "internal server error", body["error"])
			}
		})
	}
}

func TestImprovePrompt(t *testing.T) {
	prompts := &stubPrompts{available: true, reply: "A sunlit coffee shop"}
	app := NewApp(testConfig(), nil, prompts, nil)

	req := httptest.NewRequest(http.MethodPost, "/improve-prompt", strings.NewReader(`{"prompt":"cafe"}`))
	req = req.WithContext(context.WithValue(req.Context(), middleware.LocaleKey, "ru"))
	rec := httptest.NewRecorder()
	app.ImprovePrompt(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"improved_prompt":"A sunlit coffee shop"}`, rec.Body.String())
	assert.Equal(t, prompt.ImproveRequest{Prompt: "cafe", Locale: "ru"}, prompts.req)

	req = httptest.NewRequest(http.MethodPost, "/improve-prompt", strings.NewReader(`{"prompt":"cafe","locale":"en"}`))
	app.ImprovePrompt(httptest.NewRecorder(), req)
	assert.Equal(t, "en", prompts.req.Locale)
}

func TestImprovePromptErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		app := NewApp(testConfig(), nil, &stubPrompts{}, nil)
		rec := httptest.NewRecorder()
		app.ImprovePrompt(rec, httptest.NewRequest(http.MethodPost, "/improve-prompt", strings.NewReader(`{"prompt":"x"}`)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unavailable", decodeBody(t, rec)["code"])
	})
	t.Run("bad json", func(t *testing.T) {
		app := NewApp(testConfig(), nil, &stubPrompts{available: true}, nil)
		rec := httptest.NewRecorder()
		app.ImprovePrompt(rec, httptest.NewRequest(http.MethodPost, "/improve-prompt", strings.NewReader(`{`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("upstream status", func(t *testing.T) {
		prompts := &stubPrompts{available: true, err: domain.E(domain.ErrChatAPI, "complete", "rate limited", nil).WithStatus(429)}
		app := NewApp(testConfig(), nil, prompts, nil)
		rec := httptest.NewRecorder()
		app.ImprovePrompt(rec, httptest.NewRequest(http.MethodPost, "/improve-prompt", strings.NewReader(`{"prompt":"x"}`)))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "rate limited", decodeBody(t, rec)["error"])
	})
}

func jobRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestJobStatus(t *testing.T) {
	created := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	app := NewApp(testConfig(), nil, nil, nil)
	app.Jobs = &stubJobs{job: &domain.GenerationJob{
		RecordID:    "8a1d3c52-4a8e-4c36-a3a5-0d5e2f6f1a10",
		ID:          "fb-123",
		Prompt:      "coffee",
		Width:       1032,
		Height:      648,
		Status:      domain.JobStatusTimedOut,
		ErrorDetail: "timeout",
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Minute),
	}}

	rec := httptest.NewRecorder()
	app.JobStatus(rec, jobRequest("8a1d3c52-4a8e-4c36-a3a5-0d5e2f6f1a10"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "fb-123", body["external_id"])
	assert.Equal(t, string(domain.JobStatusTimedOut), body["status"])
	assert.EqualValues(t, 1032, body["width"])

	rec = httptest.NewRecorder()
	app.JobStatus(rec, jobRequest("not-a-uuid"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	app.Jobs = &stubJobs{err: domain.ErrNotFound}
	rec = httptest.NewRecorder()
	app.JobStatus(rec, jobRequest("8a1d3c52-4a8e-4c36-a3a5-0d5e2f6f1a10"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["code"])

	app.Jobs = nil
	rec = httptest.NewRecorder()
	app.JobStatus(rec, jobRequest("8a1d3c52-4a8e-4c36-a3a5-0d5e2f6f1a10"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	app := NewApp(testConfig(), nil, nil, nil)

	rec := httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	app.Checks["postgres"] = stubPinger{}
	rec = httptest.NewRecorder()
	app.Ready(rec, httptest.NewRequest(http.MethodGet, "/v1/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	app.Checks["redis"] = stubPinger{err: errors.New("connection refused")}
	rec = httptest.NewRecorder()
	app.Ready(rec, httptest.NewRequest(http.MethodGet, "/v1/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"ok","redis":"connection refused"}}`, rec.Body.String())
}

func TestOpenAPIDocument(t *testing.T) {
	app := NewApp(testConfig(), nil, nil, nil)
	rec := httptest.NewRecorder()
	app.OpenAPIJSON(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))

	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc.Paths, "/generate-card")
	assert.Contains(t, doc.Paths, "/improve-prompt")

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	app.OpenAPIJSON(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	app.OpenAPIDocs(rec, httptest.NewRequest(http.MethodGet, "/v1/docs", nil))
	assert.Contains(t, rec.Body.String(), "/v1/openapi.json")
}

func TestGenerateCardNotConfigured(t *testing.T) {
	app := NewApp(testConfig(), nil, nil, nil)
	req := multipartRequest(t, map[string]string{"mode": "upload"},
		formFile{"logo", "logo.png", []byte("png")})
	rec := httptest.NewRecorder()
	app.GenerateCard(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeBody(t, rec)["code"])
}
