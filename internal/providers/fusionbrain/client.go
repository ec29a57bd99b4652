package fusionbrain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// ErrMissingCredentials indicates the client was configured without keys.
var ErrMissingCredentials = errors.New("fusionbrain: api key and secret key are required")

const (
	defaultBaseURL      = "https://api-key.fusionbrain.ai"
	defaultPollAttempts = 20
	defaultPollDelay    = 5 * time.Second
	defaultStyle        = "DEFAULT"
)

// Options configures the FusionBrain client.
type Options struct {
	BaseURL      string
	APIKey       string
	SecretKey    string
	PollAttempts int
	PollDelay    time.Duration
	HTTPClient   *http.Client
	Logger       *infra.Logger
	// Sleep waits between poll attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client talks to the asynchronous text-to-image API.
type Client struct {
	baseURL      string
	apiKey       string
	secretKey    string
	pollAttempts int
	pollDelay    time.Duration
	httpClient   *http.Client
	logger       *infra.Logger
	sleep        func(ctx context.Context, d time.Duration) error

	// discover admits one pipeline lookup at a time and guards pipelineID.
	discover   chan struct{}
	pipelineID string
}

type pipelineEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type generateParams struct {
	Query string `json:"query"`
}

type runParams struct {
	Type           string         `json:"type"`
	NumImages      int            `json:"numImages"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Style          string         `json:"style,omitempty"`
	GenerateParams generateParams `json:"generateParams"`
}

type runResponse struct {
	UUID             string `json:"uuid"`
	Status           string `json:"status"`
	ErrorDescription string `json:"errorDescription"`
	Message          string `json:"message"`
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	secret := strings.TrimSpace(opts.SecretKey)
	if apiKey == "" || secret == "" {
		return nil, ErrMissingCredentials
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	attempts := opts.PollAttempts
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	delay := opts.PollDelay
	if delay <= 0 {
		delay = defaultPollDelay
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		secretKey:    secret,
		pollAttempts: attempts,
		pollDelay:    delay,
		httpClient:   httpClient,
		logger:       infra.LoggerOrDiscard(opts.Logger),
		sleep:        sleep,
		discover:     make(chan struct{}, 1),
	}, nil
}

// Pipeline returns the id of the first available pipeline. The id is
// discovered once and cached for the lifetime of the client.
func (c *Client) Pipeline(ctx context.Context) (string, error) {
	const op = "fusionbrain pipeline"
	select {
	case c.discover <- struct{}{}:
	case <-ctx.Done():
		return "", domain.E(domain.ErrTimeout, op, "cancelled while waiting for pipeline discovery", ctx.Err())
	}
	defer func() { <-c.discover }()
	if c.pipelineID != "" {
		return c.pipelineID, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/key/api/v1/pipelines", nil)
	if err != nil {
		return "", domain.E(domain.ErrSubmission, op, "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.E(domain.ErrNetwork, op, "pipelines endpoint unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", domain.E(domain.ErrNetwork, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.E(domain.ErrSubmission, op, snippet(body), nil).WithStatus(resp.StatusCode)
	}
	var pipelines []pipelineEntry
	if err := json.Unmarshal(body, &pipelines); err != nil {
		return "", domain.E(domain.ErrSubmission, op, "decode pipelines", err)
	}
	if len(pipelines) == 0 || strings.TrimSpace(pipelines[0].ID) == "" {
		return "", domain.E(domain.ErrSubmission, op, "no pipelines available", nil)
	}
	c.pipelineID = pipelines[0].ID
	c.logger.Info().Str("pipeline_id", c.pipelineID).Str("name", pipelines[0].Name).Msg("fusionbrain pipeline discovered")
	return c.pipelineID, nil
}

// Submit starts a generation job and returns its uuid.
func (c *Client) Submit(ctx context.Context, prompt, style string, width, height int) (string, error) {
	const op = "fusionbrain submit"
	if strings.TrimSpace(prompt) == "" {
		return "", domain.E(domain.ErrValidation, op, "prompt is required", nil)
	}
	if width <= 0 || height <= 0 {
		return "", domain.E(domain.ErrValidation, op, fmt.Sprintf("invalid size %dx%d", width, height), nil)
	}
	pipelineID, err := c.Pipeline(ctx)
	if err != nil {
		return "", err
	}

	params := runParams{
		Type:           "GENERATE",
		NumImages:      1,
		Width:          width,
		Height:         height,
		Style:          normalizeStyle(style),
		GenerateParams: generateParams{Query: prompt},
	}
	body, contentType, err := encodeRunForm(pipelineID, params)
	if err != nil {
		return "", domain.E(domain.ErrSubmission, op, "encode form", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/key/api/v1/pipeline/run", body)
	if err != nil {
		return "", domain.E(domain.ErrSubmission, op, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.E(domain.ErrNetwork, op, "run endpoint unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", domain.E(domain.ErrNetwork, op, "read response", err)
	}

	var decoded runResponse
	_ = json.Unmarshal(raw, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || strings.TrimSpace(decoded.UUID) == "" {
		msg := firstNonEmpty(decoded.ErrorDescription, decoded.Message, snippet(raw), "no job uuid in response")
		e := domain.E(domain.ErrSubmission, op, msg, nil)
		if resp.StatusCode >= 300 {
			e = e.WithStatus(resp.StatusCode)
		}
		return "", e
	}
	c.logger.Debug().Str("job_id", decoded.UUID).Str("style", params.Style).Msg("fusionbrain job submitted")
	return decoded.UUID, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Key", "Key "+c.apiKey)
	req.Header.Set("X-Secret", "Secret "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func encodeRunForm(pipelineID string, params runParams) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("pipeline_id", pipelineID); err != nil {
		return nil, "", err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="params"`)
	header.Set("Content-Type", "application/json")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if err := json.NewEncoder(part).Encode(params); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// normalizeStyle upper-cases style; DEFAULT and blank mean "no style".
func normalizeStyle(style string) string {
	s := cases.Upper(language.Und).String(strings.TrimSpace(style))
	if s == "" || s == defaultStyle {
		return ""
	}
	return s
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
