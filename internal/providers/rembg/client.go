package rembg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

const defaultPath = "/api/remove"

// Options configures the background-removal client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client calls a rembg server. One request per image; failures are not retried.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rembg: base url is required")
	}
	endpoint := base
	if !strings.HasSuffix(endpoint, defaultPath) {
		endpoint += defaultPath
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient, logger: infra.LoggerOrDiscard(opts.Logger)}, nil
}

// Remove returns img with its background made transparent, as PNG bytes.
func (c *Client) Remove(ctx context.Context, img []byte) ([]byte, error) {
	const op = "remove background"
	if len(img) == 0 {
		return nil, domain.E(domain.ErrBackgroundRemoval, op, "empty image", nil)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "logo")
	if err != nil {
		return nil, domain.E(domain.ErrBackgroundRemoval, op, "encode form", err)
	}
	if _, err := part.Write(img); err != nil {
		return nil, domain.E(domain.ErrBackgroundRemoval, op, "encode form", err)
	}
	if err := w.Close(); err != nil {
		return nil, domain.E(domain.ErrBackgroundRemoval, op, "encode form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, domain.E(domain.ErrBackgroundRemoval, op, "build request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "image/png")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.E(domain.ErrBackgroundRemoval, op, "service unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	out, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, domain.E(domain.ErrBackgroundRemoval, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, domain.E(domain.ErrBackgroundRemoval, op, msg, nil).WithStatus(resp.StatusCode)
	}
	if len(out) == 0 {
		return nil, domain.E(domain.ErrBackgroundRemoval, op, "empty response", nil)
	}
	c.logger.Debug().Int("in_bytes", len(img)).Int("out_bytes", len(out)).Dur("took", time.Since(start)).Msg("background removed")
	return out, nil
}
