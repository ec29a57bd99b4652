package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// Prediction is one label/score pair returned by the classifier.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier scores an image.
type Classifier interface {
	Classify(ctx context.Context, image []byte) ([]Prediction, error)
}

// HTTPOptions configures the HTTP classifier client.
type HTTPOptions struct {
	URL        string
	Token      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// HTTPClassifier posts raw image bytes to an inference endpoint that answers
// with [{label, score}] (or the nested [[...]] batch form).
type HTTPClassifier struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewHTTPClassifier(opts HTTPOptions) (*HTTPClassifier, error) {
	endpoint := strings.TrimSpace(opts.URL)
	if endpoint == "" {
		return nil, errors.New("safety: classifier url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClassifier{
		url:        endpoint,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

func (c *HTTPClassifier) Classify(ctx context.Context, image []byte) ([]Prediction, error) {
	const op = "classify image"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(image))
	if err != nil {
		return nil, domain.E(domain.ErrClassification, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.E(domain.ErrClassification, op, "classifier unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.E(domain.ErrClassification, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, domain.E(domain.ErrClassification, op, msg, nil).WithStatus(resp.StatusCode)
	}
	preds, err := parsePredictions(body)
	if err != nil {
		return nil, domain.E(domain.ErrClassification, op, "decode predictions", err)
	}
	return preds, nil
}

func parsePredictions(body []byte) ([]Prediction, error) {
	var flat []Prediction
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}
	var nested [][]Prediction
	if err := json.Unmarshal(body, &nested); err != nil {
		return nil, fmt.Errorf("unexpected classifier payload: %w", err)
	}
	if len(nested) == 0 {
		return nil, nil
	}
	return nested[0], nil
}

var _ Classifier = (*HTTPClassifier)(nil)
