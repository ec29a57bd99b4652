package gigachat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

const (
	defaultBaseURL = "https://gigachat.devices.sberbank.ru/api/v1"
	defaultModel   = "GigaChat"
)

// Tokens supplies bearer tokens for chat calls.
type Tokens interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Options configures the chat completion client.
type Options struct {
	BaseURL    string
	Model      string
	Tokens     Tokens
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client sends one-shot chat completions.
type Client struct {
	baseURL    string
	model      string
	tokens     Tokens
	httpClient *http.Client
	logger     *infra.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient constructs a chat client. Tokens is required.
func NewClient(opts Options) (*Client, error) {
	if opts.Tokens == nil {
		return nil, errors.New("gigachat: token source is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(true, 60*time.Second)
	}
	return &Client{
		baseURL:    baseURL,
		model:      model,
		tokens:     opts.Tokens,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

// Model returns the default model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends systemPrompt and userText and returns the trimmed reply.
// An empty model uses the client default. The call is not retried.
func (c *Client) Complete(ctx context.Context, systemPrompt, userText, model string) (string, error) {
	const op = "gigachat complete"
	if strings.TrimSpace(model) == "" {
		model = c.model
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userText},
		},
		Stream: false,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", domain.E(domain.ErrChatAPI, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", domain.E(domain.ErrChatAPI, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.E(domain.ErrNetwork, op, "chat endpoint unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", domain.E(domain.ErrNetwork, op, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return "", domain.E(domain.ErrChatAPI, op, upstreamMessage(body), nil).WithStatus(resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", domain.E(domain.ErrChatAPI, op, "decode response", err).WithStatus(resp.StatusCode)
	}
	if len(decoded.Choices) == 0 {
		return "", domain.E(domain.ErrEmptyResponse, op, "no choices in response", nil)
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", domain.E(domain.ErrEmptyResponse, op, "empty message content", nil)
	}

	c.logger.Debug().
		Str("model", model).
		Int("total_tokens", decoded.Usage.TotalTokens).
		Dur("took", time.Since(start)).
		Msg("gigachat completion")
	return content, nil
}
