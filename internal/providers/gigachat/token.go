package gigachat

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// Accepted OAuth scopes.
const (
	ScopePersonal = "GIGACHAT_API_PERS"
	ScopeB2B      = "GIGACHAT_API_B2B"
	ScopeCorp     = "GIGACHAT_API_CORP"
)

const (
	defaultAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	defaultMargin  = 60 * time.Second
	// 2100-01-01T00:00:00Z in seconds. Larger expiry values are milliseconds.
	epochSecondsCeiling = 4102444800
)

// TokenOptions configures the client-credentials exchange.
type TokenOptions struct {
	ClientID     string
	ClientSecret string
	Scope        string
	AuthURL      string
	HTTPClient   *http.Client
	Logger       *infra.Logger
	// Margin is how long a returned token must stay valid. Defaults to 60s.
	Margin time.Duration
	Now    func() time.Time
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// TokenSource caches one access token and refreshes it when it is about to
// expire. Concurrent callers share a single refresh.
type TokenSource struct {
	clientID     string
	clientSecret string
	scope        string
	authURL      string
	httpClient   *http.Client
	logger       *infra.Logger
	margin       time.Duration
	now          func() time.Time

	// sem is a one-slot lock guarding token; unlike sync.Mutex a waiter can
	// give up when its context ends.
	sem   chan struct{}
	token *accessToken
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresAt   json.Number `json:"expires_at"`
}

// NewTokenSource validates opts and returns a ready token source.
func NewTokenSource(opts TokenOptions) (*TokenSource, error) {
	if strings.TrimSpace(opts.ClientID) == "" || strings.TrimSpace(opts.ClientSecret) == "" {
		return nil, fmt.Errorf("gigachat: client id and secret are required")
	}
	scope := strings.TrimSpace(opts.Scope)
	if scope == "" {
		scope = ScopePersonal
	}
	switch scope {
	case ScopePersonal, ScopeB2B, ScopeCorp:
	default:
		return nil, fmt.Errorf("gigachat: unsupported scope %q", scope)
	}
	authURL := strings.TrimSpace(opts.AuthURL)
	if authURL == "" {
		authURL = defaultAuthURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(true, 30*time.Second)
	}
	margin := opts.Margin
	if margin <= 0 {
		margin = defaultMargin
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TokenSource{
		clientID:     strings.TrimSpace(opts.ClientID),
		clientSecret: strings.TrimSpace(opts.ClientSecret),
		scope:        scope,
		authURL:      authURL,
		httpClient:   httpClient,
		logger:       infra.LoggerOrDiscard(opts.Logger),
		margin:       margin,
		now:          now,
		sem:          make(chan struct{}, 1),
	}, nil
}

// NewHTTPClient returns a client for the chat and auth endpoints. With
// verifySSL false the client skips certificate verification, which the
// upstream's self-signed chain requires in some deployments.
func NewHTTPClient(verifySSL bool, timeout time.Duration) *http.Client {
	if verifySSL {
		return &http.Client{Timeout: timeout}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via GIGA_VERIFY_SSL=false
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Token returns a bearer token valid for at least the configured margin.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return "", domain.E(domain.ErrAuth, "gigachat token", "cancelled while waiting for refresh", ctx.Err())
	}
	defer func() { <-s.sem }()

	if s.token != nil && s.now().Add(s.margin).Before(s.token.expiresAt) {
		return s.token.value, nil
	}

	tok, err := s.exchange(ctx)
	if err != nil {
		return "", err
	}
	s.token = tok
	s.logger.Debug().Time("expires_at", tok.expiresAt).Msg("gigachat token refreshed")
	return tok.value, nil
}

// Invalidate drops the cached token so the next Token call refreshes.
func (s *TokenSource) Invalidate() {
	s.sem <- struct{}{}
	s.token = nil
	<-s.sem
}

func (s *TokenSource) exchange(ctx context.Context) (*accessToken, error) {
	const op = "gigachat token"
	form := url.Values{"scope": {s.scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.E(domain.ErrAuth, op, "build request", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(s.clientID + ":" + s.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, domain.E(domain.ErrAuth, op, "token endpoint unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.E(domain.ErrAuth, op, "read response", err).WithStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.E(domain.ErrAuth, op, upstreamMessage(body), nil).WithStatus(resp.StatusCode)
	}

	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.E(domain.ErrAuth, op, "decode token response", err).WithStatus(resp.StatusCode)
	}
	expiresRaw, err := payload.ExpiresAt.Int64()
	if strings.TrimSpace(payload.AccessToken) == "" || err != nil || expiresRaw <= 0 {
		return nil, domain.E(domain.ErrAuth, op, "token response missing access_token or expires_at", err).WithStatus(resp.StatusCode)
	}
	return &accessToken{value: payload.AccessToken, expiresAt: normalizeExpiry(expiresRaw)}, nil
}

func normalizeExpiry(raw int64) time.Time {
	if raw > epochSecondsCeiling {
		return time.UnixMilli(raw)
	}
	return time.Unix(raw, 0)
}

// upstreamMessage prefers the JSON "message" field and falls back to the raw body.
func upstreamMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && strings.TrimSpace(envelope.Message) != "" {
		return strings.TrimSpace(envelope.Message)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
