package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cardgen/internal/infra"
	"cardgen/internal/sqlinline"
)

// Provider names stored in integration_tokens.
const (
	ProviderGigaClientID     = "gigachat_client_id"
	ProviderGigaClientSecret = "gigachat_client_secret"
	ProviderFusionAPIKey     = "fusion_api_key"
	ProviderFusionSecretKey  = "fusion_secret_key"
	ProviderNSFWToken        = "nsfw_classifier_token"
)

// Providers lists every provider name accepted by Set.
var Providers = []string{
	ProviderGigaClientID,
	ProviderGigaClientSecret,
	ProviderFusionAPIKey,
	ProviderFusionSecretKey,
	ProviderNSFWToken,
}

// Store reads and writes upstream secrets kept in the database.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Get returns the stored token for provider, or "" when none is stored.
func (s *Store) Get(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: load %s: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// Set stores token for provider, replacing any previous value.
func (s *Store) Set(ctx context.Context, provider, token string) error {
	if !knownProvider(provider) {
		return fmt.Errorf("credentials: unknown provider %q", provider)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("credentials: %s token is required", provider)
	}
	raw, err := json.Marshal(map[string]any{"source": "cardctl"})
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw); err != nil {
		return fmt.Errorf("credentials: store %s: %w", provider, err)
	}
	return nil
}

// Fill replaces each empty *dst with the stored value for its provider.
// Values already set from the environment are left alone.
func (s *Store) Fill(ctx context.Context, targets map[string]*string) error {
	for provider, dst := range targets {
		if dst == nil || *dst != "" {
			continue
		}
		v, err := s.Get(ctx, provider)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

func knownProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}
