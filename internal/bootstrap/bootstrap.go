// Package bootstrap builds the service graph shared by cmd/api and cmd/cardctl
// from a loaded configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cardgen/internal/adapter/repo"
	"cardgen/internal/compose"
	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/infra/credentials"
	"cardgen/internal/infra/geoip"
	"cardgen/internal/middleware"
	"cardgen/internal/pipeline"
	"cardgen/internal/providers/fusionbrain"
	"cardgen/internal/providers/gigachat"
	"cardgen/internal/providers/prompt"
	"cardgen/internal/providers/rembg"
	"cardgen/internal/providers/safety"
	"cardgen/internal/storage"
)

// Services holds every long-lived collaborator. Optional pieces are nil when
// their configuration is absent.
type Services struct {
	Pool         *pgxpool.Pool
	Jobs         *repo.JobRepositoryPG
	Credentials  *credentials.Store
	Redis        *middleware.RedisCounter
	Geo          geoip.CountryResolver
	Compositor   *compose.Compositor
	Improver     *prompt.Improver
	Generator    *fusionbrain.Client
	Gate         *safety.Gate
	Remover      *rembg.Client
	Archive      domain.ResultArchive
	Orchestrator *pipeline.Orchestrator

	closers []func() error
}

// Options narrows what Build sets up. cardctl skips the network-facing
// middleware stores.
type Options struct {
	Migrate     bool
	SkipRedis   bool
	SkipGeoIP   bool
	HTTPTimeout time.Duration
}

// Build wires everything cfg enables. Missing optional dependencies are
// logged; broken configuration of an enabled dependency is an error.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger, opts Options) (*Services, error) {
	logger = infra.LoggerOrDiscard(logger)
	s := &Services{}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	if err := s.database(ctx, cfg, logger, opts.Migrate); err != nil {
		return nil, err
	}
	if !opts.SkipRedis && cfg.RedisURL != "" {
		counter, err := middleware.NewRedisCounter(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: redis: %w", err)
		}
		s.Redis = counter
		s.closers = append(s.closers, counter.Close)
	}
	if !opts.SkipGeoIP && cfg.GeoIPDBPath != "" {
		geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
		if err != nil {
			return nil, err
		}
		s.Geo = geo
		if closer, isCloser := geo.(interface{ Close() error }); isCloser {
			s.closers = append(s.closers, closer.Close)
		}
	}

	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	if err := s.chat(cfg, logger, timeout); err != nil {
		return nil, err
	}
	if err := s.images(cfg, logger, timeout); err != nil {
		return nil, err
	}

	overlay, err := compose.LoadOverlay(cfg.CardTemplatePath, cfg.TargetWidth, cfg.TargetHeight)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: card template: %w", err)
	}
	s.Compositor, err = compose.New(compose.Options{
		Width:        cfg.TargetWidth,
		Height:       cfg.TargetHeight,
		Autocontrast: cfg.BGAutocontrast,
		Overlay:      overlay,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	s.Archive, err = storage.FromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if s.Gate != nil && s.Remover != nil {
		deps := pipeline.Deps{
			Safety:       s.Gate,
			Remover:      s.Remover,
			Compositor:   s.Compositor,
			Archive:      s.Archive,
			UploadFolder: cfg.UploadFolder,
			Logger:       logger,
		}
		if s.Generator != nil {
			deps.Generator = s.Generator
		}
		if s.Jobs != nil {
			deps.Recorder = s.Jobs
		}
		s.Orchestrator, err = pipeline.New(deps)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn().
			Bool("classifier", s.Gate != nil).
			Bool("rembg", s.Remover != nil).
			Msg("card generation disabled: NSFW_CLASSIFIER_URL and REMBG_URL are both required")
	}

	ok = true
	return s, nil
}

func (s *Services) database(ctx context.Context, cfg *infra.Config, logger *infra.Logger, migrate bool) error {
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("DATABASE_URL not set, job history disabled")
		return nil
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	s.Pool = pool
	s.closers = append(s.closers, func() error { pool.Close(); return nil })
	if migrate {
		if err := infra.Migrate(ctx, pool); err != nil {
			return err
		}
	}
	runner := infra.NewSQLRunner(pool, *logger)
	s.Jobs = repo.NewJobRepository(runner)
	s.Credentials = credentials.NewStore(runner)

	// Secrets missing from the environment may live in integration_tokens.
	return s.Credentials.Fill(ctx, map[string]*string{
		credentials.ProviderGigaClientID:     &cfg.GigaClientID,
		credentials.ProviderGigaClientSecret: &cfg.GigaClientSecret,
		credentials.ProviderFusionAPIKey:     &cfg.FusionAPIKey,
		credentials.ProviderFusionSecretKey:  &cfg.FusionSecretKey,
		credentials.ProviderNSFWToken:        &cfg.NSFWClassifierToken,
	})
}

func (s *Services) chat(cfg *infra.Config, logger *infra.Logger, timeout time.Duration) error {
	var completer prompt.Completer
	if cfg.GigaConfigured() {
		httpClient := gigachat.NewHTTPClient(cfg.GigaVerifySSL, timeout)
		tokens, err := gigachat.NewTokenSource(gigachat.TokenOptions{
			ClientID:     cfg.GigaClientID,
			ClientSecret: cfg.GigaClientSecret,
			Scope:        cfg.GigaScope,
			AuthURL:      cfg.GigaAuthURL,
			HTTPClient:   httpClient,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		client, err := gigachat.NewClient(gigachat.Options{
			BaseURL:    cfg.GigaAPIBaseURL,
			Model:      cfg.GigaModel,
			Tokens:     tokens,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		completer = client
	} else {
		logger.Warn().Msg("GigaChat credentials missing, prompt improvement disabled")
	}
	s.Improver = prompt.NewImprover(prompt.Options{
		Completer:    completer,
		SystemPrompt: cfg.PromptSystem,
		Model:        cfg.GigaModel,
		Logger:       logger,
	})
	return nil
}

func (s *Services) images(cfg *infra.Config, logger *infra.Logger, timeout time.Duration) error {
	httpClient := &http.Client{Timeout: timeout}

	if cfg.FusionConfigured() {
		client, err := fusionbrain.NewClient(fusionbrain.Options{
			BaseURL:      cfg.FusionAPIURL,
			APIKey:       cfg.FusionAPIKey,
			SecretKey:    cfg.FusionSecretKey,
			PollAttempts: cfg.FusionPollAttempts,
			PollDelay:    cfg.FusionPollDelay,
			HTTPClient:   httpClient,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		s.Generator = client
	} else {
		logger.Warn().Msg("FusionBrain credentials missing, generate mode disabled")
	}

	if cfg.NSFWClassifierURL != "" {
		classifier, err := safety.NewHTTPClassifier(safety.HTTPOptions{
			URL:        cfg.NSFWClassifierURL,
			Token:      cfg.NSFWClassifierToken,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		s.Gate = safety.NewGate(classifier, cfg.NSFWUnsafeLabel, logger)
	}

	if cfg.RembgURL != "" {
		remover, err := rembg.NewClient(rembg.Options{BaseURL: cfg.RembgURL, HTTPClient: httpClient, Logger: logger})
		if err != nil {
			return err
		}
		s.Remover = remover
	}
	return nil
}

// Close releases pools and readers in reverse order of creation.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
