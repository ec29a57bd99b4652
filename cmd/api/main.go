package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cardgen/internal/bootstrap"
	"cardgen/internal/http/handlers"
	httpapi "cardgen/internal/http/httpapi"
	"cardgen/internal/infra"
	"cardgen/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Build(ctx, cfg, &logger, bootstrap.Options{Migrate: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn().Err(err).Msg("close services")
		}
	}()

	var cards handlers.CardGenerator
	if services.Orchestrator != nil {
		cards = services.Orchestrator
	}
	app := handlers.NewApp(cfg, cards, services.Improver, &logger)
	if services.Jobs != nil {
		app.Jobs = services.Jobs
	}
	if services.Pool != nil {
		app.Checks["database"] = services.Pool
	}

	opts := httpapi.Options{Logger: &logger}
	if services.Redis != nil {
		app.Checks["redis"] = services.Redis
		opts.Counter = services.Redis
	} else {
		opts.Counter = middleware.NewMemoryCounter()
	}
	if services.Geo != nil {
		opts.Country = services.Geo.CountryCode
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, opts))

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Bool("card_generation", cards != nil).
			Bool("generate_mode", services.Generator != nil).
			Bool("prompt_improvement", services.Improver.Available()).
			Str("result_store", cfg.ResultStore).
			Msg("API listening")
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
