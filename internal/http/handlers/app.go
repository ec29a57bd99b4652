package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/providers/prompt"
)

// CardGenerator renders a card end to end.
type CardGenerator interface {
	GenerateCard(ctx context.Context, req domain.CardRequest) (*domain.CardResult, error)
}

// PromptImprover rewrites a user prompt for image generation.
type PromptImprover interface {
	Improve(ctx context.Context, req prompt.ImproveRequest) (string, error)
	Available() bool
}

// Pinger is satisfied by the database pool and the Redis counter.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Config  *infra.Config
	Cards   CardGenerator
	Prompts PromptImprover
	Jobs    domain.JobReader
	Checks  map[string]Pinger
	Logger  *infra.Logger
}

func NewApp(cfg *infra.Config, cards CardGenerator, prompts PromptImprover, logger *infra.Logger) *App {
	return &App{
		Config:  cfg,
		Cards:   cards,
		Prompts: prompts,
		Checks:  map[string]Pinger{},
		Logger:  infra.LoggerOrDiscard(logger),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{"error": message, "code": code})
}
