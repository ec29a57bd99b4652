package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"cardgen/internal/domain"
	"cardgen/internal/middleware"
	"cardgen/internal/providers/prompt"
)

type improvePromptRequest struct {
	Prompt string `json:"prompt"`
	Locale string `json:"locale,omitempty"`
}

type improvePromptResponse struct {
	ImprovedPrompt string `json:"improved_prompt"`
}

// ImprovePrompt handles POST /improve-prompt.
func (a *App) ImprovePrompt(w http.ResponseWriter, r *http.Request) {
	if a.Prompts == nil || !a.Prompts.Available() {
		a.fail(w, r, domain.E(domain.ErrUnavailable, "improve prompt", "prompt improvement is not configured", nil))
		return
	}
	var req improvePromptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", "invalid payload")
		return
	}
	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = middleware.LocaleFromContext(r.Context())
	}
	improved, err := a.Prompts.Improve(r.Context(), prompt.ImproveRequest{Prompt: req.Prompt, Locale: locale})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, improvePromptResponse{ImprovedPrompt: improved})
}
