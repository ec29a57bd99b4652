package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cardgen/internal/domain"
)

type jobResponse struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id,omitempty"`
	Prompt      string    `json:"prompt"`
	Style       string    `json:"style,omitempty"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Status      string    `json:"status"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobStatus handles GET /v1/jobs/{id}, reporting a recorded background
// generation. Only available when job history is persisted.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	if a.Jobs == nil {
		a.fail(w, r, domain.E(domain.ErrUnavailable, "job status", "job history is not enabled", nil))
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, jobResponse{
		ID:          job.RecordID,
		ExternalID:  job.ID,
		Prompt:      job.Prompt,
		Style:       job.Style,
		Width:       job.Width,
		Height:      job.Height,
		Status:      string(job.Status),
		ErrorDetail: job.ErrorDetail,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	})
}
