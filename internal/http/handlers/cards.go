package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"cardgen/internal/domain"
)

const multipartMemory = 8 << 20

// GenerateCard handles POST /generate-card. The form carries a "logo" file,
// "mode", optional "logoX", "logoY" and "logoScale", plus "prompt"/"style"
// for generate mode or a "background" file for upload mode. The response is
// the PNG itself.
func (a *App) GenerateCard(w http.ResponseWriter, r *http.Request) {
	if a.Cards == nil {
		a.fail(w, r, domain.E(domain.ErrUnavailable, "generate card", "card generation is not configured", nil))
		return
	}
	limit := a.Config.MaxUploadBytes
	if limit > 0 {
		if r.ContentLength > limit {
			a.tooLarge(w)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			a.tooLarge(w)
			return
		}
		a.error(w, http.StatusBadRequest, "validation", "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := a.cardRequest(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	ctx := r.Context()
	if a.Config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.RequestTimeout)
		defer cancel()
	}
	res, err := a.Cards.GenerateCard(ctx, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.PNG)))
	w.Header().Set("Cache-Control", "no-store")
	if res.JobID != "" {
		w.Header().Set("X-Job-ID", res.JobID)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.PNG)
}

func (a *App) tooLarge(w http.ResponseWriter) {
	a.error(w, http.StatusRequestEntityTooLarge, "too_large",
		fmt.Sprintf("upload exceeds %d MB", max(a.Config.MaxUploadBytes>>20, 1)))
}

func (a *App) cardRequest(r *http.Request) (domain.CardRequest, error) {
	const op = "parse request"
	var req domain.CardRequest

	logo, name, err := a.formFile(r, "logo")
	if err != nil {
		return req, err
	}
	if logo == nil {
		return req, domain.E(domain.ErrValidation, op, "logo file is required", nil)
	}
	req.Logo, req.LogoFilename = logo, name

	req.Mode, err = domain.ParseMode(r.FormValue("mode"))
	if err != nil {
		return req, err
	}

	def := domain.DefaultPlacement()
	if req.Placement.CenterX, err = formFloat(r, "logoX", def.CenterX); err != nil {
		return req, err
	}
	if req.Placement.CenterY, err = formFloat(r, "logoY", def.CenterY); err != nil {
		return req, err
	}
	if req.Placement.Scale, err = formFloat(r, "logoScale", def.Scale); err != nil {
		return req, err
	}

	switch req.Mode {
	case domain.ModeGenerate:
		req.Generation = domain.GenerationParams{
			Prompt: strings.TrimSpace(r.FormValue("prompt")),
			Style:  strings.TrimSpace(r.FormValue("style")),
		}
	case domain.ModeUpload:
		bg, _, err := a.formFile(r, "background")
		if err != nil {
			return req, err
		}
		req.Background = bg
	}
	return req, nil
}

// formFile returns the named upload, or nil when the field is absent or empty.
func (a *App) formFile(r *http.Request, field string) ([]byte, string, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", domain.E(domain.ErrValidation, "parse request", "cannot read "+field+" file", err)
	}
	defer f.Close()
	if hdr.Filename == "" || hdr.Size == 0 {
		return nil, "", nil
	}
	if !a.allowedExtension(hdr) {
		return nil, "", domain.E(domain.ErrValidation, "parse request",
			fmt.Sprintf("%s must be one of: %s", field, strings.Join(a.Config.AllowedExtensions, ", ")), nil)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", domain.E(domain.ErrValidation, "parse request", "cannot read "+field+" file", err)
	}
	return data, hdr.Filename, nil
}

func (a *App) allowedExtension(hdr *multipart.FileHeader) bool {
	if len(a.Config.AllowedExtensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(hdr.Filename)), ".")
	return slices.Contains(a.Config.AllowedExtensions, ext)
}

func formFloat(r *http.Request, field string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, domain.E(domain.ErrValidation, "parse request", field+" must be a number", err)
	}
	return v, nil
}
