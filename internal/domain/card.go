package domain

import (
	"fmt"
	"math"
	"strings"
)

// BackgroundMode selects where the card background comes from.
type BackgroundMode string

const (
	ModeGenerate BackgroundMode = "generate"
	ModeUpload   BackgroundMode = "upload"
)

// ParseMode normalises a user-supplied mode string.
func ParseMode(raw string) (BackgroundMode, error) {
	switch BackgroundMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeGenerate:
		return ModeGenerate, nil
	case ModeUpload:
		return ModeUpload, nil
	default:
		return "", E(ErrValidation, "parse mode", fmt.Sprintf("unknown mode %q", raw), nil)
	}
}

// Placement positions the logo on the canvas. CenterX and CenterY are
// fractions of the canvas; Scale multiplies the base logo width (a quarter
// of the canvas width).
type Placement struct {
	CenterX float64
	CenterY float64
	Scale   float64
}

// DefaultPlacement centres the logo at half its base size.
func DefaultPlacement() Placement {
	return Placement{CenterX: 0.5, CenterY: 0.5, Scale: 0.5}
}

// Validate enforces placement bounds.
func (p Placement) Validate() error {
	if math.IsNaN(p.CenterX) || p.CenterX < 0 || p.CenterX > 1 {
		return E(ErrValidation, "placement", "logoX must be within [0, 1]", nil)
	}
	if math.IsNaN(p.CenterY) || p.CenterY < 0 || p.CenterY > 1 {
		return E(ErrValidation, "placement", "logoY must be within [0, 1]", nil)
	}
	if math.IsNaN(p.Scale) || math.IsInf(p.Scale, 0) || p.Scale <= 0 {
		return E(ErrValidation, "placement", "logoScale must be positive", nil)
	}
	return nil
}

// GenerationParams describes a background to be produced by the image service.
type GenerationParams struct {
	Prompt string
	Style  string
}

// CardRequest is the input of one card generation.
type CardRequest struct {
	Logo         []byte
	LogoFilename string
	Mode         BackgroundMode
	Generation   GenerationParams
	Background   []byte
	Placement    Placement
}

// Validate checks the request before any side effect happens.
func (r CardRequest) Validate() error {
	if len(r.Logo) == 0 {
		return E(ErrValidation, "validate", "logo file is required", nil)
	}
	switch r.Mode {
	case ModeGenerate:
		if strings.TrimSpace(r.Generation.Prompt) == "" {
			return E(ErrValidation, "validate", "prompt is required for generate mode", nil)
		}
	case ModeUpload:
		if len(r.Background) == 0 {
			return E(ErrValidation, "validate", "background file is required for upload mode", nil)
		}
	default:
		return E(ErrValidation, "validate", fmt.Sprintf("unknown mode %q", r.Mode), nil)
	}
	return r.Placement.Validate()
}

// CardResult is a composed card.
type CardResult struct {
	PNG    []byte
	Width  int
	Height int
	JobID  string
}

// CompositionRequest is the compositor input. It is consumed once.
type CompositionRequest struct {
	Background   []byte
	Logo         []byte
	Placement    Placement
	CanvasWidth  int
	CanvasHeight int
}

// SafetyVerdict is the outcome of one classifier call.
type SafetyVerdict struct {
	Unsafe bool
	Label  string
	Score  float64
}
