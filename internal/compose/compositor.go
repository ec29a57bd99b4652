// Package compose places a logo onto a card background and renders the PNG.
package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// AutocontrastCutoff is the percentage of extreme pixels ignored per channel.
const AutocontrastCutoff = 0.5

// Options configures a Compositor.
type Options struct {
	Width        int
	Height       int
	Autocontrast bool
	// Overlay, when set, is drawn over the finished card. It must already
	// match the canvas size (see LoadOverlay).
	Overlay image.Image
	Logger  *infra.Logger
}

// Compositor renders cards. It holds no per-request state and is safe for
// concurrent use.
type Compositor struct {
	width        int
	height       int
	autocontrast bool
	overlay      image.Image
	logger       *infra.Logger
	encoder      png.Encoder
}

func New(opts Options) (*Compositor, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("compose: invalid canvas %dx%d", opts.Width, opts.Height)
	}
	if opts.Overlay != nil {
		b := opts.Overlay.Bounds()
		if b.Dx() != opts.Width || b.Dy() != opts.Height {
			return nil, fmt.Errorf("compose: overlay is %dx%d, canvas is %dx%d", b.Dx(), b.Dy(), opts.Width, opts.Height)
		}
	}
	return &Compositor{
		width:        opts.Width,
		height:       opts.Height,
		autocontrast: opts.Autocontrast,
		overlay:      opts.Overlay,
		logger:       infra.LoggerOrDiscard(opts.Logger),
		encoder:      png.Encoder{CompressionLevel: png.DefaultCompression},
	}, nil
}

// Size returns the canvas dimensions.
func (c *Compositor) Size() (int, int) {
	return c.width, c.height
}

// Compose renders req into a PNG. Zero canvas dimensions in req fall back to
// the compositor's own. Nothing partial is ever returned.
func (c *Compositor) Compose(req domain.CompositionRequest) ([]byte, error) {
	const op = "compose"
	if err := req.Placement.Validate(); err != nil {
		return nil, err
	}
	cw, ch := req.CanvasWidth, req.CanvasHeight
	if cw <= 0 || ch <= 0 {
		cw, ch = c.width, c.height
	}

	bgSrc, _, err := decodeImage(req.Background)
	if err != nil {
		return nil, domain.E(domain.ErrComposition, op, "background cannot be decoded", err)
	}
	logoSrc, _, err := decodeImage(req.Logo)
	if err != nil {
		return nil, domain.E(domain.ErrComposition, op, "logo cannot be decoded", err)
	}
	if !hasAlpha(logoSrc) {
		return nil, domain.E(domain.ErrComposition, op, "logo has no alpha channel", nil)
	}

	canvas := c.background(bgSrc, cw, ch)

	lb := logoSrc.Bounds()
	lw, lh := LogoSize(lb.Dx(), lb.Dy(), cw, req.Placement.Scale)
	origin := LogoOrigin(req.Placement.CenterX, req.Placement.CenterY, lw, lh, cw, ch)
	drawLogo(canvas, logoSrc, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(lw, lh))})

	if c.overlay != nil && cw == c.width && ch == c.height {
		draw.Draw(canvas, canvas.Bounds(), c.overlay, c.overlay.Bounds().Min, draw.Over)
	}

	var buf bytes.Buffer
	if err := c.encoder.Encode(&buf, canvas); err != nil {
		return nil, domain.E(domain.ErrComposition, op, "encode png", err)
	}
	c.logger.Debug().
		Int("logo_w", lw).Int("logo_h", lh).
		Int("x", origin.X).Int("y", origin.Y).
		Int("bytes", buf.Len()).
		Msg("card composed")
	return buf.Bytes(), nil
}

// drawLogo resamples src into dr on canvas. A logo that fits is scaled into
// its own buffer first; an oversized one is transformed straight onto the
// canvas so only visible pixels are computed.
func drawLogo(canvas *image.NRGBA, src image.Image, dr image.Rectangle) {
	sr := src.Bounds()
	if dr.In(canvas.Bounds()) {
		logo := image.NewRGBA(image.Rect(0, 0, dr.Dx(), dr.Dy()))
		draw.CatmullRom.Scale(logo, logo.Bounds(), src, sr, draw.Src, nil)
		draw.Draw(canvas, dr, logo, image.Point{}, draw.Over)
		return
	}
	sx := float64(dr.Dx()) / float64(sr.Dx())
	sy := float64(dr.Dy()) / float64(sr.Dy())
	s2d := f64.Aff3{
		sx, 0, float64(dr.Min.X) - float64(sr.Min.X)*sx,
		0, sy, float64(dr.Min.Y) - float64(sr.Min.Y)*sy,
	}
	draw.CatmullRom.Transform(canvas, s2d, src, sr, draw.Over, nil)
}

// background returns an NRGBA canvas of cw x ch holding src. Autocontrast,
// when enabled, is applied at the source resolution before resampling.
func (c *Compositor) background(src image.Image, cw, ch int) *image.NRGBA {
	full := toNRGBA(src)
	if c.autocontrast {
		Autocontrast(full, AutocontrastCutoff)
	}
	b := full.Bounds()
	if b.Dx() == cw && b.Dy() == ch {
		return full
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, cw, ch))
	draw.CatmullRom.Scale(canvas, canvas.Bounds(), full, b, draw.Src, nil)
	return canvas
}
