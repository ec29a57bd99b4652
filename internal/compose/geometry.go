package compose

import (
	"image"
	"math"
)

const (
	// logoBaseFraction is the logo width at scale 1, relative to the canvas width.
	logoBaseFraction = 0.25
	minLogoSide      = 5
	// maxLogoSide keeps the float to int conversion in range for any scale.
	maxLogoSide = 1 << 20
)

// LogoSize returns the target logo size for a source of srcW x srcH placed on
// a canvas canvasW wide. Fractions are truncated and both sides are floored
// at minLogoSide and capped at maxLogoSide.
func LogoSize(srcW, srcH, canvasW int, scale float64) (int, int) {
	w := int(math.Min(float64(canvasW)*logoBaseFraction*scale, maxLogoSide))
	h := 0
	if srcW > 0 {
		h = int(math.Min(float64(w)*(float64(srcH)/float64(srcW)), maxLogoSide))
	}
	return max(w, minLogoSide), max(h, minLogoSide)
}

// LogoOrigin returns the top-left paste position for a logo of logoW x logoH
// centred at the fractional point (centerX, centerY), clamped so the logo
// stays on the canvas. A logo larger than the canvas is pinned to 0.
func LogoOrigin(centerX, centerY float64, logoW, logoH, canvasW, canvasH int) image.Point {
	pxX := centerX * float64(canvasW)
	pxY := centerY * float64(canvasH)
	x := int(pxX - float64(logoW)/2)
	y := int(pxY - float64(logoH)/2)
	return image.Pt(clamp(x, canvasW-logoW), clamp(y, canvasH-logoH))
}

func clamp(v, hi int) int {
	if v > hi {
		v = hi
	}
	if v < 0 {
		v = 0
	}
	return v
}
