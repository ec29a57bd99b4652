package compose

import (
	"fmt"
	"image"
	"os"
	"strings"

	"golang.org/x/image/draw"
)

// LoadOverlay reads the decorative card template at path and scales it to
// width x height once, so per-request composition only blends it. An empty
// path returns (nil, nil).
func LoadOverlay(path string, width, height int) (image.Image, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compose: read overlay: %w", err)
	}
	src, _, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("compose: decode overlay %s: %w", path, err)
	}
	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return toNRGBA(src), nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, nil
}
