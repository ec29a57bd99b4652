package compose

import (
	"image"
	"math"
)

// Autocontrast stretches each colour channel of img so that, after ignoring
// cutoffPercent of the darkest and lightest pixels, the remaining range maps
// onto 0..255. Alpha is left untouched. img is modified in place.
func Autocontrast(img *image.NRGBA, cutoffPercent float64) {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return
	}

	var hist [3][256]float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+4]
			hist[0][p[0]]++
			hist[1][p[1]]++
			hist[2][p[2]]++
		}
	}

	var luts [3][256]uint8
	for c := range hist {
		luts[c] = channelLUT(hist[c], math.Floor(float64(n)*cutoffPercent/100))
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+4]
			p[0] = luts[0][p[0]]
			p[1] = luts[1][p[1]]
			p[2] = luts[2][p[2]]
		}
	}
}

func channelLUT(h [256]float64, cut float64) [256]uint8 {
	// Trim cut pixels from the dark end, then from the light end.
	remaining := cut
	for lo := 0; lo < 256 && remaining > 0; lo++ {
		if remaining > h[lo] {
			remaining -= h[lo]
			h[lo] = 0
		} else {
			h[lo] -= remaining
			remaining = 0
		}
	}
	remaining = cut
	for hi := 255; hi >= 0 && remaining > 0; hi-- {
		if remaining > h[hi] {
			remaining -= h[hi]
			h[hi] = 0
		} else {
			h[hi] -= remaining
			remaining = 0
		}
	}

	lo, hi := 0, 255
	for lo < 256 && h[lo] == 0 {
		lo++
	}
	for hi >= 0 && h[hi] == 0 {
		hi--
	}

	var lut [256]uint8
	if hi <= lo {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}
	scale := 255.0 / float64(hi-lo)
	offset := -float64(lo) * scale
	for i := range lut {
		v := int(float64(i)*scale + offset)
		lut[i] = uint8(min(max(v, 0), 255))
	}
	return lut
}
