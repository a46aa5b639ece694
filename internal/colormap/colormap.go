// Package colormap maps a frequency and a magnitude to a strip colour.
//
// Pitch sets the hue: every semitone away from A4 (440 Hz) turns the hue by
// 30 degrees, so one octave sweeps the full wheel. Magnitude passes through a
// logistic contrast curve and drives saturation and lightness together.
package colormap

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/olivier-w/spectro/internal/params"
)

const (
	referenceHz    = 440.0
	degPerSemitone = 30.0
	lightnessScale = 0.75
)

// Pitch returns the semitone offset of freq from A4.
func Pitch(freq float64) float64 {
	return 12 * math.Log2(freq/referenceHz)
}

// Hue returns the unwrapped hue in degrees for freq. Hue(440) is 0 and
// Hue(880) is 360. Non-positive frequencies have no pitch and map to 0.
func Hue(freq float64) float64 {
	if freq <= 0 || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return 0
	}
	return Pitch(freq) * degPerSemitone
}

// Contrast is the logistic curve applied to magnitudes.
type Contrast struct {
	Midpoint  float64
	Steepness float64
}

// Intensity maps a magnitude to 0.0–1.0. Intensity(Midpoint) is 0.5.
func (c Contrast) Intensity(magnitude float64) float64 {
	return 1 / (1 + math.Exp(-c.Steepness*(magnitude-c.Midpoint)))
}

// Color returns HSL(hue(freq), intensity, 0.75*intensity) as opaque RGBA.
func Color(freq, intensity float64) color.RGBA {
	h := math.Mod(Hue(freq), 360)
	if h < 0 {
		h += 360
	}
	i := clamp01(intensity)
	r, g, b := colorful.Hsl(h, i, i*lightnessScale).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Mapper reads the contrast parameters from a store.
type Mapper struct {
	params *params.Store
}

// NewMapper returns a mapper bound to p.
func NewMapper(p *params.Store) Mapper {
	return Mapper{params: p}
}

// Contrast snapshots the current midpoint and steepness. Callers read it once
// per frame so every bar of a strip uses the same curve.
func (m Mapper) Contrast() Contrast {
	if m.params == nil {
		return Contrast{Midpoint: 0.5, Steepness: 10}
	}
	return Contrast{
		Midpoint:  m.params.Get(params.Midpoint),
		Steepness: m.params.Get(params.Steepness),
	}
}

// BarColor colours one bar with contrast c.
func (m Mapper) BarColor(c Contrast, freq, magnitude float64) color.RGBA {
	return Color(freq, c.Intensity(magnitude))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
