// Package display draws an RGBA raster into terminal cells.
package display

import (
	"image"
)

// Renderer converts an image into a terminal string. In colour modes each
// cell is an upper half block "▀" with the foreground as the top pixel and
// the background as the bottom pixel, so a cell covers two pixel rows. In
// ASCII mode each cell is one pixel mapped to a brightness character.
type Renderer struct {
	mode Mode
	buf  []byte
}

// NewRenderer returns a renderer for mode.
func NewRenderer(mode Mode) *Renderer {
	return &Renderer{mode: mode}
}

// Mode returns the colour mode.
func (r *Renderer) Mode() Mode { return r.mode }

// PixelRows is the number of pixel rows each terminal row covers.
func (r *Renderer) PixelRows() int {
	if r.mode == ModeASCII {
		return 1
	}
	return 2
}

// RasterSize returns the raster dimensions that map 1:1 onto cols×rows cells.
func (r *Renderer) RasterSize(cols, rows int) (w, h int) {
	return max(cols, 0), max(rows, 0) * r.PixelRows()
}

// Render samples img onto cols×rows cells with nearest-neighbour lookup.
func (r *Renderer) Render(img *image.RGBA, cols, rows int) string {
	if img == nil || img.Rect.Empty() || cols <= 0 || rows <= 0 {
		return ""
	}
	r.buf = r.buf[:0]
	if r.mode == ModeASCII {
		r.renderASCII(img, cols, rows)
	} else {
		r.renderHalfBlock(img, cols, rows)
	}
	return string(r.buf)
}

func (r *Renderer) renderHalfBlock(img *image.RGBA, cols, rows int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	pixelRows := rows * 2

	for row := 0; row < rows; row++ {
		topY := row * 2 * h / pixelRows
		botY := (row*2 + 1) * h / pixelRows
		var lastFg, lastBg [3]uint8
		fresh := true

		for col := 0; col < cols; col++ {
			x := col * w / cols
			fg := pixel(img, x, topY)
			bg := pixel(img, x, botY)
			if fresh || fg != lastFg {
				r.buf = appendColor(r.buf, r.mode, false, fg[0], fg[1], fg[2])
				lastFg = fg
			}
			if fresh || bg != lastBg {
				r.buf = appendColor(r.buf, r.mode, true, bg[0], bg[1], bg[2])
				lastBg = bg
			}
			fresh = false
			r.buf = append(r.buf, "▀"...)
		}

		r.buf = append(r.buf, ansiReset...)
		if row < rows-1 {
			r.buf = append(r.buf, '\n')
		}
	}
}

func (r *Renderer) renderASCII(img *image.RGBA, cols, rows int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for row := 0; row < rows; row++ {
		y := row * h / rows
		for col := 0; col < cols; col++ {
			p := pixel(img, col*w/cols, y)
			r.buf = append(r.buf, brightnessChar(luminance(p[0], p[1], p[2])))
		}
		if row < rows-1 {
			r.buf = append(r.buf, '\n')
		}
	}
}

// pixel reads the RGB triplet at (x, y) relative to the image origin.
func pixel(img *image.RGBA, x, y int) [3]uint8 {
	off := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	if off < 0 || off+2 >= len(img.Pix) {
		return [3]uint8{}
	}
	return [3]uint8{img.Pix[off], img.Pix[off+1], img.Pix[off+2]}
}
