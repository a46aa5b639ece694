package raster

import (
	"image"
	"image/color"

	"github.com/olivier-w/spectro/internal/params"
)

// Frame describes one completed Draw.
type Frame struct {
	Orientation params.Orientation
	Speed       int             // strip thickness actually painted
	Raster      *image.RGBA     // live raster, valid only during OnFrame
	Strip       image.Rectangle // the newly painted leading strip
	Colors      []color.RGBA    // per-bar colours, bar 0 first
}

// HistoryColumn returns the new strip laid out as a history column: Speed
// pixels wide, oldest pixel column first, bar 0 at the bottom. Horizontal
// strips are returned as a sub-image of the raster; vertical strips are
// presented transposed. The result aliases the raster.
func (f Frame) HistoryColumn() image.Image {
	if f.Orientation == params.Vertical {
		return transposed{src: f.Raster, strip: f.Strip}
	}
	return f.Raster.SubImage(f.Strip)
}

// transposed views a top-edge strip as a column. Output x runs from the
// oldest row to the newest and output y from the rightmost bar to bar 0.
type transposed struct {
	src   *image.RGBA
	strip image.Rectangle
}

func (t transposed) ColorModel() color.Model { return color.RGBAModel }

func (t transposed) Bounds() image.Rectangle {
	return image.Rect(0, 0, t.strip.Dy(), t.strip.Dx())
}

func (t transposed) At(x, y int) color.Color {
	return t.RGBAAt(x, y)
}

func (t transposed) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{X: x, Y: y}.In(t.Bounds())) {
		return color.RGBA{}
	}
	return t.src.RGBAAt(t.strip.Max.X-1-y, t.strip.Max.Y-1-x)
}
