// Package raster maintains the scrolling spectrogram image.
//
// Each Draw paints one strip of bar colours at the leading edge and shifts the
// previous content away from it by the strip thickness. In horizontal mode the
// strip is a column at the right edge with bar 0 at the bottom and content
// moves left; in vertical mode it is a row at the top with bar 0 at the left
// and content moves down.
package raster

import (
	"image"
	"image/color"

	"github.com/olivier-w/spectro/internal/analyzer"
	"github.com/olivier-w/spectro/internal/colormap"
	"github.com/olivier-w/spectro/internal/params"
	"golang.org/x/image/draw"
)

// Background is the colour of an empty raster.
var Background = color.RGBA{A: 0xff}

// FrameSink receives every drawn frame. OnFrame runs on the drawing goroutine
// and must not retain the frame's raster or colour slice.
type FrameSink interface {
	OnFrame(Frame)
}

// Engine owns the raster. It is not safe for concurrent use; all calls are
// expected from a single event loop.
type Engine struct {
	params *params.Store
	mapper colormap.Mapper

	img     *image.RGBA
	scratch *image.RGBA
	colors  []color.RGBA

	reference []analyzer.Bar
	paused    bool
	sinks     []FrameSink
}

// New returns an engine with a w×h raster cleared to Background.
func New(p *params.Store, w, h int) *Engine {
	e := &Engine{params: p, mapper: colormap.NewMapper(p)}
	e.alloc(w, h)
	return e
}

// Attach registers a sink for drawn frames.
func (e *Engine) Attach(s FrameSink) {
	e.sinks = append(e.sinks, s)
}

// Image returns the live raster. Callers on other goroutines must use Snapshot.
func (e *Engine) Image() *image.RGBA { return e.img }

// Size returns the raster dimensions.
func (e *Engine) Size() (w, h int) {
	b := e.img.Bounds()
	return b.Dx(), b.Dy()
}

// Snapshot returns a copy of the raster.
func (e *Engine) Snapshot() *image.RGBA {
	out := image.NewRGBA(e.img.Bounds())
	copy(out.Pix, e.img.Pix)
	return out
}

// Reference returns the bar layout captured from the first frame, or from the
// first frame after the bar count changed. Nil before any frame.
func (e *Engine) Reference() []analyzer.Bar { return e.reference }

// Pause makes Draw skip frames until Resume.
func (e *Engine) Pause() { e.paused = true }

// Resume lets Draw paint again.
func (e *Engine) Resume() { e.paused = false }

// Paused reports whether drawing is suspended.
func (e *Engine) Paused() bool { return e.paused }

// TogglePause flips the pause flag and returns the new state.
func (e *Engine) TogglePause() bool {
	e.paused = !e.paused
	return e.paused
}

// Clear fills the raster with Background.
func (e *Engine) Clear() {
	fill(e.img, e.img.Bounds(), Background)
}

// Resize reallocates the raster for a new viewport. The content is discarded.
// Unchanged dimensions leave the raster untouched and return false.
func (e *Engine) Resize(w, h int) bool {
	w, h = max(w, 0), max(h, 0)
	if cw, ch := e.Size(); cw == w && ch == h {
		return false
	}
	e.alloc(w, h)
	return true
}

func (e *Engine) alloc(w, h int) {
	w, h = max(w, 0), max(h, 0)
	e.img = image.NewRGBA(image.Rect(0, 0, w, h))
	e.scratch = image.NewRGBA(image.Rect(0, 0, w, h))
	e.Clear()
}

// thickness is the strip size along the scroll axis, bounded by the raster.
func (e *Engine) thickness(o params.Orientation) int {
	w, h := e.Size()
	s := max(e.params.Int(params.Speed), 1)
	if o == params.Vertical {
		return min(s, h)
	}
	return min(s, w)
}

// SegmentBounds returns the exact-division span [lo, hi) of segment i when
// extent pixels are shared among n segments. Spans of consecutive segments
// abut and together cover [0, extent).
func SegmentBounds(i, n, extent int) (lo, hi int) {
	return i * extent / n, (i + 1) * extent / n
}

// StripRect returns the rectangle painted for bar i of n under the current
// orientation and speed.
func (e *Engine) StripRect(i, n int) image.Rectangle {
	o := e.params.Orientation()
	return stripRect(o, i, n, e.thickness(o), e.img.Bounds())
}

func stripRect(o params.Orientation, i, n, s int, b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if o == params.Vertical {
		lo, hi := SegmentBounds(i, n, w)
		return image.Rect(lo, 0, hi, s)
	}
	lo, hi := SegmentBounds(i, n, h)
	return image.Rect(w-s, h-hi, w, h-lo)
}

// leadingStrip is the full strip area for orientation o and thickness s.
func leadingStrip(o params.Orientation, s int, b image.Rectangle) image.Rectangle {
	if o == params.Vertical {
		return image.Rect(0, 0, b.Dx(), s)
	}
	return image.Rect(b.Dx()-s, 0, b.Dx(), b.Dy())
}

// Draw renders one frame of bars. It reports false and changes nothing when
// paused, when bars is empty or when the raster has no area.
func (e *Engine) Draw(bars []analyzer.Bar) bool {
	b := e.img.Bounds()
	if e.paused || len(bars) == 0 || b.Empty() {
		return false
	}

	o := e.params.Orientation()
	s := e.thickness(o)
	n := len(bars)

	if len(e.reference) != n {
		e.reference = append([]analyzer.Bar(nil), bars...)
	}

	copy(e.scratch.Pix, e.img.Pix)

	contrast := e.mapper.Contrast()
	if cap(e.colors) < n {
		e.colors = make([]color.RGBA, n)
	}
	e.colors = e.colors[:n]
	for i, bar := range bars {
		c := e.mapper.BarColor(contrast, bar.Frequency, bar.Magnitude)
		e.colors[i] = c
		fill(e.img, stripRect(o, i, n, s, b), c)
	}

	if o == params.Vertical {
		draw.Draw(e.img, image.Rect(0, s, b.Dx(), b.Dy()), e.scratch, image.Point{}, draw.Src)
	} else {
		draw.Draw(e.img, image.Rect(0, 0, b.Dx()-s, b.Dy()), e.scratch, image.Pt(s, 0), draw.Src)
	}

	f := Frame{
		Orientation: o,
		Speed:       s,
		Raster:      e.img,
		Strip:       leadingStrip(o, s, b),
		Colors:      e.colors,
	}
	for _, sink := range e.sinks {
		sink.OnFrame(f)
	}
	return true
}

func fill(dst draw.Image, r image.Rectangle, c color.RGBA) {
	draw.Draw(dst, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}
