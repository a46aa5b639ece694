// Package capture records the spectrogram while it scrolls: Recorder keeps
// every strip since Start as one wide still image, StreamController encodes
// the visible raster and live audio to a video file.
package capture

import (
	"image"
	"time"

	"github.com/olivier-w/spectro/internal/raster"
	"golang.org/x/image/draw"
)

const initialColumns = 256

// Session describes an active still capture.
type Session struct {
	StartedAt        time.Time
	AccumulatedWidth int
}

// Capture is the result of a finished still capture.
type Capture struct {
	Image     *image.RGBA
	Session   Session
	StoppedAt time.Time
}

// Recorder accumulates history columns into an image whose width grows by
// one column per frame and whose height is fixed at Start.
//
// Recorder is driven from the same event loop as raster.Engine and is not
// safe for concurrent use.
type Recorder struct {
	buf       *image.RGBA // capacity: buf.Rect.Dx() >= width
	width     int
	height    int
	session   Session
	recording bool
	scaled    *image.RGBA
	now       func() time.Time
}

// NewRecorder returns an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Recording reports whether a capture is active.
func (r *Recorder) Recording() bool { return r.recording }

// Session returns the active session, if any.
func (r *Recorder) Session() (Session, bool) {
	if !r.recording {
		return Session{}, false
	}
	s := r.session
	s.AccumulatedWidth = r.width
	return s, true
}

// Start begins a capture with an initial blank column of width speed. It
// returns false without side effects when a capture is already running or
// the dimensions are empty.
func (r *Recorder) Start(speed, height int) bool {
	if r.recording || speed < 1 || height < 1 {
		return false
	}
	r.buf = image.NewRGBA(image.Rect(0, 0, max(initialColumns, speed), height))
	r.width = speed
	r.height = height
	draw.Draw(r.buf, image.Rect(0, 0, speed, height), &image.Uniform{C: raster.Background}, image.Point{}, draw.Src)
	r.session = Session{StartedAt: r.now(), AccumulatedWidth: speed}
	r.recording = true
	return true
}

// OnFrame appends the frame's leading strip. It is a no-op while idle.
func (r *Recorder) OnFrame(f raster.Frame) {
	if !r.recording {
		return
	}
	r.Append(f.HistoryColumn())
}

// Append copies column to the right edge of the capture. Columns taller or
// shorter than the capture height are rescaled to it.
func (r *Recorder) Append(column image.Image) {
	if !r.recording {
		return
	}
	cb := column.Bounds()
	w := cb.Dx()
	if w <= 0 || cb.Dy() <= 0 {
		return
	}
	if cb.Dy() != r.height {
		column = r.rescale(column, w)
		cb = column.Bounds()
	}

	r.grow(r.width + w)
	draw.Draw(r.buf, image.Rect(r.width, 0, r.width+w, r.height), column, cb.Min, draw.Src)
	r.width += w
}

func (r *Recorder) rescale(column image.Image, w int) image.Image {
	if r.scaled == nil || r.scaled.Rect.Dx() != w || r.scaled.Rect.Dy() != r.height {
		r.scaled = image.NewRGBA(image.Rect(0, 0, w, r.height))
	}
	draw.NearestNeighbor.Scale(r.scaled, r.scaled.Rect, column, column.Bounds(), draw.Src, nil)
	return r.scaled
}

// grow doubles the backing width until it holds need columns.
func (r *Recorder) grow(need int) {
	capW := r.buf.Rect.Dx()
	if need <= capW {
		return
	}
	for capW < need {
		capW *= 2
	}
	next := image.NewRGBA(image.Rect(0, 0, capW, r.height))
	copyColumns(next, r.buf, r.width, r.height)
	r.buf = next
}

// Stop ends the capture and returns an image of exactly the accumulated
// size. It returns false when no capture is active.
func (r *Recorder) Stop() (Capture, bool) {
	if !r.recording {
		return Capture{}, false
	}
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	copyColumns(img, r.buf, r.width, r.height)

	c := Capture{Image: img, Session: r.session, StoppedAt: r.now()}
	c.Session.AccumulatedWidth = r.width

	r.buf = nil
	r.scaled = nil
	r.width, r.height = 0, 0
	r.recording = false
	return c, true
}

// copyColumns copies the leftmost w columns of every row from src to dst.
func copyColumns(dst, src *image.RGBA, w, h int) {
	n := w * 4
	for y := 0; y < h; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+n], src.Pix[y*src.Stride:y*src.Stride+n])
	}
}
