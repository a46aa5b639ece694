package capture

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/olivier-w/spectro/internal/raster"
	"golang.org/x/image/draw"
)

// ErrEncoderUnavailable is returned by Start when no video encoder can be
// created on this system.
var ErrEncoderUnavailable = errors.New("video encoder unavailable")

const (
	frameQueue = 8
	audioQueue = 64
)

// Encoder consumes raw frames and PCM and writes a finished file on Close.
type Encoder interface {
	WriteFrame(img *image.RGBA) error
	WriteAudio(pcm []byte) error
	Close() error
}

// EncoderFactory creates an encoder for a stream.
type EncoderFactory func(opts StreamOptions) (Encoder, error)

// StreamOptions fixes the geometry and formats of a stream capture.
type StreamOptions struct {
	Width      int
	Height     int
	FrameRate  int
	SampleRate int
	Channels   int
	Path       string
}

func (o StreamOptions) validate() error {
	switch {
	case o.Width <= 0 || o.Height <= 0:
		return fmt.Errorf("invalid stream size %dx%d", o.Width, o.Height)
	case o.FrameRate <= 0:
		return fmt.Errorf("invalid frame rate %d", o.FrameRate)
	case o.Path == "":
		return errors.New("missing output path")
	}
	return nil
}

// StreamSession describes an active stream capture.
type StreamSession struct {
	StartedAt     time.Time
	Path          string
	Width         int
	Height        int
	Frames        int
	DroppedFrames int
	DroppedAudio  int
}

// StreamResult is delivered once the encoder has flushed.
type StreamResult struct {
	Path    string
	Err     error
	Session StreamSession
}

// StreamController records the visible raster and the live audio track.
// OnFrame is called from the drawing loop and Write from the audio goroutine;
// neither blocks on the encoder.
type StreamController struct {
	factory EncoderFactory
	logger  *slog.Logger
	now     func() time.Time

	mu  sync.Mutex
	rec *stream
}

type stream struct {
	enc     Encoder
	session StreamSession
	frames  chan *image.RGBA
	audio   chan []byte
	pool    sync.Pool
	wg      sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// NewStreamController returns an idle controller. A nil logger discards.
func NewStreamController(factory EncoderFactory, logger *slog.Logger) *StreamController {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StreamController{factory: factory, logger: logger, now: time.Now}
}

// Recording reports whether a stream capture is active.
func (c *StreamController) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec != nil
}

// Session returns the active session, if any.
func (c *StreamController) Session() (StreamSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec == nil {
		return StreamSession{}, false
	}
	return c.rec.session, true
}

// Start opens an encoder and begins accepting frames. Starting while already
// recording does nothing and returns nil.
func (c *StreamController) Start(opts StreamOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec != nil {
		return nil
	}
	if err := opts.validate(); err != nil {
		return fmt.Errorf("start stream capture: %w", err)
	}
	if c.factory == nil {
		return fmt.Errorf("start stream capture: %w", ErrEncoderUnavailable)
	}
	enc, err := c.factory(opts)
	if err != nil {
		return fmt.Errorf("start stream capture: %w", err)
	}

	s := &stream{
		enc: enc,
		session: StreamSession{
			StartedAt: c.now(),
			Path:      opts.Path,
			Width:     opts.Width,
			Height:    opts.Height,
		},
		frames: make(chan *image.RGBA, frameQueue),
		audio:  make(chan []byte, audioQueue),
	}
	rect := image.Rect(0, 0, opts.Width, opts.Height)
	s.pool.New = func() any { return image.NewRGBA(rect) }

	s.wg.Add(2)
	go s.writeFrames()
	go s.writeAudio()

	c.rec = s
	c.logger.Info("stream capture started", "path", opts.Path, "width", opts.Width, "height", opts.Height)
	return nil
}

// OnFrame copies the raster into the stream. When the encoder lags the frame
// is dropped.
func (c *StreamController) OnFrame(f raster.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.rec
	if s == nil || f.Raster == nil {
		return
	}

	buf := s.pool.Get().(*image.RGBA)
	if f.Raster.Rect.Size() == buf.Rect.Size() {
		copy(buf.Pix, f.Raster.Pix)
	} else {
		draw.NearestNeighbor.Scale(buf, buf.Rect, f.Raster, f.Raster.Rect, draw.Src, nil)
	}

	select {
	case s.frames <- buf:
		s.session.Frames++
	default:
		s.session.DroppedFrames++
		s.pool.Put(buf)
	}
}

// Write queues a copy of pcm for the audio track. It always reports success
// so it can sit in an io.MultiWriter next to the analyzer.
func (c *StreamController) Write(pcm []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.rec
	if s == nil || len(pcm) == 0 {
		return len(pcm), nil
	}
	chunk := append([]byte(nil), pcm...)
	select {
	case s.audio <- chunk:
	default:
		s.session.DroppedAudio++
	}
	return len(pcm), nil
}

// Stop ends the capture immediately and returns a channel that delivers the
// result once the encoder has finished. It returns nil when idle.
func (c *StreamController) Stop() <-chan StreamResult {
	c.mu.Lock()
	s := c.rec
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	c.rec = nil
	close(s.frames)
	close(s.audio)
	session := s.session
	c.mu.Unlock()

	out := make(chan StreamResult, 1)
	go func() {
		s.wg.Wait()
		err := errors.Join(s.firstErr(), s.enc.Close())
		if session.DroppedFrames > 0 || session.DroppedAudio > 0 {
			c.logger.Debug("stream capture dropped input",
				"frames", session.DroppedFrames, "audio_chunks", session.DroppedAudio)
		}
		if err != nil {
			c.logger.Error("stream capture failed", "path", session.Path, "error", err)
		} else {
			c.logger.Info("stream capture saved", "path", session.Path, "frames", session.Frames)
		}
		out <- StreamResult{Path: session.Path, Err: err, Session: session}
		close(out)
	}()
	return out
}

func (s *stream) writeFrames() {
	defer s.wg.Done()
	for img := range s.frames {
		if s.firstErr() == nil {
			if err := s.enc.WriteFrame(img); err != nil {
				s.setErr(fmt.Errorf("write video frame: %w", err))
			}
		}
		s.pool.Put(img)
	}
}

func (s *stream) writeAudio() {
	defer s.wg.Done()
	for pcm := range s.audio {
		if s.firstErr() != nil {
			continue
		}
		if err := s.enc.WriteAudio(pcm); err != nil {
			s.setErr(fmt.Errorf("write audio: %w", err))
		}
	}
}

func (s *stream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *stream) firstErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
