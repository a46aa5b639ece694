// Package analyzer turns interleaved s16le PCM into per-frame frequency bars.
package analyzer

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cwbudde/algo-vecmath"
)

// Bar is one frequency band of an analysis frame.
type Bar struct {
	Frequency float64 // band centre in Hz
	Magnitude float64 // 0.0–1.0
}

// Frame is one analysis result. Bars is freshly allocated per frame and is
// never written after delivery.
type Frame struct {
	Bars  []Bar
	Level float64 // input RMS mapped to 0.0–1.0
	At    time.Time
}

// Config controls the analysis pipeline.
type Config struct {
	SampleRate     int
	Channels       int
	FrameRate      int
	FFTSize        int
	Smoothing      float64
	BandsPerOctave int
	MinFreq        float64
	MaxFreq        float64
	MinDB          float64
	MaxDB          float64
}

// DefaultConfig returns 48 kHz stereo input analysed at 60 frames per second.
func DefaultConfig() Config {
	return Config{
		SampleRate:     48000,
		Channels:       2,
		FrameRate:      60,
		FFTSize:        8192,
		Smoothing:      0.5,
		BandsPerOctave: 12,
		MinFreq:        30,
		MaxFreq:        16000,
		MinDB:          -85,
		MaxDB:          -25,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	case c.Channels <= 0:
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	case c.FrameRate <= 0 || c.FrameRate > c.SampleRate:
		return fmt.Errorf("frame rate out of range: %d", c.FrameRate)
	case !isPowerOfTwo(c.FFTSize):
		return fmt.Errorf("fft size must be a power of two, got %d", c.FFTSize)
	case c.Smoothing < 0 || c.Smoothing >= 1:
		return fmt.Errorf("smoothing must be in [0, 1), got %v", c.Smoothing)
	case c.BandsPerOctave <= 0:
		return fmt.Errorf("bands per octave must be positive, got %d", c.BandsPerOctave)
	case c.MinFreq <= 0 || c.MaxFreq <= c.MinFreq:
		return fmt.Errorf("invalid frequency range [%v, %v]", c.MinFreq, c.MaxFreq)
	case c.MaxDB <= c.MinDB:
		return fmt.Errorf("invalid decibel range [%v, %v]", c.MinDB, c.MaxDB)
	}
	return nil
}

const levelFloorDB = -60.0

// Analyzer is an io.Writer that emits a Frame every SampleRate/FrameRate
// sample frames once a full window has been buffered.
type Analyzer struct {
	mu  sync.Mutex
	cfg Config

	ring   []float64 // mono history, len == FFTSize
	pos    int
	filled int
	hop    int
	since  int
	sumSq  float64
	carry  []byte
	window []float64

	re, im   []float64
	mag      []float64
	smoothed []float64
	bands    []band

	frames chan Frame
	now    func() time.Time
}

// New returns an analyzer for cfg.
func New(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{
		cfg:    cfg,
		hop:    cfg.SampleRate / cfg.FrameRate,
		frames: make(chan Frame, 1),
		now:    time.Now,
	}
	a.resize(cfg.FFTSize)
	return a, nil
}

// Frames delivers analysis results. The channel holds one frame; when the
// consumer lags the older frame is replaced.
func (a *Analyzer) Frames() <-chan Frame {
	return a.frames
}

// Config returns the current configuration.
func (a *Analyzer) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// SetFFTSize changes the analysis window. The most recent samples are kept.
func (a *Analyzer) SetFFTSize(n int) error {
	if !isPowerOfTwo(n) {
		return fmt.Errorf("fft size must be a power of two, got %d", n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if n == a.cfg.FFTSize {
		return nil
	}
	a.cfg.FFTSize = n
	a.resize(n)
	return nil
}

// SetSmoothing sets the per-bin time smoothing constant, clamped to [0, 0.99].
func (a *Analyzer) SetSmoothing(s float64) {
	if math.IsNaN(s) {
		return
	}
	s = math.Max(0, math.Min(s, 0.99))
	a.mu.Lock()
	a.cfg.Smoothing = s
	a.mu.Unlock()
}

// Write consumes interleaved little-endian int16 PCM. It never blocks on the
// frame consumer.
func (a *Analyzer) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	frameBytes := 2 * a.cfg.Channels
	buf := p
	if len(a.carry) > 0 {
		buf = append(a.carry, p...)
		a.carry = a.carry[:0]
	}
	whole := len(buf) - len(buf)%frameBytes
	scale := 1 / (32768.0 * float64(a.cfg.Channels))

	for off := 0; off < whole; off += frameBytes {
		var sum int32
		for ch := 0; ch < a.cfg.Channels; ch++ {
			sum += int32(int16(binary.LittleEndian.Uint16(buf[off+2*ch:])))
		}
		a.push(float64(sum) * scale)
	}
	if rest := buf[whole:]; len(rest) > 0 {
		a.carry = append(a.carry[:0], rest...)
	}
	return len(p), nil
}

func (a *Analyzer) push(v float64) {
	a.ring[a.pos] = v
	a.pos = (a.pos + 1) % len(a.ring)
	if a.filled < len(a.ring) {
		a.filled++
	}
	a.sumSq += v * v
	a.since++
	if a.since < a.hop {
		return
	}
	level := levelFromRMS(math.Sqrt(a.sumSq / float64(a.since)))
	a.since = 0
	a.sumSq = 0
	if a.filled < len(a.ring) {
		return
	}
	a.emit(Frame{Bars: a.analyze(), Level: level, At: a.now()})
}

func (a *Analyzer) emit(f Frame) {
	select {
	case a.frames <- f:
		return
	default:
	}
	select {
	case <-a.frames:
	default:
	}
	select {
	case a.frames <- f:
	default:
	}
}

func (a *Analyzer) analyze() []Bar {
	n := len(a.ring)
	copy(a.re, a.ring[a.pos:])
	copy(a.re[n-a.pos:], a.ring[:a.pos])
	clear(a.im)
	vecmath.MulBlockInPlace(a.re, a.window)

	fft(a.re, a.im)

	half := n/2 + 1
	vecmath.Magnitude(a.mag, a.re[:half], a.im[:half])

	s := a.cfg.Smoothing
	inv := 1 / float64(n)
	for k := range a.smoothed {
		a.smoothed[k] = s*a.smoothed[k] + (1-s)*a.mag[k]*inv
	}

	bars := make([]Bar, len(a.bands))
	for i, b := range a.bands {
		peak := 0.0
		for k := b.lo; k <= b.hi; k++ {
			if a.smoothed[k] > peak {
				peak = a.smoothed[k]
			}
		}
		bars[i] = Bar{Frequency: b.center, Magnitude: dbScale(peak, a.cfg.MinDB, a.cfg.MaxDB)}
	}
	return bars
}

// resize reallocates the window-sized buffers, keeping the newest samples.
func (a *Analyzer) resize(n int) {
	ring := make([]float64, n)
	kept := 0
	if a.ring != nil {
		kept = min(a.filled, n)
		old := len(a.ring)
		for i := 0; i < kept; i++ {
			src := (a.pos - kept + i + old) % old
			ring[i] = a.ring[src]
		}
	}
	a.ring = ring
	a.filled = kept
	a.pos = kept % n

	a.window = blackman(n)
	a.re = make([]float64, n)
	a.im = make([]float64, n)
	a.mag = make([]float64, n/2+1)
	a.smoothed = make([]float64, n/2+1)
	a.bands = octaveBands(a.cfg.BandsPerOctave, a.cfg.MinFreq, a.cfg.MaxFreq, n, a.cfg.SampleRate)
}

func levelFromRMS(rms float64) float64 {
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	return math.Max(0, math.Min(1, 1-db/levelFloorDB))
}
