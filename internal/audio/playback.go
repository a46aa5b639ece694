package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/olivier-w/spectro/internal/media"
)

var (
	otoOnce    sync.Once
	otoCtx     *oto.Context
	otoInitErr error
)

// initOto creates the process-wide output context. oto allows only one.
func initOto() (*oto.Context, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoInitErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   SampleRate,
			ChannelCount: Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		})
		if otoInitErr == nil {
			<-ready
		}
	})
	return otoCtx, otoInitErr
}

// countingReader tracks bytes handed to the output device.
type countingReader struct {
	r   io.Reader
	mu  sync.Mutex
	pos int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.mu.Lock()
	c.pos += int64(n)
	c.mu.Unlock()
	return n, err
}

func (c *countingReader) Pos() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Playback plays decoded audio through the speakers and feeds the same PCM to
// the analysis writer, so analysis runs at playback speed.
type Playback struct {
	pcm    io.Reader
	closer io.Closer
	title  string
	length int64
	volume float64

	mu      sync.Mutex
	counter *countingReader
}

// OpenFile decodes path natively when possible and through ffmpeg otherwise.
func OpenFile(path string) (*Playback, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if !media.IsSupportedExt(ext) || media.NeedsFFmpeg(ext) {
		length := bytesFor(probeDuration(path))
		stream, err := startFFmpeg([]string{"-i", path}, length)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		return &Playback{pcm: stream, closer: stream, title: ReadMetadata(path).String(), length: length, volume: 1}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := newDecoder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	norm, err := newNormalizer(dec)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Playback{pcm: norm, closer: f, title: ReadMetadata(path).String(), length: norm.Length(), volume: 1}, nil
}

// OpenURL plays a network stream decoded by ffmpeg, reconnecting on drops.
func OpenURL(url string) (*Playback, error) {
	stream, err := startFFmpeg([]string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", url,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", url, err)
	}
	return &Playback{pcm: stream, closer: stream, title: url, volume: 1}, nil
}

// SetVolume sets the output gain in [0, 1] before Run.
func (p *Playback) SetVolume(v float64) {
	p.volume = max(0, min(1, v))
}

// Title describes the input.
func (p *Playback) Title() string { return p.title }

// Duration is the total length, or 0 for live streams.
func (p *Playback) Duration() time.Duration { return durationOf(p.length) }

// Position is the amount of audio handed to the device so far.
func (p *Playback) Position() time.Duration {
	p.mu.Lock()
	c := p.counter
	p.mu.Unlock()
	if c == nil {
		return 0
	}
	return durationOf(c.Pos())
}

// Run plays to the end or until ctx is cancelled. Every byte played is also
// written to w.
func (p *Playback) Run(ctx context.Context, w io.Writer) error {
	octx, err := initOto()
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}

	counter := &countingReader{r: io.TeeReader(p.pcm, w)}
	p.mu.Lock()
	p.counter = counter
	p.mu.Unlock()

	player := octx.NewPlayer(counter)
	defer player.Close()
	player.SetVolume(p.volume)
	player.Play()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			player.Pause()
			return nil
		case <-tick.C:
			if !player.IsPlaying() {
				if err := player.Err(); err != nil && err != io.EOF {
					return err
				}
				return nil
			}
		}
	}
}

// Close releases the decoder.
func (p *Playback) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// InitOutput opens the speaker output. Call it before the UI starts so a
// missing output device is reported up front.
func InitOutput() error {
	_, err := initOto()
	return err
}
