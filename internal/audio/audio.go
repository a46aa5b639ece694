// Package audio produces live s16le PCM for the analyzer: from a capture
// device, from a file played to the speakers, or from a network stream.
package audio

import (
	"context"
	"errors"
	"io"
)

// All sources deliver 48 kHz interleaved stereo signed 16-bit little-endian.
const (
	SampleRate     = 48000
	Channels       = 2
	bytesPerSample = 2
	FrameSize      = Channels * bytesPerSample
)

var (
	// ErrFFmpegNotFound means the audio subsystem is unusable on this system.
	ErrFFmpegNotFound = errors.New("ffmpeg not found")
	// ErrDeviceUnavailable means the capture device was denied or is missing.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Source is a running PCM producer.
type Source interface {
	// Run copies PCM into w until the input ends or ctx is cancelled. A
	// finished file returns nil.
	Run(ctx context.Context, w io.Writer) error
	// Title describes the input for display.
	Title() string
	Close() error
}
