package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// DeviceConfig selects the capture input passed to ffmpeg.
type DeviceConfig struct {
	Format      string        // ffmpeg input format, e.g. "pulse", "alsa", "avfoundation"
	Name        string        // input device name
	OpenTimeout time.Duration // how long to wait for the first samples
}

const defaultOpenTimeout = 3 * time.Second

// platformInput returns the default ffmpeg input format and device for goos.
func platformInput(goos string) (format, name string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", ""
	}
	return "pulse", "default"
}

func deviceArgs(cfg DeviceConfig, goos string) ([]string, error) {
	format, name := platformInput(goos)
	if cfg.Format != "" {
		format = cfg.Format
		name = ""
	}
	if cfg.Name != "" {
		name = cfg.Name
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no device name for input format %q", ErrDeviceUnavailable, format)
	}
	if format == "dshow" && !strings.HasPrefix(name, "audio=") {
		name = "audio=" + name
	}
	return []string{
		"-f", format,
		"-sample_rate", strconv.Itoa(SampleRate),
		"-i", name,
	}, nil
}

// Device streams PCM from a capture device through ffmpeg.
type Device struct {
	stream *ffmpegStream
	first  []byte
	title  string
}

type firstRead struct {
	buf []byte
	err error
}

// OpenDevice starts capturing and waits for the first samples. A denied or
// missing device yields ErrDeviceUnavailable; a missing ffmpeg binary yields
// ErrFFmpegNotFound.
func OpenDevice(ctx context.Context, cfg DeviceConfig) (*Device, error) {
	args, err := deviceArgs(cfg, runtime.GOOS)
	if err != nil {
		return nil, err
	}
	stream, err := startFFmpeg(args, 0)
	if err != nil {
		if errors.Is(err, ErrFFmpegNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}

	got := make(chan firstRead, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := io.ReadAtLeast(stream, buf, FrameSize)
		got <- firstRead{buf: buf[:n], err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-got:
		if r.err != nil {
			stream.Close()
			cause := stream.exitError()
			if cause == nil {
				cause = r.err
			}
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, cause)
		}
		return &Device{stream: stream, first: r.buf, title: args[len(args)-1]}, nil
	case <-timer.C:
		stream.Close()
		<-got
		return nil, fmt.Errorf("%w: no audio within %s", ErrDeviceUnavailable, timeout)
	case <-ctx.Done():
		stream.Close()
		<-got
		return nil, ctx.Err()
	}
}

// Title names the device.
func (d *Device) Title() string { return d.title }

// Run copies captured PCM into w until ctx is cancelled or the device goes away.
func (d *Device) Run(ctx context.Context, w io.Writer) error {
	stop := context.AfterFunc(ctx, func() { d.stream.Close() })
	defer stop()

	if len(d.first) > 0 {
		if _, err := w.Write(d.first); err != nil {
			return err
		}
		d.first = nil
	}

	buf := make([]byte, 4096)
	for {
		n, err := d.stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if cause := d.stream.exitError(); cause != nil {
				return fmt.Errorf("%w: %v", ErrDeviceUnavailable, cause)
			}
			return fmt.Errorf("%w: capture ended", ErrDeviceUnavailable)
		}
	}
}

// Close stops the capture process.
func (d *Device) Close() error { return d.stream.Close() }
