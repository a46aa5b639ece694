package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// ffmpegEncoder pipes raw RGBA frames to ffmpeg on stdin and s16le audio on
// an inherited pipe (fd 3), producing an H.264/AAC MP4.
type ffmpegEncoder struct {
	cmd    *exec.Cmd
	video  io.WriteCloser
	audio  *os.File // nil when the platform cannot pass extra fds
	stderr *tailBuffer

	mu     sync.Mutex
	closed bool
}

// FFmpegAvailable reports whether an ffmpeg binary is on PATH.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// NewFFmpegEncoder is the default EncoderFactory.
func NewFFmpegEncoder(opts StreamOptions) (Encoder, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found", ErrEncoderUnavailable)
	}

	withAudio := runtime.GOOS != "windows" && opts.SampleRate > 0 && opts.Channels > 0

	cmd := exec.Command(ffmpeg, encoderArgs(opts, withAudio)...)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	video, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}

	var audioR, audioW *os.File
	if withAudio {
		audioR, audioW, err = os.Pipe()
		if err != nil {
			video.Close()
			return nil, fmt.Errorf("audio pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{audioR}
	}

	if err := cmd.Start(); err != nil {
		video.Close()
		if audioR != nil {
			audioR.Close()
			audioW.Close()
		}
		return nil, fmt.Errorf("%w: starting ffmpeg: %v", ErrEncoderUnavailable, err)
	}
	if audioR != nil {
		audioR.Close()
	}

	return &ffmpegEncoder{cmd: cmd, video: video, audio: audioW, stderr: stderr}, nil
}

func encoderArgs(opts StreamOptions, withAudio bool) []string {
	size := fmt.Sprintf("%dx%d", opts.Width, opts.Height)
	fps := strconv.Itoa(opts.FrameRate)

	args := []string{
		"-y", "-v", "error",
		"-use_wallclock_as_timestamps", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", size,
		"-i", "pipe:0",
	}
	if withAudio {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(opts.SampleRate),
			"-ac", strconv.Itoa(opts.Channels),
			"-i", "pipe:3",
		)
	}
	args = append(args,
		// yuv420p needs even dimensions.
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-fps_mode", "cfr",
		"-r", fps,
	)
	if withAudio {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-movflags", "+faststart", opts.Path)
	return args
}

func (e *ffmpegEncoder) WriteFrame(img *image.RGBA) error {
	if img.Stride != img.Rect.Dx()*4 {
		return errors.New("frame is not contiguous")
	}
	_, err := e.video.Write(img.Pix)
	return err
}

func (e *ffmpegEncoder) WriteAudio(pcm []byte) error {
	if e.audio == nil {
		return nil
	}
	_, err := e.audio.Write(pcm)
	return err
}

// Close ends both inputs and waits for ffmpeg to finalize the file.
func (e *ffmpegEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.video.Close()
	if e.audio != nil {
		e.audio.Close()
	}
	if err := e.cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(e.stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
