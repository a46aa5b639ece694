package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegAvailable reports whether ffmpeg is on PATH.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// ffmpegStream runs ffmpeg and reads its stdout as 48 kHz stereo s16le.
type ffmpegStream struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stdout   io.ReadCloser
	stderr   *stderrTail
	length   int64
	waitDone chan struct{}
	waitErr  error

	closeOnce sync.Once
}

// outputArgs converts any input to the shared PCM format on stdout.
var outputArgs = []string{
	"-vn",
	"-ac", strconv.Itoa(Channels),
	"-ar", strconv.Itoa(SampleRate),
	"-f", "s16le",
	"-acodec", "pcm_s16le",
	"pipe:1",
}

func startFFmpeg(inputArgs []string, length int64) (*ffmpegStream, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, ErrFFmpegNotFound
	}

	args := append([]string{"-nostdin", "-hide_banner", "-loglevel", "error"}, inputArgs...)
	args = append(args, outputArgs...)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	cmd.Stdin = nil
	stderr := &stderrTail{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	s := &ffmpegStream{
		cmd:      cmd,
		cancel:   cancel,
		stdout:   stdout,
		stderr:   stderr,
		length:   length,
		waitDone: make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.waitDone)
	}()
	return s, nil
}

func (s *ffmpegStream) Read(p []byte) (int, error) { return s.stdout.Read(p) }
func (s *ffmpegStream) SampleRate() int             { return SampleRate }
func (s *ffmpegStream) ChannelCount() int           { return Channels }
func (s *ffmpegStream) Length() int64               { return s.length }

// exited returns a channel closed when the process ends.
func (s *ffmpegStream) exited() <-chan struct{} { return s.waitDone }

// exitError describes why the process ended, including its stderr tail.
func (s *ffmpegStream) exitError() error {
	<-s.waitDone
	msg := s.stderr.String()
	switch {
	case s.waitErr != nil && msg != "":
		return fmt.Errorf("%w: %s", s.waitErr, msg)
	case s.waitErr != nil:
		return s.waitErr
	case msg != "":
		return fmt.Errorf("ffmpeg: %s", msg)
	}
	return nil
}

// Close stops the process and waits for it.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.waitDone
	})
	return nil
}

// stderrTail keeps the last lines ffmpeg printed.
type stderrTail struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

const stderrLimit = 2048

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - stderrLimit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}

type ffprobeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeDuration asks ffprobe for the container duration. It returns 0 when
// ffprobe is missing or the duration is unknown.
func probeDuration(path string) time.Duration {
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	).Output()
	if err != nil {
		return 0
	}
	var res ffprobeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return 0
	}
	sec, err := strconv.ParseFloat(res.Format.Duration, 64)
	if err != nil || sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

// bytesFor converts a duration to a normalised PCM byte count.
func bytesFor(d time.Duration) int64 {
	return int64(d.Seconds()*SampleRate) * FrameSize
}

// durationOf converts a normalised PCM byte count to a duration.
func durationOf(n int64) time.Duration {
	return time.Duration(float64(n/FrameSize) / SampleRate * float64(time.Second))
}
