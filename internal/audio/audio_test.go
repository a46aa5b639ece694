package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// stubDecoder serves fixed PCM in small chunks.
type stubDecoder struct {
	data     []byte
	rate     int
	channels int
	chunk    int
}

func (s *stubDecoder) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), len(s.data))
	if s.chunk > 0 {
		n = min(n, s.chunk)
	}
	copy(p, s.data[:n])
	s.data = s.data[n:]
	return n, nil
}

func (s *stubDecoder) SampleRate() int   { return s.rate }
func (s *stubDecoder) ChannelCount() int { return s.channels }
func (s *stubDecoder) Length() int64     { return int64(len(s.data)) }

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samples16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestNormalizerPassthrough(t *testing.T) {
	src := &stubDecoder{data: pcm16(1, 2, 3, 4), rate: SampleRate, channels: Channels}
	n, err := newNormalizer(src)
	if err != nil {
		t.Fatalf("newNormalizer: %v", err)
	}
	got, err := io.ReadAll(n)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, pcm16(1, 2, 3, 4)) {
		t.Fatalf("passthrough changed data: %v", samples16(got))
	}
}

func TestNormalizerUpsamplesMono(t *testing.T) {
	src := &stubDecoder{data: pcm16(0, 1000, 2000, 3000), rate: 24000, channels: 1, chunk: 3}
	n, err := newNormalizer(src)
	if err != nil {
		t.Fatalf("newNormalizer: %v", err)
	}
	if got := n.Length(); got != 8*FrameSize {
		t.Fatalf("Length = %d, want %d", got, 8*FrameSize)
	}
	got, err := io.ReadAll(n)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	s := samples16(got)
	if len(s) != 16 {
		t.Fatalf("got %d samples, want 16: %v", len(s), s)
	}
	want := []int16{0, 0, 500, 500, 1000, 1000, 1500, 1500, 2000, 2000, 2500, 2500, 3000, 3000, 3000, 3000}
	for i := range want {
		if s[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d (all %v)", i, s[i], want[i], s)
		}
	}
}

func TestNormalizerDropsExtraChannels(t *testing.T) {
	src := &stubDecoder{data: pcm16(1, 2, 3, 4, 5, 6), rate: 96000, channels: 3}
	n, err := newNormalizer(src)
	if err != nil {
		t.Fatalf("newNormalizer: %v", err)
	}
	got, _ := io.ReadAll(n)
	s := samples16(got)
	if len(s) != 2 || s[0] != 1 || s[1] != 2 {
		t.Fatalf("unexpected output %v", s)
	}
}

func TestNormalizerRejectsBadFormat(t *testing.T) {
	if _, err := newNormalizer(&stubDecoder{rate: 0, channels: 2}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := newNormalizer(&stubDecoder{rate: 44100, channels: 0}); err == nil {
		t.Fatal("expected error for zero channels")
	}
}

type failingDecoder struct{ stubDecoder }

func (f *failingDecoder) Read(p []byte) (int, error) {
	return 0, errors.New("corrupt frame")
}

func TestNormalizerSurfacesDecodeError(t *testing.T) {
	n, err := newNormalizer(&failingDecoder{stubDecoder{rate: 44100, channels: 2}})
	if err != nil {
		t.Fatalf("newNormalizer: %v", err)
	}
	if _, err := n.Read(make([]byte, 64)); err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func writeWAV(t *testing.T, path string, rate, channels int, samples []int16) {
	t.Helper()
	data := pcm16(samples...)
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(data)))
	b.WriteString("WAVEfmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(channels))
	binary.Write(&b, binary.LittleEndian, uint32(rate))
	binary.Write(&b, binary.LittleEndian, uint32(rate*channels*2))
	binary.Write(&b, binary.LittleEndian, uint16(channels*2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestWAVDecoderThroughNormalizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeWAV(t, path, SampleRate, 2, []int16{100, -100, 200, -200, 300, -300})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := newDecoder(f)
	if err != nil {
		t.Fatalf("newDecoder: %v", err)
	}
	if dec.SampleRate() != SampleRate || dec.ChannelCount() != 2 {
		t.Fatalf("format = %d Hz x %d", dec.SampleRate(), dec.ChannelCount())
	}
	n, err := newNormalizer(dec)
	if err != nil {
		t.Fatalf("newNormalizer: %v", err)
	}
	got, err := io.ReadAll(n)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if s := samples16(got); len(s) != 6 || s[4] != 300 || s[5] != -300 {
		t.Fatalf("decoded %v", s)
	}
}

func TestNewDecoderRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.xyz")
	os.WriteFile(path, []byte("nope"), 0o644)
	f, _ := os.Open(path)
	defer f.Close()
	if _, err := newDecoder(f); err == nil {
		t.Fatal("expected error for unknown extension")
	}
}

func TestDeviceArgs(t *testing.T) {
	args, err := deviceArgs(DeviceConfig{}, "linux")
	if err != nil {
		t.Fatalf("deviceArgs: %v", err)
	}
	if got := strings.Join(args, " "); got != "-f pulse -sample_rate 48000 -i default" {
		t.Fatalf("linux args = %q", got)
	}

	args, _ = deviceArgs(DeviceConfig{}, "darwin")
	if args[1] != "avfoundation" || args[len(args)-1] != ":0" {
		t.Fatalf("darwin args = %v", args)
	}

	args, err = deviceArgs(DeviceConfig{Name: "Microphone (USB)"}, "windows")
	if err != nil {
		t.Fatalf("deviceArgs: %v", err)
	}
	if args[len(args)-1] != "audio=Microphone (USB)" {
		t.Fatalf("windows device = %q", args[len(args)-1])
	}

	if _, err := deviceArgs(DeviceConfig{}, "windows"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable without a device name, got %v", err)
	}
	if _, err := deviceArgs(DeviceConfig{Format: "alsa"}, "linux"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable for alsa without name, got %v", err)
	}
	args, _ = deviceArgs(DeviceConfig{Format: "alsa", Name: "hw:1"}, "linux")
	if args[1] != "alsa" || args[len(args)-1] != "hw:1" {
		t.Fatalf("alsa args = %v", args)
	}
}

func TestReadMetadataFallsBackToFilename(t *testing.T) {
	m := ReadMetadata("/music/Some Song.flac")
	if m.Title != "Some Song" || m.String() != "Some Song" {
		t.Fatalf("metadata = %+v", m)
	}
	if got := (Metadata{Title: "T", Artist: "A"}).String(); got != "A - T" {
		t.Fatalf("String = %q", got)
	}
}

func TestDurationConversions(t *testing.T) {
	if got := bytesFor(2 * time.Second); got != 2*SampleRate*FrameSize {
		t.Fatalf("bytesFor(2s) = %d", got)
	}
	if got := durationOf(SampleRate * FrameSize / 2); got != 500*time.Millisecond {
		t.Fatalf("durationOf = %v", got)
	}
}
