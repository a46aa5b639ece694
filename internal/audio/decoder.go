package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// pcmDecoder yields interleaved s16le PCM at the source rate and channel count.
type pcmDecoder interface {
	io.Reader
	SampleRate() int
	ChannelCount() int
	// Length is the total PCM size in bytes, or 0 when unknown.
	Length() int64
}

// newDecoder picks a decoder by file extension.
func newDecoder(f *os.File) (pcmDecoder, error) {
	ext := strings.ToLower(filepath.Ext(f.Name()))
	switch ext {
	case ".mp3":
		return newMP3Decoder(f)
	case ".wav":
		return newWAVDecoder(f)
	case ".flac":
		return newFLACDecoder(f)
	case ".ogg":
		return newOGGDecoder(f)
	}
	return nil, fmt.Errorf("unsupported format: %s", ext)
}

func clamp16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// pending holds converted bytes that did not fit the caller's buffer.
type pending struct {
	buf   []byte
	store []byte
}

func (p *pending) drain(dst []byte) int {
	n := copy(dst, p.buf)
	p.buf = p.buf[n:]
	return n
}

func (p *pending) deliver(dst, raw []byte) int {
	n := copy(dst, raw)
	if n < len(raw) {
		p.store = append(p.store[:0], raw[n:]...)
		p.buf = p.store
	}
	return n
}

// --- MP3 ---

type mp3Decoder struct {
	dec *mp3.Decoder
}

func newMP3Decoder(r io.Reader) (*mp3Decoder, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("decoding MP3: %w", err)
	}
	return &mp3Decoder{dec: dec}, nil
}

func (d *mp3Decoder) Read(p []byte) (int, error) { return d.dec.Read(p) }
func (d *mp3Decoder) SampleRate() int             { return d.dec.SampleRate() }
func (d *mp3Decoder) ChannelCount() int           { return 2 }
func (d *mp3Decoder) Length() int64               { return d.dec.Length() }

// --- WAV ---

type wavDecoder struct {
	src        io.Reader
	pending    pending
	scratch    []byte
	raw        []byte
	sampleRate int
	channels   int
	bitDepth   int
	length     int64
}

func newWAVDecoder(f *os.File) (*wavDecoder, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("reading WAV PCM data: %w", err)
	}

	bitDepth := int(dec.BitDepth)
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported WAV bit depth: %d", bitDepth)
	}
	channels := int(dec.NumChans)
	srcFrame := int64(channels * bitDepth / 8)
	if srcFrame == 0 {
		return nil, fmt.Errorf("invalid WAV channel count: %d", channels)
	}

	return &wavDecoder{
		src:        io.LimitReader(f, dec.PCMLen()),
		sampleRate: int(dec.SampleRate),
		channels:   channels,
		bitDepth:   bitDepth,
		length:     dec.PCMLen() / srcFrame * int64(channels) * 2,
	}, nil
}

func (d *wavDecoder) Read(p []byte) (int, error) {
	if len(d.pending.buf) > 0 {
		return d.pending.drain(p), nil
	}

	width := d.bitDepth / 8
	samples := max(len(p)/2, 1)
	if cap(d.scratch) < samples*width {
		d.scratch = make([]byte, samples*width)
	}
	src := d.scratch[:samples*width]
	n, err := io.ReadFull(d.src, src)
	count := n / width
	if count == 0 {
		if err == nil || err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}

	if cap(d.raw) < count*2 {
		d.raw = make([]byte, count*2)
	}
	raw := d.raw[:count*2]
	for i := 0; i < count; i++ {
		b := src[i*width:]
		var v int
		switch d.bitDepth {
		case 8:
			v = (int(b[0]) - 128) << 8
		case 16:
			v = int(int16(binary.LittleEndian.Uint16(b)))
		case 24:
			s := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if s&0x800000 != 0 {
				s |= ^0xFFFFFF
			}
			v = int(s >> 8)
		case 32:
			v = int(int32(binary.LittleEndian.Uint32(b)) >> 16)
		}
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(clamp16(v)))
	}

	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return d.pending.deliver(p, raw), err
}

func (d *wavDecoder) SampleRate() int   { return d.sampleRate }
func (d *wavDecoder) ChannelCount() int { return d.channels }
func (d *wavDecoder) Length() int64     { return d.length }

// --- FLAC ---

type flacDecoder struct {
	stream     *flac.Stream
	pending    pending
	raw        []byte
	sampleRate int
	channels   int
	bps        int
	length     int64
}

func newFLACDecoder(r io.Reader) (*flacDecoder, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("decoding FLAC: %w", err)
	}
	info := stream.Info
	channels := int(info.NChannels)
	return &flacDecoder{
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   channels,
		bps:        int(info.BitsPerSample),
		length:     int64(info.NSamples) * int64(channels) * 2,
	}, nil
}

func (d *flacDecoder) Read(p []byte) (int, error) {
	if len(d.pending.buf) > 0 {
		return d.pending.drain(p), nil
	}

	frame, err := d.stream.ParseNext()
	if err != nil {
		return 0, err
	}

	n := int(frame.Subframes[0].NSamples)
	if cap(d.raw) < n*d.channels*2 {
		d.raw = make([]byte, n*d.channels*2)
	}
	raw := d.raw[:n*d.channels*2]
	for i := 0; i < n; i++ {
		for ch := 0; ch < d.channels; ch++ {
			v := int(frame.Subframes[ch].Samples[i])
			if d.bps > 16 {
				v >>= d.bps - 16
			} else if d.bps < 16 {
				v <<= 16 - d.bps
			}
			binary.LittleEndian.PutUint16(raw[(i*d.channels+ch)*2:], uint16(clamp16(v)))
		}
	}
	return d.pending.deliver(p, raw), nil
}

func (d *flacDecoder) SampleRate() int   { return d.sampleRate }
func (d *flacDecoder) ChannelCount() int { return d.channels }
func (d *flacDecoder) Length() int64     { return d.length }

// --- OGG Vorbis ---

type oggDecoder struct {
	reader  *oggvorbis.Reader
	pending pending
	samples []float32
	raw     []byte
}

func newOGGDecoder(r io.Reader) (*oggDecoder, error) {
	reader, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("decoding OGG: %w", err)
	}
	return &oggDecoder{reader: reader}, nil
}

func (d *oggDecoder) Read(p []byte) (int, error) {
	if len(d.pending.buf) > 0 {
		return d.pending.drain(p), nil
	}

	want := max(len(p)/2, d.reader.Channels())
	if cap(d.samples) < want {
		d.samples = make([]float32, want)
	}
	n, err := d.reader.Read(d.samples[:want])
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	if cap(d.raw) < n*2 {
		d.raw = make([]byte, n*2)
	}
	raw := d.raw[:n*2]
	for i, s := range d.samples[:n] {
		s = max(-1, min(1, s))
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(int16(s*32767)))
	}
	if err == io.EOF {
		err = nil
	}
	return d.pending.deliver(p, raw), err
}

func (d *oggDecoder) SampleRate() int   { return d.reader.SampleRate() }
func (d *oggDecoder) ChannelCount() int { return d.reader.Channels() }
func (d *oggDecoder) Length() int64 {
	return d.reader.Length() * int64(d.reader.Channels()) * 2
}
