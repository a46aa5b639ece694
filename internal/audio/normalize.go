package audio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// normalizer converts a decoder's output to 48 kHz stereo with linear
// interpolation. Mono is duplicated; channels beyond the first two are dropped.
type normalizer struct {
	src         pcmDecoder
	rate        int
	channels    int
	passthrough bool

	frames   []int16 // buffered source frames as L,R pairs
	base     int64   // absolute index of frames[0:2]
	outFrame int64
	eof      bool
	srcErr   error
	empty    int

	in      []byte
	carry   []byte
	out     []byte
	pending pending
}

func newNormalizer(src pcmDecoder) (*normalizer, error) {
	rate, ch := src.SampleRate(), src.ChannelCount()
	if rate <= 0 {
		return nil, fmt.Errorf("unsupported sample rate: %d", rate)
	}
	if ch < 1 {
		return nil, fmt.Errorf("unsupported channel count: %d", ch)
	}
	return &normalizer{
		src:         src,
		rate:        rate,
		channels:    ch,
		passthrough: rate == SampleRate && ch == Channels,
	}, nil
}

// Length is the normalised PCM size in bytes, or 0 when unknown.
func (n *normalizer) Length() int64 {
	srcFrames := n.src.Length() / int64(n.channels*bytesPerSample)
	return srcFrames * SampleRate / int64(n.rate) * FrameSize
}

func (n *normalizer) Read(p []byte) (int, error) {
	if n.passthrough {
		return n.src.Read(p)
	}
	if len(n.pending.buf) > 0 {
		return n.pending.drain(p), nil
	}

	want := max(len(p)/FrameSize, 1)
	if cap(n.out) < want*FrameSize {
		n.out = make([]byte, want*FrameSize)
	}
	out := n.out[:0]

	for len(out) < want*FrameSize {
		pos := n.outFrame * int64(n.rate)
		i0 := pos / SampleRate
		frac := pos % SampleRate

		if !n.fill(i0 + 1) && !n.has(i0) {
			break
		}
		l0, r0 := n.frame(i0)
		l1, r1 := l0, r0
		if n.has(i0 + 1) {
			l1, r1 = n.frame(i0 + 1)
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(lerp(l0, l1, frac)))
		out = binary.LittleEndian.AppendUint16(out, uint16(lerp(r0, r1, frac)))
		n.outFrame++
		n.compact(i0)
	}

	if len(out) == 0 {
		if n.srcErr != nil {
			return 0, n.srcErr
		}
		return 0, io.EOF
	}
	return n.pending.deliver(p, out), nil
}

func (n *normalizer) has(i int64) bool {
	return i >= n.base && i < n.base+int64(len(n.frames)/2)
}

func (n *normalizer) frame(i int64) (int16, int16) {
	off := int(i-n.base) * 2
	return n.frames[off], n.frames[off+1]
}

// fill reads until frame i is buffered. It reports false at end of input.
func (n *normalizer) fill(i int64) bool {
	for !n.has(i) {
		if n.eof {
			return false
		}
		n.readMore()
	}
	return true
}

// compact drops frames before i.
func (n *normalizer) compact(i int64) {
	drop := int(i - n.base)
	if drop < 4096 {
		return
	}
	copy(n.frames, n.frames[drop*2:])
	n.frames = n.frames[:len(n.frames)-drop*2]
	n.base = i
}

func (n *normalizer) readMore() {
	const chunkFrames = 2048
	srcFrame := n.channels * bytesPerSample
	if cap(n.in) < chunkFrames*srcFrame {
		n.in = make([]byte, chunkFrames*srcFrame)
	}
	buf := append(n.in[:0], n.carry...)
	read, err := n.src.Read(n.in[len(buf) : chunkFrames*srcFrame])
	buf = n.in[:len(buf)+read]
	if err != nil {
		n.eof = true
		if err != io.EOF {
			n.srcErr = err
		}
	} else if read == 0 {
		n.empty++
		if n.empty > 100 {
			n.eof = true
			n.srcErr = io.ErrNoProgress
		}
		return
	}
	n.empty = 0

	whole := len(buf) / srcFrame
	for f := 0; f < whole; f++ {
		off := f * srcFrame
		l := int16(binary.LittleEndian.Uint16(buf[off:]))
		r := l
		if n.channels > 1 {
			r = int16(binary.LittleEndian.Uint16(buf[off+2:]))
		}
		n.frames = append(n.frames, l, r)
	}
	n.carry = append(n.carry[:0], buf[whole*srcFrame:]...)
}

func lerp(a, b int16, frac int64) int16 {
	if frac == 0 || a == b {
		return a
	}
	diff := int64(b) - int64(a)
	return int16(int64(a) + (diff*frac+SampleRate/2)/SampleRate)
}
