package audio

import (
	"fmt"
	"strings"
)

type Codec string

const (
	CodecMulaw Codec = "MULAW"
	CodecAlaw  Codec = "ALAW"
	CodecPCM16 Codec = "PCM16"
	CodecOpus  Codec = "OPUS"
)

const (
	MinSampleRate = 8000
	MaxSampleRate = 48000
)

// ParseCodec accepts the enum names plus the aliases telephony vendors send
// ("ulaw", "g711_ulaw", "audio/x-mulaw", "linear16", ...).
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mulaw", "ulaw", "pcmu", "g711_ulaw", "audio/x-mulaw":
		return CodecMulaw, nil
	case "alaw", "pcma", "g711_alaw", "audio/x-alaw":
		return CodecAlaw, nil
	case "pcm16", "pcm", "linear16", "l16", "audio/x-l16", "audio/pcm":
		return CodecPCM16, nil
	case "opus", "audio/opus":
		return CodecOpus, nil
	}
	return "", fmt.Errorf("unknown codec %q", s)
}

func (c Codec) Known() bool {
	switch c {
	case CodecMulaw, CodecAlaw, CodecPCM16, CodecOpus:
		return true
	}
	return false
}

// Format is a codec plus its sample rate. All audio is mono.
type Format struct {
	Codec      Codec
	SampleRate int
}

func (f Format) String() string {
	return fmt.Sprintf("%s@%d", f.Codec, f.SampleRate)
}

// Frame is an immutable audio buffer labelled with the format its producer
// actually emitted. Conversions always return a new Frame.
type Frame struct {
	Format Format
	Data   []byte
}

// BytesPerMillisecond reports the byte rate for constant-rate codecs.
// OPUS is variable-rate and returns 0.
func (f Format) BytesPerMillisecond() float64 {
	switch f.Codec {
	case CodecMulaw, CodecAlaw:
		return float64(f.SampleRate) / 1000
	case CodecPCM16:
		return float64(f.SampleRate) * 2 / 1000
	}
	return 0
}

// Duration in milliseconds of n bytes in this format, 0 when unknown.
func (f Format) DurationMs(n int) int {
	bpm := f.BytesPerMillisecond()
	if bpm == 0 {
		return 0
	}
	return int(float64(n) / bpm)
}

// OpusFrameMs is the packet duration used when audio is cut for an Opus leg.
const OpusFrameMs = 20

// Chunks cuts data into pieces of OpusFrameMs when out is Opus and in is a
// constant-rate codec. Otherwise it returns data whole. Pieces never split
// a sample.
func Chunks(data []byte, in, out Format) [][]byte {
	if out.Codec != CodecOpus || in == out {
		return [][]byte{data}
	}
	width := 1
	switch in.Codec {
	case CodecMulaw, CodecAlaw:
	case CodecPCM16:
		width = 2
	default:
		return [][]byte{data}
	}
	size := in.SampleRate * OpusFrameMs / 1000 * width
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return append(chunks, data)
}
