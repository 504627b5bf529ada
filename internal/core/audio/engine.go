package audio

import (
	"context"
	"fmt"
)

// Transcoder is the blocking conversion engine behind an Adapter.
type Transcoder interface {
	Supports(f Format) bool
	Transcode(ctx context.Context, data []byte, in, out Format) ([]byte, error)
}

// Engine is the in-process Transcoder: decode to PCM16, resample, encode.
// It holds Opus stream state, so create one per session.
type Engine struct {
	opus *opusCodec
}

func NewEngine() *Engine {
	return &Engine{opus: newOpusCodec()}
}

func (e *Engine) Supports(f Format) bool {
	if !f.Codec.Known() {
		return false
	}
	if f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return false
	}
	if f.Codec == CodecOpus {
		return opusRates[f.SampleRate]
	}
	return true
}

func (e *Engine) Transcode(ctx context.Context, data []byte, in, out Format) ([]byte, error) {
	if !e.Supports(in) || !e.Supports(out) {
		return nil, &UnsupportedCodecError{From: in, To: out}
	}
	pcm, err := e.decode(data, in)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.SampleRate != out.SampleRate {
		pcm = resampleLinear(pcm, in.SampleRate, out.SampleRate)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return e.encode(pcm, out)
}

func (e *Engine) decode(data []byte, f Format) ([]int16, error) {
	switch f.Codec {
	case CodecMulaw:
		return decodeMulaw(data), nil
	case CodecAlaw:
		return decodeAlaw(data), nil
	case CodecPCM16:
		return decodePCM16(data)
	case CodecOpus:
		if len(data) == 0 {
			return []int16{}, nil
		}
		return e.opus.decode(data, f.SampleRate)
	}
	return nil, fmt.Errorf("audio: no decoder for %s", f.Codec)
}

func (e *Engine) encode(pcm []int16, f Format) ([]byte, error) {
	switch f.Codec {
	case CodecMulaw:
		return encodeMulaw(pcm), nil
	case CodecAlaw:
		return encodeAlaw(pcm), nil
	case CodecPCM16:
		return encodePCM16(pcm), nil
	case CodecOpus:
		if len(pcm) == 0 {
			return []byte{}, nil
		}
		return e.opus.encode(pcm, f.SampleRate)
	}
	return nil, fmt.Errorf("audio: no encoder for %s", f.Codec)
}
