package audio

import (
	"fmt"
	"sync"

	"github.com/hraban/opus"
)

// maxOpusFrameSamples covers 120 ms at 48 kHz, the largest packet libopus emits.
const maxOpusFrameSamples = 5760

var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// legal Opus frame durations in tenths of a millisecond
var opusFrameTenthsMs = []int{25, 50, 100, 200, 400, 600}

// opusCodec keeps one encoder and decoder per sample rate. Opus is stateful,
// so a codec instance must belong to a single audio stream.
type opusCodec struct {
	mu  sync.Mutex
	enc map[int]*opus.Encoder
	dec map[int]*opus.Decoder
}

func newOpusCodec() *opusCodec {
	return &opusCodec{
		enc: map[int]*opus.Encoder{},
		dec: map[int]*opus.Decoder{},
	}
}

func (c *opusCodec) decode(packet []byte, rate int) ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dec, ok := c.dec[rate]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(rate, 1)
		if err != nil {
			return nil, fmt.Errorf("audio: opus decoder %d: %w", rate, err)
		}
		c.dec[rate] = dec
	}
	pcm := make([]int16, maxOpusFrameSamples)
	n, err := dec.Decode(packet, pcm)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return pcm[:n], nil
}

// encode emits exactly one packet. Input shorter than a legal frame duration
// is zero-padded up to the next one; input longer than 60 ms is rejected.
func (c *opusCodec) encode(pcm []int16, rate int) ([]byte, error) {
	size := -1
	for _, tenths := range opusFrameTenthsMs {
		n := rate * tenths / 10000
		if len(pcm) <= n {
			size = n
			break
		}
	}
	if size < 0 {
		return nil, fmt.Errorf("audio: %d samples exceed one opus packet at %d Hz", len(pcm), rate)
	}
	if len(pcm) < size {
		padded := make([]int16, size)
		copy(padded, pcm)
		pcm = padded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	enc, ok := c.enc[rate]
	if !ok {
		var err error
		enc, err = opus.NewEncoder(rate, 1, opus.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("audio: opus encoder %d: %w", rate, err)
		}
		c.enc[rate] = enc
	}
	buf := make([]byte, 4000)
	n, err := enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return buf[:n], nil
}
