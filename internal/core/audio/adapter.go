package audio

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// NewLimiter bounds the number of transcodes in flight across all sessions.
func NewLimiter(n int) *semaphore.Weighted {
	if n <= 0 {
		n = 1
	}
	return semaphore.NewWeighted(int64(n))
}

// Observer is told about every engine call (not pass-throughs).
type Observer func(in, out Format, took time.Duration, err error)

type Option func(*Adapter)

func WithLimiter(l *semaphore.Weighted) Option {
	return func(a *Adapter) { a.limiter = l }
}

// WithTimeout caps one Convert call, including the wait for a limiter slot.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observe = o }
}

// Adapter is the codec boundary of a session. It never mutates its input.
type Adapter struct {
	engine  Transcoder
	limiter *semaphore.Weighted
	timeout time.Duration
	observe Observer
}

func NewAdapter(engine Transcoder, opts ...Option) *Adapter {
	a := &Adapter{engine: engine}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) IsConversionSupported(in, out Format) bool {
	return a.engine.Supports(in) && a.engine.Supports(out)
}

// Convert transcodes data from in to out. Identical formats return a copy
// without touching the engine.
func (a *Adapter) Convert(ctx context.Context, data []byte, in, out Format) ([]byte, error) {
	if !a.IsConversionSupported(in, out) {
		return nil, &UnsupportedCodecError{From: in, To: out}
	}
	if in == out {
		cp := make([]byte, len(data))
		copy(cp, data)
		return cp, nil
	}

	parent := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if a.limiter != nil {
		if err := a.limiter.Acquire(ctx, 1); err != nil {
			if parent.Err() == nil {
				return nil, ErrTranscodeBusy
			}
			return nil, err
		}
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		b, err := a.engine.Transcode(ctx, data, in, out)
		if a.limiter != nil {
			a.limiter.Release(1)
		}
		done <- result{b, err}
	}()

	select {
	case r := <-done:
		if a.observe != nil {
			a.observe(in, out, time.Since(start), r.err)
		}
		return r.data, r.err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
			err = ErrTranscodeBusy
		}
		if a.observe != nil {
			a.observe(in, out, time.Since(start), err)
		}
		return nil, err
	}
}

// ConvertFrame is Convert over a labelled frame; the result carries out.
func (a *Adapter) ConvertFrame(ctx context.Context, f Frame, out Format) (Frame, error) {
	b, err := a.Convert(ctx, f.Data, f.Format, out)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Format: out, Data: b}, nil
}

// Packet is one converted frame plus the number of input bytes it carries.
type Packet struct {
	Data   []byte
	Source int
}

// ConvertPackets converts data into frames out can carry one at a time.
// Opus output is split into OpusFrameMs pieces of input audio, since a
// single packet holds at most 60 ms; every other target yields one packet.
func (a *Adapter) ConvertPackets(ctx context.Context, data []byte, in, out Format) ([]Packet, error) {
	chunks := Chunks(data, in, out)
	pkts := make([]Packet, 0, len(chunks))
	for _, c := range chunks {
		b, err := a.Convert(ctx, c, in, out)
		if err != nil {
			return nil, err
		}
		pkts = append(pkts, Packet{Data: b, Source: len(c)})
	}
	return pkts, nil
}
