package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/steveyiyo/voice-relay/internal/core/audio"
	"github.com/steveyiyo/voice-relay/internal/core/provider"
	"github.com/steveyiyo/voice-relay/internal/core/switcher"
	"github.com/steveyiyo/voice-relay/internal/metrics"
	"github.com/steveyiyo/voice-relay/internal/repo/memory"
	"github.com/steveyiyo/voice-relay/pkg/ws"
)

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateInterrupting
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateInterrupting:
		return "interrupting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

const (
	teardownTimeout     = 2 * time.Second
	syntheticItemPrefix = "turn_"
)

// inbound is one unit of caller input: audio in the negotiated input format
// or a text message.
type inbound struct {
	audio []byte
	text  string
}

// outbound is one telephony event; audio is in the provider output format
// until the writer converts it.
type outbound struct {
	ev     Event
	audio  []byte
	itemID string
	// items whose bookkeeping the writer releases once ev is sent
	forget []string
}

// Session relays one call between the telephony leg and one provider.
type Session struct {
	id       string
	start    StartFrame
	provider provider.Provider
	log      zerolog.Logger
	m        *Manager

	adapter provider.Adapter
	client  switcher.WssClient
	leg     Leg
	codec   *audio.Adapter

	state     atomic.Int32
	createdAt time.Time
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	in  chan inbound
	out chan outbound

	// gate orders provider sends: audio appends share it, an interrupt
	// holds it exclusively so no caller audio slips in ahead of it.
	gate sync.RWMutex

	mu          sync.Mutex
	currentItem string
	speaking    bool
	played      map[string]int
	cancelled   map[string]bool
	turnItems   []string
	// synthetic item ids for vendors that do not label audio
	turnSeq int

	framesIn      atomic.Int64
	framesOut     atomic.Int64
	framesDropped atomic.Int64
	interruptions atomic.Int64
	turns         atomic.Int64
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) end(r EndReason, err error) { s.cancel(endErr(r, err)) }

// Snapshot reports the session's live counters.
func (s *Session) Snapshot() memory.Record {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()
	return memory.Record{
		ID:            s.id,
		Provider:      string(s.provider),
		CreatedAt:     s.createdAt,
		StartedAt:     startedAt,
		State:         s.State().String(),
		InputFormat:   s.start.In.String(),
		OutputFormat:  s.start.Out.String(),
		FramesIn:      s.framesIn.Load(),
		FramesOut:     s.framesOut.Load(),
		FramesDropped: s.framesDropped.Load(),
		Interruptions: s.interruptions.Load(),
		Turns:         s.turns.Load(),
	}
}

// run drives the session until it ends and returns why it ended.
func (s *Session) run() EndReason {
	if err := s.setup(); err != nil {
		s.cancel(err)
		return s.teardown()
	}

	g, gctx := errgroup.WithContext(s.ctx)
	supervise := func(f func(context.Context) error) {
		g.Go(func() error {
			err := f(gctx)
			if err != nil {
				s.cancel(err)
			}
			return err
		})
	}
	supervise(s.readTelephony)
	supervise(s.inboundPump)
	supervise(s.providerPump)
	supervise(s.outboundWriter)
	g.Go(func() error {
		<-gctx.Done()
		// Closing both sockets unblocks the reader and the provider pump.
		s.closeLegs(context.Cause(s.ctx))
		return nil
	})
	_ = g.Wait()
	return s.teardown()
}

func (s *Session) setup() error {
	s.setState(StateConnecting)
	reg := s.m.registry

	adapter, err := reg.ProviderAdapter(s.provider)
	if err != nil {
		return endErr(ReasonProviderNotRegistered, err)
	}
	s.adapter = adapter
	if !s.codec.IsConversionSupported(s.start.In, adapter.InputFormat()) {
		return endErr(ReasonUnsupportedCodec, &audio.UnsupportedCodecError{From: s.start.In, To: adapter.InputFormat()})
	}
	if !s.codec.IsConversionSupported(adapter.OutputFormat(), s.start.Out) {
		return endErr(ReasonUnsupportedCodec, &audio.UnsupportedCodecError{From: adapter.OutputFormat(), To: s.start.Out})
	}

	ep, err := reg.Endpoint(s.provider)
	if err != nil {
		return endErr(ReasonProviderNotRegistered, err)
	}
	client, err := reg.WssClient(s.provider)
	if err != nil {
		return endErr(ReasonProviderNotRegistered, err)
	}
	s.client = client

	cctx, cancel := context.WithTimeout(s.ctx, s.m.opts.ConnectTimeout)
	defer cancel()
	if err := client.Connect(cctx, ep.URL, ep.Header); err != nil {
		return endErr(ReasonProviderConnectionError, err)
	}

	opts := s.start.Assistant
	if opts.Model == "" {
		opts.Model = ep.Model
	}
	payload, err := adapter.InitialSessionPayload(opts, s.id)
	if err != nil {
		return endErr(ReasonCriticalProviderError, err)
	}
	if err := client.Send(cctx, payload); err != nil {
		return endErr(ReasonProviderConnectionError, err)
	}

	id := s.id
	if err := s.m.timers.StartTimer(id, s.m.opts.InactivityTimeout, func(string) {
		s.log.Info().Dur("timeout", s.m.opts.InactivityTimeout).Msg("inactivity timeout")
		s.end(ReasonInactivityTimeout, nil)
	}); err != nil {
		return endErr(ReasonStopped, err)
	}

	startedAt := time.Now()
	s.mu.Lock()
	s.startedAt = startedAt
	s.mu.Unlock()
	s.setState(StateActive)
	s.m.repo.Update(id, func(r *memory.Record) {
		r.Provider = string(s.provider)
		r.StartedAt = startedAt
		r.State = StateActive.String()
		r.InputFormat = s.start.In.String()
		r.OutputFormat = s.start.Out.String()
	})
	s.log.Info().
		Str("input", s.start.In.String()).
		Str("output", s.start.Out.String()).
		Str("provider_input", adapter.InputFormat().String()).
		Msg("session active")
	return nil
}

// readTelephony is the single reader of the telephony leg.
func (s *Session) readTelephony(ctx context.Context) error {
	for {
		mt, data, err := s.leg.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return endErr(ReasonTelephonyClosed, err)
		}
		s.m.timers.ResetTimer(s.id)

		switch mt {
		case websocket.BinaryMessage:
			s.enqueueIn(inbound{audio: data})
		case websocket.TextMessage:
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				s.log.Debug().Err(err).Msg("telephony: malformed frame dropped")
				continue
			}
			switch f.Type {
			case "media":
				b, err := base64.StdEncoding.DecodeString(f.Audio)
				if err != nil || len(b) == 0 {
					s.drop(metrics.Inbound, "malformed")
					continue
				}
				s.enqueueIn(inbound{audio: b})
			case "text":
				if f.Text != "" {
					s.enqueueIn(inbound{text: f.Text})
				}
			case "stop":
				return endErr(ReasonTelephonyStopped, nil)
			case "start":
				s.emit(ctx, Event{Type: EventClientError, Code: "already_started", Message: "session already started"})
			default:
				s.log.Debug().Str("type", f.Type).Msg("telephony: unknown frame type")
			}
		}
	}
}

func (s *Session) enqueueIn(in inbound) {
	select {
	case s.in <- in:
	default:
		s.drop(metrics.Inbound, "backlog")
	}
}

func (s *Session) drop(direction, reason string) {
	s.framesDropped.Add(1)
	s.m.metrics.Dropped(direction, reason)
}

// inboundPump converts caller audio to the provider's input format and
// appends it to the provider's buffer.
func (s *Session) inboundPump(ctx context.Context) error {
	target := s.adapter.InputFormat()
	for {
		var in inbound
		select {
		case <-ctx.Done():
			return nil
		case in = <-s.in:
		}

		if in.text != "" {
			msgs, err := s.adapter.TextUserMessage(in.text, s.id)
			if err != nil {
				s.log.Warn().Err(err).Msg("text message rejected")
				continue
			}
			for _, msg := range msgs {
				if err := s.sendProvider(ctx, msg); err != nil {
					return err
				}
			}
			continue
		}

		pcm, err := s.codec.Convert(ctx, in.audio, s.start.In, target)
		if err != nil {
			switch {
			case audio.IsUnsupported(err):
				return endErr(ReasonUnsupportedCodec, err)
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, audio.ErrTranscodeBusy):
				s.drop(metrics.Inbound, "transcode_busy")
			default:
				s.log.Debug().Err(err).Msg("inbound frame dropped")
				s.drop(metrics.Inbound, "transcode")
			}
			continue
		}
		msg, err := s.adapter.AudioAppendMessage(pcm)
		if err != nil {
			s.drop(metrics.Inbound, "encode")
			continue
		}
		if err := s.sendProvider(ctx, msg); err != nil {
			return err
		}
		s.framesIn.Add(1)
		s.m.metrics.Audio(string(s.provider), metrics.Inbound, len(pcm))
		s.m.timers.ResetTimer(s.id)
	}
}

func (s *Session) sendProvider(ctx context.Context, msg []byte) error {
	s.gate.RLock()
	err := s.client.Send(ctx, msg)
	s.gate.RUnlock()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return endErr(ReasonProviderConnectionError, err)
	}
	return nil
}

// providerPump parses every provider message and routes it.
func (s *Session) providerPump(ctx context.Context) error {
	msgs := s.client.Messages()
	for {
		var raw []byte
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case raw, ok = <-msgs:
		}
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			err := s.client.Err()
			if err == nil || ws.IsNormalClose(err) {
				return endErr(ReasonProviderClosed, err)
			}
			return endErr(ReasonProviderConnectionError, err)
		}
		s.m.timers.ResetTimer(s.id)

		ev := s.adapter.ParseMessage(raw)
		s.m.metrics.ProviderEvent(string(s.provider), ev.Type.String())
		if err := s.dispatch(ctx, ev); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(ctx context.Context, ev provider.ParsedEvent) error {
	switch ev.Type {
	case provider.EventSessionInitialized:
		s.log.Debug().Str("provider_session", ev.State).Msg("provider session initialized")

	case provider.EventSpeechDetected:
		if err := s.bargeIn(ctx); err != nil {
			return err
		}
		s.emit(ctx, Event{Type: EventSpeechDetected})

	case provider.EventSpeechEnded:
		s.log.Trace().Msg("caller speech ended")

	case provider.EventTranscriptionPartial:
		s.emit(ctx, Event{Type: EventTranscriptionPartial, Role: ev.Role, Text: ev.Text, ItemID: ev.ItemID})

	case provider.EventTranscriptionCompleted:
		s.emit(ctx, Event{Type: EventTranscriptionCompleted, Role: ev.Role, Text: ev.Text, ItemID: ev.ItemID})

	case provider.EventAudioDelta:
		s.onAudio(ev)

	case provider.EventAudioDone:
		s.log.Trace().Str("item_id", ev.ItemID).Msg("assistant audio done")

	case provider.EventTurnCompleted:
		s.turnDone(ctx, ev.State)

	case provider.EventFunctionCallSuggested:
		for _, fc := range ev.FunctionCalls {
			s.log.Info().Str("call_id", fc.CallID).Str("function", fc.Name).Str("arguments", fc.Arguments).Msg("function call suggested")
		}

	case provider.EventError:
		if ev.Error.Critical {
			return endErr(ReasonCriticalProviderError, fmt.Errorf("%s: %s", ev.Error.Code, ev.Error.Message))
		}
		s.log.Warn().Str("code", ev.Error.Code).Str("message", ev.Error.Message).Msg("provider error")

	case provider.EventConnectionStateChanged:
		s.log.Info().Str("state", ev.State).Msg("provider connection state changed")

	default:
		s.log.Debug().Str("raw", truncate(ev.Raw, 256)).Msg("unknown provider message dropped")
	}

	if ev.EndOfTurn && ev.Type != provider.EventTurnCompleted {
		s.turnDone(ctx, "")
	}
	return nil
}

func (s *Session) onAudio(ev provider.ParsedEvent) {
	s.mu.Lock()
	item := ev.ItemID
	if item == "" {
		item = syntheticItemPrefix + strconv.Itoa(s.turnSeq)
	}
	if s.cancelled[item] {
		s.mu.Unlock()
		s.drop(metrics.Outbound, "interrupted")
		return
	}
	if item != s.currentItem {
		s.turnItems = append(s.turnItems, item)
	}
	s.currentItem = item
	s.speaking = true
	s.mu.Unlock()

	select {
	case s.out <- outbound{audio: ev.Audio, itemID: item}:
	default:
		s.drop(metrics.Outbound, "backlog")
	}
}

func (s *Session) turnDone(ctx context.Context, status string) {
	s.mu.Lock()
	s.speaking = false
	s.currentItem = ""
	s.turnSeq++
	items := s.turnItems
	s.turnItems = nil
	s.mu.Unlock()
	s.turns.Add(1)
	s.log.Debug().Str("status", status).Msg("assistant turn completed")
	select {
	case s.out <- outbound{ev: Event{Type: EventAiTurnCompleted}, forget: items}:
	case <-ctx.Done():
	}
}

// forget drops per-item state. The writer calls it after every frame queued
// for those items has been handled.
func (s *Session) forget(items []string) {
	if len(items) == 0 {
		return
	}
	s.mu.Lock()
	for _, id := range items {
		delete(s.played, id)
		delete(s.cancelled, id)
	}
	s.mu.Unlock()
}

// bargeIn cancels the assistant utterance in flight, if any. Audio still
// queued for the interrupted item is dropped by the writer.
func (s *Session) bargeIn(ctx context.Context) error {
	s.mu.Lock()
	item, speaking := s.currentItem, s.speaking
	if !speaking {
		s.mu.Unlock()
		return nil
	}
	playedMs := s.adapter.OutputFormat().DurationMs(s.played[item])
	s.cancelled[item] = true
	s.speaking = false
	s.currentItem = ""
	s.turnSeq++
	s.mu.Unlock()

	s.setState(StateInterrupting)
	defer s.setState(StateActive)

	lastItem := item
	if strings.HasPrefix(item, syntheticItemPrefix) {
		lastItem = ""
	}
	msg, err := s.adapter.InterruptMessage(lastItem, playedMs)
	if err != nil {
		return endErr(ReasonCriticalProviderError, err)
	}
	if msg != nil {
		s.gate.Lock()
		err = s.client.Send(ctx, msg)
		s.gate.Unlock()
		if err != nil && ctx.Err() == nil {
			return endErr(ReasonProviderConnectionError, err)
		}
	}
	s.interruptions.Add(1)
	s.m.metrics.Interrupted(string(s.provider))
	s.log.Debug().Str("item_id", item).Int("audio_end_ms", playedMs).Msg("barge-in")
	return nil
}

func (s *Session) isCancelled(item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[item]
}

// emit queues a control event behind any audio already queued.
func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.out <- outbound{ev: ev}:
	case <-ctx.Done():
	}
}

// outboundWriter is the single producer of telephony events, so audio and
// control events reach the caller in provider order.
func (s *Session) outboundWriter(ctx context.Context) error {
	src := s.adapter.OutputFormat()
	for {
		var o outbound
		select {
		case <-ctx.Done():
			return nil
		case o = <-s.out:
		}

		if o.audio == nil {
			o.ev.SessionID = s.id
			if err := s.leg.WriteJSON(o.ev); err != nil {
				return endErr(ReasonTelephonyClosed, err)
			}
			s.forget(o.forget)
			continue
		}

		if s.isCancelled(o.itemID) {
			s.drop(metrics.Outbound, "interrupted")
			continue
		}
		pkts, err := s.codec.ConvertPackets(ctx, o.audio, src, s.start.Out)
		if err != nil {
			switch {
			case audio.IsUnsupported(err):
				return endErr(ReasonUnsupportedCodec, err)
			case ctx.Err() != nil:
				return nil
			}
			s.log.Debug().Err(err).Msg("outbound frame dropped")
			s.drop(metrics.Outbound, "transcode")
			continue
		}

		for _, p := range pkts {
			if err := s.writeAudio(o.itemID, p); err != nil {
				return err
			}
		}
	}
}

// writeAudio sends one converted packet unless its item was interrupted.
// Played bytes are counted before the write so a barge-in racing the send
// never truncates short of what the caller heard.
func (s *Session) writeAudio(item string, p audio.Packet) error {
	s.mu.Lock()
	if s.cancelled[item] {
		s.mu.Unlock()
		s.drop(metrics.Outbound, "interrupted")
		return nil
	}
	s.played[item] += p.Source
	s.mu.Unlock()

	if err := s.leg.WriteJSON(Event{
		Type:      EventResponseAudioDelta,
		SessionID: s.id,
		Audio:     base64.StdEncoding.EncodeToString(p.Data),
		ItemID:    item,
	}); err != nil {
		return endErr(ReasonTelephonyClosed, err)
	}
	s.framesOut.Add(1)
	s.m.metrics.Audio(string(s.provider), metrics.Outbound, len(p.Data))
	return nil
}

// closeLegs tells the caller why the session ended, when it failed, then
// closes both sockets.
func (s *Session) closeLegs(cause error) {
	reason := ReasonOf(cause)
	if reason.Failure() {
		_ = s.leg.WriteJSON(Event{
			Type:      EventClientError,
			SessionID: s.id,
			Code:      string(reason),
			Message:   errMessage(cause),
		})
	}
	_ = s.leg.Close(reason.closeCode(), string(reason))
	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		_ = s.client.Disconnect(ctx, websocket.CloseNormalClosure, string(reason))
	}
}

// teardown releases everything the session holds. Each step runs even when
// an earlier one panics or fails.
func (s *Session) teardown() EndReason {
	cause := context.Cause(s.ctx)
	reason := ReasonOf(cause)
	final := StateClosed
	if reason.Failure() {
		final = StateError
	}
	s.setState(StateClosing)

	var errs []error
	step := func(name string, f func() error) {
		defer func() {
			if r := recover(); r != nil {
				errs = append(errs, fmt.Errorf("%s: panic: %v", name, r))
			}
		}()
		if err := f(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("timer", func() error { s.m.timers.StopTimer(s.id); return nil })
	step("legs", func() error { s.closeLegs(cause); return nil })
	step("registry", func() error { s.m.release(s); return nil })
	step("record", func() error {
		snap := s.Snapshot()
		s.m.repo.Update(s.id, func(r *memory.Record) {
			createdAt := r.CreatedAt
			*r = snap
			if !createdAt.IsZero() {
				r.CreatedAt = createdAt
			}
			r.State = final.String()
			r.EndedAt = time.Now()
			r.EndReason = string(reason)
		})
		return nil
	})

	s.setState(final)

	if err := errors.Join(errs...); err != nil {
		s.log.Error().Err(err).Msg("teardown incomplete")
	}
	ev := s.log.Info()
	if reason.Failure() {
		ev = s.log.Warn().AnErr("cause", cause)
	}
	ev.Str("reason", string(reason)).
		Int64("frames_in", s.framesIn.Load()).
		Int64("frames_out", s.framesOut.Load()).
		Int64("interruptions", s.interruptions.Load()).
		Msg("session ended")
	return reason
}

func errMessage(err error) string {
	var ee *EndError
	if errors.As(err, &ee) && ee.Err != nil {
		return ee.Err.Error()
	}
	return string(ReasonOf(err))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
