package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/steveyiyo/voice-relay/internal/core/audio"
	"github.com/steveyiyo/voice-relay/internal/core/provider"
	"github.com/steveyiyo/voice-relay/internal/core/switcher"
	"github.com/steveyiyo/voice-relay/internal/core/timer"
	"github.com/steveyiyo/voice-relay/internal/metrics"
	"github.com/steveyiyo/voice-relay/internal/repo/memory"
)

type Options struct {
	InactivityTimeout time.Duration
	ConnectTimeout    time.Duration
	TranscodeTimeout  time.Duration
	// TranscodeConcurrency bounds conversions in flight across all sessions.
	TranscodeConcurrency int
	// FrameBuffer is the per-direction queue length of a session.
	FrameBuffer int
}

func (o *Options) defaults() {
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = 30 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.TranscodeConcurrency <= 0 {
		o.TranscodeConcurrency = 4
	}
	if o.FrameBuffer <= 0 {
		o.FrameBuffer = 64
	}
}

// Manager owns the session registry. At most one session runs per id.
type Manager struct {
	registry *switcher.Registry
	timers   *timer.Manager
	repo     *memory.SessionRepo
	metrics  *metrics.Metrics
	limiter  *semaphore.Weighted
	log      zerolog.Logger
	opts     Options

	sessions sync.Map // id -> *Session
	wg       sync.WaitGroup
}

func NewManager(reg *switcher.Registry, timers *timer.Manager, repo *memory.SessionRepo, m *metrics.Metrics, log zerolog.Logger, opts Options) *Manager {
	opts.defaults()
	return &Manager{
		registry: reg,
		timers:   timers,
		repo:     repo,
		metrics:  m,
		limiter:  audio.NewLimiter(opts.TranscodeConcurrency),
		log:      log.With().Str("component", "relay").Logger(),
		opts:     opts,
	}
}

// Run relays the call on leg until it ends and returns the end reason. It
// blocks for the lifetime of the session; the leg is closed on return.
func (m *Manager) Run(ctx context.Context, leg Leg, start StartFrame) EndReason {
	id := start.SessionID
	if id == "" {
		id = "sess_" + uuid.NewString()
	}
	p, perr := provider.Parse(start.Provider)
	if perr != nil {
		p = provider.Provider(start.Provider)
	}

	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s := &Session{
		id:        id,
		start:     start,
		provider:  p,
		m:         m,
		leg:       leg,
		createdAt: time.Now(),
		ctx:       sctx,
		cancel:    cancel,
		in:        make(chan inbound, m.opts.FrameBuffer),
		out:       make(chan outbound, m.opts.FrameBuffer),
		played:    map[string]int{},
		cancelled: map[string]bool{},
		log:       m.log.With().Str("session_id", id).Str("provider", string(p)).Logger(),
	}
	s.codec = audio.NewAdapter(audio.NewEngine(),
		audio.WithLimiter(m.limiter),
		audio.WithTimeout(m.opts.TranscodeTimeout),
		audio.WithObserver(func(in, out audio.Format, took time.Duration, err error) {
			m.metrics.Transcode(in.String(), out.String(), took, err)
		}),
	)

	if _, loaded := m.sessions.LoadOrStore(id, s); loaded {
		s.log.Warn().Msg("session id already active")
		_ = leg.WriteJSON(Event{Type: EventClientError, SessionID: id, Code: "session_exists", Message: "session id already active"})
		_ = leg.Close(ReasonStopped.closeCode(), "session_exists")
		return ReasonStopped
	}
	m.wg.Add(1)
	defer m.wg.Done()

	m.repo.Update(id, func(r *memory.Record) {
		r.Provider = string(p)
		r.State = StateConnecting.String()
	})
	m.metrics.SessionStarted()
	if perr != nil {
		s.cancel(endErr(ReasonProviderNotRegistered, perr))
		reason := s.teardown()
		m.metrics.SessionEnded(string(p), string(reason), 0)
		return reason
	}

	reason := s.run()
	m.metrics.SessionEnded(string(p), string(reason), time.Since(s.createdAt))
	return reason
}

func (m *Manager) release(s *Session) {
	m.sessions.CompareAndDelete(s.id, s)
}

// Stop ends the session with id. It reports whether the session was found.
func (m *Manager) Stop(id string) bool {
	v, ok := m.sessions.Load(id)
	if !ok {
		return false
	}
	v.(*Session).end(ReasonStopped, nil)
	return true
}

func (m *Manager) Get(id string) (*Session, bool) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Snapshot returns the live counters of an active session.
func (m *Manager) Snapshot(id string) (memory.Record, bool) {
	s, ok := m.Get(id)
	if !ok {
		return memory.Record{}, false
	}
	return s.Snapshot(), true
}

// Active lists the running sessions, oldest first.
func (m *Manager) Active() []memory.Record {
	var out []memory.Record
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown ends every session and waits for their teardown or ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.sessions.Range(func(_, v any) bool {
		v.(*Session).end(ReasonShutdown, nil)
		return true
	})
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
