package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/steveyiyo/voice-relay/internal/core/provider"
	"github.com/steveyiyo/voice-relay/internal/repo/memory"
	"github.com/steveyiyo/voice-relay/pkg/types"
)

// StatePending marks a session created over REST whose stream has not
// attached yet.
const StatePending = "pending"

var (
	ErrNotFound = errors.New("session not found")
	ErrLive     = errors.New("session is live")
)

// LiveStats reports counters of sessions that are still relaying.
type LiveStats interface {
	Snapshot(id string) (memory.Record, bool)
}

// Providers reports whether a provider can serve new sessions.
type Providers interface {
	ProviderAdapter(p provider.Provider) (provider.Adapter, error)
}

type Service struct {
	Repo      *memory.SessionRepo
	Live      LiveStats
	Providers Providers
	now       func() time.Time
}

func NewService(repo *memory.SessionRepo, live LiveStats, providers Providers) *Service {
	return &Service{Repo: repo, Live: live, Providers: providers, now: time.Now}
}

// Create reserves a session id for a later stream.
func (s *Service) Create(name string) (memory.Record, error) {
	p, err := provider.Parse(name)
	if err != nil {
		return memory.Record{}, err
	}
	if _, err := s.Providers.ProviderAdapter(p); err != nil {
		return memory.Record{}, err
	}
	rec := memory.Record{
		ID:        "sess_" + uuid.NewString(),
		Provider:  string(p),
		CreatedAt: s.now(),
		State:     StatePending,
	}
	s.Repo.Save(rec)
	return rec, nil
}

func (s *Service) Summary(id string) (types.SummaryResp, bool) {
	if rec, ok := s.Live.Snapshot(id); ok {
		if stored, ok := s.Repo.Get(id); ok && !stored.CreatedAt.IsZero() {
			rec.CreatedAt = stored.CreatedAt
		}
		return s.summary(rec, true), true
	}
	rec, ok := s.Repo.Get(id)
	if !ok {
		return types.SummaryResp{}, false
	}
	return s.summary(rec, false), true
}

// List returns every known session, newest first.
func (s *Service) List() []types.SummaryResp {
	recs := s.Repo.List()
	out := make([]types.SummaryResp, 0, len(recs))
	for _, rec := range recs {
		if live, ok := s.Live.Snapshot(rec.ID); ok {
			live.CreatedAt = rec.CreatedAt
			out = append(out, s.summary(live, true))
			continue
		}
		out = append(out, s.summary(rec, false))
	}
	return out
}

// Forget drops a finished or never-attached session. Live sessions are kept.
func (s *Service) Forget(id string) error {
	if _, ok := s.Live.Snapshot(id); ok {
		return ErrLive
	}
	if _, ok := s.Repo.Get(id); !ok {
		return ErrNotFound
	}
	s.Repo.Delete(id)
	return nil
}

func (s *Service) summary(rec memory.Record, live bool) types.SummaryResp {
	out := types.SummaryResp{
		SessionID:     rec.ID,
		Provider:      rec.Provider,
		State:         rec.State,
		Live:          live,
		EndReason:     rec.EndReason,
		InputFormat:   rec.InputFormat,
		OutputFormat:  rec.OutputFormat,
		CreatedAt:     rec.CreatedAt,
		FramesIn:      rec.FramesIn,
		FramesOut:     rec.FramesOut,
		FramesDropped: rec.FramesDropped,
		Interruptions: rec.Interruptions,
		Turns:         rec.Turns,
	}
	if !rec.StartedAt.IsZero() {
		t := rec.StartedAt
		out.StartedAt = &t
		end := s.now()
		if !rec.EndedAt.IsZero() {
			end = rec.EndedAt
		}
		out.DurationMs = end.Sub(t).Milliseconds()
	}
	if !rec.EndedAt.IsZero() {
		t := rec.EndedAt
		out.EndedAt = &t
	}
	return out
}
