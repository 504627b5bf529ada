package memory

import (
	"sort"
	"sync"
	"time"
)

// Record is the stored summary of one relayed session.
type Record struct {
	ID           string
	Provider     string
	CreatedAt    time.Time
	StartedAt    time.Time
	EndedAt      time.Time
	State        string
	EndReason    string
	InputFormat  string
	OutputFormat string

	FramesIn      int64
	FramesOut     int64
	FramesDropped int64
	Interruptions int64
	Turns         int64
}

type box struct {
	mu  sync.Mutex
	rec Record
}

type SessionRepo struct {
	m sync.Map
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{}
}

func (r *SessionRepo) Save(rec Record) {
	r.m.Store(rec.ID, &box{rec: rec})
}

func (r *SessionRepo) Get(id string) (Record, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return Record{}, false
	}
	b := v.(*box)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec, true
}

// Update applies fn to the stored record, creating it when absent.
func (r *SessionRepo) Update(id string, fn func(*Record)) {
	v, _ := r.m.LoadOrStore(id, &box{rec: Record{ID: id, CreatedAt: time.Now()}})
	b := v.(*box)
	b.mu.Lock()
	fn(&b.rec)
	b.mu.Unlock()
}

func (r *SessionRepo) Delete(id string) {
	r.m.Delete(id)
}

// List returns all records, newest first.
func (r *SessionRepo) List() []Record {
	var out []Record
	r.m.Range(func(_, v any) bool {
		b := v.(*box)
		b.mu.Lock()
		out = append(out, b.rec)
		b.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
