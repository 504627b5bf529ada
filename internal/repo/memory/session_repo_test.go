package memory

import (
	"sync"
	"testing"
	"time"
)

func TestSaveGetUpdate(t *testing.T) {
	t.Parallel()

	r := NewSessionRepo()
	r.Save(Record{ID: "a", Provider: "openai", CreatedAt: time.Now()})
	r.Update("a", func(rec *Record) { rec.Turns++ })
	got, ok := r.Get("a")
	if !ok || got.Turns != 1 || got.Provider != "openai" {
		t.Fatalf("got=%+v ok=%v", got, ok)
	}

	r.Update("b", func(rec *Record) { rec.EndReason = "stopped" })
	got, ok = r.Get("b")
	if !ok || got.ID != "b" || got.CreatedAt.IsZero() {
		t.Fatalf("update must create missing records: %+v", got)
	}

	r.Delete("a")
	if _, ok := r.Get("a"); ok {
		t.Fatal("record not deleted")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	t.Parallel()

	r := NewSessionRepo()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Update("s", func(rec *Record) { rec.FramesIn++ })
		}()
	}
	wg.Wait()
	if got, _ := r.Get("s"); got.FramesIn != 50 {
		t.Fatalf("frames=%d", got.FramesIn)
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()

	r := NewSessionRepo()
	now := time.Now()
	r.Save(Record{ID: "old", CreatedAt: now.Add(-time.Minute)})
	r.Save(Record{ID: "new", CreatedAt: now})
	l := r.List()
	if len(l) != 2 || l[0].ID != "new" {
		t.Fatalf("list=%+v", l)
	}
}
