package timer

import (
	"errors"
	"sync"
	"time"
)

var ErrInvalidTimeout = errors.New("timer: timeout must be positive")

// Manager keeps at most one inactivity timer per session id. The callback
// runs on its own goroutine and fires at most once per StartTimer call; a
// reset racing an expiry either wins (no fire) or loses (one fire), never both.
type Manager struct {
	timers sync.Map // id -> *entry
}

type entry struct {
	mu        sync.Mutex
	timeout   time.Duration
	onTimeout func(id string)
	t         *time.Timer
	gen       uint64
	stopped   bool
}

func NewManager() *Manager { return &Manager{} }

// StartTimer cancels any timer already running for id and schedules
// onTimeout after timeout of inactivity.
func (m *Manager) StartTimer(id string, timeout time.Duration, onTimeout func(id string)) error {
	if timeout <= 0 {
		return ErrInvalidTimeout
	}
	if onTimeout == nil {
		onTimeout = func(string) {}
	}
	e := &entry{timeout: timeout, onTimeout: onTimeout}
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := m.timers.Swap(id, e); ok {
		prev.(*entry).stop()
	}
	m.schedule(id, e)
	return nil
}

// schedule must be called with e.mu held.
func (m *Manager) schedule(id string, e *entry) {
	e.gen++
	gen := e.gen
	e.t = time.AfterFunc(e.timeout, func() { m.fire(id, e, gen) })
}

func (m *Manager) fire(id string, e *entry, gen uint64) {
	e.mu.Lock()
	if e.stopped || e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()
	m.timers.CompareAndDelete(id, e)
	e.onTimeout(id)
}

// ResetTimer restarts the countdown with the timeout and callback given to
// StartTimer. It reports false when no timer is running for id.
func (m *Manager) ResetTimer(id string) bool {
	v, ok := m.timers.Load(id)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.t.Stop()
	m.schedule(id, e)
	return true
}

// StopTimer cancels and removes the timer for id. Stopping an unknown id is
// a no-op.
func (m *Manager) StopTimer(id string) {
	if v, ok := m.timers.LoadAndDelete(id); ok {
		v.(*entry).stop()
	}
}

func (m *Manager) IsTimerRunning(id string) bool {
	v, ok := m.timers.Load(id)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.stopped
}

// Len reports the number of running timers.
func (m *Manager) Len() int {
	n := 0
	m.timers.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (e *entry) stop() {
	e.mu.Lock()
	e.stopped = true
	if e.t != nil {
		e.t.Stop()
	}
	e.mu.Unlock()
}
