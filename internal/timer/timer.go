// Package timer provides the timer service consumed by effects and
// cooldowns, plus a deterministic implementation driven by simulation ticks.
package timer

import (
	"container/heap"
	"time"
)

// Handle identifies a scheduled timer. The zero Handle never refers to a timer.
type Handle uint64

// IsValid reports whether the handle was returned by SetTimer.
func (h Handle) IsValid() bool { return h != 0 }

// Service is the host timer contract. All callbacks are delivered on the
// simulation thread, so implementations need no locking.
type Service interface {
	SetTimer(d time.Duration, repeating bool, fn func()) Handle
	ClearTimer(h Handle)
	Remaining(h Handle) time.Duration
	IsActive(h Handle) bool
}

type entry struct {
	handle    Handle
	due       time.Duration
	interval  time.Duration
	repeating bool
	fn        func()
	index     int
}

// Manager is a single-threaded Service advanced explicitly by the caller.
// Timers fire in due-time order; ties resolve in creation order.
type Manager struct {
	now     time.Duration
	next    Handle
	queue   timerQueue
	entries map[Handle]*entry
}

// NewManager creates a Manager with simulated time at zero.
func NewManager() *Manager {
	return &Manager{
		entries: make(map[Handle]*entry),
	}
}

// Now returns the current simulated time.
func (m *Manager) Now() time.Duration { return m.now }

// Len returns the number of pending timers.
func (m *Manager) Len() int { return len(m.entries) }

// SetTimer schedules fn after d. Non-positive durations fire on the next Advance.
// A repeating timer with a non-positive interval is treated as one-shot.
func (m *Manager) SetTimer(d time.Duration, repeating bool, fn func()) Handle {
	if fn == nil {
		return 0
	}
	if d < 0 {
		d = 0
	}
	m.next++
	e := &entry{
		handle:    m.next,
		due:       m.now + d,
		interval:  d,
		repeating: repeating && d > 0,
		fn:        fn,
	}
	m.entries[e.handle] = e
	heap.Push(&m.queue, e)
	return e.handle
}

// ClearTimer cancels a pending timer. Unknown handles are ignored.
func (m *Manager) ClearTimer(h Handle) {
	e, ok := m.entries[h]
	if !ok {
		return
	}
	delete(m.entries, h)
	if e.index >= 0 {
		heap.Remove(&m.queue, e.index)
	}
}

// Remaining returns the time left until the timer fires, or zero.
func (m *Manager) Remaining(h Handle) time.Duration {
	e, ok := m.entries[h]
	if !ok {
		return 0
	}
	return e.due - m.now
}

// IsActive reports whether the timer is still pending.
func (m *Manager) IsActive(h Handle) bool {
	_, ok := m.entries[h]
	return ok
}

// Advance moves simulated time forward by delta and fires every timer that
// becomes due, in order. Callbacks may set or clear timers; a timer scheduled
// inside a callback fires within the same Advance if it falls due before the
// target time. Returns the number of callbacks run.
func (m *Manager) Advance(delta time.Duration) int {
	if delta < 0 {
		delta = 0
	}
	target := m.now + delta
	fired := 0
	for m.queue.Len() > 0 {
		e := m.queue[0]
		if e.due > target {
			break
		}
		m.now = e.due
		if e.repeating {
			e.due += e.interval
			heap.Fix(&m.queue, e.index)
		} else {
			heap.Pop(&m.queue)
			delete(m.entries, e.handle)
		}
		e.fn()
		fired++
	}
	m.now = target
	return fired
}

type timerQueue []*entry

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due == q[j].due {
		return q[i].handle < q[j].handle
	}
	return q[i].due < q[j].due
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
