// Package timer implements the monotonic-clock timer wheel shared by
// every producer in olsrv2d (HELLO emission, TC emission, link/neighbor
// validity expiry, the Dijkstra settle delay). It deliberately does not
// wrap *time.Timer directly: §6's timer adapter contract
// (schedule/cancel/now_ms) has to be satisfiable by an embedder's own
// event loop as well as by this package's default implementation, so
// Wheel is built against the same Clock/Adapter seam the daemon uses
// for sockets.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Clock is the monotonic time source every Wheel is built against.
// Production code uses RealClock; tests use a FakeClock to advance time
// deterministically without sleeping, matching the run-loop's single
// monotonic clock source requirement (§5).
type Clock interface {
	Now() time.Time
}

// RealClock reports the real monotonic time via time.Now().
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// ID identifies a single scheduled timer for Cancel/Rearm.
type ID uint64

// entry is one scheduled firing, ordered by Deadline in the heap.
type entry struct {
	id       ID
	deadline time.Time
	period   time.Duration // 0 means one-shot
	fn       func(now time.Time)
	index    int // heap index, maintained by container/heap
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a single-threaded min-heap timer wheel. It is NOT safe for
// concurrent use without external locking, matching §5's "single
// threaded cooperative" core: the daemon run loop is the only caller.
type Wheel struct {
	clock   Clock
	heap    entryHeap
	byID    map[ID]*entry
	nextID  ID
	mu      sync.Mutex // guards nextID only, so Schedule is safe from reentrant callbacks
}

// NewWheel creates an empty Wheel driven by clock.
func NewWheel(clock Clock) *Wheel {
	if clock == nil {
		clock = RealClock{}
	}
	w := &Wheel{clock: clock, byID: make(map[ID]*entry)}
	heap.Init(&w.heap)
	return w
}

// Schedule arms a one-shot timer firing fn at clock.Now()+delay.
func (w *Wheel) Schedule(delay time.Duration, fn func(now time.Time)) ID {
	return w.schedule(delay, 0, fn)
}

// SchedulePeriodic arms a repeating timer, first firing at
// clock.Now()+period and then every period thereafter until canceled.
// The interval is re-armed relative to the previous deadline (not
// "now"), so periodic drift does not accumulate across Fire calls.
func (w *Wheel) SchedulePeriodic(period time.Duration, fn func(now time.Time)) ID {
	return w.schedule(period, period, fn)
}

func (w *Wheel) schedule(delay, period time.Duration, fn func(now time.Time)) ID {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.mu.Unlock()

	e := &entry{
		id:       id,
		deadline: w.clock.Now().Add(delay),
		period:   period,
		fn:       fn,
	}
	w.byID[id] = e
	heap.Push(&w.heap, e)
	return id
}

// Cancel disarms a timer. Canceling an already-fired one-shot timer or
// an unknown ID is a no-op, making Cancel idempotent as §5 requires.
func (w *Wheel) Cancel(id ID) {
	e, ok := w.byID[id]
	if !ok {
		return
	}
	e.canceled = true
	delete(w.byID, id)
	if e.index >= 0 {
		heap.Remove(&w.heap, e.index)
	}
}

// Rearm reschedules an existing timer (canceling it first if live) to
// fire after delay from now, reusing the same ID's callback. Rearm on
// an unknown/expired one-shot ID is a no-op, keeping rearm idempotent.
func (w *Wheel) Rearm(id ID, delay time.Duration) {
	e, ok := w.byID[id]
	if !ok {
		return
	}
	if e.index >= 0 {
		heap.Remove(&w.heap, e.index)
	}
	e.deadline = w.clock.Now().Add(delay)
	e.canceled = false
	heap.Push(&w.heap, e)
}

// Fire pops and runs every timer whose deadline is <= now, re-arming
// periodic ones. It returns the number of callbacks invoked. This is
// the "timers fire downward" half of the run loop's step (b): the
// daemon calls Fire(clock.Now()) once per loop iteration.
func (w *Wheel) Fire(now time.Time) int {
	count := 0
	for w.heap.Len() > 0 && !w.heap[0].deadline.After(now) {
		e := heap.Pop(&w.heap).(*entry)
		if e.canceled {
			continue
		}
		if e.period == 0 {
			delete(w.byID, e.id)
		} else {
			e.deadline = e.deadline.Add(e.period)
			// A long stall (e.g. settle under heavy load) must not cause
			// a burst of immediate re-fires once it catches up.
			if e.deadline.Before(now) {
				e.deadline = now.Add(e.period)
			}
			heap.Push(&w.heap, e)
		}
		count++
		e.fn(now)
	}
	return count
}

// NextDeadline reports the earliest pending deadline, if any. Embedders
// that multiplex on an external event loop (e.g. select/epoll) use this
// to size their blocking-poll timeout.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	if w.heap.Len() == 0 {
		return time.Time{}, false
	}
	return w.heap[0].deadline, true
}

// Len reports the number of currently armed timers.
func (w *Wheel) Len() int { return w.heap.Len() }
