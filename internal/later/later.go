// Package later implements a deferred-task scheduler: tasks either run on
// every tick ("regular" tasks, e.g. periodic instrumentation reporting) or
// run once after a fixed number of ticks have elapsed ("once" tasks, e.g.
// the weak-handle idle-eviction timer). A single Later is driven externally
// by one goroutine calling DoRegularly on a fixed cadence.
package later

import (
	"context"
	"sync"
)

// Func is a unit of deferred work. ctx is the context passed to the
// DoRegularly call that fires it.
type Func func(ctx context.Context)

// Handle identifies a previously scheduled task so it can be removed before
// it fires.
type Handle uint64

type entry struct {
	handle Handle
	fn     Func
	// ticks is nil for a regular (every-tick) task. For a once task it
	// starts at the requested countdown and is decremented on every call
	// to DoRegularly; the task fires and is removed once the countdown
	// has gone negative.
	ticks *int
}

// Later holds the set of scheduled regular and once tasks.
type Later struct {
	mu      sync.Mutex
	nextID  Handle
	entries []*entry
}

// New returns an empty Later.
func New() *Later {
	return &Later{}
}

// Add registers fn to run on every future call to DoRegularly until removed.
func (l *Later) Add(fn Func) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	h := l.nextID
	l.entries = append(l.entries, &entry{handle: h, fn: fn})
	return h
}

// Once registers fn to run a single time, after ticks calls to DoRegularly
// have elapsed (ticks == 0 means "on the next call"). Calling Once again
// with the same conceptual task resets its countdown; callers achieve that
// by Removing the prior handle first.
func (l *Later) Once(fn Func, ticks int) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	h := l.nextID
	t := ticks
	l.entries = append(l.entries, &entry{handle: h, fn: fn, ticks: &t})
	return h
}

// Remove cancels a previously scheduled task. It is a no-op if the handle
// has already fired or was never registered.
func (l *Later) Remove(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.handle == h {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// DoRegularly advances all once-task countdowns by one tick and invokes
// every regular task, then fires and removes any once task whose countdown
// has gone negative. When force is true every once task fires immediately
// regardless of its remaining countdown, e.g. during an orderly shutdown
// where deferred work must flush rather than be dropped.
//
// The fire predicate is strict: a once task only fires once its countdown
// pointer is non-nil AND has gone below zero. An entry with a nil countdown
// is a regular task and is never fired by the once-path.
func (l *Later) DoRegularly(ctx context.Context, force bool) {
	l.mu.Lock()
	var toFire []Func
	var remaining []*entry
	for _, e := range l.entries {
		if e.ticks == nil {
			toFire = append(toFire, e.fn)
			remaining = append(remaining, e)
			continue
		}
		*e.ticks = *e.ticks - 1
		if force || (*e.ticks < 0) {
			toFire = append(toFire, e.fn)
			continue
		}
		remaining = append(remaining, e)
	}
	l.entries = remaining
	l.mu.Unlock()

	for _, fn := range toFire {
		fn(ctx)
	}
}

// Len reports the number of currently scheduled tasks, for tests.
func (l *Later) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
