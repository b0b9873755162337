// Package alarm is a single-shot scheduler with at most one outstanding
// timer.
//
// Many writers may call ScheduleIfNeeded during a burst; only the first arms
// the timer, so the burst coalesces into one callback. The callback runs on
// its own goroutine after the handle has been cleared, so it may re-arm.
package alarm

import (
	"context"
	"sync"
	"time"
)

// Func is invoked when the alarm fires.
type Func func(ctx context.Context)

// Alarm holds one timer handle.
//
// Thread-safety: all methods are safe for concurrent use.
type Alarm struct {
	fn  Func
	ctx context.Context

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // identifies the armed timer; a stale fire is ignored
	stopped bool
	running sync.WaitGroup
}

// New returns an alarm that calls fn with ctx when it fires.
func New(ctx context.Context, fn Func) *Alarm {
	return &Alarm{fn: fn, ctx: ctx}
}

// ScheduleIfNeeded arms the alarm to fire after d unless it is already armed.
// It reports whether this call armed it.
func (a *Alarm) ScheduleIfNeeded(d time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || a.timer != nil {
		return false
	}
	a.arm(d)
	return true
}

// Schedule arms the alarm to fire after d, replacing any armed timer.
func (a *Alarm) Schedule(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.clear()
	a.arm(d)
}

// Cancel disarms the alarm. A callback already running is not interrupted.
func (a *Alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clear()
}

// Armed reports whether a timer is outstanding.
func (a *Alarm) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// Stop disarms the alarm for good and waits for a running callback to return.
func (a *Alarm) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.clear()
	a.mu.Unlock()
	a.running.Wait()
}

// arm must be called with mu held and no timer outstanding.
func (a *Alarm) arm(d time.Duration) {
	if d < 0 {
		d = 0
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(d, func() { a.fire(gen) })
}

// clear must be called with mu held.
func (a *Alarm) clear() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Alarm) fire(gen uint64) {
	a.mu.Lock()
	if a.stopped || a.gen != gen || a.timer == nil {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.running.Add(1)
	a.mu.Unlock()

	defer a.running.Done()
	a.fn(a.ctx)
}
