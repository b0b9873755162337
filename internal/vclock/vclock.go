// Package vclock supplies wall time and the row version counter.
//
// A row's v is a Unix-millisecond timestamp that doubles as its version id.
// Versioner guarantees strictly increasing values within one process even
// when several writes land in the same millisecond or the wall clock steps
// backwards. Across processes no ordering is promised: concurrent writers to
// the same key are resolved by max v alone.
package vclock

import (
	"sync/atomic"
	"time"
)

// Clock is a source of wall time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Versioner hands out strictly increasing row versions.
//
// Thread-safety: safe for concurrent use (atomic compare-and-swap).
type Versioner struct {
	clock Clock
	last  atomic.Int64
}

// NewVersioner creates a Versioner reading wall time from clock.
// A nil clock uses the system clock.
func NewVersioner(clock Clock) *Versioner {
	if clock == nil {
		clock = System{}
	}
	return &Versioner{clock: clock}
}

// Next returns max(now in ms, last+1) and records it as last.
func (v *Versioner) Next() int64 {
	now := Millis(v.clock.Now())
	for {
		last := v.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if v.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Observe raises the floor so later versions exceed seen. Used when a
// process resumes over rows written by an earlier run.
func (v *Versioner) Observe(seen int64) {
	for {
		last := v.last.Load()
		if seen <= last || v.last.CompareAndSwap(last, seen) {
			return
		}
	}
}

// Current returns the last version handed out, or 0.
func (v *Versioner) Current() int64 {
	return v.last.Load()
}

// Now returns the wall time of the underlying clock.
func (v *Versioner) Now() time.Time {
	return v.clock.Now()
}
