// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package clock provides a pausable wall-clock timer. Elapsed time
// accumulates only while the timer is running, so intervals spent paused
// are excluded from the total.
package clock

import "time"

// Timer measures wall-clock time with support for pausing. The zero
// value is a paused timer with zero accumulated time; call Resume (or
// Reset with pause=false) to start it.
type Timer struct {
	accumulated time.Duration
	startedAt   time.Time
	running     bool

	// now is replaceable for tests; nil means time.Now.
	now func() time.Time
}

// NewTimer returns a running Timer with zero accumulated time.
func NewTimer() *Timer {
	t := &Timer{}
	t.Resume()
	return t
}

func (t *Timer) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Elapsed returns the total time accumulated while running.
func (t *Timer) Elapsed() time.Duration {
	if t.running {
		return t.accumulated + t.clock().Sub(t.startedAt)
	}
	return t.accumulated
}

// Seconds returns Elapsed as a float64 number of seconds.
func (t *Timer) Seconds() float64 {
	return t.Elapsed().Seconds()
}

// Pause stops accumulation. Pausing an already-paused timer is a no-op.
func (t *Timer) Pause() {
	if !t.running {
		return
	}
	t.accumulated += t.clock().Sub(t.startedAt)
	t.running = false
}

// Resume restarts accumulation. Resuming a running timer is a no-op.
func (t *Timer) Resume() {
	if t.running {
		return
	}
	t.startedAt = t.clock()
	t.running = true
}

// Reset sets the accumulated time to the given duration. When pause is
// true the timer is left paused, otherwise it keeps (or starts) running
// from the new value.
func (t *Timer) Reset(to time.Duration, pause bool) {
	t.accumulated = to
	t.startedAt = t.clock()
	t.running = !pause
}

// Running reports whether the timer is currently accumulating time.
func (t *Timer) Running() bool {
	return t.running
}
