// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"sync/atomic"
	"time"
)

// DefaultPollInterval is the default debounce interval at which
// workers refresh their local view of the run flags.
const DefaultPollInterval = 100 * time.Millisecond

// RunState is the pair of flags through which the supervisor
// cooperatively interrupts workers: exit (abort everything) and paused
// (hold between steps). The supervisor is the only writer; workers read
// through a Snapshot so the flags cannot appear to change in the middle
// of stepping one event.
type RunState struct {
	exit   atomic.Bool
	paused atomic.Bool
}

// SetExit is called by the supervisor to request that every worker
// abandon its replication.
func (s *RunState) SetExit(v bool) {
	s.exit.Store(v)
}

// SetPaused is called by the supervisor to request that every worker
// hold between steps until the flag clears.
func (s *RunState) SetPaused(v bool) {
	s.paused.Store(v)
}

// Exit returns the current exit flag. Workers should normally read
// through a Snapshot instead.
func (s *RunState) Exit() bool {
	return s.exit.Load()
}

// Paused returns the current paused flag. Workers should normally read
// through a Snapshot instead.
func (s *RunState) Paused() bool {
	return s.paused.Load()
}

// Snapshot is a worker's local, debounced view of a RunState. Refresh
// re-reads the flags at most once per poll interval, so both values are
// stable for the duration of one simulation step. Snapshot has no
// setters: workers never write the shared flags.
//
// A Snapshot belongs to a single worker goroutine and is not
// thread-safe.
type Snapshot struct {
	src      *RunState
	interval time.Duration

	exit    bool
	paused  bool
	readAt  time.Time
	primed  bool
}

// NewSnapshot returns a snapshot of src refreshing at most once per
// interval. A non-positive interval means DefaultPollInterval. The
// first Refresh always reads.
func NewSnapshot(src *RunState, interval time.Duration) *Snapshot {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Snapshot{src: src, interval: interval}
}

// Refresh re-reads the shared flags if the poll interval has elapsed
// since the last read. Returns true if a read happened.
func (s *Snapshot) Refresh() bool {
	now := time.Now()
	if s.primed && now.Sub(s.readAt) < s.interval {
		return false
	}
	s.exit = s.src.Exit()
	s.paused = s.src.Paused()
	s.readAt = now
	s.primed = true
	return true
}

// Exit returns the exit flag as of the last Refresh.
func (s *Snapshot) Exit() bool {
	return s.exit
}

// Paused returns the paused flag as of the last Refresh.
func (s *Snapshot) Paused() bool {
	return s.paused
}
