// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package sim implements the per-replication discrete-event simulation
// engine: a Running/Paused/Debugging state machine driving a
// time/priority-ordered event queue against a simulated clock and a
// pausable wall-clock timer.
package sim

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003/internal/clock"
)

// State identifies the engine's current FSM state.
type State int

const (
	StatePaused State = iota
	StateRunning
	StateDebugging
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateDebugging:
		return "debugging"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Role names a group of scenario actions run at fixed points of a
// replication's lifecycle.
type Role int

const (
	RoleStartup Role = iota
	RoleReset
	RoleFinish
	RoleBatch
)

func (r Role) String() string {
	switch r {
	case RoleStartup:
		return "startup"
	case RoleReset:
		return "reset"
	case RoleFinish:
		return "finish"
	case RoleBatch:
		return "batch"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// RoleRunner runs every scenario action registered under a role,
// highest role priority first. It returns a non-nil error if at least
// one action failed; remaining actions are still attempted.
type RoleRunner interface {
	RunRole(role Role) error
}

// engineTransitions is the legality table for engine state changes.
// Debugging is entered from either Running or Paused and must be able
// to return to both.
var engineTransitions = map[State][]State{
	StatePaused:    {StateRunning, StateDebugging},
	StateRunning:   {StatePaused, StateDebugging},
	StateDebugging: {StatePaused, StateRunning},
}

// Engine steps one replication's timeline to completion. It is created
// fresh per replication and driven from a single goroutine; it is not
// thread-safe.
//
// The engine itself never decides that a replication is finished: it
// transitions to Paused when an end condition fires or an event fails,
// and the caller classifies the stop by inspecting LastStepErr,
// MaxSimTimeElapsed, MaxWallClockElapsed, and NumEvents.
type Engine struct {
	settings Settings
	roles    RoleRunner
	log      *zap.Logger

	state     State
	debugFrom State

	queue       *EventQueue
	simTimeDays float64
	wall        *clock.Timer
	rng         *rand.Rand

	lastStepErr error
}

// NewEngine creates an engine in the Paused state with an empty queue.
// roles may be nil, in which case role steps are skipped. logger may be
// nil for no logging.
func NewEngine(settings Settings, roles RoleRunner, logger *zap.Logger) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		settings: settings,
		roles:    roles,
		log:      logger,
		state:    StatePaused,
		queue:    NewEventQueue(),
		wall:     &clock.Timer{}, // paused at zero
	}
	return e, nil
}

// State returns the engine's current FSM state.
func (e *Engine) State() State {
	return e.state
}

// Queue returns the engine's event queue, for scheduling by scenario
// actions.
func (e *Engine) Queue() *EventQueue {
	return e.queue
}

// RNG returns the replication's random number generator. It is nil
// until the first Run applies a seed.
func (e *Engine) RNG() *rand.Rand {
	return e.rng
}

// SimTimeDays returns the current simulated time in days. It never
// decreases except across a reset.
func (e *Engine) SimTimeDays() float64 {
	return e.simTimeDays
}

// WallClockSec returns the wall-clock seconds spent running, excluding
// paused and debugging intervals.
func (e *Engine) WallClockSec() float64 {
	return e.wall.Seconds()
}

// Settings returns the engine's settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// LastStepErr returns the latched error from a failed event, or nil.
func (e *Engine) LastStepErr() error {
	return e.lastStepErr
}

// NumEvents returns the number of events still pending.
func (e *Engine) NumEvents() int {
	return e.queue.Len()
}

// MaxSimTimeElapsed reports whether the simulated clock has reached the
// configured maximum. Always false when no maximum is set.
func (e *Engine) MaxSimTimeElapsed() bool {
	maxDays := e.settings.Steps.End.MaxSimTimeDays
	return maxDays > 0 && e.simTimeDays >= maxDays
}

// MaxWallClockElapsed reports whether the running wall-clock time has
// exceeded the configured maximum. Always false when no maximum is set.
func (e *Engine) MaxWallClockElapsed() bool {
	maxSec := e.settings.Steps.End.MaxWallClockSec
	return maxSec > 0 && e.wall.Seconds() > maxSec
}

func (e *Engine) setState(to State) {
	if !transitionAllowed(engineTransitions, e.state, to) {
		panic(fmt.Sprintf("illegal engine transition %v -> %v", e.state, to))
	}
	from := e.state
	e.state = to
	// exit hook for the old state, then enter hook for the new one.
	if from == StateRunning {
		e.wall.Pause()
	}
	switch to {
	case StateRunning:
		e.wall.Resume()
	case StateDebugging:
		e.debugFrom = from
	}
}

func transitionAllowed(table map[State][]State, from, to State) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Run starts a simulation run from the Paused state: it performs the
// reset sequence, runs the startup role, and transitions to Running.
// If the startup role fails the engine stays Paused and the error is
// returned; the queue and clocks keep whatever state the reset gave
// them.
func (e *Engine) Run() error {
	if e.state != StatePaused {
		return fmt.Errorf("cannot run from %v state", e.state)
	}
	e.reset()
	if e.settings.Steps.Start.RunStartupRole && e.roles != nil {
		if err := e.roles.RunRole(RoleStartup); err != nil {
			e.log.Error("startup role failed", zap.Error(err))
			return fmt.Errorf("startup: %w", err)
		}
	}
	e.setState(StateRunning)
	return nil
}

// reset applies the configured reset steps: clear (or keep) the queue,
// zero (or keep) the clocks, apply the replication seed, and run the
// reset role. Reset-role failures are logged, not propagated.
func (e *Engine) reset() {
	rs := e.settings.Steps.Reset
	e.lastStepErr = nil

	if rs.ClearEventQueue {
		e.queue.Clear()
	}
	if rs.ZeroWallClock {
		e.wall.Reset(0, true)
	}
	if rs.ZeroSimTime {
		e.simTimeDays = 0
	}
	if rs.ApplyResetSeed {
		seed := e.settings.ResetSeed
		if e.settings.AutoSeed {
			seed = NewSeed(nil)
			e.log.Info("auto-generated replication seed", zap.Int64("seed", seed))
		}
		e.rng = rand.New(rand.NewSource(seed))
	}
	if rs.RunResetRole && e.roles != nil {
		if err := e.roles.RunRole(RoleReset); err != nil {
			e.log.Error("reset role failed", zap.Error(err))
		}
	}
}

// Update advances the simulation when Running: it evaluates end
// conditions first and, when none fires, executes the next event. In
// any other state Update does nothing. Call it in a loop, interleaved
// with whatever external control checks the caller needs.
func (e *Engine) Update() {
	if e.state != StateRunning {
		return
	}
	if e.checkNeedStop() {
		e.endSteps()
		return
	}
	e.stepOneEvent()

	// The step may itself have emptied the queue or paused the engine
	// (event failure, or a scenario action pausing from within).
	if e.state == StateRunning && e.queue.Len() == 0 && e.settings.Steps.End.StopOnEmpty {
		e.endSteps()
	}
}

// StepOne executes a single event while Paused, without evaluating end
// conditions. Used for manual stepping.
func (e *Engine) StepOne() error {
	if e.lastStepErr != nil {
		return ErrStepAfterFailure
	}
	if e.state != StatePaused {
		return fmt.Errorf("cannot step from %v state", e.state)
	}
	e.stepOneEvent()
	return nil
}

// checkNeedStop reports whether an end condition fires before the next
// event runs. When the max-sim-time condition fires, the simulated
// clock is advanced to the limit.
func (e *Engine) checkNeedStop() bool {
	end := e.settings.Steps.End
	nextDays, ok := e.queue.NextTime()
	if !ok {
		if end.StopOnEmpty {
			e.log.Info("no more events")
			return true
		}
		return false
	}
	if end.MaxWallClockSec > 0 && e.wall.Seconds() > end.MaxWallClockSec {
		e.log.Info("max wall-clock time exceeded",
			zap.Float64("max_sec", end.MaxWallClockSec))
		return true
	}
	if end.MaxSimTimeDays > 0 && nextDays >= end.MaxSimTimeDays {
		e.log.Info("max sim time will be exceeded at next event",
			zap.Float64("max_days", end.MaxSimTimeDays),
			zap.Float64("next_event_days", nextDays))
		e.simTimeDays = end.MaxSimTimeDays
		return true
	}
	return false
}

// stepOneEvent pops and executes the next event, advancing the
// simulated clock to the event's time. A failed event latches the
// error and forces a transition to Paused; the failed event is
// considered consumed.
func (e *Engine) stepOneEvent() {
	ev, ok := e.queue.Pop()
	if !ok {
		return
	}
	e.simTimeDays = ev.TimeDays
	if err := ev.Do(); err != nil {
		e.log.Error("event failed, reverting to paused",
			zap.Int("event_id", ev.ID),
			zap.Float64("time_days", ev.TimeDays),
			zap.Error(err))
		e.lastStepErr = err
		if e.state == StateRunning {
			e.setState(StatePaused)
		}
	}
}

// endSteps runs the finish role (best-effort: failures are logged, not
// propagated) and transitions to Paused.
func (e *Engine) endSteps() {
	if e.settings.Steps.End.RunFinishRole && e.roles != nil {
		if err := e.roles.RunRole(RoleFinish); err != nil {
			e.log.Error("finish role failed", zap.Error(err))
		}
	}
	if e.state == StateRunning {
		e.setState(StatePaused)
	}
}

// Pause transitions Running to Paused, stopping the wall-clock timer.
// Pausing an already-paused engine is a no-op; pausing while Debugging
// is an error.
func (e *Engine) Pause() error {
	switch e.state {
	case StatePaused:
		return nil
	case StateRunning:
		e.setState(StatePaused)
		return nil
	default:
		return fmt.Errorf("cannot pause from %v state", e.state)
	}
}

// Resume transitions Paused to Running without resetting anything.
func (e *Engine) Resume() error {
	if e.lastStepErr != nil {
		return ErrStepAfterFailure
	}
	if e.state != StatePaused {
		return fmt.Errorf("cannot resume from %v state", e.state)
	}
	e.setState(StateRunning)
	return nil
}

// DebugBegin enters the Debugging state from Running or Paused. The
// wall-clock timer is paused for the duration.
func (e *Engine) DebugBegin() error {
	if e.state == StateDebugging {
		return fmt.Errorf("already debugging")
	}
	e.setState(StateDebugging)
	return nil
}

// DebugDone returns to whichever state Debugging was entered from.
func (e *Engine) DebugDone() error {
	if e.state != StateDebugging {
		return fmt.Errorf("not debugging")
	}
	e.setState(e.debugFrom)
	return nil
}

// DebugAborted leaves Debugging for Paused regardless of where it was
// entered from.
func (e *Engine) DebugAborted() error {
	if e.state != StateDebugging {
		return fmt.Errorf("not debugging")
	}
	e.setState(StatePaused)
	return nil
}
