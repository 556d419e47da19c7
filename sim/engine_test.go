// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// roleFunc adapts a function to RoleRunner for tests.
type roleFunc func(Role) error

func (f roleFunc) RunRole(role Role) error {
	return f(role)
}

func testSettings() Settings {
	return Settings{
		VariantID: 1,
		ReplicID:  1,
		ResetSeed: MinSeed,
		Steps:     DefaultSteps(),
	}
}

// runToPause drives Update until the engine leaves Running.
func runToPause(t *testing.T, e *Engine) {
	t.Helper()
	for i := 0; e.State() == StateRunning; i++ {
		require.Less(t, i, 10000, "engine did not stop")
		e.Update()
	}
}

func TestEngineRunsQueueToExhaustion(t *testing.T) {
	var e *Engine
	var fired []float64
	roles := roleFunc(func(role Role) error {
		if role == RoleStartup {
			for _, d := range []float64{2, 1, 3} {
				d := d
				_, err := e.Queue().Add(d, 0, func() error {
					fired = append(fired, d)
					return nil
				})
				require.NoError(t, err)
			}
		}
		return nil
	})
	e, err := NewEngine(testSettings(), roles, nil)
	require.NoError(t, err)

	require.NoError(t, e.Run())
	require.Equal(t, StateRunning, e.State())
	runToPause(t, e)

	require.Equal(t, []float64{1, 2, 3}, fired)
	require.Equal(t, 0, e.NumEvents())
	require.Equal(t, 3.0, e.SimTimeDays())
	require.NoError(t, e.LastStepErr())
	require.False(t, e.MaxSimTimeElapsed())
}

func TestEngineRoleOrder(t *testing.T) {
	var roles []Role
	e, err := NewEngine(testSettings(), roleFunc(func(role Role) error {
		roles = append(roles, role)
		return nil
	}), nil)
	require.NoError(t, err)
	require.NoError(t, e.Run())
	runToPause(t, e)
	require.Equal(t, []Role{RoleReset, RoleStartup, RoleFinish}, roles)
}

func TestEngineMaxSimTime(t *testing.T) {
	settings := testSettings()
	settings.Steps.End.MaxSimTimeDays = 2.5
	var e *Engine
	var fired []float64
	e, err := NewEngine(settings, roleFunc(func(role Role) error {
		if role == RoleStartup {
			for _, d := range []float64{1, 2, 3} {
				d := d
				_, err := e.Queue().Add(d, 0, func() error {
					fired = append(fired, d)
					return nil
				})
				require.NoError(t, err)
			}
		}
		return nil
	}), nil)
	require.NoError(t, err)

	require.NoError(t, e.Run())
	runToPause(t, e)

	require.Equal(t, []float64{1, 2}, fired)
	require.Equal(t, 2.5, e.SimTimeDays(), "clock advances to the limit")
	require.True(t, e.MaxSimTimeElapsed())
	require.Equal(t, 1, e.NumEvents(), "event past the limit stays queued")
}

func TestEngineMaxWallClock(t *testing.T) {
	settings := testSettings()
	settings.Steps.End.MaxWallClockSec = 0.001
	var e *Engine
	e, err := NewEngine(settings, roleFunc(func(role Role) error {
		if role == RoleStartup {
			for i := 0; i < 2; i++ {
				_, err := e.Queue().Add(float64(i), 0, func() error {
					time.Sleep(5 * time.Millisecond)
					return nil
				})
				require.NoError(t, err)
			}
		}
		return nil
	}), nil)
	require.NoError(t, err)

	require.NoError(t, e.Run())
	runToPause(t, e)

	require.True(t, e.MaxWallClockElapsed())
	require.Equal(t, 1, e.NumEvents())
}

func TestEngineEventFailureLatches(t *testing.T) {
	boom := errors.New("boom")
	var e *Engine
	e, err := NewEngine(testSettings(), roleFunc(func(role Role) error {
		if role == RoleStartup {
			_, err := e.Queue().Add(1, 0, func() error { return boom })
			require.NoError(t, err)
			_, err = e.Queue().Add(2, 0, func() error { return nil })
			require.NoError(t, err)
		}
		return nil
	}), nil)
	require.NoError(t, err)

	require.NoError(t, e.Run())
	runToPause(t, e)

	require.Equal(t, StatePaused, e.State())
	require.ErrorIs(t, e.LastStepErr(), boom)
	require.Equal(t, 1, e.NumEvents(), "failed event consumed, rest retained")

	require.ErrorIs(t, e.Resume(), ErrStepAfterFailure)
	require.ErrorIs(t, e.StepOne(), ErrStepAfterFailure)

	// A fresh Run resets the latch.
	require.NoError(t, e.Run())
	require.NoError(t, e.LastStepErr())
}

func TestEngineStartupFailureStaysPaused(t *testing.T) {
	boom := errors.New("no good")
	e, err := NewEngine(testSettings(), roleFunc(func(role Role) error {
		if role == RoleStartup {
			return boom
		}
		return nil
	}), nil)
	require.NoError(t, err)
	require.ErrorIs(t, e.Run(), boom)
	require.Equal(t, StatePaused, e.State())
}

func TestEnginePauseResume(t *testing.T) {
	settings := testSettings()
	settings.Steps.End.StopOnEmpty = false
	e, err := NewEngine(settings, nil, nil)
	require.NoError(t, err)

	require.NoError(t, e.Run())
	require.NoError(t, e.Pause())
	require.NoError(t, e.Pause(), "pause is idempotent")
	require.Equal(t, StatePaused, e.State())
	require.NoError(t, e.Resume())
	require.Equal(t, StateRunning, e.State())
	require.Error(t, e.Run(), "run is only legal from paused")
}

func TestEngineDebugReentrancy(t *testing.T) {
	settings := testSettings()
	settings.Steps.End.StopOnEmpty = false
	e, err := NewEngine(settings, nil, nil)
	require.NoError(t, err)

	// From Paused, done returns to Paused.
	require.NoError(t, e.DebugBegin())
	require.Error(t, e.Pause(), "pause is illegal while debugging")
	require.NoError(t, e.DebugDone())
	require.Equal(t, StatePaused, e.State())

	// From Running, done returns to Running.
	require.NoError(t, e.Run())
	require.NoError(t, e.DebugBegin())
	require.NoError(t, e.DebugDone())
	require.Equal(t, StateRunning, e.State())

	// Aborting lands in Paused regardless of entry state.
	require.NoError(t, e.DebugBegin())
	require.NoError(t, e.DebugAborted())
	require.Equal(t, StatePaused, e.State())
}

func TestEnginePausedByScript(t *testing.T) {
	var e *Engine
	e, err := NewEngine(testSettings(), roleFunc(func(role Role) error {
		if role == RoleStartup {
			_, err := e.Queue().Add(1, 0, func() error { return e.Pause() })
			require.NoError(t, err)
			_, err = e.Queue().Add(2, 0, func() error { return nil })
			require.NoError(t, err)
		}
		return nil
	}), nil)
	require.NoError(t, err)

	require.NoError(t, e.Run())
	runToPause(t, e)
	require.Equal(t, StatePaused, e.State())
	require.NoError(t, e.LastStepErr())
	require.Equal(t, 1, e.NumEvents())
	require.False(t, e.MaxSimTimeElapsed())
}

func TestEngineDeterministicReplay(t *testing.T) {
	run := func() []float64 {
		var e *Engine
		var fired []float64
		e, err := NewEngine(testSettings(), roleFunc(func(role Role) error {
			if role != RoleStartup {
				return nil
			}
			var schedule func(depth int) error
			schedule = func(depth int) error {
				if depth >= 4 {
					return nil
				}
				delay := e.RNG().Float64()
				_, err := e.Queue().Add(e.SimTimeDays()+delay, e.RNG().Float64(), func() error {
					fired = append(fired, e.SimTimeDays())
					return schedule(depth + 1)
				})
				return err
			}
			return schedule(0)
		}), nil)
		require.NoError(t, err)
		require.NoError(t, e.Run())
		runToPause(t, e)
		return fired
	}
	require.Equal(t, run(), run(), "same seed gives an identical timeline")
}
