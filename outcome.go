// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import "fmt"

// Outcome is the terminal classification of how one replication ended.
// Exactly one outcome is recorded per (variant, replic) pair.
type Outcome int

const (
	// OutcomeMaxSimTimeElapsed: the simulated clock reached the
	// configured maximum.
	OutcomeMaxSimTimeElapsed Outcome = iota
	// OutcomeMaxWallClockElapsed: running wall-clock time exceeded the
	// configured maximum.
	OutcomeMaxWallClockElapsed
	// OutcomeNoMoreEvents: the event queue drained with
	// stop-on-empty configured.
	OutcomeNoMoreEvents
	// OutcomePausedByScript: a scenario action paused the engine from
	// within an event.
	OutcomePausedByScript
	// OutcomeStopped: the batch was stopped before or during the
	// replication.
	OutcomeStopped
	// OutcomeEventFailed: an event's action returned an error.
	OutcomeEventFailed
	// OutcomeStartupFailure: the engine could not be started (scenario
	// load or startup role failed).
	OutcomeStartupFailure
	// OutcomeFailure: any other failure; detail is retained in the
	// result's Err.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMaxSimTimeElapsed:
		return "max_sim_time_elapsed"
	case OutcomeMaxWallClockElapsed:
		return "max_wall_clock_elapsed"
	case OutcomeNoMoreEvents:
		return "no_more_events"
	case OutcomePausedByScript:
		return "paused_by_script"
	case OutcomeStopped:
		return "stopped"
	case OutcomeEventFailed:
		return "event_failed"
	case OutcomeStartupFailure:
		return "startup_failure"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Failed reports whether the outcome counts as a failed replication.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeEventFailed, OutcomeStartupFailure, OutcomeFailure:
		return true
	}
	return false
}

// Result is the recorded end state of one replication.
type Result struct {
	VariantID int
	ReplicID  int
	Outcome   Outcome

	// Err carries the structured failure detail for failed outcomes,
	// nil otherwise. For OutcomeFailure it is a *ReplicationError.
	Err error
}
