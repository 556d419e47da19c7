// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package sim

import (
	"fmt"
	"math/rand"
)

// Replication seeds must stay inside this range: wide enough for plenty
// of significant bits, small enough to fit any common seed field.
const (
	MinSeed = 1 << 20
	MaxSeed = 1 << 23
)

// IDs for variants and replications are 1-based.
const (
	MinVariantID = 1
	MinReplicID  = 1
)

// CheckSeed validates that a seed is within [MinSeed, MaxSeed].
func CheckSeed(seed int64) error {
	if seed < MinSeed || seed > MaxSeed {
		return fmt.Errorf("random seed %d must be in range [%d, %d]", seed, MinSeed, MaxSeed)
	}
	return nil
}

// NewSeed draws a fresh seed in [MinSeed, MaxSeed] from the given
// source, or from the shared global source when rng is nil.
func NewSeed(rng *rand.Rand) int64 {
	if rng == nil {
		return MinSeed + rand.Int63n(MaxSeed-MinSeed+1)
	}
	return MinSeed + rng.Int63n(MaxSeed-MinSeed+1)
}

// ResetSettings controls what the reset portion of Run does.
type ResetSettings struct {
	ZeroSimTime     bool `json:"zero_sim_time"`
	ZeroWallClock   bool `json:"zero_wall_clock"`
	ClearEventQueue bool `json:"clear_event_queue"`
	ApplyResetSeed  bool `json:"apply_reset_seed"`
	RunResetRole    bool `json:"run_reset_parts"`
}

// StartSettings controls what happens after reset when a run starts.
type StartSettings struct {
	RunStartupRole bool `json:"run_startup_parts"`
}

// EndSettings holds the end conditions that return a running engine to
// Paused. Zero values for the max fields mean "no limit".
type EndSettings struct {
	MaxSimTimeDays  float64 `json:"max_sim_time_days"`
	MaxWallClockSec float64 `json:"max_wall_clock_sec"`
	StopOnEmpty     bool    `json:"stop_when_queue_empty"`
	RunFinishRole   bool    `json:"run_finish_parts"`
}

// Steps bundles the reset, start, and end step settings of a run. The
// JSON shape matches the persisted scenario step-settings document.
type Steps struct {
	Reset ResetSettings `json:"reset"`
	Start StartSettings `json:"start"`
	End   EndSettings   `json:"end"`
}

// DefaultSteps returns the step settings a scenario gets when nothing
// has been configured: full reset, run all roles, stop on empty queue,
// no time limits.
func DefaultSteps() Steps {
	return Steps{
		Reset: ResetSettings{
			ZeroSimTime:     true,
			ZeroWallClock:   true,
			ClearEventQueue: true,
			ApplyResetSeed:  true,
			RunResetRole:    true,
		},
		Start: StartSettings{RunStartupRole: true},
		End: EndSettings{
			StopOnEmpty:   true,
			RunFinishRole: true,
		},
	}
}

// Settings configures one Engine for one replication.
type Settings struct {
	VariantID int
	ReplicID  int

	// AutoSeed draws a new seed at each reset; otherwise ResetSeed is
	// applied. Batch runs always assign the seed explicitly.
	AutoSeed  bool
	ResetSeed int64

	Steps Steps
}

// Validate checks ID ranges and the seed configuration.
func (s *Settings) Validate() error {
	if s.VariantID < MinVariantID {
		return fmt.Errorf("variant ID %d must be >= %d", s.VariantID, MinVariantID)
	}
	if s.ReplicID < MinReplicID {
		return fmt.Errorf("replication ID %d must be >= %d", s.ReplicID, MinReplicID)
	}
	if !s.AutoSeed {
		if err := CheckSeed(s.ResetSeed); err != nil {
			return err
		}
	}
	return nil
}
