// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import "github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003/sim"

// Scenario is the orchestration layer's view of a loaded scenario. The
// scenario object model lives elsewhere; the batch machinery only needs
// to read default step settings, run role actions, and save state.
//
// A Scenario instance is owned by a single replication (or by the
// supervisor, for batch post-processing) and need not be thread-safe.
type Scenario interface {
	// Bind attaches the replication's engine before the run starts, so
	// scenario actions can schedule events on its queue and pause it.
	// Bind is not called for batch post-processing: RunRole with the
	// batch role must work unbound.
	Bind(engine *sim.Engine)

	// SimStepDefaults returns the scenario's own step settings, used
	// when the batch settings carry no per-replication override.
	SimStepDefaults() sim.Steps

	// RunRole runs every scenario action registered under the role and
	// returns an error if any failed. Remaining actions still run.
	RunRole(role sim.Role) error

	// Save writes the scenario's current state to path.
	Save(path string) error
}

// ScenarioLoader loads a fresh scenario instance from a saved scenario
// file. Each replication loads its own instance so that no two workers
// ever share scenario state.
type ScenarioLoader func(path string) (Scenario, error)
