// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package batchsim orchestrates batches of stochastic discrete-event
// simulation replications across a fixed pool of workers.
//
// A batch is num_variants × num_replics_per_variant independent
// replications, each driven by its own simulation engine (package
// sim) with a deterministic seed drawn from a SeedTable. The
// Orchestrator is a Ready/Running/Paused/Done state machine: Start
// builds the batch output folder, persists the seed table and a
// scenario snapshot, and dispatches one work item per (variant,
// replic) pair to a pool of worker goroutines sized
// min(cores_available, cores_wanted, total_replications).
//
// Pause, Resume, and Stop interrupt workers cooperatively through a
// RunState: two supervisor-owned flags that every worker polls
// through a debounced Snapshot between simulation steps. A step is
// never interrupted mid-event; an event either runs to completion or
// never starts.
//
// Replication outcomes flow into the Monitor, whose single mutex
// guards the pending set and the results map. Failed replications
// never abort the batch: it proceeds to Done with a non-zero failed
// count, and only Stop ends it early. When no work remains the
// orchestrator transitions to Done on its own, runs the scenario's
// batch post-processing actions, and releases WaitTillDone callers.
package batchsim
