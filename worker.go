// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003/sim"
)

// replicationWorker drives one replication to a terminal outcome: it
// loads a private scenario instance, runs a simulation engine over it,
// and polls the shared run flags between steps. Exactly one completion
// report reaches the monitor, whatever happens.
type replicationWorker struct {
	variantID int
	replicID  int
	seed      int64

	scenarioPath string
	outputDir    string
	steps        *sim.Steps
	saveOnExit   bool

	loader       ScenarioLoader
	runState     *RunState
	pollInterval time.Duration
	monitor      *Monitor
	log          *zap.Logger
	tracer       trace.Tracer
}

// run executes the replication. The context is the pool's lifetime:
// cancellation means the batch was stopped.
func (w *replicationWorker) run(ctx context.Context) {
	ctx, span := w.tracer.Start(ctx, "replication", trace.WithAttributes(
		attribute.Int("variant_id", w.variantID),
		attribute.Int("replic_id", w.replicID),
	))
	reported := false
	report := func(outcome Outcome) {
		reported = true
		span.SetAttributes(attribute.String("outcome", outcome.String()))
		span.End()
		w.monitor.OnDone(w.variantID, w.replicID, outcome)
	}
	defer func() {
		if r := recover(); r != nil {
			rerr := &ReplicationError{
				VariantID: w.variantID,
				ReplicID:  w.replicID,
				Err:       fmt.Errorf("panic: %v", r),
				Stack:     debug.Stack(),
			}
			w.log.Error("replication panicked", zap.Error(rerr))
			span.SetAttributes(attribute.String("outcome", OutcomeFailure.String()))
			span.End()
			w.monitor.OnError(w.variantID, w.replicID, rerr)
			return
		}
		if !reported {
			// Should be unreachable; never drop an outcome.
			report(OutcomeFailure)
		}
	}()

	snap := NewSnapshot(w.runState, w.pollInterval)
	snap.Refresh()
	if snap.Exit() || ctx.Err() != nil {
		// The batch was stopped before this replication got going;
		// skip scenario load and engine construction entirely.
		report(OutcomeStopped)
		return
	}

	scen, err := w.loader(w.scenarioPath)
	if err != nil {
		w.log.Error("scenario load failed", zap.Error(err))
		report(OutcomeStartupFailure)
		return
	}
	// Save final state on the way out regardless of outcome, so a
	// failed replication still leaves its evidence behind.
	defer w.saveFinalState(scen)

	steps := scen.SimStepDefaults()
	if w.steps != nil {
		steps = *w.steps
	}
	engine, err := sim.NewEngine(sim.Settings{
		VariantID: w.variantID,
		ReplicID:  w.replicID,
		ResetSeed: w.seed,
		Steps:     steps,
	}, scen, w.log)
	if err != nil {
		w.log.Error("engine construction failed", zap.Error(err))
		report(OutcomeStartupFailure)
		return
	}
	scen.Bind(engine)
	if err := engine.Run(); err != nil {
		w.log.Error("engine startup failed", zap.Error(err))
		report(OutcomeStartupFailure)
		return
	}

	report(w.stepLoop(ctx, engine, snap))
}

// stepLoop steps the engine until a terminal condition, observing the
// shared flags between steps. The debounced snapshot guarantees both
// flags are stable for the duration of one step.
func (w *replicationWorker) stepLoop(ctx context.Context, engine *sim.Engine, snap *Snapshot) Outcome {
	for {
		snap.Refresh()
		if snap.Exit() || ctx.Err() != nil {
			_ = engine.Pause() // engine is Running or already Paused here
			return OutcomeStopped
		}
		if snap.Paused() {
			_ = engine.Pause()
			if outcome, terminal := w.holdWhilePaused(ctx, snap); terminal {
				return outcome
			}
			_ = engine.Resume() // no step failure is latched on this path
			continue
		}

		engine.Update()

		if engine.State() == sim.StatePaused {
			return classifyStop(engine)
		}
	}
}

// holdWhilePaused block-polls while the paused flag is set. Returns a
// terminal outcome when exit or cancellation arrives mid-pause.
func (w *replicationWorker) holdWhilePaused(ctx context.Context, snap *Snapshot) (Outcome, bool) {
	for {
		select {
		case <-ctx.Done():
			return OutcomeStopped, true
		case <-time.After(w.pollInterval):
		}
		snap.Refresh()
		if snap.Exit() {
			return OutcomeStopped, true
		}
		if !snap.Paused() {
			return 0, false
		}
	}
}

// classifyStop maps the engine's paused state to a replication
// outcome. The order matters: a failed event wins over any end
// condition, end conditions win over queue exhaustion, and a pause
// with events still queued means a scenario action paused the run.
func classifyStop(engine *sim.Engine) Outcome {
	switch {
	case engine.LastStepErr() != nil:
		return OutcomeEventFailed
	case engine.MaxSimTimeElapsed():
		return OutcomeMaxSimTimeElapsed
	case engine.MaxWallClockElapsed():
		return OutcomeMaxWallClockElapsed
	case engine.NumEvents() == 0:
		return OutcomeNoMoreEvents
	default:
		return OutcomePausedByScript
	}
}

// saveFinalState persists the scenario's end state into the
// replication folder when configured to. Failures are logged, never
// propagated: the outcome of the replication is already decided.
func (w *replicationWorker) saveFinalState(scen Scenario) {
	if !w.saveOnExit || w.outputDir == "" {
		return
	}
	ext := filepath.Ext(w.scenarioPath)
	if ext == "" {
		ext = ".json"
	}
	path := filepath.Join(w.outputDir, "final_scenario"+ext)
	if err := scen.Save(path); err != nil {
		w.log.Error("final scenario save failed", zap.String("path", path), zap.Error(err))
	}
}
