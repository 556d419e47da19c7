// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003/internal/clock"
)

// replicKey identifies one (variant, replic) pair.
type replicKey struct {
	variantID int
	replicID  int
}

// TimeStats is a point-in-time view of the batch's timing: elapsed
// running time, mean time per completed replication, and an estimated
// time to completion extrapolated from the mean. AvgReplicSec and
// ETCSec are zero until the first replication completes.
type TimeStats struct {
	ElapsedSec   float64
	AvgReplicSec float64
	ETCSec       float64
}

// Monitor is the supervisor-side aggregator of replication outcomes.
// Its single mutex is the only lock in the batch machinery: it guards
// pending, results, and the derived core count. All summary statistics
// are computed from pending/results on demand, never cached, so the
// counts cannot drift from the recorded outcomes.
//
// Invariant, from the moment enqueueing completes until NewBatch:
// len(pending) + total results == NumVariants × NumReplicsPerVariant.
type Monitor struct {
	mu sync.Mutex

	numVariants   int
	numReplics    int
	total         int
	originalCores int
	pending       map[replicKey]struct{}
	results       map[int]map[int]Result
	timer         *clock.Timer

	// onComplete is invoked, without the mutex held, after every
	// completion callback. The orchestrator uses it to detect the
	// pending-empty condition and to fan out notifications.
	onComplete func(Result)
}

// NewMonitor creates a monitor for a batch of the given dimensions and
// granted core count, with its run timer started. onComplete may be
// nil.
func NewMonitor(numVariants, numReplics, numCores int, onComplete func(Result)) *Monitor {
	return &Monitor{
		numVariants:   numVariants,
		numReplics:    numReplics,
		total:         numVariants * numReplics,
		originalCores: numCores,
		pending:       make(map[replicKey]struct{}),
		results:       make(map[int]map[int]Result),
		timer:         clock.NewTimer(),
		onComplete:    onComplete,
	}
}

// OnQueued records that a work item for (variantID, replicID) has been
// enqueued. Called once per pair, before any completion can arrive for
// it.
func (m *Monitor) OnQueued(variantID, replicID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[replicKey{variantID, replicID}] = struct{}{}
}

// OnDone records a normal terminal outcome for (variantID, replicID).
func (m *Monitor) OnDone(variantID, replicID int, outcome Outcome) {
	m.complete(Result{VariantID: variantID, ReplicID: replicID, Outcome: outcome})
}

// OnError records a structured failure for (variantID, replicID) as an
// outcome of failure, retaining the error detail. A nil rerr is
// tolerated and replaced with a placeholder carrying the caller's
// stack.
func (m *Monitor) OnError(variantID, replicID int, rerr *ReplicationError) {
	if rerr == nil {
		rerr = &ReplicationError{
			VariantID: variantID,
			ReplicID:  replicID,
			Err:       fmt.Errorf("replication failed with no detail"),
			Stack:     debug.Stack(),
		}
	}
	m.complete(Result{VariantID: variantID, ReplicID: replicID, Outcome: OutcomeFailure, Err: rerr})
}

func (m *Monitor) complete(res Result) {
	m.mu.Lock()
	key := replicKey{res.VariantID, res.ReplicID}
	if _, ok := m.pending[key]; ok {
		delete(m.pending, key)
		byReplic, ok := m.results[res.VariantID]
		if !ok {
			byReplic = make(map[int]Result)
			m.results[res.VariantID] = byReplic
		}
		byReplic[res.ReplicID] = res
		if len(m.pending) == 0 {
			m.timer.Pause()
		}
	}
	onComplete := m.onComplete
	m.mu.Unlock()
	if onComplete != nil {
		onComplete(res)
	}
}

// PauseClock suspends elapsed-time accumulation while the batch is
// paused; ResumeClock restarts it.
func (m *Monitor) PauseClock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timer.Pause()
}

// ResumeClock restarts elapsed-time accumulation after a pause. It has
// no effect once the batch has completed.
func (m *Monitor) ResumeClock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) > 0 {
		m.timer.Resume()
	}
}

// NumPending returns the number of replications not yet completed.
func (m *Monitor) NumPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// NumCoresInUse derives the current core count as the lesser of the
// originally granted cores and the pending count. Near the end of a
// batch this under-reports true concurrency slightly (the pool drains
// rather than refilling one-for-one); the arithmetic is kept as-is.
func (m *Monitor) NumCoresInUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) < m.originalCores {
		return len(m.pending)
	}
	return m.originalCores
}

// NumDone returns the number of completed replications, failed or not.
func (m *Monitor) NumDone() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numDoneLocked()
}

func (m *Monitor) numDoneLocked() int {
	n := 0
	for _, byReplic := range m.results {
		n += len(byReplic)
	}
	return n
}

// NumFailed returns the number of replications with a failed outcome.
func (m *Monitor) NumFailed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, byReplic := range m.results {
		for _, res := range byReplic {
			if res.Outcome.Failed() {
				n++
			}
		}
	}
	return n
}

// NumVariantsDone returns the number of variants all of whose
// replications have completed.
func (m *Monitor) NumVariantsDone() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, byReplic := range m.results {
		if len(byReplic) == m.numReplics {
			n++
		}
	}
	return n
}

// NumVariantsFailed returns the number of variants with at least one
// failed replication.
func (m *Monitor) NumVariantsFailed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, byReplic := range m.results {
		for _, res := range byReplic {
			if res.Outcome.Failed() {
				n++
				break
			}
		}
	}
	return n
}

// Result returns the recorded result for (variantID, replicID), if
// any.
func (m *Monitor) Result(variantID, replicID int) (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[variantID][replicID]
	return res, ok
}

// Results returns every recorded result, ordered by variant then
// replication.
func (m *Monitor) Results() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, 0, m.numDoneLocked())
	for _, byReplic := range m.results {
		for _, res := range byReplic {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VariantID != out[j].VariantID {
			return out[i].VariantID < out[j].VariantID
		}
		return out[i].ReplicID < out[j].ReplicID
	})
	return out
}

// TimeStats computes the current timing statistics from the run timer
// and the completed count.
func (m *Monitor) TimeStats() TimeStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := TimeStats{ElapsedSec: m.timer.Seconds()}
	done := m.numDoneLocked()
	if done == 0 {
		return stats
	}
	stats.AvgReplicSec = stats.ElapsedSec / float64(done)
	remaining := len(m.pending)
	cores := m.originalCores
	if remaining < cores {
		cores = remaining
	}
	if cores > 0 {
		stats.ETCSec = stats.AvgReplicSec * float64(remaining) / float64(cores)
	}
	return stats
}

// Summary renders a human-readable account of the batch: totals,
// failed replications with their variant and replication IDs, and
// elapsed time.
func (m *Monitor) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []replicKey
	for v, byReplic := range m.results {
		for r, res := range byReplic {
			if res.Outcome.Failed() {
				failed = append(failed, replicKey{v, r})
			}
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		if failed[i].variantID != failed[j].variantID {
			return failed[i].variantID < failed[j].variantID
		}
		return failed[i].replicID < failed[j].replicID
	})

	var b strings.Builder
	fmt.Fprintf(&b, "variants: %d, replications per variant: %d\n", m.numVariants, m.numReplics)
	fmt.Fprintf(&b, "replications queued: %d\n", m.total)
	fmt.Fprintf(&b, "replications completed: %d\n", m.numDoneLocked())
	fmt.Fprintf(&b, "replications failed: %d\n", len(failed))
	for _, k := range failed {
		fmt.Fprintf(&b, "  failed: variant %d, replic %d\n", k.variantID, k.replicID)
	}
	fmt.Fprintf(&b, "execution time: %.1f sec", m.timer.Seconds())
	return b.String()
}
