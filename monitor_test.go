// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func queueAll(m *Monitor, numVariants, numReplics int) []replicKey {
	keys := make([]replicKey, 0, numVariants*numReplics)
	for v := 1; v <= numVariants; v++ {
		for r := 1; r <= numReplics; r++ {
			m.OnQueued(v, r)
			keys = append(keys, replicKey{v, r})
		}
	}
	return keys
}

func TestMonitorConservationInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numVariants := rapid.IntRange(1, 5).Draw(t, "variants")
		numReplics := rapid.IntRange(1, 5).Draw(t, "replics")
		total := numVariants * numReplics

		m := NewMonitor(numVariants, numReplics, 2, nil)
		keys := queueAll(m, numVariants, numReplics)
		require.Equal(t, total, m.NumPending())

		perm := rapid.Permutation(keys).Draw(t, "order")
		for i, k := range perm {
			if rapid.Bool().Draw(t, "asError") {
				m.OnError(k.variantID, k.replicID, &ReplicationError{
					VariantID: k.variantID,
					ReplicID:  k.replicID,
					Err:       errors.New("bad"),
				})
			} else {
				m.OnDone(k.variantID, k.replicID, OutcomeNoMoreEvents)
			}
			require.Equal(t, total, m.NumPending()+m.NumDone(),
				"pending + results must always equal the batch size")
			require.Equal(t, i+1, m.NumDone())
		}
		require.Zero(t, m.NumPending())
	})
}

func TestMonitorCoresInUseShrinks(t *testing.T) {
	m := NewMonitor(2, 3, 4, nil)
	queueAll(m, 2, 3)

	require.Equal(t, 4, m.NumCoresInUse(), "capped at the granted cores")
	m.OnDone(1, 1, OutcomeNoMoreEvents)
	m.OnDone(1, 2, OutcomeNoMoreEvents)
	require.Equal(t, 4, m.NumCoresInUse())
	m.OnDone(1, 3, OutcomeNoMoreEvents)
	require.Equal(t, 3, m.NumCoresInUse(), "shrinks once pending drops below cores")
	m.OnDone(2, 1, OutcomeNoMoreEvents)
	m.OnDone(2, 2, OutcomeNoMoreEvents)
	m.OnDone(2, 3, OutcomeNoMoreEvents)
	require.Zero(t, m.NumCoresInUse())
}

func TestMonitorVariantStatistics(t *testing.T) {
	m := NewMonitor(2, 3, 4, nil)
	queueAll(m, 2, 3)

	// Variant 1 has one failed replication; variant 2 is clean.
	m.OnDone(1, 1, OutcomeEventFailed)
	m.OnDone(1, 2, OutcomeNoMoreEvents)
	m.OnDone(1, 3, OutcomeNoMoreEvents)
	m.OnDone(2, 1, OutcomeNoMoreEvents)
	m.OnDone(2, 2, OutcomeNoMoreEvents)

	require.Equal(t, 5, m.NumDone())
	require.Equal(t, 1, m.NumFailed())
	require.Equal(t, 1, m.NumVariantsDone())
	require.Equal(t, 1, m.NumVariantsFailed())

	m.OnDone(2, 3, OutcomeNoMoreEvents)
	require.Equal(t, 2, m.NumVariantsDone())
	require.Equal(t, 1, m.NumVariantsFailed())
}

func TestMonitorResultsOrderedAndRetained(t *testing.T) {
	m := NewMonitor(2, 2, 1, nil)
	queueAll(m, 2, 2)

	failure := &ReplicationError{VariantID: 2, ReplicID: 1, Err: errors.New("exploded")}
	m.OnDone(2, 2, OutcomeNoMoreEvents)
	m.OnError(2, 1, failure)
	m.OnDone(1, 2, OutcomeMaxSimTimeElapsed)
	m.OnDone(1, 1, OutcomeStopped)

	results := m.Results()
	require.Len(t, results, 4)
	require.Equal(t, replicKey{1, 1}, replicKey{results[0].VariantID, results[0].ReplicID})
	require.Equal(t, replicKey{2, 2}, replicKey{results[3].VariantID, results[3].ReplicID})

	res, ok := m.Result(2, 1)
	require.True(t, ok)
	require.Equal(t, OutcomeFailure, res.Outcome)
	require.ErrorIs(t, res.Err, failure.Err)
}

func TestMonitorIgnoresUnknownCompletion(t *testing.T) {
	m := NewMonitor(1, 1, 1, nil)
	m.OnQueued(1, 1)
	m.OnDone(9, 9, OutcomeNoMoreEvents)
	require.Equal(t, 1, m.NumPending())
	require.Zero(t, m.NumDone())
}

func TestMonitorOnCompleteHook(t *testing.T) {
	var seen []Result
	m := NewMonitor(1, 2, 1, func(res Result) { seen = append(seen, res) })
	queueAll(m, 1, 2)
	m.OnDone(1, 1, OutcomeNoMoreEvents)
	m.OnDone(1, 2, OutcomeNoMoreEvents)
	require.Len(t, seen, 2)
	require.Equal(t, 1, seen[0].VariantID)
}

func TestMonitorTimeStatsAfterCompletion(t *testing.T) {
	m := NewMonitor(1, 2, 1, nil)
	queueAll(m, 1, 2)
	m.OnDone(1, 1, OutcomeNoMoreEvents)
	m.OnDone(1, 2, OutcomeNoMoreEvents)

	// The run timer pauses when the last replication completes, so
	// the statistics are stable from here on.
	stats := m.TimeStats()
	require.Equal(t, stats, m.TimeStats())
	require.Equal(t, stats.ElapsedSec/2, stats.AvgReplicSec)
	require.Zero(t, stats.ETCSec, "nothing remains to estimate")
}

func TestMonitorSummary(t *testing.T) {
	m := NewMonitor(2, 2, 1, nil)
	queueAll(m, 2, 2)
	m.OnDone(1, 1, OutcomeNoMoreEvents)
	m.OnDone(1, 2, OutcomeEventFailed)
	m.OnDone(2, 1, OutcomeNoMoreEvents)
	m.OnDone(2, 2, OutcomeNoMoreEvents)

	summary := m.Summary()
	require.Contains(t, summary, "replications queued: 4")
	require.Contains(t, summary, "replications failed: 1")
	require.Contains(t, summary, "variant 1, replic 2")
	require.Contains(t, summary, "execution time:")
}
