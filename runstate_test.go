// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunStateFlags(t *testing.T) {
	var rs RunState
	require.False(t, rs.Exit())
	require.False(t, rs.Paused())

	rs.SetPaused(true)
	require.True(t, rs.Paused())
	rs.SetPaused(false)
	require.False(t, rs.Paused())

	rs.SetExit(true)
	require.True(t, rs.Exit())
}

func TestSnapshotStabilityWithinInterval(t *testing.T) {
	var rs RunState
	snap := NewSnapshot(&rs, time.Hour)

	require.True(t, snap.Refresh(), "first refresh always reads")
	require.False(t, snap.Exit())
	require.False(t, snap.Paused())

	// Supervisor flips the flags mid-step; the snapshot must not see
	// it until the interval elapses.
	rs.SetExit(true)
	rs.SetPaused(true)
	require.False(t, snap.Refresh())
	require.False(t, snap.Exit())
	require.False(t, snap.Paused())
}

func TestSnapshotRefreshAfterInterval(t *testing.T) {
	var rs RunState
	snap := NewSnapshot(&rs, time.Millisecond)

	snap.Refresh()
	rs.SetPaused(true)

	require.Eventually(t, func() bool {
		snap.Refresh()
		return snap.Paused()
	}, time.Second, time.Millisecond)
}

func TestSnapshotDefaultInterval(t *testing.T) {
	var rs RunState
	snap := NewSnapshot(&rs, 0)
	require.Equal(t, DefaultPollInterval, snap.interval)
}
