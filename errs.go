// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"fmt"

	"github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003/sim"
)

type constError string

func (e constError) Error() string {
	return string(e)
}

const (
	// ErrNoOutputLocation is returned by Start when no batch output
	// root has been established.
	ErrNoOutputLocation = constError("batch output location not set")

	// ErrWaitTimeout is returned by WaitTillDone when the batch does
	// not finish within the given timeout.
	ErrWaitTimeout = constError("timed out waiting for batch to finish")
)

// PreconditionError reports an operation attempted from a state in
// which it is not legal, or with an unmet prerequisite. The operation
// fails and the state machine is left unchanged.
type PreconditionError struct {
	Op    string
	State BatchState
	Cause error
}

func (e *PreconditionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s not allowed in %v state: %v", e.Op, e.State, e.Cause)
	}
	return fmt.Sprintf("%s not allowed in %v state", e.Op, e.State)
}

func (e *PreconditionError) Unwrap() error {
	return e.Cause
}

// ReplicationError is the structured failure record for one
// replication: which (variant, replication) failed, the underlying
// error, and the goroutine stack captured at the failure point.
type ReplicationError struct {
	VariantID int
	ReplicID  int
	Err       error
	Stack     []byte
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replication (variant %d, replic %d) failed: %v", e.VariantID, e.ReplicID, e.Err)
}

func (e *ReplicationError) Unwrap() error {
	return e.Err
}

// SeedTableError classifies the ways a persisted seed table can be
// unusable.
type SeedTableError struct {
	Kind SeedTableErrorKind
	Row  int // 1-based data row, 0 when not row-specific
	Err  error
}

// SeedTableErrorKind identifies the category of a SeedTableError.
type SeedTableErrorKind int

const (
	// SeedTableMalformed: a row could not be parsed as var,rep,seed.
	SeedTableMalformed SeedTableErrorKind = iota
	// SeedTableOutOfRange: a seed or ID is outside its valid range.
	SeedTableOutOfRange
	// SeedTableDuplicate: the same (variant, replic) appears twice.
	SeedTableDuplicate
	// SeedTableIncomplete: the table does not cover every
	// (variant, replic) cell of the declared dimensions.
	SeedTableIncomplete
)

func (k SeedTableErrorKind) String() string {
	switch k {
	case SeedTableMalformed:
		return "malformed"
	case SeedTableOutOfRange:
		return "out of range"
	case SeedTableDuplicate:
		return "duplicate"
	case SeedTableIncomplete:
		return "incomplete"
	default:
		return fmt.Sprintf("SeedTableErrorKind(%d)", int(k))
	}
}

func (e *SeedTableError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("seed table %v at row %d: %v", e.Kind, e.Row, e.Err)
	}
	return fmt.Sprintf("seed table %v: %v", e.Kind, e.Err)
}

func (e *SeedTableError) Unwrap() error {
	return e.Err
}

// Convenience re-exports so orchestration callers don't need to import
// the sim package for seed bounds.
const (
	MinSeed = sim.MinSeed
	MaxSeed = sim.MaxSeed
)
