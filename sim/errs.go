// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package sim

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrStepAfterFailure is returned when Resume, Update, or StepOne is
// attempted after an event failed; the engine must be reset first.
const ErrStepAfterFailure = constError("last step failed, reset the engine before continuing")
