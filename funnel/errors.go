package funnel

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("funnel not initialized")
	ErrUnknownStep    = errors.New("unknown step")
	ErrStepLocked     = errors.New("step is locked until earlier steps are complete")
	ErrInvalidPatch   = errors.New("invalid form data")
	ErrUnknownFunnel  = errors.New("unknown funnel")

	// ErrSubmitInProgress means another request holds this visitor's step lock.
	ErrSubmitInProgress = errors.New("another step submission is in progress")
	// ErrSessionEnded means the session this orchestrator loaded was finalized
	// or reset by another request.
	ErrSessionEnded = errors.New("funnel session has ended")
)

// StepError ties a step-level failure to the step and the path the visitor
// should be sent back to.
type StepError struct {
	Step     int
	Redirect string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
