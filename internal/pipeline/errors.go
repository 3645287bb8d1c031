package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the control commands.
var (
	ErrAlreadyRecording = errors.New("pipeline: recording already active")
	ErrNotRecording     = errors.New("pipeline: no active recording")
	ErrPhotoPending     = errors.New("pipeline: photo capture already in progress")
	ErrNotProcessing    = errors.New("pipeline: no captured result to resume from")
	ErrStopped          = errors.New("pipeline: not running")
)

// FatalError is a broken contract with the sensor, encoder, or storage:
// a short depth buffer, an encoder that cannot start or rejects a frame it
// reported ready for, or a failed depth write. The active session is torn
// down and Run returns the error.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pipeline: fatal %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(stage string, err error) error {
	return &FatalError{Stage: stage, Err: err}
}
