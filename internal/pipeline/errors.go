package pipeline

import (
	"errors"
	"fmt"
)

// ErrPipelineEmpty reports that a stage produced no records. It is a normal
// halt and not a failure.
var ErrPipelineEmpty = errors.New("no applications to process")

var (
	ErrStageFailed        = errors.New("stage failed")
	ErrDisplayNameCollide = errors.New("search prefixes collide")
)

// StageError is a failure of one application in one stage. Other
// applications are not affected.
type StageError struct {
	App   string
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s stage: %v", e.App, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return target == ErrStageFailed
}

// partialError marks a failure for an application whose record is still
// emitted, such as an app created in the catalog whose assignments failed.
type partialError struct {
	err error
}

func (e *partialError) Error() string { return e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

// skip marks an application that leaves the pipeline without failing.
type skip struct {
	reason string
}

func (s *skip) Error() string { return "skipped: " + s.reason }
