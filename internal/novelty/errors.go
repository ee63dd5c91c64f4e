package novelty

import (
	"errors"
	"fmt"
)

// Stage identifies where in the check/ingest pipeline a failure happened.
// Every error leaving this package carries its stage so the transport can
// map stage + cause to a status code uniformly.
type Stage string

const (
	StageValidate Stage = "validate"
	StageExtract  Stage = "extract"
	StageEmbed    Stage = "embed"
	StageStore    Stage = "store"
	StageQuery    Stage = "query"
)

// Error is a stage-tagged pipeline failure.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &Error{Stage: stage, Err: err}
}

// ValidationError reports bad caller input; the message names the
// offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsCallerFault reports whether the error is the caller's fault (HTTP 400)
// as opposed to a provider/store failure (HTTP 500).
func IsCallerFault(err error) bool {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Stage == StageValidate || ne.Stage == StageExtract
	}
	var ve *ValidationError
	return errors.As(err, &ve)
}
